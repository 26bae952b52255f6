package watcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"

	"github.com/EthDevOps/k8s-service-trigger/internal/event"
	"github.com/EthDevOps/k8s-service-trigger/internal/testutil"
	"github.com/EthDevOps/k8s-service-trigger/internal/trigger"
)

type dispatchCall struct {
	kind event.Kind
	key  string
}

// fakeDispatcher records dispatch calls and fails on demand.
type fakeDispatcher struct {
	mu    sync.Mutex
	calls []dispatchCall
	err   error
}

func (d *fakeDispatcher) Dispatch(_ context.Context, kind event.Kind, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.calls = append(d.calls, dispatchCall{kind: kind, key: key})
	return nil
}

func (d *fakeDispatcher) setErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

func (d *fakeDispatcher) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func (d *fakeDispatcher) lastCall() dispatchCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[len(d.calls)-1]
}

// waitForCalls polls until the dispatcher has seen the expected number of
// calls or the timeout elapses.
func waitForCalls(t *testing.T, d *fakeDispatcher, expected int, timeout time.Duration) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		if d.callCount() >= expected {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for dispatches: got %d, want %d", d.callCount(), expected)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

type watchHarness struct {
	watcher     *Watcher
	fakeWatcher *watch.FakeWatcher
	dispatcher  *fakeDispatcher
	limiter     *trigger.Limiter
	errCh       chan error
	cancel      context.CancelFunc
}

func startWatcher(t *testing.T, scope trigger.Scope) *watchHarness {
	t.Helper()
	fakeClient := fake.NewSimpleClientset()
	fakeWatcher := watch.NewFake()
	fakeClient.PrependWatchReactor("services", k8stesting.DefaultWatchReactor(fakeWatcher, nil))

	disp := &fakeDispatcher{}
	limiter := trigger.NewLimiter(180*time.Second, scope)
	w := New(zap.NewNop(), func() (kubernetes.Interface, error) { return fakeClient, nil }, limiter, disp)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()

	return &watchHarness{
		watcher:     w,
		fakeWatcher: fakeWatcher,
		dispatcher:  disp,
		limiter:     limiter,
		errCh:       errCh,
		cancel:      cancel,
	}
}

func TestRun_DispatchesLoadBalancerEvent(t *testing.T) {
	h := startWatcher(t, trigger.ScopeGlobal)

	h.fakeWatcher.Add(testutil.MakeService("ingress", "public-lb", corev1.ServiceTypeLoadBalancer))
	waitForCalls(t, h.dispatcher, 1, 5*time.Second)

	call := h.dispatcher.lastCall()
	assert.Equal(t, event.KindAdded, call.kind)
	assert.Equal(t, "ingress/public-lb", call.key)
}

func TestRun_IgnoresNonLoadBalancerServices(t *testing.T) {
	h := startWatcher(t, trigger.ScopeGlobal)

	h.fakeWatcher.Add(testutil.MakeService("default", "api", corev1.ServiceTypeClusterIP))
	h.fakeWatcher.Modify(testutil.MakeService("default", "api", corev1.ServiceTypeNodePort))
	// A qualifying event afterwards proves the previous two were processed
	// and dropped, not merely still queued.
	h.fakeWatcher.Delete(testutil.MakeService("default", "edge", corev1.ServiceTypeLoadBalancer))

	waitForCalls(t, h.dispatcher, 1, 5*time.Second)
	assert.Equal(t, 1, h.dispatcher.callCount())
	assert.Equal(t, event.KindDeleted, h.dispatcher.lastCall().kind)
}

func TestRun_DebouncesBurst(t *testing.T) {
	h := startWatcher(t, trigger.ScopeGlobal)

	for i := 0; i < 5; i++ {
		h.fakeWatcher.Modify(testutil.MakeService("ingress", "public-lb", corev1.ServiceTypeLoadBalancer))
	}
	// Closing the stream after the burst guarantees all five events were
	// consumed before we assert.
	h.fakeWatcher.Stop()

	select {
	case err := <-h.errCh:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not return after stream close")
	}

	assert.Equal(t, 1, h.dispatcher.callCount(), "only the first event in the burst dispatches")
}

func TestRun_FailedDispatchLeavesCooldownUntouched(t *testing.T) {
	h := startWatcher(t, trigger.ScopeGlobal)
	h.dispatcher.setErr(&trigger.DispatchError{StatusCode: 502, Body: "bad gateway"})

	h.fakeWatcher.Add(testutil.MakeService("ingress", "public-lb", corev1.ServiceTypeLoadBalancer))

	// Clear the failure; the next qualifying event must dispatch immediately
	// because the failed attempt never recorded a trigger time.
	h.fakeWatcher.Modify(testutil.MakeService("ingress", "public-lb", corev1.ServiceTypeLoadBalancer))
	h.dispatcher.setErr(nil)
	h.fakeWatcher.Modify(testutil.MakeService("ingress", "public-lb", corev1.ServiceTypeLoadBalancer))

	waitForCalls(t, h.dispatcher, 1, 5*time.Second)
	assert.Equal(t, event.KindModified, h.dispatcher.lastCall().kind)
}

func TestRun_StreamCloseReturnsError(t *testing.T) {
	h := startWatcher(t, trigger.ScopeGlobal)

	h.fakeWatcher.Stop()

	select {
	case err := <-h.errCh:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "stream closed")
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not return after stream close")
	}
}

func TestRun_ContextCancellation(t *testing.T) {
	h := startWatcher(t, trigger.ScopeGlobal)

	h.cancel()

	select {
	case err := <-h.errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not return after cancellation")
	}
}

func TestRun_SubscriptionFailure(t *testing.T) {
	fakeClient := fake.NewSimpleClientset()
	fakeClient.PrependWatchReactor("services", func(k8stesting.Action) (bool, watch.Interface, error) {
		return true, nil, errors.New("connection refused")
	})

	w := New(zap.NewNop(),
		func() (kubernetes.Interface, error) { return fakeClient, nil },
		trigger.NewLimiter(0, ""), &fakeDispatcher{})

	err := w.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "watch services")
}

func TestRun_CredentialFailure(t *testing.T) {
	w := New(zap.NewNop(),
		func() (kubernetes.Interface, error) { return nil, errors.New("no kubeconfig") },
		trigger.NewLimiter(0, ""), &fakeDispatcher{})

	err := w.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "acquire cluster credentials")
}

// The supervisor re-establishes a fresh subscription after the stream fails
// mid-flight: three events arrive, the stream breaks, and after the
// configured delay a second subscription serves a fourth event.
func TestSupervisedWatch_RestartsAfterStreamFailure(t *testing.T) {
	firstWatcher := watch.NewFake()
	secondWatcher := watch.NewFake()

	var mu sync.Mutex
	connections := 0
	newClient := func() (kubernetes.Interface, error) {
		mu.Lock()
		defer mu.Unlock()
		connections++
		fw := firstWatcher
		if connections > 1 {
			fw = secondWatcher
		}
		c := fake.NewSimpleClientset()
		c.PrependWatchReactor("services", k8stesting.DefaultWatchReactor(fw, nil))
		return c, nil
	}

	disp := &fakeDispatcher{}
	limiter := trigger.NewLimiter(180*time.Second, trigger.ScopePerService)
	w := New(zap.NewNop(), newClient, limiter, disp)

	var sleeps []time.Duration
	sup := NewSupervisor(zap.NewNop(), w.Run, SupervisorOptions{
		RestartDelay: 5 * time.Second,
		Sleep: func(ctx context.Context, d time.Duration) bool {
			mu.Lock()
			sleeps = append(sleeps, d)
			mu.Unlock()
			return ctx.Err() == nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	firstWatcher.Add(testutil.MakeService("ns", "lb-one", corev1.ServiceTypeLoadBalancer))
	firstWatcher.Add(testutil.MakeService("ns", "lb-two", corev1.ServiceTypeLoadBalancer))
	firstWatcher.Add(testutil.MakeService("ns", "lb-three", corev1.ServiceTypeLoadBalancer))
	waitForCalls(t, disp, 3, 5*time.Second)

	firstWatcher.Stop()

	// The second subscription must serve events after the restart.
	secondWatcher.Add(testutil.MakeService("ns", "lb-four", corev1.ServiceTypeLoadBalancer))
	waitForCalls(t, disp, 4, 5*time.Second)

	mu.Lock()
	assert.Equal(t, 2, connections, "a fresh subscription was established")
	require.Len(t, sleeps, 1)
	assert.Equal(t, 5*time.Second, sleeps[0])
	mu.Unlock()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not stop after cancellation")
	}
}
