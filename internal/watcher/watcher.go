// Package watcher maintains the long-lived subscription to Kubernetes
// service events and drives the filter → cooldown → dispatch chain for each
// one. A Supervisor wraps the watch loop and re-establishes it after
// failures.
package watcher

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"

	"github.com/EthDevOps/k8s-service-trigger/internal/event"
	"github.com/EthDevOps/k8s-service-trigger/internal/trigger"
)

const (
	// Burst protection on the raw event stream: a relist after reconnect can
	// replay every service in the cluster at once.
	eventRateLimit = 100
	eventRateBurst = 200
)

// ClientFunc acquires cluster credentials and returns a clientset. It is
// called once per watch attempt so a supervisor restart re-acquires
// credentials.
type ClientFunc func() (kubernetes.Interface, error)

// Watcher runs one watch over services in all namespaces and feeds
// qualifying events through the rate-limited dispatcher.
type Watcher struct {
	logger     *zap.Logger
	newClient  ClientFunc
	limiter    *trigger.Limiter
	dispatcher trigger.Dispatcher
	burst      *rate.Limiter
}

// New creates a Watcher.
func New(logger *zap.Logger, newClient ClientFunc, limiter *trigger.Limiter, dispatcher trigger.Dispatcher) *Watcher {
	return &Watcher{
		logger:     logger.Named("watcher"),
		newClient:  newClient,
		limiter:    limiter,
		dispatcher: dispatcher,
		burst:      rate.NewLimiter(eventRateLimit, eventRateBurst),
	}
}

// Run acquires credentials, opens the subscription, and processes events
// until the stream breaks or the context is cancelled. Any failure —
// including a cleanly closed stream, which should not happen against a live
// cluster — is returned to the caller; Run never retries internally.
func (w *Watcher) Run(ctx context.Context) error {
	client, err := w.newClient()
	if err != nil {
		return fmt.Errorf("acquire cluster credentials: %w", err)
	}

	sub, err := client.CoreV1().Services(metav1.NamespaceAll).Watch(ctx, metav1.ListOptions{})
	if err != nil {
		return fmt.Errorf("watch services: %w", err)
	}
	defer sub.Stop()

	w.logger.Info("Watching LoadBalancer services across all namespaces")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-sub.ResultChan():
			if !ok {
				return errors.New("service watch stream closed")
			}
			w.handleEvent(ctx, evt)
		}
	}
}

// handleEvent runs one event through classify → cooldown → dispatch. Slow
// dispatch calls delay delivery of subsequent events; that backpressure is
// intentional, dispatches are infrequent.
func (w *Watcher) handleEvent(ctx context.Context, evt watch.Event) {
	if !w.burst.Allow() {
		w.logger.Debug("Service event rate limited")
		trigger.CountEvent("rate_limited")
		return
	}

	svc, ok := evt.Object.(*corev1.Service)
	if !ok {
		return
	}
	change, ok := event.Classify(evt.Type, svc)
	if !ok {
		return
	}
	key := change.Key()

	w.logger.Info("LoadBalancer service event",
		zap.String("event", string(change.Kind)),
		zap.String("service", key),
	)

	allowed, remaining := w.limiter.Allow(key)
	if !allowed {
		trigger.CountEvent("debounced")
		w.logger.Info("Dispatch suppressed by cooldown",
			zap.String("service", key),
			zap.String("event", string(change.Kind)),
			zap.Float64("remaining_seconds", remaining.Seconds()),
		)
		return
	}

	if err := w.dispatcher.Dispatch(ctx, change.Kind, key); err != nil {
		trigger.CountEvent("failed")
		w.logDispatchFailure(change, key, err)
		return
	}

	w.limiter.RecordSuccess(key)
	trigger.CountEvent("dispatched")
}

// logDispatchFailure logs a failed dispatch with enough context to diagnose
// it. None of these failures is fatal; the next qualifying event retries.
func (w *Watcher) logDispatchFailure(change event.ServiceChange, key string, err error) {
	fields := []zap.Field{
		zap.String("service", key),
		zap.String("event", string(change.Kind)),
	}

	var notFound *trigger.WorkflowNotFoundError
	var dispatch *trigger.DispatchError
	switch {
	case errors.As(err, &notFound):
		fields = append(fields, zap.Strings("available_workflows", notFound.Available))
	case errors.As(err, &dispatch):
		if dispatch.StatusCode != 0 {
			fields = append(fields,
				zap.Int("status_code", dispatch.StatusCode),
				zap.String("body", dispatch.Body),
			)
		}
	}

	w.logger.Error("Workflow dispatch failed", append(fields, zap.Error(err))...)
}
