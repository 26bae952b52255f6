// Package trigger decides when a qualifying service change may invoke the
// downstream GitHub Actions workflow, and performs the invocation.
//
// The Limiter holds the only mutable state in the process: the time of the
// last successful dispatch, scoped globally or per service. The dispatcher
// itself is stateless; a failed dispatch is retried only on the next
// qualifying event.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/go-github/v66/github"
	"go.uber.org/zap"

	"github.com/EthDevOps/k8s-service-trigger/internal/event"
)

// Dispatcher invokes the downstream automation for a classified service
// change. Implementations report failure through typed errors; none of them
// is fatal to the caller.
type Dispatcher interface {
	Dispatch(ctx context.Context, kind event.Kind, key string) error
}

// GitHubDispatcherConfig holds the settings for a GitHubDispatcher.
type GitHubDispatcherConfig struct {
	// Repo is the target repository in owner/name form.
	Repo string
	// WorkflowFile is the workflow filename to dispatch. The workflow is
	// resolved by suffix-matching repository workflow paths against it.
	WorkflowFile string
	// Ref is the git ref the workflow runs on.
	Ref string
	// Tenant and Project are passed through as workflow inputs.
	Tenant  string
	Project string
}

// GitHubDispatcher dispatches a workflow_dispatch event via the GitHub
// Actions API.
type GitHubDispatcher struct {
	client *github.Client
	logger *zap.Logger
	cfg    GitHubDispatcherConfig
}

// NewGitHubDispatcher creates a dispatcher authenticated with the given
// token.
func NewGitHubDispatcher(logger *zap.Logger, token string, cfg GitHubDispatcherConfig) *GitHubDispatcher {
	return NewGitHubDispatcherWithClient(logger, github.NewClient(nil).WithAuthToken(token), cfg)
}

// NewGitHubDispatcherWithClient creates a dispatcher around an existing
// GitHub client. Used by tests to point at a local API stub.
func NewGitHubDispatcherWithClient(logger *zap.Logger, client *github.Client, cfg GitHubDispatcherConfig) *GitHubDispatcher {
	if cfg.Ref == "" {
		cfg.Ref = "main"
	}
	return &GitHubDispatcher{
		client: client,
		logger: logger.Named("dispatcher"),
		cfg:    cfg,
	}
}

// Dispatch resolves the configured workflow and triggers it with tenant and
// project inputs. The returned error is a *ConfigError, *WorkflowNotFoundError
// or *DispatchError; the caller logs it and moves on.
func (d *GitHubDispatcher) Dispatch(ctx context.Context, kind event.Kind, key string) error {
	if d.cfg.Repo == "" {
		dispatchTotal.WithLabelValues("config_missing").Inc()
		return &ConfigError{Field: "GITHUB_REPO"}
	}
	if d.cfg.WorkflowFile == "" {
		dispatchTotal.WithLabelValues("config_missing").Inc()
		return &ConfigError{Field: "WORKFLOW_FILE"}
	}

	owner, repo, ok := strings.Cut(d.cfg.Repo, "/")
	if !ok || owner == "" || repo == "" {
		dispatchTotal.WithLabelValues("config_missing").Inc()
		return &ConfigError{Field: "GITHUB_REPO"}
	}

	workflow, err := d.resolveWorkflow(ctx, owner, repo)
	if err != nil {
		return err
	}

	d.logger.Info("Dispatching workflow",
		zap.String("service", key),
		zap.String("event", string(kind)),
		zap.String("workflow", workflow.GetPath()),
		zap.Int64("workflow_id", workflow.GetID()),
		zap.String("ref", d.cfg.Ref),
	)

	start := time.Now()
	_, err = d.client.Actions.CreateWorkflowDispatchEventByID(ctx, owner, repo, workflow.GetID(),
		github.CreateWorkflowDispatchEventRequest{
			Ref: d.cfg.Ref,
			Inputs: map[string]interface{}{
				"tenant":  d.cfg.Tenant,
				"project": d.cfg.Project,
			},
		})
	duration := time.Since(start).Seconds()
	if err != nil {
		dispatchTotal.WithLabelValues("error").Inc()
		dispatchDuration.WithLabelValues("error").Observe(duration)
		return asDispatchError(err)
	}

	dispatchTotal.WithLabelValues("success").Inc()
	dispatchDuration.WithLabelValues("success").Observe(duration)
	d.logger.Info("Workflow dispatched",
		zap.String("service", key),
		zap.String("event", string(kind)),
		zap.String("workflow", workflow.GetPath()),
	)
	return nil
}

// resolveWorkflow lists all workflows in the repository and returns the one
// whose path ends with the configured filename. All discovered workflows are
// logged as a diagnostic aid.
func (d *GitHubDispatcher) resolveWorkflow(ctx context.Context, owner, repo string) (*github.Workflow, error) {
	var (
		match     *github.Workflow
		available []string
	)

	opts := &github.ListOptions{PerPage: 100}
	for {
		workflows, resp, err := d.client.Actions.ListWorkflows(ctx, owner, repo, opts)
		if err != nil {
			dispatchTotal.WithLabelValues("error").Inc()
			return nil, asDispatchError(fmt.Errorf("list workflows: %w", err))
		}
		for _, wf := range workflows.Workflows {
			available = append(available, wf.GetPath())
			d.logger.Info("Discovered workflow",
				zap.String("name", wf.GetName()),
				zap.String("path", wf.GetPath()),
				zap.Int64("id", wf.GetID()),
			)
			if match == nil && strings.HasSuffix(wf.GetPath(), d.cfg.WorkflowFile) {
				match = wf
			}
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	if match == nil {
		dispatchTotal.WithLabelValues("not_found").Inc()
		return nil, &WorkflowNotFoundError{File: d.cfg.WorkflowFile, Available: available}
	}
	return match, nil
}

// asDispatchError converts a go-github error into a DispatchError, pulling
// out the HTTP status and message when the API responded.
func asDispatchError(err error) error {
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		return &DispatchError{
			StatusCode: ghErr.Response.StatusCode,
			Body:       ghErr.Message,
			Err:        err,
		}
	}
	return &DispatchError{Err: err}
}
