package trigger

import "fmt"

// ConfigError reports a missing configuration value that makes a dispatch
// attempt impossible. It is logged and the attempt skipped; the process
// keeps running.
type ConfigError struct {
	Field string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s is not configured", e.Field)
}

// WorkflowNotFoundError reports that no workflow in the repository matched
// the configured filename. Available carries the enumerated workflow paths
// for diagnosis.
type WorkflowNotFoundError struct {
	File      string
	Available []string
}

func (e *WorkflowNotFoundError) Error() string {
	return fmt.Sprintf("workflow %s not found among %d workflows", e.File, len(e.Available))
}

// DispatchError reports a rejected or failed downstream call. StatusCode and
// Body are populated when the GitHub API returned a response.
type DispatchError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *DispatchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("workflow dispatch failed with HTTP %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("workflow dispatch failed: %v", e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }
