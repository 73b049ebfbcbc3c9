package orchestrator

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
)

var (
	// ErrCancelled means the context ended the operation before it completed.
	ErrCancelled = errors.New("lab operation cancelled")
	// ErrNodeRunning is reported per node when checkpoint or restore meets a
	// running node without force.
	ErrNodeRunning = errors.New("node is running; stop the lab or use force")
	// ErrEmptyLabel is returned when no snapshot label is given.
	ErrEmptyLabel = errors.New("snapshot label is empty")
)

// NodeError is a failure scoped to one node. It does not abort the call.
type NodeError struct {
	Op          Op
	Node        string
	DisplayName string
	Err         error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.DisplayName, e.Err)
}

func (e *NodeError) Unwrap() error { return e.Err }

// Result summarises one orchestration call.
type Result struct {
	Op    Op     `json:"op"`
	Label string `json:"label,omitempty"`
	// Nodes is the number of declared nodes the call targeted.
	Nodes int `json:"nodes"`
	// Processed holds the display names the backend acted on, in call order.
	Processed []string     `json:"processed"`
	Failures  []*NodeError `json:"-"`
}

// Err combines the per-node failures, or returns nil if there were none.
func (r *Result) Err() error {
	var merr *multierror.Error
	for _, f := range r.Failures {
		merr = multierror.Append(merr, f)
	}
	return merr.ErrorOrNil()
}

// FailedNodes lists the display names of failed nodes.
func (r *Result) FailedNodes() []string {
	names := make([]string, len(r.Failures))
	for i, f := range r.Failures {
		names[i] = f.DisplayName
	}
	return names
}

func cancelled(err error) error {
	return fmt.Errorf("%w: %w", ErrCancelled, err)
}
