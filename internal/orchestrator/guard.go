package orchestrator

import (
	"context"
	"fmt"

	"github.com/Josepavese/nidolab/internal/lab"
	"github.com/Josepavese/nidolab/internal/provider"
)

// GuardDecision is the verdict of the running-state guard.
type GuardDecision struct {
	// Proceed is true when the destructive operation may touch every node.
	Proceed bool
	// Overridden is true when nodes were running and force let the call through.
	Overridden bool
	// Running lists the nodes found running, in input order.
	Running []lab.NodeAttributes
}

// Guard queries the backend once for all nodes and decides whether a
// checkpoint or restore may go ahead. With nodes running and no force,
// nothing may proceed. A failed state query is returned as an error.
func Guard(ctx context.Context, hv provider.Hypervisor, nodes []lab.NodeAttributes, force bool) (GuardDecision, error) {
	states, err := hv.State(ctx, displayNames(nodes))
	if err != nil {
		return GuardDecision{}, fmt.Errorf("query power state: %w", err)
	}

	var d GuardDecision
	for _, n := range nodes {
		if states[n.DisplayName] {
			d.Running = append(d.Running, n)
		}
	}

	switch {
	case len(d.Running) == 0:
		d.Proceed = true
	case force:
		d.Proceed = true
		d.Overridden = true
	}
	return d, nil
}

// rejectRunning reports one failure per running node.
func (o *Orchestrator) rejectRunning(op Op, d GuardDecision, res *Result) {
	for _, n := range d.Running {
		o.nodeFailed(op, n, ErrNodeRunning, res)
	}
}

func (o *Orchestrator) nodeFailed(op Op, n lab.NodeAttributes, err error, res *Result) {
	nerr := &NodeError{Op: op, Node: n.Name, DisplayName: n.DisplayName, Err: err}
	res.Failures = append(res.Failures, nerr)

	o.sink.Progress(Event{
		ActivityID: ActivityLab,
		Op:         op,
		Kind:       KindNodeError,
		Nodes:      []string{n.DisplayName},
		Message:    nerr.Error(),
		Err:        nerr,
	})
}
