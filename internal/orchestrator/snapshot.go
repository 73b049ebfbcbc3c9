package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/Josepavese/nidolab/internal/lab"
)

// checkpoint snapshots the whole lab as one point-in-time set: either every
// node gets the label or none does.
func (o *Orchestrator) checkpoint(ctx context.Context, nodes []lab.NodeAttributes, label string, force bool, res *Result) error {
	d, err := Guard(ctx, o.hv, nodes, force)
	if err != nil {
		return err
	}
	if !d.Proceed {
		o.rejectRunning(OpCheckpoint, d, res)
		return nil
	}
	if d.Overridden {
		o.log.WithField("running", displayNames(d.Running)).
			Warn("checkpointing running nodes; snapshot may hold uncommitted state")
	}

	names := displayNames(nodes)
	if err := o.hv.CreateSnapshot(ctx, names, label); err != nil {
		if ctx.Err() != nil {
			return cancelled(err)
		}
		return fmt.Errorf("create snapshot %q: %w", label, err)
	}
	res.Processed = append(res.Processed, names...)

	o.sink.Progress(Event{
		ActivityID: ActivityLab,
		Op:         OpCheckpoint,
		Kind:       KindGroup,
		Current:    1,
		Total:      1,
		Nodes:      names,
		Message:    fmt.Sprintf("snapshot %q created on %d nodes", label, len(names)),
	})
	return nil
}

// restore applies label node by node. One node failing does not stop the
// others; only cancellation does.
func (o *Orchestrator) restore(ctx context.Context, op Op, nodes []lab.NodeAttributes, label string, force bool, res *Result) error {
	d, err := Guard(ctx, o.hv, nodes, force)
	if err != nil {
		return err
	}
	if !d.Proceed {
		o.rejectRunning(op, d, res)
		return nil
	}
	if d.Overridden {
		o.log.WithField("running", displayNames(d.Running)).
			Warn("restoring over running nodes; they will be powered off")
	}
	// Confirmation is skipped when force was needed to get here.
	confirm := !d.Overridden

	ordered := RestoreOrder(nodes)
	for i, n := range ordered {
		if err := ctx.Err(); err != nil {
			return cancelled(err)
		}

		if err := o.restoreNode(ctx, n, label, confirm); err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				return cancelled(err)
			}
			o.nodeFailed(op, n, err, res)
			continue
		}
		res.Processed = append(res.Processed, n.DisplayName)

		o.sink.Progress(Event{
			ActivityID: ActivityLab,
			Op:         op,
			Kind:       KindNode,
			Current:    i + 1,
			Total:      len(ordered),
			Nodes:      []string{n.DisplayName},
			Message:    fmt.Sprintf("restored %s to %q", n.DisplayName, label),
		})
	}
	return nil
}

func (o *Orchestrator) restoreNode(ctx context.Context, n lab.NodeAttributes, label string, confirm bool) error {
	snap, err := o.hv.Snapshot(ctx, n.DisplayName, label)
	if err != nil {
		return err
	}
	return o.hv.RestoreSnapshot(ctx, snap, confirm)
}
