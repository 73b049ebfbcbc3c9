package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/Josepavese/nidolab/internal/lab"
)

// start issues one power-on request per batch. A failed batch aborts the
// rest: later batches may depend on it being up.
func (o *Orchestrator) start(ctx context.Context, nodes []lab.NodeAttributes, res *Result) error {
	batches := Plan(nodes, DirectionStart)
	for i, b := range batches {
		if err := ctx.Err(); err != nil {
			return cancelled(err)
		}

		names := b.DisplayNames()
		if err := o.hv.PowerOn(ctx, names); err != nil {
			if ctx.Err() != nil {
				return cancelled(err)
			}
			return fmt.Errorf("power on batch %d/%d (boot order %d): %w", i+1, len(batches), b.BootOrder, err)
		}
		res.Processed = append(res.Processed, names...)
		o.groupIssued(OpStart, i, len(batches), b, "started")

		// The last batch has nothing waiting on it.
		if i == len(batches)-1 || b.Delay() == 0 {
			continue
		}
		if err := o.waitBatch(ctx, OpStart, b); err != nil {
			return cancelled(err)
		}
	}
	return nil
}

// stop issues one forced power-off request per batch, descending, without
// any delay between batches.
func (o *Orchestrator) stop(ctx context.Context, nodes []lab.NodeAttributes, res *Result) error {
	batches := Plan(nodes, DirectionStop)
	for i, b := range batches {
		if err := ctx.Err(); err != nil {
			return cancelled(err)
		}

		names := b.DisplayNames()
		if err := o.hv.PowerOff(ctx, names, true); err != nil {
			if ctx.Err() != nil {
				return cancelled(err)
			}
			return fmt.Errorf("power off batch %d/%d (boot order %d): %w", i+1, len(batches), b.BootOrder, err)
		}
		res.Processed = append(res.Processed, names...)
		o.groupIssued(OpStop, i, len(batches), b, "stopped")
	}
	return nil
}

func (o *Orchestrator) groupIssued(op Op, i, total int, b Batch, verb string) {
	names := b.DisplayNames()
	o.sink.Progress(Event{
		ActivityID: ActivityLab,
		Op:         op,
		Kind:       KindGroup,
		Current:    i + 1,
		Total:      total,
		Nodes:      names,
		Message:    fmt.Sprintf("%s boot order %d: %s", verb, b.BootOrder, strings.Join(names, ", ")),
	})
}
