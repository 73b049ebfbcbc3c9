package orchestrator

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// Waiter sleeps for d or until ctx is done.
type Waiter interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// RealWaiter sleeps on the wall clock.
type RealWaiter struct{}

// Sleep blocks for d unless ctx ends first.
func (RealWaiter) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// NoWait returns immediately. Used for dry runs.
type NoWait struct{}

// Sleep only honours cancellation.
func (NoWait) Sleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

// waitBatch enforces a batch delay one second at a time, reporting each tick
// on the nested wait activity.
func (o *Orchestrator) waitBatch(ctx context.Context, op Op, b Batch) error {
	delay := b.Delay()
	o.log.WithFields(log.Fields{
		"boot_order": b.BootOrder,
		"delay":      delay,
	}).Debug("waiting before next batch")

	for s := 1; s <= delay; s++ {
		if err := o.waiter.Sleep(ctx, time.Second); err != nil {
			return err
		}
		o.sink.Progress(Event{
			ActivityID: ActivityWait,
			ParentID:   ActivityLab,
			Op:         op,
			Kind:       KindWait,
			Current:    s,
			Total:      delay,
			Nodes:      b.DisplayNames(),
			Message:    fmt.Sprintf("waiting %d/%ds after boot order %d", s, delay, b.BootOrder),
		})
	}
	return nil
}
