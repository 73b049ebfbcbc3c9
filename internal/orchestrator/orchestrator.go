// Package orchestrator drives power and checkpoint operations across the
// nodes of a lab in a deterministic order.
//
// Start and stop work on batches of nodes sharing a boot order: start walks
// the batches by ascending boot order and waits the batch delay between
// batches, stop walks them descending and never waits. Checkpoint issues one
// snapshot request for the whole lab. Restore walks nodes one at a time by
// ascending boot order. Both checkpoint and restore refuse to touch anything
// while a node is running unless forced.
//
// Calls run sequentially on the caller's goroutine. Concurrent calls against
// overlapping nodes must be serialised by the caller.
package orchestrator

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/Josepavese/nidolab/internal/config"
	"github.com/Josepavese/nidolab/internal/lab"
	"github.com/Josepavese/nidolab/internal/provider"
)

// BaselineSnapshot is the label ResetLab restores unless overridden.
const BaselineSnapshot = config.DefaultBaselineSnapshot

// Orchestrator sequences lab operations against a Hypervisor.
type Orchestrator struct {
	hv       provider.Hypervisor
	sink     ProgressSink
	log      *log.Entry
	waiter   Waiter
	baseline string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSink sets where progress events go.
func WithSink(s ProgressSink) Option {
	return func(o *Orchestrator) { o.sink = s }
}

// WithLogger sets the logger.
func WithLogger(l *log.Entry) Option {
	return func(o *Orchestrator) { o.log = l }
}

// WithWaiter replaces the wall-clock waiter used for batch delays.
func WithWaiter(w Waiter) Option {
	return func(o *Orchestrator) { o.waiter = w }
}

// WithBaseline changes the label ResetLab restores.
func WithBaseline(label string) Option {
	return func(o *Orchestrator) {
		if label != "" {
			o.baseline = label
		}
	}
}

// New returns an Orchestrator for hv.
func New(hv provider.Hypervisor, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		hv:       hv,
		sink:     DiscardSink,
		log:      log.NewEntry(log.StandardLogger()),
		waiter:   RealWaiter{},
		baseline: BaselineSnapshot,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Baseline returns the label ResetLab restores.
func (o *Orchestrator) Baseline() string { return o.baseline }

// PlanLab resolves the lab and returns the batches an operation would use.
func (o *Orchestrator) PlanLab(cd *lab.ConfigurationData, dir Direction) ([]Batch, error) {
	nodes, err := lab.ResolveAll(cd)
	if err != nil {
		return nil, err
	}
	return Plan(nodes, dir), nil
}

// StartLab powers on every node, batch by batch in ascending boot order,
// waiting each batch's delay before the next one.
func (o *Orchestrator) StartLab(ctx context.Context, cd *lab.ConfigurationData) (*Result, error) {
	return o.run(ctx, OpStart, "", cd, func(ctx context.Context, nodes []lab.NodeAttributes, res *Result) error {
		return o.start(ctx, nodes, res)
	})
}

// StopLab forcibly powers off every node, batch by batch in descending boot
// order, with no delay between batches.
func (o *Orchestrator) StopLab(ctx context.Context, cd *lab.ConfigurationData) (*Result, error) {
	return o.run(ctx, OpStop, "", cd, func(ctx context.Context, nodes []lab.NodeAttributes, res *Result) error {
		return o.stop(ctx, nodes, res)
	})
}

// CheckpointLab snapshots every node under label in one backend request.
func (o *Orchestrator) CheckpointLab(ctx context.Context, cd *lab.ConfigurationData, label string, force bool) (*Result, error) {
	if label == "" {
		return nil, o.abort(OpCheckpoint, ErrEmptyLabel)
	}
	return o.run(ctx, OpCheckpoint, label, cd, func(ctx context.Context, nodes []lab.NodeAttributes, res *Result) error {
		return o.checkpoint(ctx, nodes, label, force, res)
	})
}

// RestoreLab applies the snapshot label to each node in ascending boot order.
func (o *Orchestrator) RestoreLab(ctx context.Context, cd *lab.ConfigurationData, label string, force bool) (*Result, error) {
	return o.restoreLab(ctx, OpRestore, cd, label, force)
}

// ResetLab restores the baseline snapshot with force, powering off any
// running node as a side effect.
func (o *Orchestrator) ResetLab(ctx context.Context, cd *lab.ConfigurationData) (*Result, error) {
	return o.restoreLab(ctx, OpReset, cd, o.baseline, true)
}

func (o *Orchestrator) restoreLab(ctx context.Context, op Op, cd *lab.ConfigurationData, label string, force bool) (*Result, error) {
	if label == "" {
		return nil, o.abort(op, ErrEmptyLabel)
	}
	return o.run(ctx, op, label, cd, func(ctx context.Context, nodes []lab.NodeAttributes, res *Result) error {
		return o.restore(ctx, op, nodes, label, force, res)
	})
}

type phase func(ctx context.Context, nodes []lab.NodeAttributes, res *Result) error

// run resolves attributes once for the whole call, runs the phase and always
// finishes with a done event.
func (o *Orchestrator) run(ctx context.Context, op Op, label string, cd *lab.ConfigurationData, fn phase) (*Result, error) {
	nodes, err := lab.ResolveAll(cd)
	if err != nil {
		return nil, o.abort(op, err)
	}

	res := &Result{Op: op, Label: label, Nodes: len(nodes), Processed: []string{}}
	logger := o.log.WithFields(log.Fields{"op": op, "nodes": len(nodes)})
	if label != "" {
		logger = logger.WithField("label", label)
	}
	logger.Debug("lab operation started")

	if len(nodes) == 0 {
		logger.Info("no nodes declared; nothing to do")
		o.done(op, res, nil)
		return res, nil
	}

	err = fn(ctx, nodes, res)
	o.done(op, res, err)

	switch {
	case err != nil:
		logger.WithField("error", err).Error("lab operation aborted")
	case len(res.Failures) > 0:
		logger.WithField("failed", res.FailedNodes()).Warn("lab operation finished with node failures")
	default:
		logger.Info("lab operation finished")
	}
	return res, err
}

// abort reports a call rejected before any node was resolved. Subscribers
// still get the terminal done event.
func (o *Orchestrator) abort(op Op, err error) error {
	o.log.WithFields(log.Fields{"op": op, "error": err}).Error("lab operation rejected")
	o.done(op, &Result{Op: op}, err)
	return err
}

func (o *Orchestrator) done(op Op, res *Result, err error) {
	msg := "done"
	switch {
	case err != nil:
		msg = "aborted: " + err.Error()
	case len(res.Failures) > 0:
		msg = "done with failures"
	}
	o.sink.Progress(Event{
		ActivityID: ActivityLab,
		Op:         op,
		Kind:       KindDone,
		Current:    len(res.Processed),
		Total:      res.Nodes,
		Failed:     len(res.Failures),
		Message:    msg,
		Err:        err,
	})
}
