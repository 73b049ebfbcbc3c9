package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	clijson "github.com/Josepavese/nidolab/internal/cli"
	"github.com/Josepavese/nidolab/internal/lab"
	"github.com/Josepavese/nidolab/internal/orchestrator"
	"github.com/Josepavese/nidolab/internal/ui"
)

type labFunc func(ctx context.Context, s *session) (*orchestrator.Result, error)

// runLab builds a session, runs fn under a signal-aware context and reports
// the outcome. Any fatal error or node failure makes the command fail.
func runLab(command, snapshotLabel string, fn labFunc) error {
	s, err := newSession(snapshotLabel)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := signalContext()
	defer cancel()

	res, err := fn(ctx, s)
	return report(command, res, err)
}

func report(command string, res *orchestrator.Result, err error) error {
	if jsonOut {
		_ = clijson.PrintJSON(clijson.NewResultResponse(command, res, err))
		if err != nil || (res != nil && res.Err() != nil) {
			return errReported
		}
		return nil
	}

	if err != nil {
		// The terminal sink has already shown the aborted done event.
		return errReported
	}
	if res != nil && len(res.Failures) > 0 {
		for _, f := range res.Failures {
			ui.Warn("%s: %v", f.DisplayName, f.Err)
		}
		return errReported
	}
	return nil
}

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Power on every node in ascending boot order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLab("start", "", func(ctx context.Context, s *session) (*orchestrator.Result, error) {
				return s.orch.StartLab(ctx, s.lab)
			})
		},
	}
}

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Power off every node in descending boot order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLab("stop", "", func(ctx context.Context, s *session) (*orchestrator.Result, error) {
				return s.orch.StopLab(ctx, s.lab)
			})
		},
	}
}

func newCheckpointCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "checkpoint <label>",
		Short: "Snapshot every node under a label",
		Long:  "Snapshot every node under <label>. Refuses while any node is running unless --force is given.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			label := args[0]
			return runLab("checkpoint", "", func(ctx context.Context, s *session) (*orchestrator.Result, error) {
				return s.orch.CheckpointLab(ctx, s.lab, label, force)
			})
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "checkpoint even if nodes are running")
	return cmd
}

func newRestoreCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "restore <label>",
		Short: "Restore every node to a snapshot in ascending boot order",
		Long: `Restore every node to the snapshot <label>, one node at a time.
Refuses while any node is running unless --force is given; a forced restore
powers running nodes off and does not ask for confirmation.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			label := args[0]
			return runLab("restore", label, func(ctx context.Context, s *session) (*orchestrator.Result, error) {
				return s.orch.RestoreLab(ctx, s.lab, label, force)
			})
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "restore even if nodes are running")
	return cmd
}

func newResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Force-restore the baseline snapshot on every node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLab("reset", "", func(ctx context.Context, s *session) (*orchestrator.Result, error) {
				return s.orch.ResetLab(ctx, s.lab)
			})
		},
	}
}

func newPlanCmd() *cobra.Command {
	var stop bool
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the batches start (or stop) would use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadSettings()
			if err != nil {
				return err
			}
			cd, err := lab.LoadConfigurationData(cfg.LabConfig)
			if err != nil {
				return err
			}
			nodes, err := lab.ResolveAll(cd)
			if err != nil {
				return err
			}
			dir := orchestrator.DirectionStart
			if stop {
				dir = orchestrator.DirectionStop
			}
			batches := orchestrator.Plan(nodes, dir)

			if jsonOut {
				return clijson.PrintJSON(clijson.NewResponseOK("plan", map[string]interface{}{
					"direction": dir.String(),
					"batches":   batches,
				}))
			}

			ui.Header("plan: " + dir.String())
			if len(batches) == 0 {
				ui.Ironic("No nodes declared. Nothing to plan.")
				return nil
			}
			for i, b := range batches {
				ui.FancyLabel("Boot order", b.BootOrder)
				ui.FancyLabel("Nodes", b.DisplayNames())
				if dir == orchestrator.DirectionStart && i < len(batches)-1 && b.Delay() > 0 {
					ui.FancyLabel("Then wait", fmt.Sprintf("%ds", b.Delay()))
				}
				fmt.Fprintln(ui.Out)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&stop, "stop", false, "show the stop order instead")
	return cmd
}
