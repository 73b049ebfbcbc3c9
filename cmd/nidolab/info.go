package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Josepavese/nidolab/internal/build"
	clijson "github.com/Josepavese/nidolab/internal/cli"
	"github.com/Josepavese/nidolab/internal/config"
	"github.com/Josepavese/nidolab/internal/lab"
	"github.com/Josepavese/nidolab/internal/provider"
	"github.com/Josepavese/nidolab/internal/ui"
)

type nodeStatus struct {
	Node        string `json:"node"`
	DisplayName string `json:"display_name"`
	BootOrder   int    `json:"boot_order"`
	BootDelay   int    `json:"boot_delay"`
	State       string `json:"state"`
	PID         int    `json:"pid,omitempty"`
	SSHPort     int    `json:"ssh_port,omitempty"`
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the power state of every node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := newSession("")
			if err != nil {
				return err
			}
			defer s.Close()

			nodes, err := lab.ResolveAll(s.lab)
			if err != nil {
				return err
			}
			names := make([]string, len(nodes))
			for i, n := range nodes {
				names[i] = n.DisplayName
			}

			ctx, cancel := signalContext()
			defer cancel()

			running := map[string]bool{}
			if len(names) > 0 {
				if running, err = s.hv.State(ctx, names); err != nil {
					return err
				}
			}
			details := map[string]provider.VMStatus{}
			if q, ok := s.hv.(*provider.QemuProvider); ok {
				if list, err := q.List(); err == nil {
					for _, vm := range list {
						details[vm.Name] = vm
					}
				}
			}

			out := make([]nodeStatus, len(nodes))
			for i, n := range nodes {
				st := nodeStatus{Node: n.Name, DisplayName: n.DisplayName, BootOrder: n.BootOrder, BootDelay: n.BootDelay, State: "stopped"}
				if running[n.DisplayName] {
					st.State = "running"
				}
				if vm, ok := details[n.DisplayName]; ok {
					st.PID = vm.PID
					st.SSHPort = vm.SSHPort
				}
				out[i] = st
			}

			if jsonOut {
				return clijson.PrintJSON(clijson.NewResponseOK("status", map[string]interface{}{"nodes": out}))
			}

			ui.Header("lab status")
			if len(out) == 0 {
				ui.Ironic("No nodes declared.")
				return nil
			}
			fmt.Fprintf(ui.Out, "%-20s %-24s %-6s %-8s %s\n", "NODE", "VM", "ORDER", "STATE", "SSH")
			for _, st := range out {
				port := "-"
				if st.SSHPort > 0 {
					port = fmt.Sprintf("%d", st.SSHPort)
				}
				fmt.Fprintf(ui.Out, "%-20s %-24s %-6d %-8s %s\n", st.Node, st.DisplayName, st.BootOrder, st.State, port)
			}
			return nil
		},
	}
}

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the host for QEMU and the state directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadSettings()
			if err != nil {
				return err
			}
			checks := provider.NewQemuProvider(cfg, nil).Doctor()

			failed := 0
			for _, c := range checks {
				if !c.Passed {
					failed++
				}
			}

			if jsonOut {
				resp := clijson.NewResponseOK("doctor", map[string]interface{}{"checks": checks})
				if failed > 0 {
					resp = clijson.NewResponseError("doctor", "ERR_DOCTOR", "host checks failed",
						fmt.Sprintf("%d of %d checks failed", failed, len(checks)), "Install QEMU or fix the state directory.", checks)
				}
				_ = clijson.PrintJSON(resp)
			} else {
				ui.Header("doctor")
				for _, c := range checks {
					ui.DoctorCheck(c.Label, c.Passed, c.Details)
				}
			}
			if failed > 0 {
				return errReported
			}
			return nil
		},
	}
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadSettings()
			if err != nil {
				return err
			}
			if jsonOut {
				return clijson.PrintJSON(clijson.NewResponseOK("config", map[string]interface{}{
					"settings":          settingsPath,
					"root_dir":          cfg.RootDir,
					"lab_config":        cfg.LabConfig,
					"baseline_snapshot": cfg.BaselineSnapshot,
					"log_level":         cfg.LogLevel,
					"nats_url":          cfg.NATSURL,
					"nats_subject":      cfg.NATSSubject,
					"qemu_binary":       cfg.QemuBinary,
					"qemu_img":          cfg.QemuImg,
					"memory_mb":         cfg.MemoryMB,
					"stop_timeout":      cfg.StopTimeout.String(),
				}))
			}
			ui.Header("settings")
			ui.FancyLabel("File", settingsPath)
			ui.FancyLabel("Root", cfg.RootDir)
			ui.FancyLabel("Lab", cfg.LabConfig)
			ui.FancyLabel("Baseline", cfg.BaselineSnapshot)
			ui.FancyLabel("Log level", cfg.LogLevel)
			ui.FancyLabel("NATS", cfg.NATSURL)
			ui.FancyLabel("QEMU", cfg.QemuBinary)
			ui.FancyLabel("Memory", fmt.Sprintf("%d MB", cfg.MemoryMB))
			ui.FancyLabel("Stop timeout", cfg.StopTimeout)
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set <KEY> <VALUE>",
		Short: "Write one KEY=VALUE setting",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := strings.ToUpper(args[0])
			if err := config.UpdateConfig(settingsPath, key, args[1]); err != nil {
				return err
			}
			if jsonOut {
				return clijson.PrintJSON(clijson.NewResponseOK("config set", map[string]string{"key": key, "value": args[1]}))
			}
			ui.Success("%s=%s written to %s", key, args[1], settingsPath)
			return nil
		},
	})
	return cmd
}

func newVersionCmd() *cobra.Command {
	var check bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			latest := ""
			if check {
				v, err := build.LatestVersion()
				if err != nil {
					ui.Warn("could not check for a newer release: %v", err)
				}
				latest = v
			}
			if jsonOut {
				data := map[string]string{"version": build.Version}
				if latest != "" {
					data["latest"] = latest
				}
				return clijson.PrintJSON(clijson.NewResponseOK("version", data))
			}
			ui.Info("nidolab %s", build.Version)
			if latest != "" && latest != build.Version {
				ui.Info("newer release available: %s", latest)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "look up the latest release")
	return cmd
}

