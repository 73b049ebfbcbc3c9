// Command nidolab starts, stops, checkpoints and restores a lab of QEMU
// virtual machines described by a YAML document.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	clijson "github.com/Josepavese/nidolab/internal/cli"
	"github.com/Josepavese/nidolab/internal/config"
	"github.com/Josepavese/nidolab/internal/events"
	"github.com/Josepavese/nidolab/internal/lab"
	"github.com/Josepavese/nidolab/internal/orchestrator"
	"github.com/Josepavese/nidolab/internal/provider"
	"github.com/Josepavese/nidolab/internal/ui"
)

var (
	settingsPath string
	labPath      string
	rootDir      string
	logLevel     string
	natsURL      string
	jsonOut      bool
	dryRun       bool
	assumeYes    bool
)

// errReported marks a failure that has already been printed.
var errReported = errors.New("reported")

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		if !errors.Is(err, errReported) {
			if jsonOut {
				_ = clijson.PrintJSON(clijson.NewResponseError(root.Name(), "ERR_INTERNAL", "command failed", err.Error(), "", nil))
			} else {
				ui.Error("%v", err)
			}
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "nidolab",
		Short:         "nidolab drives a lab of QEMU virtual machines in boot order",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			clijson.SetJSONMode(jsonOut)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&settingsPath, "settings", defaultSettingsPath(), "KEY=VALUE settings file")
	pf.StringVarP(&labPath, "config", "c", "", "lab YAML document (default from LAB_CONFIG)")
	pf.StringVar(&rootDir, "root", "", "state directory holding vms/ and run/")
	pf.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.StringVar(&natsURL, "nats-url", "", "publish progress events to this NATS server")
	pf.BoolVarP(&jsonOut, "json", "j", false, "print a JSON response")
	pf.BoolVar(&dryRun, "dry-run", false, "run against an in-memory backend without touching VMs")
	pf.BoolVarP(&assumeYes, "yes", "y", false, "assume yes for restore confirmations")

	root.AddCommand(
		newStartCmd(),
		newStopCmd(),
		newCheckpointCmd(),
		newRestoreCmd(),
		newResetCmd(),
		newPlanCmd(),
		newStatusCmd(),
		newDoctorCmd(),
		newConfigCmd(),
		newVersionCmd(),
	)
	return root
}

// defaultSettingsPath prefers ~/.nidolab/config.env and falls back to
// ./config/config.env for development checkouts.
func defaultSettingsPath() string {
	home, _ := os.UserHomeDir()
	path := filepath.Join(home, ".nidolab", "config.env")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cwd, _ := os.Getwd()
		if local := filepath.Join(cwd, "config", "config.env"); fileExists(local) {
			return local
		}
	}
	return path
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// loadSettings layers defaults, the settings file, NIDOLAB_* variables and
// finally command line flags.
func loadSettings() (*config.Config, error) {
	cfg, err := config.LoadConfig(settingsPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read settings %s: %w", settingsPath, err)
		}
		cfg = config.Default()
	}
	if err := config.ApplyEnv(cfg); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}

	if labPath != "" {
		cfg.LabConfig = labPath
	}
	if rootDir != "" {
		cfg.RootDir = rootDir
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if natsURL != "" {
		cfg.NATSURL = natsURL
	}

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	log.SetLevel(level)
	log.SetOutput(os.Stderr)
	if jsonOut {
		log.SetFormatter(&log.JSONFormatter{})
	}
	return cfg, nil
}

// session is everything a lab command needs, built once per invocation.
type session struct {
	cfg  *config.Config
	lab  *lab.ConfigurationData
	hv   provider.Hypervisor
	orch *orchestrator.Orchestrator
	pub  *events.Publisher
}

func (s *session) Close() {
	if s.pub != nil {
		s.pub.Close()
	}
}

// newSession loads settings and the lab, then wires the backend and sinks.
// On a dry run the stub backend holds snapshotLabel and the baseline for
// every node so restore and reset can be rehearsed.
func newSession(snapshotLabel string) (*session, error) {
	cfg, err := loadSettings()
	if err != nil {
		return nil, err
	}
	cd, err := lab.LoadConfigurationData(cfg.LabConfig)
	if err != nil {
		return nil, err
	}

	s := &session{cfg: cfg, lab: cd}
	logger := log.WithField("lab", cfg.LabConfig)

	// Progress is logged only in JSON mode or at debug level.
	var sinks orchestrator.MultiSink
	if jsonOut || log.IsLevelEnabled(log.DebugLevel) {
		sinks = append(sinks, orchestrator.LogSink{Log: logger})
	}
	if !jsonOut {
		sinks = append(sinks, ui.NewTerminalSink(os.Stdout))
	}
	if cfg.NATSURL != "" {
		pub, err := events.NewPublisher(cfg.NATSURL, cfg.NATSSubject, cfg.LabConfig)
		if err != nil {
			return nil, err
		}
		s.pub = pub
		sinks = append(sinks, pub)
		logger = logger.WithField("operation_id", pub.OperationID())
	}

	opts := []orchestrator.Option{
		orchestrator.WithSink(sinks),
		orchestrator.WithLogger(logger),
		orchestrator.WithBaseline(cfg.BaselineSnapshot),
	}

	if dryRun {
		s.hv, err = dryRunProvider(cd, snapshotLabel, cfg.BaselineSnapshot)
		if err != nil {
			return nil, err
		}
		opts = append(opts, orchestrator.WithWaiter(orchestrator.NoWait{}))
		logger.Info("dry run: using in-memory backend")
	} else {
		s.hv = provider.NewQemuProvider(cfg, ui.Confirmer{AssumeYes: assumeYes})
	}

	s.orch = orchestrator.New(s.hv, opts...)
	return s, nil
}

func dryRunProvider(cd *lab.ConfigurationData, labels ...string) (*provider.StubProvider, error) {
	nodes, err := lab.ResolveAll(cd)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(nodes))
	for i, n := range nodes {
		names[i] = n.DisplayName
	}
	stub := provider.NewStubProvider(names...)
	for _, label := range labels {
		if label == "" {
			continue
		}
		for _, n := range names {
			stub.AddSnapshot(n, label)
		}
	}
	return stub, nil
}

// signalContext is cancelled on SIGINT or SIGTERM so a batch delay can be
// interrupted.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
