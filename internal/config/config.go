package config

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/vrischmann/envconfig"

	"github.com/Josepavese/nidolab/internal/pkg/sysutil"
)

// DefaultBaselineSnapshot is the checkpoint label ResetLab rolls back to.
const DefaultBaselineSnapshot = "nidolab-baseline"

// Config defines where the lab lives on disk, which lab document to drive,
// and how the QEMU backend and event stream behave.
type Config struct {
	RootDir          string        // State directory holding vms/ and run/ (default: ~/.nidolab)
	LabConfig        string        // Path to the lab YAML document
	BaselineSnapshot string        // Label used by reset
	LogLevel         string        // logrus level name
	NATSURL          string        // Optional; events are published when set
	NATSSubject      string        // Subject prefix for progress events
	QemuBinary       string        // System emulator binary
	QemuImg          string        // qemu-img binary
	MemoryMB         int           // Guest memory for nodes started by nidolab
	StopTimeout      time.Duration // How long to wait for a QEMU process to exit
}

// Default returns the configuration used when no file or variable says otherwise.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		RootDir:          filepath.Join(home, ".nidolab"),
		LabConfig:        "lab.yaml",
		BaselineSnapshot: DefaultBaselineSnapshot,
		LogLevel:         "info",
		NATSSubject:      "nidolab.progress",
		QemuBinary:       "qemu-system-x86_64",
		QemuImg:          "qemu-img",
		MemoryMB:         sysutil.DefaultMemory(),
		StopTimeout:      10 * time.Second,
	}
}

// LoadConfig reads a KEY=VALUE configuration file.
// If a key is missing, it falls back to the defaults.
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	cfg := Default()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])

		switch key {
		case "ROOT_DIR":
			cfg.RootDir = val
		case "LAB_CONFIG":
			cfg.LabConfig = val
		case "BASELINE_SNAPSHOT":
			cfg.BaselineSnapshot = val
		case "LOG_LEVEL":
			cfg.LogLevel = val
		case "NATS_URL":
			cfg.NATSURL = val
		case "NATS_SUBJECT":
			cfg.NATSSubject = val
		case "QEMU_BINARY":
			cfg.QemuBinary = val
		case "QEMU_IMG":
			cfg.QemuImg = val
		case "MEMORY_MB":
			if n, err := strconv.Atoi(val); err == nil && n > 0 {
				cfg.MemoryMB = n
			}
		case "STOP_TIMEOUT":
			if d, err := time.ParseDuration(val); err == nil && d > 0 {
				cfg.StopTimeout = d
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// envOverrides mirrors Config for NIDOLAB_* environment variables.
// Zero values mean "not set".
type envOverrides struct {
	RootDir          string        `envconfig:"NIDOLAB_ROOT_DIR,optional"`
	LabConfig        string        `envconfig:"NIDOLAB_LAB_CONFIG,optional"`
	BaselineSnapshot string        `envconfig:"NIDOLAB_BASELINE_SNAPSHOT,optional"`
	LogLevel         string        `envconfig:"NIDOLAB_LOG_LEVEL,optional"`
	NATSURL          string        `envconfig:"NIDOLAB_NATS_URL,optional"`
	NATSSubject      string        `envconfig:"NIDOLAB_NATS_SUBJECT,optional"`
	QemuBinary       string        `envconfig:"NIDOLAB_QEMU_BINARY,optional"`
	QemuImg          string        `envconfig:"NIDOLAB_QEMU_IMG,optional"`
	MemoryMB         int           `envconfig:"NIDOLAB_MEMORY_MB,optional"`
	StopTimeout      time.Duration `envconfig:"NIDOLAB_STOP_TIMEOUT,optional"`
}

// ApplyEnv overlays NIDOLAB_* environment variables on cfg.
func ApplyEnv(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Init(&env); err != nil {
		return err
	}

	setString(&cfg.RootDir, env.RootDir)
	setString(&cfg.LabConfig, env.LabConfig)
	setString(&cfg.BaselineSnapshot, env.BaselineSnapshot)
	setString(&cfg.LogLevel, env.LogLevel)
	setString(&cfg.NATSURL, env.NATSURL)
	setString(&cfg.NATSSubject, env.NATSSubject)
	setString(&cfg.QemuBinary, env.QemuBinary)
	setString(&cfg.QemuImg, env.QemuImg)
	if env.MemoryMB > 0 {
		cfg.MemoryMB = env.MemoryMB
	}
	if env.StopTimeout > 0 {
		cfg.StopTimeout = env.StopTimeout
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// UpdateConfig modifies a single key in the configuration file.
// It reads the whole file first and rewrites it with the key updated or appended.
func UpdateConfig(path, key, value string) error {
	var lines []string
	if _, err := os.Stat(path); err == nil {
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		lines = strings.Split(string(content), "\n")
	}

	found := false
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, key+"=") {
			lines[i] = key + "=" + value
			found = true
			break
		}
	}

	if !found {
		if len(lines) > 0 && lines[len(lines)-1] != "" {
			lines = append(lines, "")
		}
		lines = append(lines, key+"="+value)
	}

	output := strings.Join(lines, "\n")
	if !strings.HasSuffix(output, "\n") {
		output += "\n"
	}

	return os.WriteFile(path, []byte(output), 0644)
}
