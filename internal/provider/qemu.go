package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/avast/retry-go/v4"
	log "github.com/sirupsen/logrus"

	"github.com/Josepavese/nidolab/internal/config"
	nidonet "github.com/Josepavese/nidolab/internal/net"
	"github.com/Josepavese/nidolab/internal/pkg/sysutil"
)

// SSH forwards are allocated from this host port range.
const (
	sshPortFirst = 50022
	sshPortLast  = 50999
)

var errStillRunning = errors.New("qemu process still running")

// commandRunner executes an external tool and returns its combined output.
type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("%s %s: %w (output: %s)", name, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return out, nil
}

// QemuProvider implements Hypervisor using raw QEMU. Each VM is a qcow2 disk
// under <RootDir>/vms; a running VM has a pidfile and a QMP socket under
// <RootDir>/run. Snapshots are qcow2 internal snapshots.
type QemuProvider struct {
	RootDir   string
	Config    *config.Config
	Confirmer Confirmer

	run commandRunner
	// pollInterval is the gap between liveness checks while waiting for exit.
	pollInterval time.Duration
}

// NewQemuProvider builds a provider rooted at cfg.RootDir.
func NewQemuProvider(cfg *config.Config, confirmer Confirmer) *QemuProvider {
	return &QemuProvider{
		RootDir:      cfg.RootDir,
		Config:       cfg,
		Confirmer:    confirmer,
		run:          runCommand,
		pollInterval: 200 * time.Millisecond,
	}
}

func (p *QemuProvider) vmsDir() string { return filepath.Join(p.RootDir, "vms") }
func (p *QemuProvider) runDir() string { return filepath.Join(p.RootDir, "run") }

func (p *QemuProvider) diskPath(name string) string {
	return filepath.Join(p.vmsDir(), name+".qcow2")
}

func (p *QemuProvider) qmpPath(name string) string {
	return filepath.Join(p.runDir(), name+".qmp")
}

// requireDisks fails before any VM is touched if one of names has no disk,
// so a multi-VM request does not half-apply because of a typo.
func (p *QemuProvider) requireDisks(names []string) error {
	for _, name := range names {
		if _, err := os.Stat(p.diskPath(name)); err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("%w: %s (no disk at %s)", ErrVMNotFound, name, p.diskPath(name))
			}
			return err
		}
	}
	return nil
}

// PowerOn boots each VM in turn.
func (p *QemuProvider) PowerOn(ctx context.Context, names []string) error {
	if err := p.requireDisks(names); err != nil {
		return err
	}
	for _, name := range names {
		if err := p.start(ctx, name); err != nil {
			return fmt.Errorf("power on %s: %w", name, err)
		}
	}
	return nil
}

func (p *QemuProvider) start(ctx context.Context, name string) error {
	if p.isRunning(name) {
		return nil
	}

	if err := os.MkdirAll(p.runDir(), 0755); err != nil {
		return err
	}

	state, _ := p.loadState(name)
	if state.SSHPort == 0 {
		port, err := nidonet.FindAvailablePort(sshPortFirst, sshPortLast, p.reservedPorts(name))
		if err != nil {
			return err
		}
		state.SSHPort = port
	}
	state.Name = name
	if err := p.saveState(state); err != nil {
		return err
	}

	args := p.buildQemuArgs(name, p.diskPath(name), state.SSHPort)
	log.WithFields(log.Fields{
		"vm":   name,
		"args": strings.Join(args, " "),
	}).Debug("starting qemu")

	_, err := p.run(ctx, p.Config.QemuBinary, args...)
	return err
}

// buildQemuArgs constructs QEMU arguments based on the host OS.
func (p *QemuProvider) buildQemuArgs(name, diskPath string, sshPort int) []string {
	memory := p.Config.MemoryMB
	if memory <= 0 {
		memory = sysutil.DefaultMemory()
	}
	args := []string{
		"-name", name,
		"-m", strconv.Itoa(memory),
		"-machine", "pc",
	}

	switch runtime.GOOS {
	case "linux":
		if _, err := os.Stat("/dev/kvm"); err == nil {
			args = append(args, "-enable-kvm", "-cpu", "host")
		} else {
			args = append(args, "-cpu", "qemu64")
		}
	case "darwin":
		args = append(args, "-accel", "hvf", "-cpu", "host")
	default:
		args = append(args, "-cpu", "qemu64")
	}

	args = append(args,
		"-drive", fmt.Sprintf("file=%s,format=qcow2,if=virtio", diskPath),
		"-daemonize",
		"-pidfile", filepath.Join(p.runDir(), name+".pid"),
		"-netdev", fmt.Sprintf("user,id=net0,hostfwd=tcp::%d-:22", sshPort),
		"-device", "virtio-net-pci,netdev=net0",
		"-boot", "menu=off,strict=on,splash-time=0",
		"-qmp", "unix:"+p.qmpPath(name)+",server,nowait",
		"-display", "none",
	)
	return args
}

// PowerOff halts each VM in turn. Already stopped VMs are skipped.
func (p *QemuProvider) PowerOff(ctx context.Context, names []string, force bool) error {
	for _, name := range names {
		if err := p.stop(ctx, name, !force); err != nil {
			return fmt.Errorf("power off %s: %w", name, err)
		}
	}
	return nil
}

func (p *QemuProvider) stop(ctx context.Context, name string, graceful bool) error {
	pid := p.pid(name)
	if pid > 0 && processAlive(pid) {
		process, err := os.FindProcess(pid)
		if err != nil {
			return err
		}
		sig := os.Kill
		if graceful {
			sig = os.Interrupt
		}
		if err := process.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return err
		}
		if err := p.waitExit(ctx, pid); err != nil {
			return err
		}
	}

	os.Remove(filepath.Join(p.runDir(), name+".pid"))
	os.Remove(p.qmpPath(name))
	return nil
}

func (p *QemuProvider) waitExit(ctx context.Context, pid int) error {
	timeout := p.Config.StopTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	attempts := uint(timeout/p.pollInterval) + 1

	return retry.Do(
		func() error {
			if processAlive(pid) {
				return errStillRunning
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(p.pollInterval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
}

// State reports liveness from the pidfile.
func (p *QemuProvider) State(ctx context.Context, names []string) (map[string]bool, error) {
	if err := p.requireDisks(names); err != nil {
		return nil, err
	}
	states := make(map[string]bool, len(names))
	for _, name := range names {
		states[name] = p.isRunning(name)
	}
	return states, nil
}

// CreateSnapshot snapshots every VM with the same label. Stopped VMs are
// snapshotted offline with qemu-img; running VMs through QMP savevm, which
// also captures guest memory.
//
// The set is all or nothing: if one VM fails, the snapshots already taken
// under label are deleted again. Once every VM has its snapshot, older
// snapshots with the same label are pruned so the label names one
// checkpoint per disk.
func (p *QemuProvider) CreateSnapshot(ctx context.Context, names []string, label string) error {
	if err := validateLabel(label); err != nil {
		return err
	}
	if err := p.requireDisks(names); err != nil {
		return err
	}

	created := make([]createdSnapshot, 0, len(names))
	for _, name := range names {
		c, err := p.createSnapshot(ctx, name, label)
		if err != nil {
			p.rollbackSnapshots(created)
			return fmt.Errorf("snapshot %s: %w", name, err)
		}
		created = append(created, c)
	}

	for _, c := range created {
		p.pruneSnapshots(ctx, c)
	}
	return nil
}

// createdSnapshot is one snapshot taken by CreateSnapshot.
type createdSnapshot struct {
	vm     string
	label  string
	id     string
	online bool
}

func (p *QemuProvider) createSnapshot(ctx context.Context, name, label string) (createdSnapshot, error) {
	c := createdSnapshot{vm: name, label: label, online: p.isRunning(name)}

	var err error
	if c.online {
		err = p.savevm(ctx, name, label)
	} else {
		_, err = p.run(ctx, p.Config.QemuImg, "snapshot", "-c", label, p.diskPath(name))
	}
	if err != nil {
		return c, err
	}

	snaps, err := p.snapshots(ctx, name)
	if err != nil {
		return c, err
	}
	id, ok := newestSnapshot(snaps, label)
	if !ok {
		return c, fmt.Errorf("%w: %q missing after create", ErrSnapshotNotFound, label)
	}
	c.id = id
	return c, nil
}

// rollbackSnapshots deletes snapshots taken before a failure. It runs on a
// fresh context so a cancelled request still cleans up.
func (p *QemuProvider) rollbackSnapshots(created []createdSnapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	for _, c := range created {
		logger := log.WithFields(log.Fields{"vm": c.vm, "label": c.label, "id": c.id})
		if err := p.deleteSnapshot(ctx, c.vm, c.id, c.online); err != nil {
			logger.WithField("error", err).Error("failed to roll back snapshot")
			continue
		}
		logger.Warn("rolled back snapshot")
	}
}

// pruneSnapshots drops every snapshot labelled like c except c itself.
func (p *QemuProvider) pruneSnapshots(ctx context.Context, c createdSnapshot) {
	snaps, err := p.snapshots(ctx, c.vm)
	if err != nil {
		log.WithFields(log.Fields{"vm": c.vm, "error": err}).Warn("could not list snapshots to prune")
		return
	}
	for _, s := range snaps {
		if s.Name != c.label || s.ID == c.id {
			continue
		}
		if err := p.deleteSnapshot(ctx, c.vm, s.ID, c.online); err != nil {
			log.WithFields(log.Fields{"vm": c.vm, "id": s.ID, "error": err}).Warn("could not prune older snapshot")
		}
	}
}

// deleteSnapshot removes a snapshot by ID, through QMP while the VM runs.
func (p *QemuProvider) deleteSnapshot(ctx context.Context, name, id string, online bool) error {
	if online {
		out, err := qmpHumanCommand(ctx, p.qmpPath(name), "delvm "+id)
		if err != nil {
			return err
		}
		if strings.TrimSpace(out) != "" {
			return fmt.Errorf("delvm: %s", strings.TrimSpace(out))
		}
		return nil
	}
	_, err := p.run(ctx, p.Config.QemuImg, "snapshot", "-d", id, p.diskPath(name))
	return err
}

func (p *QemuProvider) savevm(ctx context.Context, name, label string) error {
	out, err := qmpHumanCommand(ctx, p.qmpPath(name), "savevm "+label)
	if err != nil {
		return err
	}
	if strings.TrimSpace(out) != "" {
		return fmt.Errorf("savevm: %s", strings.TrimSpace(out))
	}
	return nil
}

type qemuImgSnapshot struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type qemuImgInfo struct {
	Format    string            `json:"format"`
	Snapshots []qemuImgSnapshot `json:"snapshots"`
}

// snapshots reads the disk's snapshot table in creation order. -U lets it
// read a disk in use.
func (p *QemuProvider) snapshots(ctx context.Context, name string) ([]qemuImgSnapshot, error) {
	out, err := p.run(ctx, p.Config.QemuImg, "info", "--output=json", "-U", p.diskPath(name))
	if err != nil {
		return nil, err
	}
	var info qemuImgInfo
	if err := json.Unmarshal(out, &info); err != nil {
		return nil, fmt.Errorf("parse qemu-img info for %s: %w", name, err)
	}
	return info.Snapshots, nil
}

// newestSnapshot returns the ID of the last snapshot named label.
func newestSnapshot(snaps []qemuImgSnapshot, label string) (string, bool) {
	for i := len(snaps) - 1; i >= 0; i-- {
		if snaps[i].Name == label {
			return snaps[i].ID, true
		}
	}
	return "", false
}

// Snapshot resolves label to the newest snapshot of that name on the disk.
func (p *QemuProvider) Snapshot(ctx context.Context, name, label string) (SnapshotHandle, error) {
	if err := p.requireDisks([]string{name}); err != nil {
		return SnapshotHandle{}, err
	}
	snaps, err := p.snapshots(ctx, name)
	if err != nil {
		return SnapshotHandle{}, err
	}
	id, ok := newestSnapshot(snaps, label)
	if !ok {
		return SnapshotHandle{}, fmt.Errorf("%w: %q on %s", ErrSnapshotNotFound, label, name)
	}
	return SnapshotHandle{VM: name, Label: label, ID: id}, nil
}

// RestoreSnapshot applies the snapshot offline by its ID. A running VM is
// killed first.
func (p *QemuProvider) RestoreSnapshot(ctx context.Context, snap SnapshotHandle, confirm bool) error {
	if confirm && p.Confirmer != nil {
		ok, err := p.Confirmer.Confirm(fmt.Sprintf("Restore %s to snapshot %q? Current disk state will be lost.", snap.VM, snap.Label))
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrRestoreDeclined, snap.VM)
		}
	}

	if p.isRunning(snap.VM) {
		log.WithField("vm", snap.VM).Warn("powering off running vm before restore")
		if err := p.stop(ctx, snap.VM, false); err != nil {
			return err
		}
	}

	// qemu-img matches -a against IDs before names, so apply by ID.
	target := snap.ID
	if target == "" {
		target = snap.Label
	}
	_, err := p.run(ctx, p.Config.QemuImg, "snapshot", "-a", target, p.diskPath(snap.VM))
	return err
}

// Helpers

func validateLabel(label string) error {
	if label == "" {
		return errors.New("snapshot label is empty")
	}
	for _, r := range label {
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' || r == '.' || r == ':') {
			return fmt.Errorf("invalid snapshot label %q (only alphanumeric, -, _, ., : allowed)", label)
		}
	}
	return nil
}

func (p *QemuProvider) pid(name string) int {
	pidData, err := os.ReadFile(filepath.Join(p.runDir(), name+".pid"))
	if err != nil {
		return 0
	}
	pid, _ := strconv.Atoi(strings.TrimSpace(string(pidData)))
	return pid
}

func (p *QemuProvider) isRunning(name string) bool {
	pid := p.pid(name)
	return pid > 0 && processAlive(pid)
}

func processAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	return err == nil && process.Signal(syscall.Signal(0)) == nil
}

// VMState is persisted per VM so forwarded ports survive restarts.
type VMState struct {
	Name    string `json:"name"`
	SSHPort int    `json:"ssh_port"`
}

func (p *QemuProvider) saveState(state VMState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(p.runDir(), state.Name+".json"), data, 0644)
}

func (p *QemuProvider) loadState(name string) (VMState, error) {
	var state VMState
	data, err := os.ReadFile(filepath.Join(p.runDir(), name+".json"))
	if err != nil {
		return state, err
	}
	err = json.Unmarshal(data, &state)
	return state, err
}

// reservedPorts collects SSH ports already assigned to other VMs.
func (p *QemuProvider) reservedPorts(except string) map[int]bool {
	reserved := map[int]bool{}
	files, err := os.ReadDir(p.runDir())
	if err != nil {
		return reserved
	}
	for _, f := range files {
		if filepath.Ext(f.Name()) != ".json" {
			continue
		}
		name := strings.TrimSuffix(f.Name(), ".json")
		if name == except {
			continue
		}
		if st, err := p.loadState(name); err == nil && st.SSHPort > 0 {
			reserved[st.SSHPort] = true
		}
	}
	return reserved
}

// List returns the status of every VM that has a disk.
func (p *QemuProvider) List() ([]VMStatus, error) {
	files, err := os.ReadDir(p.vmsDir())
	if err != nil {
		return nil, err
	}

	var results []VMStatus
	for _, f := range files {
		if filepath.Ext(f.Name()) != ".qcow2" {
			continue
		}
		name := strings.TrimSuffix(f.Name(), ".qcow2")
		st := VMStatus{Name: name, State: "stopped"}
		if pid := p.pid(name); pid > 0 && processAlive(pid) {
			st.State = "running"
			st.PID = pid
		}
		if vmState, err := p.loadState(name); err == nil {
			st.SSHPort = vmState.SSHPort
		}
		results = append(results, st)
	}
	return results, nil
}

// Check is the outcome of one host diagnostic.
type Check struct {
	Label   string `json:"label"`
	Passed  bool   `json:"passed"`
	Details string `json:"details"`
}

// Doctor runs host diagnostics.
func (p *QemuProvider) Doctor() []Check {
	var checks []Check
	add := func(label string, passed bool, details string) {
		checks = append(checks, Check{Label: label, Passed: passed, Details: details})
	}

	for _, d := range []string{p.RootDir, p.vmsDir(), p.runDir()} {
		_, err := os.Stat(d)
		add("Dir: "+filepath.Base(d), err == nil, d)
	}

	qemu, err := exec.LookPath(p.Config.QemuBinary)
	add("Binary: QEMU", err == nil, qemu)

	qimg, err := exec.LookPath(p.Config.QemuImg)
	add("Binary: qemu-img", err == nil, qimg)

	if runtime.GOOS == "linux" {
		_, err := os.Stat("/dev/kvm")
		add("Accel: KVM", err == nil, "/dev/kvm accessibility")
	}

	return checks
}
