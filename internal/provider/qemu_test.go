package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Josepavese/nidolab/internal/config"
)

type recordedCommand struct {
	name string
	args []string
}

// newTestProvider returns a provider whose external commands are captured
// instead of executed. respond, when set, supplies the command output.
func newTestProvider(t *testing.T, respond func(name string, args []string) ([]byte, error)) (*QemuProvider, *[]recordedCommand) {
	t.Helper()
	cfg := config.Default()
	cfg.RootDir = t.TempDir()
	cfg.StopTimeout = time.Second

	p := NewQemuProvider(cfg, nil)
	p.pollInterval = 10 * time.Millisecond

	var cmds []recordedCommand
	p.run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		cmds = append(cmds, recordedCommand{name: name, args: args})
		if respond != nil {
			return respond(name, args)
		}
		return nil, nil
	}

	require.NoError(t, os.MkdirAll(p.vmsDir(), 0755))
	require.NoError(t, os.MkdirAll(p.runDir(), 0755))
	return p, &cmds
}

func addDisk(t *testing.T, p *QemuProvider, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(p.diskPath(name), []byte("qcow2"), 0644))
}

func TestBuildQemuArgs_CommonArguments(t *testing.T) {
	p, _ := newTestProvider(t, nil)

	args := p.buildQemuArgs("test-vm", "/tmp/test.qcow2", 50022)

	for _, required := range []string{"-name", "-m", "-drive", "-daemonize", "-pidfile", "-netdev", "-device", "-qmp"} {
		assert.Contains(t, args, required)
	}
	assert.Contains(t, args, "test-vm")
	assert.Contains(t, args, strconv.Itoa(p.Config.MemoryMB))
	assert.Contains(t, args, "file=/tmp/test.qcow2,format=qcow2,if=virtio")
	assert.Contains(t, args, "user,id=net0,hostfwd=tcp::50022-:22")

	if runtime.GOOS == "darwin" {
		assert.Contains(t, args, "hvf")
	}

	hasQMP := false
	for i, arg := range args {
		if arg == "-qmp" && i+1 < len(args) {
			hasQMP = strings.HasPrefix(args[i+1], "unix:")
		}
	}
	assert.True(t, hasQMP, "QMP should use a unix socket")
}

func TestBuildQemuArgs_Memory(t *testing.T) {
	p, _ := newTestProvider(t, nil)
	p.Config.MemoryMB = 512

	args := p.buildQemuArgs("test-vm", "/tmp/test.qcow2", 50022)
	assert.Contains(t, args, "512")
}

func TestPowerOn_MissingDiskTouchesNothing(t *testing.T) {
	p, cmds := newTestProvider(t, nil)
	addDisk(t, p, "a")

	err := p.PowerOn(context.Background(), []string{"a", "ghost"})
	assert.ErrorIs(t, err, ErrVMNotFound)
	assert.Empty(t, *cmds)
}

func TestPowerOn_StartsEachVM(t *testing.T) {
	p, cmds := newTestProvider(t, nil)
	addDisk(t, p, "a")
	addDisk(t, p, "b")

	require.NoError(t, p.PowerOn(context.Background(), []string{"a", "b"}))
	require.Len(t, *cmds, 2)
	assert.Equal(t, "qemu-system-x86_64", (*cmds)[0].name)
	assert.Contains(t, (*cmds)[0].args, "a")
	assert.Contains(t, (*cmds)[1].args, "b")

	stA, err := p.loadState("a")
	require.NoError(t, err)
	stB, err := p.loadState("b")
	require.NoError(t, err)
	assert.NotZero(t, stA.SSHPort)
	assert.NotEqual(t, stA.SSHPort, stB.SSHPort)
}

func TestPowerOn_SkipsRunning(t *testing.T) {
	p, cmds := newTestProvider(t, nil)
	addDisk(t, p, "a")
	// The test process itself stands in for a live QEMU.
	require.NoError(t, os.WriteFile(filepath.Join(p.runDir(), "a.pid"), []byte(fmt.Sprint(os.Getpid())), 0644))

	require.NoError(t, p.PowerOn(context.Background(), []string{"a"}))
	assert.Empty(t, *cmds)
}

func TestPowerOff_StoppedIsNoop(t *testing.T) {
	p, _ := newTestProvider(t, nil)
	addDisk(t, p, "a")
	require.NoError(t, os.WriteFile(filepath.Join(p.runDir(), "a.pid"), []byte("0"), 0644))

	require.NoError(t, p.PowerOff(context.Background(), []string{"a"}, true))
	require.NoError(t, p.PowerOff(context.Background(), []string{"a"}, true))

	_, err := os.Stat(filepath.Join(p.runDir(), "a.pid"))
	assert.True(t, os.IsNotExist(err))
}

func TestState(t *testing.T) {
	p, _ := newTestProvider(t, nil)
	addDisk(t, p, "up")
	addDisk(t, p, "down")
	require.NoError(t, os.WriteFile(filepath.Join(p.runDir(), "up.pid"), []byte(fmt.Sprint(os.Getpid())), 0644))

	states, err := p.State(context.Background(), []string{"up", "down"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"up": true, "down": false}, states)

	_, err = p.State(context.Background(), []string{"ghost"})
	assert.ErrorIs(t, err, ErrVMNotFound)
}

// fakeImg stands in for qemu-img's snapshot table: per-disk snapshots in
// creation order with increasing IDs. failCreate makes "snapshot -c" fail
// for the named disk paths.
type fakeImg struct {
	nextID     int
	disks      map[string][]qemuImgSnapshot
	failCreate map[string]error
}

func newFakeImg() *fakeImg {
	return &fakeImg{disks: map[string][]qemuImgSnapshot{}, failCreate: map[string]error{}}
}

func (f *fakeImg) respond(name string, args []string) ([]byte, error) {
	disk := args[len(args)-1]
	switch {
	case args[0] == "info":
		return json.Marshal(qemuImgInfo{Format: "qcow2", Snapshots: f.disks[disk]})
	case args[0] == "snapshot" && args[1] == "-c":
		if err := f.failCreate[disk]; err != nil {
			return nil, err
		}
		f.nextID++
		f.disks[disk] = append(f.disks[disk], qemuImgSnapshot{ID: strconv.Itoa(f.nextID), Name: args[2]})
	case args[0] == "snapshot" && args[1] == "-d":
		kept := f.disks[disk][:0]
		for _, s := range f.disks[disk] {
			if s.ID != args[2] {
				kept = append(kept, s)
			}
		}
		f.disks[disk] = kept
	}
	return nil, nil
}

func (f *fakeImg) labels(disk string) []string {
	var out []string
	for _, s := range f.disks[disk] {
		out = append(out, s.ID+":"+s.Name)
	}
	return out
}

func commandsLike(cmds []recordedCommand, sub string) [][]string {
	var out [][]string
	for _, c := range cmds {
		if c.args[0] == "snapshot" && c.args[1] == sub {
			out = append(out, c.args)
		}
	}
	return out
}

func TestCreateSnapshot_Offline(t *testing.T) {
	img := newFakeImg()
	p, cmds := newTestProvider(t, img.respond)
	addDisk(t, p, "a")
	addDisk(t, p, "b")

	require.NoError(t, p.CreateSnapshot(context.Background(), []string{"a", "b"}, "before-upgrade"))
	assert.Equal(t, [][]string{
		{"snapshot", "-c", "before-upgrade", p.diskPath("a")},
		{"snapshot", "-c", "before-upgrade", p.diskPath("b")},
	}, commandsLike(*cmds, "-c"))
	assert.Empty(t, commandsLike(*cmds, "-d"))
	assert.Equal(t, []string{"1:before-upgrade"}, img.labels(p.diskPath("a")))
	assert.Equal(t, []string{"2:before-upgrade"}, img.labels(p.diskPath("b")))
}

func TestCreateSnapshot_RollsBackOnFailure(t *testing.T) {
	img := newFakeImg()
	p, cmds := newTestProvider(t, img.respond)
	addDisk(t, p, "a")
	addDisk(t, p, "b")
	addDisk(t, p, "c")
	img.failCreate[p.diskPath("b")] = fmt.Errorf("disk full")

	err := p.CreateSnapshot(context.Background(), []string{"a", "b", "c"}, "cp")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "snapshot b: disk full")

	assert.Equal(t, [][]string{{"snapshot", "-d", "1", p.diskPath("a")}}, commandsLike(*cmds, "-d"))
	assert.Empty(t, img.labels(p.diskPath("a")))
	assert.Empty(t, img.labels(p.diskPath("c")), "c is never attempted")
}

func TestCreateSnapshot_ReplacesSameLabel(t *testing.T) {
	img := newFakeImg()
	p, cmds := newTestProvider(t, img.respond)
	addDisk(t, p, "a")

	require.NoError(t, p.CreateSnapshot(context.Background(), []string{"a"}, "base"))
	require.NoError(t, p.CreateSnapshot(context.Background(), []string{"a"}, "other"))
	require.NoError(t, p.CreateSnapshot(context.Background(), []string{"a"}, "base"))

	assert.Equal(t, [][]string{{"snapshot", "-d", "1", p.diskPath("a")}}, commandsLike(*cmds, "-d"))
	assert.Equal(t, []string{"2:other", "3:base"}, img.labels(p.diskPath("a")))

	snap, err := p.Snapshot(context.Background(), "a", "base")
	require.NoError(t, err)
	assert.Equal(t, "3", snap.ID)
}

func TestCreateSnapshot_InvalidLabel(t *testing.T) {
	p, cmds := newTestProvider(t, nil)
	addDisk(t, p, "a")

	assert.Error(t, p.CreateSnapshot(context.Background(), []string{"a"}, "has space"))
	assert.Error(t, p.CreateSnapshot(context.Background(), []string{"a"}, ""))
	assert.Empty(t, *cmds)
}

func TestSnapshot_Lookup(t *testing.T) {
	info := `{"format":"qcow2","snapshots":[{"id":"1","name":"base"},{"id":"2","name":"nidolab-baseline"}]}`
	p, cmds := newTestProvider(t, func(name string, args []string) ([]byte, error) {
		return []byte(info), nil
	})
	addDisk(t, p, "a")

	snap, err := p.Snapshot(context.Background(), "a", "nidolab-baseline")
	require.NoError(t, err)
	assert.Equal(t, SnapshotHandle{VM: "a", Label: "nidolab-baseline", ID: "2"}, snap)
	assert.Contains(t, (*cmds)[0].args, "-U")

	_, err = p.Snapshot(context.Background(), "a", "missing")
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
}

func TestSnapshot_NewestDuplicateWins(t *testing.T) {
	info := `{"format":"qcow2","snapshots":[{"id":"1","name":"base"},{"id":"2","name":"x"},{"id":"4","name":"base"}]}`
	p, _ := newTestProvider(t, func(name string, args []string) ([]byte, error) {
		return []byte(info), nil
	})
	addDisk(t, p, "a")

	snap, err := p.Snapshot(context.Background(), "a", "base")
	require.NoError(t, err)
	assert.Equal(t, "4", snap.ID)
}

func TestRestoreSnapshot_NumericLabelUsesID(t *testing.T) {
	p, cmds := newTestProvider(t, nil)
	addDisk(t, p, "a")

	require.NoError(t, p.RestoreSnapshot(context.Background(), SnapshotHandle{VM: "a", Label: "2", ID: "3"}, false))
	require.Len(t, *cmds, 1)
	assert.Equal(t, []string{"snapshot", "-a", "3", p.diskPath("a")}, (*cmds)[0].args)
}

func TestRestoreSnapshot(t *testing.T) {
	p, cmds := newTestProvider(t, nil)
	addDisk(t, p, "a")

	var prompts []string
	p.Confirmer = ConfirmFunc(func(prompt string) (bool, error) {
		prompts = append(prompts, prompt)
		return true, nil
	})

	snap := SnapshotHandle{VM: "a", Label: "base", ID: "1"}
	require.NoError(t, p.RestoreSnapshot(context.Background(), snap, true))
	require.Len(t, prompts, 1)
	assert.Equal(t, []string{"snapshot", "-a", "1", p.diskPath("a")}, (*cmds)[0].args)

	// Without confirm the operator is not asked.
	require.NoError(t, p.RestoreSnapshot(context.Background(), snap, false))
	assert.Len(t, prompts, 1)
}

func TestRestoreSnapshot_Declined(t *testing.T) {
	p, cmds := newTestProvider(t, nil)
	addDisk(t, p, "a")
	p.Confirmer = ConfirmFunc(func(string) (bool, error) { return false, nil })

	err := p.RestoreSnapshot(context.Background(), SnapshotHandle{VM: "a", Label: "base"}, true)
	assert.ErrorIs(t, err, ErrRestoreDeclined)
	assert.Empty(t, *cmds)
}

func TestList(t *testing.T) {
	p, _ := newTestProvider(t, nil)
	addDisk(t, p, "a")
	require.NoError(t, p.saveState(VMState{Name: "a", SSHPort: 50022}))

	vms, err := p.List()
	require.NoError(t, err)
	require.Len(t, vms, 1)
	assert.Equal(t, VMStatus{Name: "a", State: "stopped", SSHPort: 50022}, vms[0])
}

func TestDoctor_Directories(t *testing.T) {
	p, _ := newTestProvider(t, nil)
	p.Config.QemuBinary = "nidolab-no-such-qemu"

	checks := p.Doctor()
	require.GreaterOrEqual(t, len(checks), 4)

	byLabel := map[string]Check{}
	for _, c := range checks {
		byLabel[c.Label] = c
	}
	assert.True(t, byLabel["Dir: vms"].Passed)
	assert.True(t, byLabel["Dir: run"].Passed)
	assert.False(t, byLabel["Binary: QEMU"].Passed)
}
