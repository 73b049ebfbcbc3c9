package provider

import (
	"context"
	"errors"
)

var (
	// ErrVMNotFound means the backend has no disk for the named VM.
	ErrVMNotFound = errors.New("vm not found")
	// ErrSnapshotNotFound means the VM has no snapshot with the requested label.
	ErrSnapshotNotFound = errors.New("snapshot not found")
	// ErrRestoreDeclined means the operator answered no to a restore confirmation.
	ErrRestoreDeclined = errors.New("restore declined")
)

// VMStatus represents basic information about a VM.
type VMStatus struct {
	Name    string
	State   string
	PID     int
	SSHPort int
}

// SnapshotHandle identifies one snapshot of one VM.
type SnapshotHandle struct {
	VM    string
	Label string
	// ID is the backend's own identifier for the snapshot.
	ID string
}

// Confirmer asks the operator whether a destructive step may go ahead.
type Confirmer interface {
	Confirm(prompt string) (bool, error)
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(prompt string) (bool, error)

// Confirm calls f.
func (f ConfirmFunc) Confirm(prompt string) (bool, error) { return f(prompt) }

// Hypervisor defines the primitives the lab orchestrator drives. A call that
// names several VMs is one logical request: it returns once every VM has been
// handled or with the first failure.
type Hypervisor interface {
	// PowerOn boots the named VMs. VMs already running are left alone.
	PowerOn(ctx context.Context, names []string) error

	// PowerOff halts the named VMs. With force the VM is killed without
	// guest negotiation. Powering off a stopped VM is not an error.
	PowerOff(ctx context.Context, names []string, force bool) error

	// State reports whether each named VM is running.
	State(ctx context.Context, names []string) (map[string]bool, error)

	// CreateSnapshot records a snapshot with the same label on every named VM.
	CreateSnapshot(ctx context.Context, names []string, label string) error

	// Snapshot looks up the snapshot with the given label on one VM.
	Snapshot(ctx context.Context, name, label string) (SnapshotHandle, error)

	// RestoreSnapshot applies a snapshot. A running VM is powered off first.
	// With confirm the backend asks before applying.
	RestoreSnapshot(ctx context.Context, snap SnapshotHandle, confirm bool) error
}
