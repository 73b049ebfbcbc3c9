package provider

import (
	"context"
	"fmt"
	"sync"
)

// StubCall records one primitive invoked on a StubProvider.
type StubCall struct {
	Op      string
	Names   []string
	Label   string
	Force   bool
	Confirm bool
}

type stubVM struct {
	running   bool
	snapshots map[string]bool
}

// StubProvider is an in-memory Hypervisor for tests and dry runs. It records
// every call in order and can be told to fail specific operations.
type StubProvider struct {
	mu    sync.Mutex
	vms   map[string]*stubVM
	calls []StubCall
	fail  map[string]error
}

// NewStubProvider creates a stub holding the named VMs, all powered off.
func NewStubProvider(names ...string) *StubProvider {
	s := &StubProvider{
		vms:  make(map[string]*stubVM, len(names)),
		fail: make(map[string]error),
	}
	for _, n := range names {
		s.vms[n] = &stubVM{snapshots: map[string]bool{}}
	}
	return s
}

// SetRunning sets the power state of a VM.
func (s *StubProvider) SetRunning(name string, running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if vm, ok := s.vms[name]; ok {
		vm.running = running
	}
}

// AddSnapshot gives a VM a snapshot with the given label.
func (s *StubProvider) AddSnapshot(name, label string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if vm, ok := s.vms[name]; ok {
		vm.snapshots[label] = true
	}
}

// FailOn makes op ("power-on", "power-off", "state", "create-snapshot",
// "snapshot", "restore") return err whenever it touches name.
func (s *StubProvider) FailOn(op, name string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[op+":"+name] = err
}

// Calls returns a copy of the recorded calls.
func (s *StubProvider) Calls() []StubCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]StubCall(nil), s.calls...)
}

// CallsFor returns the recorded calls of a single op.
func (s *StubProvider) CallsFor(op string) []StubCall {
	var out []StubCall
	for _, c := range s.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Running reports the current power state of a VM.
func (s *StubProvider) Running(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	vm, ok := s.vms[name]
	return ok && vm.running
}

// HasSnapshot reports whether a VM holds a snapshot label.
func (s *StubProvider) HasSnapshot(name, label string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	vm, ok := s.vms[name]
	return ok && vm.snapshots[label]
}

func (s *StubProvider) record(c StubCall) {
	c.Names = append([]string(nil), c.Names...)
	s.calls = append(s.calls, c)
}

// check must be called with mu held.
func (s *StubProvider) check(op string, names []string) error {
	for _, n := range names {
		if _, ok := s.vms[n]; !ok {
			return fmt.Errorf("%w: %s", ErrVMNotFound, n)
		}
		if err := s.fail[op+":"+n]; err != nil {
			return fmt.Errorf("%s %s: %w", op, n, err)
		}
	}
	return nil
}

func (s *StubProvider) PowerOn(ctx context.Context, names []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(StubCall{Op: "power-on", Names: names})
	if err := s.check("power-on", names); err != nil {
		return err
	}
	for _, n := range names {
		s.vms[n].running = true
	}
	return nil
}

func (s *StubProvider) PowerOff(ctx context.Context, names []string, force bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(StubCall{Op: "power-off", Names: names, Force: force})
	if err := s.check("power-off", names); err != nil {
		return err
	}
	for _, n := range names {
		s.vms[n].running = false
	}
	return nil
}

func (s *StubProvider) State(ctx context.Context, names []string) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(StubCall{Op: "state", Names: names})
	if err := s.check("state", names); err != nil {
		return nil, err
	}
	states := make(map[string]bool, len(names))
	for _, n := range names {
		states[n] = s.vms[n].running
	}
	return states, nil
}

func (s *StubProvider) CreateSnapshot(ctx context.Context, names []string, label string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(StubCall{Op: "create-snapshot", Names: names, Label: label})
	if err := s.check("create-snapshot", names); err != nil {
		return err
	}
	for _, n := range names {
		s.vms[n].snapshots[label] = true
	}
	return nil
}

func (s *StubProvider) Snapshot(ctx context.Context, name, label string) (SnapshotHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(StubCall{Op: "snapshot", Names: []string{name}, Label: label})
	if err := s.check("snapshot", []string{name}); err != nil {
		return SnapshotHandle{}, err
	}
	if !s.vms[name].snapshots[label] {
		return SnapshotHandle{}, fmt.Errorf("%w: %q on %s", ErrSnapshotNotFound, label, name)
	}
	return SnapshotHandle{VM: name, Label: label, ID: name + "/" + label}, nil
}

func (s *StubProvider) RestoreSnapshot(ctx context.Context, snap SnapshotHandle, confirm bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(StubCall{Op: "restore", Names: []string{snap.VM}, Label: snap.Label, Confirm: confirm})
	if err := s.check("restore", []string{snap.VM}); err != nil {
		return err
	}
	s.vms[snap.VM].running = false
	return nil
}
