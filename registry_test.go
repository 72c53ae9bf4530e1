package servicetest

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/nioinnovation/service-tests/core"
)

// TestRegistryInstrumentsDirectCalls tests that invoking a block's entry
// point directly is recorded exactly like a routed dispatch.
func TestRegistryInstrumentsDirectCalls(t *testing.T) {
	registry := NewRegistry(RegistryConfig{Logger: zerolog.Nop()})
	block := newRecordingBlock("direct")
	instrumented, err := registry.Add(block)
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}

	if err := instrumented.ProcessSignals(batchOf(2), "in"); err != nil {
		t.Fatalf("process failed: %v", err)
	}

	if got := registry.Ledger().Count("direct"); got != 2 {
		t.Errorf("ledger holds %d signals, want 2", got)
	}
	if got := registry.Ledger().CountForInput("direct", "in"); got != 2 {
		t.Errorf("per-input ledger holds %d signals, want 2", got)
	}
}

// TestRegistryFailedBatchNotRecorded tests that a failing entry point
// leaves the ledger untouched.
func TestRegistryFailedBatchNotRecorded(t *testing.T) {
	registry := NewRegistry(RegistryConfig{Logger: zerolog.Nop()})
	block := newRecordingBlock("failing")
	block.fail = errors.New("boom")
	instrumented, err := registry.Add(block)
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}

	if err := instrumented.ProcessSignals(batchOf(2), "in"); err == nil {
		t.Fatal("process swallowed the block error")
	}
	if got := registry.Ledger().Count("failing"); got != 0 {
		t.Errorf("failed batch recorded: %d signals", got)
	}
}

// TestRegistryRejectsDuplicates tests that names are unique and blocks
// must be named.
func TestRegistryRejectsDuplicates(t *testing.T) {
	registry := NewRegistry(RegistryConfig{Logger: zerolog.Nop()})
	if _, err := registry.Add(newRecordingBlock("dup")); err != nil {
		t.Fatalf("first add failed: %v", err)
	}
	if _, err := registry.Add(newRecordingBlock("dup")); err == nil {
		t.Fatal("duplicate name accepted")
	}
	if _, err := registry.Add(&recordingBlock{}); err == nil {
		t.Fatal("unnamed block accepted")
	}
}

// TestRegistryResolveByNameAndID tests lookup by name first, then id.
func TestRegistryResolveByNameAndID(t *testing.T) {
	registry := NewRegistry(RegistryConfig{Logger: zerolog.Nop()})
	block := newRecordingBlock("named")
	block.SetID("uuid-1")
	if _, err := registry.Add(block); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	if _, ok := registry.Resolve("named"); !ok {
		t.Error("lookup by name failed")
	}
	if _, ok := registry.Resolve("uuid-1"); !ok {
		t.Error("lookup by id failed")
	}
	if _, ok := registry.Resolve("nope"); ok {
		t.Error("lookup of unknown identifier succeeded")
	}
}

// TestRegistryStartIdempotent tests that a second StartAll is a warning,
// not a second round of Start calls.
func TestRegistryStartIdempotent(t *testing.T) {
	registry := NewRegistry(RegistryConfig{Logger: zerolog.Nop()})
	starts := 0
	block := core.NewBlockFunc("counting", nil)
	wrapped := &lifecycleBlock{Block: block, onStart: func() { starts++ }}
	if _, err := registry.Add(wrapped); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	if err := registry.StartAll(); err != nil {
		t.Fatalf("first start failed: %v", err)
	}
	if err := registry.StartAll(); err != nil {
		t.Fatalf("second start failed: %v", err)
	}
	if starts != 1 {
		t.Errorf("Start called %d times, want 1", starts)
	}

	if err := registry.StopAll(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	// A stopped registry may be started again.
	if err := registry.StartAll(); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	if starts != 2 {
		t.Errorf("Start called %d times after restart, want 2", starts)
	}
}

// lifecycleBlock decorates a block with start/stop observation hooks.
type lifecycleBlock struct {
	core.Block
	onStart func()
	onStop  func()
}

func (b *lifecycleBlock) Start() error {
	if b.onStart != nil {
		b.onStart()
	}
	return b.Block.Start()
}

func (b *lifecycleBlock) Stop() error {
	if b.onStop != nil {
		b.onStop()
	}
	return b.Block.Stop()
}
