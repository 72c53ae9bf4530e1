package blocks

import (
	"fmt"
	"sync"

	"github.com/nioinnovation/service-tests/core"
)

// ModifierBlock sets configured attributes on every signal it processes
// and re-emits the batch on its default terminal. It is the simple
// in-graph transform used to compose test services.
type ModifierBlock struct {
	core.Base
	mu         sync.Mutex
	attributes map[string]any
}

// NewModifierBlock creates a modifier block. Attributes come from the
// block config at Configure time.
func NewModifierBlock() *ModifierBlock {
	return &ModifierBlock{}
}

// ModifierFactory produces modifier blocks. The factory type name is
// "Modifier".
func ModifierFactory() core.Block {
	return NewModifierBlock()
}

// Configure resolves the attribute map from the block config.
func (b *ModifierBlock) Configure(ctx core.BlockContext) error {
	if err := b.Base.Configure(ctx); err != nil {
		return err
	}
	attributes, _ := ctx.Config["attributes"].(map[string]any)
	b.attributes = attributes
	return nil
}

// ProcessSignals applies the attributes to each signal and emits the
// modified batch downstream.
func (b *ModifierBlock) ProcessSignals(signals []core.Signal, _ string) error {
	b.mu.Lock()
	attributes := b.attributes
	b.mu.Unlock()

	for _, signal := range signals {
		for key, value := range attributes {
			signal.Set(key, value)
		}
	}

	notifier := b.Context().Notifier
	if notifier == nil {
		return fmt.Errorf("modifier block %q has no signal notifier", b.Name())
	}
	return notifier.NotifySignals(b, signals, core.DefaultTerminal)
}

// Command implements the "set" command, replacing the attribute map at
// runtime so tests can reconfigure the block without restarting it.
func (b *ModifierBlock) Command(name string, args map[string]any) error {
	if name != "set" {
		return fmt.Errorf("modifier block %q has no command %q", b.Name(), name)
	}
	b.mu.Lock()
	b.attributes = args
	b.mu.Unlock()
	return nil
}
