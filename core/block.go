package core

// DefaultTerminal is the reserved port value meaning "unnamed/default"
// output or input. A block that emits without naming an output, or a
// receiver wired without naming an input, uses this sentinel.
const DefaultTerminal = "__default_terminal_value"

// Block is a processing unit in the execution graph
type Block interface {
	Name() string
	ID() string

	// Configure hands the block its resolved config and harness services.
	// Called exactly once before Start.
	Configure(ctx BlockContext) error

	Start() error
	Stop() error

	// ProcessSignals handles a batch of signals delivered on inputID.
	// Callers pass DefaultTerminal when no input port was named.
	ProcessSignals(signals []Signal, inputID string) error
}

// Commander is optionally implemented by blocks that expose named
// commands invokable from tests.
type Commander interface {
	Command(name string, args map[string]any) error
}

// ProcessFunc is the signature of a block's processing entry point.
type ProcessFunc func(signals []Signal, inputID string) error

// BlockFunc adapts a plain processing function into a Block. It is the
// shape mock blocks take in tests.
type BlockFunc struct {
	Base
	Process ProcessFunc
}

// NewBlockFunc creates a function-backed block with the given name.
func NewBlockFunc(name string, process ProcessFunc) *BlockFunc {
	b := &BlockFunc{Process: process}
	b.SetName(name)
	return b
}

// ProcessSignals invokes the wrapped function.
func (b *BlockFunc) ProcessSignals(signals []Signal, inputID string) error {
	if b.Process == nil {
		return nil
	}
	return b.Process(signals, inputID)
}

// Base supplies the common identity and lifecycle plumbing blocks embed.
// Configure captures the block context and resolves name and id from the
// block's config map.
type Base struct {
	name string
	id   string
	ctx  BlockContext
}

// Name returns the block name.
func (b *Base) Name() string {
	return b.name
}

// ID returns the block id, falling back to the name when no id was
// configured.
func (b *Base) ID() string {
	if b.id == "" {
		return b.name
	}
	return b.id
}

// SetName sets the block name directly, for blocks built without config.
func (b *Base) SetName(name string) {
	b.name = name
}

// SetID sets the block id directly.
func (b *Base) SetID(id string) {
	b.id = id
}

// Configure captures the context and pulls name/id out of the config map.
func (b *Base) Configure(ctx BlockContext) error {
	b.ctx = ctx
	if name, ok := ctx.Config["name"].(string); ok && name != "" {
		b.name = name
	}
	if id, ok := ctx.Config["id"].(string); ok && id != "" {
		b.id = id
	}
	return nil
}

// Context returns the block context captured at Configure time.
func (b *Base) Context() BlockContext {
	return b.ctx
}

// Start is a no-op; blocks override it when they own resources.
func (b *Base) Start() error {
	return nil
}

// Stop is a no-op; blocks override it when they own resources.
func (b *Base) Stop() error {
	return nil
}
