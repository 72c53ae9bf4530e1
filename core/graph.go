package core

// Receiver identifies one destination of a block's emissions: the target
// block by name and the input port the signals arrive on.
type Receiver struct {
	Name  string
	Input string
}

// BlockSpec describes one block in a service's execution: its name and
// the receiver map from output port to downstream receivers.
type BlockSpec struct {
	Name      string
	Receivers map[string][]Receiver
}

// ExecutionGraph is the resolved topology of a service: the ordered
// sequence of block specs the router consults when fanning out signals.
// The graph is fixed once configured.
type ExecutionGraph []BlockSpec

// Spec returns the block spec for the named block.
func (g ExecutionGraph) Spec(blockName string) (BlockSpec, bool) {
	for _, spec := range g {
		if spec.Name == blockName {
			return spec, true
		}
	}
	return BlockSpec{}, false
}

// ReceiversFor resolves the receivers of blockName's emissions on
// outputID. When no receivers are registered under that exact output it
// falls back to the receivers registered under DefaultTerminal; when
// neither exists the block is a valid terminal and the result is empty.
// An unknown source block is a RoutingError.
func (g ExecutionGraph) ReceiversFor(blockName, outputID string) ([]Receiver, error) {
	spec, ok := g.Spec(blockName)
	if !ok {
		return nil, RoutingError{Block: blockName, Reason: "block is not part of the execution graph"}
	}
	if receivers, ok := spec.Receivers[outputID]; ok {
		return receivers, nil
	}
	return spec.Receivers[DefaultTerminal], nil
}

// BlockNames returns the names of all blocks in execution order.
func (g ExecutionGraph) BlockNames() []string {
	names := make([]string, 0, len(g))
	for _, spec := range g {
		names = append(names, spec.Name)
	}
	return names
}
