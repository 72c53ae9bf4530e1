package core

import (
	"fmt"
)

// GraphBuilder constructs execution graphs with a fluent API
type GraphBuilder struct {
	order     []string
	receivers map[string]map[string][]Receiver
}

// NewGraphBuilder creates a new execution graph builder
func NewGraphBuilder() *GraphBuilder {
	return &GraphBuilder{
		receivers: make(map[string]map[string][]Receiver),
	}
}

// AddBlock adds a block to the graph with no receivers yet
func (b *GraphBuilder) AddBlock(name string) *GraphBuilder {
	b.ensure(name)
	return b
}

// Connect wires from's emissions on outputID to to's inputID. Both
// blocks are added to the graph if not already present.
func (b *GraphBuilder) Connect(from, outputID, to, inputID string) *GraphBuilder {
	b.ensure(from)
	b.ensure(to)
	b.receivers[from][outputID] = append(b.receivers[from][outputID], Receiver{
		Name:  to,
		Input: inputID,
	})
	return b
}

// ConnectDefault wires from's default-terminal emissions to to's
// default-terminal input.
func (b *GraphBuilder) ConnectDefault(from, to string) *GraphBuilder {
	return b.Connect(from, DefaultTerminal, to, DefaultTerminal)
}

// Build creates and validates the execution graph
func (b *GraphBuilder) Build() (ExecutionGraph, error) {
	if len(b.order) == 0 {
		return nil, fmt.Errorf("execution graph must have at least one block")
	}

	graph := make(ExecutionGraph, 0, len(b.order))
	for _, name := range b.order {
		graph = append(graph, BlockSpec{
			Name:      name,
			Receivers: b.receivers[name],
		})
	}

	// Every receiver target must itself be a block in the graph
	for _, spec := range graph {
		for outputID, receivers := range spec.Receivers {
			for _, receiver := range receivers {
				if _, ok := b.receivers[receiver.Name]; !ok {
					return nil, fmt.Errorf(
						"block %q routes output %q to unknown block %q",
						spec.Name, outputID, receiver.Name)
				}
			}
		}
	}

	return graph, nil
}

func (b *GraphBuilder) ensure(name string) {
	if _, ok := b.receivers[name]; ok {
		return
	}
	b.order = append(b.order, name)
	b.receivers[name] = make(map[string][]Receiver)
}
