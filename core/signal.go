package core

import (
	"github.com/mohae/deepcopy"
)

// Signal is a structured message flowing between blocks. A signal is a
// free-form attribute map; emitters build one, receivers read or mutate
// their own copy of it.
type Signal map[string]any

// NewSignal creates a signal from an attribute map. A nil map yields an
// empty signal.
func NewSignal(attrs map[string]any) Signal {
	if attrs == nil {
		return Signal{}
	}
	return Signal(attrs)
}

// Get returns the attribute stored under key.
func (s Signal) Get(key string) (any, bool) {
	v, ok := s[key]
	return v, ok
}

// Set stores an attribute under key.
func (s Signal) Set(key string, value any) {
	s[key] = value
}

// ToMap returns the signal's attributes as a plain map.
func (s Signal) ToMap() map[string]any {
	return map[string]any(s)
}

// Copy returns an independent deep copy of the signal. Mutating the copy
// never affects the original or any other copy.
func (s Signal) Copy() Signal {
	if s == nil {
		return nil
	}
	return Signal(deepcopy.Copy(map[string]any(s)).(map[string]any))
}

// CopyBatch deep copies an entire batch of signals. Each receiver of a
// routed batch gets its own copy so concurrent receivers cannot observe
// one another's mutations.
func CopyBatch(signals []Signal) []Signal {
	if signals == nil {
		return nil
	}
	cloned := make([]Signal, len(signals))
	for i, signal := range signals {
		cloned[i] = signal.Copy()
	}
	return cloned
}
