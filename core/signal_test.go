package core

import (
	"testing"

	"pgregory.net/rapid"
)

// TestSignalCopyIsolation tests that mutating a copy never leaks into
// the original, including through nested maps and slices.
func TestSignalCopyIsolation(t *testing.T) {
	original := NewSignal(map[string]any{
		"temp": 21.5,
		"tags": []any{"a", "b"},
		"meta": map[string]any{"site": "plant-1"},
	})

	clone := original.Copy()
	clone.Set("temp", 99.9)
	clone["tags"].([]any)[0] = "mutated"
	clone["meta"].(map[string]any)["site"] = "mutated"

	if v, _ := original.Get("temp"); v != 21.5 {
		t.Errorf("original temp changed to %v", v)
	}
	if original["tags"].([]any)[0] != "a" {
		t.Error("original nested slice changed")
	}
	if original["meta"].(map[string]any)["site"] != "plant-1" {
		t.Error("original nested map changed")
	}
}

// TestCopyBatchIndependence tests that every signal in a copied batch is
// independent from its source.
func TestCopyBatchIndependence(t *testing.T) {
	batch := []Signal{
		NewSignal(map[string]any{"n": 1}),
		NewSignal(map[string]any{"n": 2}),
	}

	clone := CopyBatch(batch)
	if len(clone) != len(batch) {
		t.Fatalf("clone has %d signals, want %d", len(clone), len(batch))
	}

	clone[0].Set("n", 100)
	if v, _ := batch[0].Get("n"); v != 1 {
		t.Errorf("source signal changed to %v", v)
	}
}

// TestSignalGetMissing tests the two-value lookup for absent attributes.
func TestSignalGetMissing(t *testing.T) {
	signal := NewSignal(nil)
	if _, ok := signal.Get("nope"); ok {
		t.Error("Get reported a missing attribute as present")
	}
	signal.Set("k", "v")
	if v, ok := signal.Get("k"); !ok || v != "v" {
		t.Errorf("Get returned %v, %v", v, ok)
	}
}

// TestPropertySignalCopyEquality tests that a copy always compares equal
// to its source while sharing no mutable state.
func TestPropertySignalCopyEquality(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		keys := rapid.SliceOfNDistinct(rapid.StringMatching(`[a-z]{1,8}`), 1, 6, rapid.ID[string]).Draw(rt, "keys")
		signal := NewSignal(nil)
		for i, key := range keys {
			signal.Set(key, float64(i))
		}

		clone := signal.Copy()
		for _, key := range keys {
			want, _ := signal.Get(key)
			got, ok := clone.Get(key)
			if !ok || got != want {
				rt.Fatalf("copy missing %q: got %v want %v", key, got, want)
			}
		}

		for _, key := range keys {
			clone.Set(key, "overwritten")
		}
		for i, key := range keys {
			if v, _ := signal.Get(key); v != float64(i) {
				rt.Fatalf("source %q changed to %v", key, v)
			}
		}
	})
}
