// Package nn holds the convolution primitives the vocoder generators are
// assembled from, together with the explicit module tree used to name
// parameters, initialise weights and toggle weight normalization.
package nn

import (
	"math/rand"
	"strconv"
	"strings"
)

// Module is a node in a network's ownership tree.
type Module interface {
	// Children returns the directly owned sub-modules in declaration order.
	Children() []Child
}

// Child names one owned sub-module. Names follow PyTorch state-dict
// conventions so checkpoints exported from the reference training code load
// without renaming.
type Child struct {
	Name   string
	Module Module
}

// Leaf is embedded by modules without sub-modules.
type Leaf struct{}

func (Leaf) Children() []Child { return nil }

// Initializer is implemented by modules that own trainable tensors.
type Initializer interface {
	Reset(rng *rand.Rand)
}

// Walk visits m and its descendants depth-first in declaration order. The
// root is visited with an empty path.
func Walk(m Module, fn func(path string, m Module) error) error {
	return walk("", m, fn)
}

func walk(path string, m Module, fn func(string, Module) error) error {
	if err := fn(path, m); err != nil {
		return err
	}
	for _, c := range m.Children() {
		if c.Module == nil {
			continue
		}
		if err := walk(JoinPath(path, c.Name), c.Module, fn); err != nil {
			return err
		}
	}
	return nil
}

// JoinPath joins dotted module path segments, skipping empty ones.
func JoinPath(parts ...string) string {
	var b strings.Builder
	for _, p := range parts {
		if p == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(p)
	}
	return b.String()
}

// Reset initialises every parameterised module in the tree from rng.
func Reset(root Module, rng *rand.Rand) {
	_ = Walk(root, func(_ string, m Module) error {
		if init, ok := m.(Initializer); ok {
			init.Reset(rng)
		}
		return nil
	})
}

// Sequence is an ordered list of modules addressed by index, mirroring
// torch.nn.ModuleList. Nil entries stand for parameter-free layers such as
// activations so indices stay aligned with exported checkpoints.
type Sequence []Module

func (s Sequence) Children() []Child {
	out := make([]Child, 0, len(s))
	for i, m := range s {
		if m == nil {
			continue
		}
		out = append(out, Child{Name: strconv.Itoa(i), Module: m})
	}
	return out
}
