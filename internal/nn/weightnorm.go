package nn

import (
	"errors"
	"fmt"

	"github.com/MaxMax2016/Multi-Singer/internal/logger"
	"github.com/MaxMax2016/Multi-Singer/internal/tensor"
)

var (
	// ErrNoWeightNorm is returned when removing weight norm from a module
	// that does not carry it.
	ErrNoWeightNorm = errors.New("nn: module has no weight norm")
	// ErrWeightNormApplied is returned when weight norm is applied twice.
	ErrWeightNormApplied = errors.New("nn: weight norm already applied")
)

// WeightNormalizable is implemented by convolutions that support the
// magnitude/direction reparameterization.
type WeightNormalizable interface {
	ApplyWeightNorm() error
	RemoveWeightNorm() error
	HasWeightNorm() bool
}

// weightNorm reparameterizes a weight matrix as w = g·v/‖v‖ with one
// magnitude per row (output channel), matching torch weight_norm with dim=0.
type weightNorm struct {
	g []float32
	v tensor.Mat
}

func newWeightNorm(w *tensor.Mat) *weightNorm {
	wn := &weightNorm{
		g: make([]float32, w.R),
		v: w.Clone(),
	}
	for o := 0; o < w.R; o++ {
		wn.g[o] = float32(tensor.Norm(w.Row(o)))
	}
	return wn
}

// compose writes g·v/‖v‖ into dst.
func (wn *weightNorm) compose(dst *tensor.Mat) {
	for o := 0; o < wn.v.R; o++ {
		src := wn.v.Row(o)
		out := dst.Row(o)
		norm := tensor.Norm(src)
		if norm == 0 {
			clear(out)
			continue
		}
		s := float32(float64(wn.g[o]) / norm)
		for i, v := range src {
			out[i] = v * s
		}
	}
}

// ApplyWeightNorm attaches weight normalization to every normalizable
// module in the tree, depth-first. It stops at the first failure, which
// includes applying twice.
func ApplyWeightNorm(root Module, log logger.Logger) error {
	log = orDiscard(log)
	return Walk(root, func(path string, m Module) error {
		wn, ok := m.(WeightNormalizable)
		if !ok {
			return nil
		}
		if err := wn.ApplyWeightNorm(); err != nil {
			return fmt.Errorf("apply weight norm to %q: %w", path, err)
		}
		log.Debug("weight norm applied", "module", path)
		return nil
	})
}

// RemoveWeightNorm strips weight normalization from every module in the
// tree and returns how many modules were changed. Modules that never had
// it are skipped; the pass never fails as a whole.
func RemoveWeightNorm(root Module, log logger.Logger) int {
	log = orDiscard(log)
	removed := 0
	_ = Walk(root, func(path string, m Module) error {
		wn, ok := m.(WeightNormalizable)
		if !ok {
			return nil
		}
		if err := wn.RemoveWeightNorm(); err != nil {
			log.Debug("weight norm not present", "module", path, "error", err)
			return nil
		}
		removed++
		log.Debug("weight norm removed", "module", path)
		return nil
	})
	return removed
}

func orDiscard(log logger.Logger) logger.Logger {
	if log == nil {
		return logger.Discard()
	}
	return log
}
