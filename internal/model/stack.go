package model

import (
	"fmt"
	"math"

	"github.com/MaxMax2016/Multi-Singer/internal/layers"
	"github.com/MaxMax2016/Multi-Singer/internal/nn"
	"github.com/MaxMax2016/Multi-Singer/internal/tensor"
)

// Dilations returns the dilation of every block: 2^(i mod (layers/stacks)).
func Dilations(layerCount, stacks int) ([]int, error) {
	if err := validateStack("", layerCount, stacks, 1, false); err != nil {
		return nil, err
	}
	cycle := layerCount / stacks
	out := make([]int, layerCount)
	for i := range out {
		out[i] = 1 << (i % cycle)
	}
	return out, nil
}

// ReceptiveFieldSize is (kernel-1) * sum(dilation(i mod cycle)) + 1. A nil
// dilation means 2^x. layerCount must be a positive multiple of stacks.
func ReceptiveFieldSize(layerCount, stacks, kernelSize int, dilation func(int) int) int {
	if dilation == nil {
		dilation = func(x int) int { return 1 << x }
	}
	cycle := layerCount / stacks
	sum := 0
	for i := 0; i < layerCount; i++ {
		sum += dilation(i % cycle)
	}
	return (kernelSize-1)*sum + 1
}

// StackConfig describes a residual stack.
type StackConfig struct {
	Layers           int
	Stacks           int
	KernelSize       int
	ResidualChannels int
	GateChannels     int
	SkipChannels     int
	AuxChannels      int
	Dropout          float64
	Bias             bool
	Causal           bool
}

// ResidualStack runs its blocks in order, feeding each the previous hidden
// state and the shared conditioning, and aggregates their skips.
type ResidualStack struct {
	Blocks []*layers.ResidualBlock

	kernel int
	stacks int
}

// NewResidualStack builds cfg.Layers blocks on the dilation schedule.
func NewResidualStack(cfg StackConfig) (*ResidualStack, error) {
	dilations, err := Dilations(cfg.Layers, cfg.Stacks)
	if err != nil {
		return nil, err
	}
	s := &ResidualStack{
		Blocks: make([]*layers.ResidualBlock, 0, cfg.Layers),
		kernel: cfg.KernelSize,
		stacks: cfg.Stacks,
	}
	for i, d := range dilations {
		b, err := layers.NewResidualBlock(layers.ResidualBlockConfig{
			KernelSize:       cfg.KernelSize,
			ResidualChannels: cfg.ResidualChannels,
			GateChannels:     cfg.GateChannels,
			SkipChannels:     cfg.SkipChannels,
			AuxChannels:      cfg.AuxChannels,
			Dilation:         d,
			Dropout:          cfg.Dropout,
			Bias:             cfg.Bias,
			Causal:           cfg.Causal,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: block %d: %v", ErrInvalidConfig, i, err)
		}
		s.Blocks = append(s.Blocks, b)
	}
	return s, nil
}

func (s *ResidualStack) Children() []nn.Child {
	out := make([]nn.Child, len(s.Blocks))
	for i, b := range s.Blocks {
		out[i] = nn.Child{Name: fmt.Sprint(i), Module: b}
	}
	return out
}

// ReceptiveFieldSize derives the receptive field from the block count.
func (s *ResidualStack) ReceptiveFieldSize() int {
	return ReceptiveFieldSize(len(s.Blocks), s.stacks, s.kernel, nil)
}

// Forward returns the aggregated skip output of the stack.
func (s *ResidualStack) Forward(x, c *tensor.Tensor) *tensor.Tensor {
	var acc SkipAccumulator
	for _, b := range s.Blocks {
		var h *tensor.Tensor
		x, h = b.Forward(x, c)
		acc.Add(h)
	}
	return acc.Result()
}

// SkipAccumulator sums skip contributions and rescales the total by
// 1/sqrt(count).
type SkipAccumulator struct {
	sum   *tensor.Tensor
	count int
}

// Add folds h into the running sum. h is not retained.
func (a *SkipAccumulator) Add(h *tensor.Tensor) {
	if a.sum == nil {
		a.sum = h.Clone()
	} else {
		if !a.sum.SameShape(h) {
			panic(fmt.Sprintf("skip accumulator: %v vs %v", a.sum.Shape(), h.Shape()))
		}
		tensor.Add(a.sum.Data, h.Data)
	}
	a.count++
}

// Count is the number of contributions added so far.
func (a *SkipAccumulator) Count() int { return a.count }

// Result returns the scaled aggregate, or nil before any Add.
func (a *SkipAccumulator) Result() *tensor.Tensor {
	if a.sum == nil {
		return nil
	}
	out := a.sum.Clone()
	tensor.Scale(out.Data, float32(math.Sqrt(1/float64(a.count))))
	return out
}
