package model

import (
	"github.com/MaxMax2016/Multi-Singer/internal/nn"
	"github.com/MaxMax2016/Multi-Singer/internal/tensor"
)

// OutputHead maps aggregated skips to output channels:
// ReLU, 1x1, ReLU, 1x1.
type OutputHead struct {
	Conv1 *nn.Conv1d
	Conv2 *nn.Conv1d
}

func NewOutputHead(in, hidden, out int) *OutputHead {
	return &OutputHead{
		Conv1: nn.NewConv1d1x1(in, hidden, true),
		Conv2: nn.NewConv1d1x1(hidden, out, true),
	}
}

// Children keeps the activation slots so indices match a four-layer list.
func (h *OutputHead) Children() []nn.Child {
	return []nn.Child{
		{Name: "1", Module: h.Conv1},
		{Name: "3", Module: h.Conv2},
	}
}

func (h *OutputHead) Forward(x *tensor.Tensor) *tensor.Tensor {
	y := x.Clone()
	tensor.ReLU(y.Data)
	y = h.Conv1.Forward(y)
	tensor.ReLU(y.Data)
	return h.Conv2.Forward(y)
}
