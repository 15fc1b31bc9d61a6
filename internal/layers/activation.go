// Package layers contains the building blocks shared by the generators:
// the gated residual block, conditioning upsamplers and the PQMF filter
// bank.
package layers

import (
	"fmt"

	"github.com/MaxMax2016/Multi-Singer/internal/tensor"
)

// ActivationKind enumerates the element-wise nonlinearities accepted in
// upsampler configuration.
type ActivationKind int

const (
	ActNone ActivationKind = iota
	ActReLU
	ActLeakyReLU
	ActTanh
)

// Activation is a parsed nonlinearity with its parameters.
type Activation struct {
	Kind          ActivationKind
	NegativeSlope float32
}

// ParseActivation maps a torch.nn class name to an Activation. An empty
// name means no activation.
func ParseActivation(name string, params map[string]float64) (Activation, error) {
	switch name {
	case "":
		return Activation{Kind: ActNone}, nil
	case "ReLU":
		return Activation{Kind: ActReLU}, nil
	case "LeakyReLU":
		slope := 0.01
		if v, ok := params["negative_slope"]; ok {
			slope = v
		}
		return Activation{Kind: ActLeakyReLU, NegativeSlope: float32(slope)}, nil
	case "Tanh":
		return Activation{Kind: ActTanh}, nil
	default:
		return Activation{}, fmt.Errorf("unsupported nonlinear activation %q", name)
	}
}

// Apply runs the activation over x in place.
func (a Activation) Apply(x *tensor.Tensor) {
	switch a.Kind {
	case ActReLU:
		tensor.ReLU(x.Data)
	case ActLeakyReLU:
		tensor.LeakyReLU(x.Data, a.NegativeSlope)
	case ActTanh:
		tensor.Tanh(x.Data)
	}
}

func (a Activation) String() string {
	switch a.Kind {
	case ActReLU:
		return "ReLU"
	case ActLeakyReLU:
		return fmt.Sprintf("LeakyReLU(%g)", a.NegativeSlope)
	case ActTanh:
		return "Tanh"
	default:
		return "None"
	}
}
