package nn

import (
	"fmt"
	"slices"
)

// Param is a named view of one trainable tensor. Data aliases the owning
// module's storage, so writes through it update the module.
type Param struct {
	Name  string
	Shape []int
	Data  []float32
}

// ParamOwner is implemented by modules that hold tensors directly. Names are
// local to the module ("weight", "bias", "weight_g", ...).
type ParamOwner interface {
	Params() []Param
}

// ParamSource resolves a fully qualified parameter name to its values and
// shape, e.g. a safetensors file.
type ParamSource interface {
	Float32(name string) ([]float32, []int, error)
}

// NamedParams returns every parameter in the tree with its dotted path.
func NamedParams(root Module) []Param {
	var out []Param
	_ = Walk(root, func(path string, m Module) error {
		owner, ok := m.(ParamOwner)
		if !ok {
			return nil
		}
		for _, p := range owner.Params() {
			p.Name = JoinPath(path, p.Name)
			out = append(out, p)
		}
		return nil
	})
	return out
}

// CountParams returns the total number of scalar parameters in the tree.
func CountParams(root Module) int {
	n := 0
	for _, p := range NamedParams(root) {
		n += len(p.Data)
	}
	return n
}

// LoadParams copies every parameter of root from src. Shapes must match
// exactly; tensors present in src but unused by root are ignored.
func LoadParams(root Module, src ParamSource) error {
	for _, p := range NamedParams(root) {
		data, shape, err := src.Float32(p.Name)
		if err != nil {
			return fmt.Errorf("load %s: %w", p.Name, err)
		}
		if !slices.Equal(shape, p.Shape) {
			return fmt.Errorf("load %s: shape %v, want %v", p.Name, shape, p.Shape)
		}
		if len(data) != len(p.Data) {
			return fmt.Errorf("load %s: %d values, want %d", p.Name, len(data), len(p.Data))
		}
		copy(p.Data, data)
	}
	return nil
}

// MapSource is an in-memory ParamSource keyed by parameter name.
type MapSource map[string]Param

// Snapshot copies every parameter of root into a MapSource.
func Snapshot(root Module) MapSource {
	out := make(MapSource)
	for _, p := range NamedParams(root) {
		out[p.Name] = Param{
			Name:  p.Name,
			Shape: slices.Clone(p.Shape),
			Data:  slices.Clone(p.Data),
		}
	}
	return out
}

func (s MapSource) Float32(name string) ([]float32, []int, error) {
	p, ok := s[name]
	if !ok {
		return nil, nil, fmt.Errorf("tensor not found: %s", name)
	}
	return p.Data, p.Shape, nil
}
