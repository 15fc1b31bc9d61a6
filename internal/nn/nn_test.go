package nn

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/MaxMax2016/Multi-Singer/internal/tensor"
)

func randTensor(b, c, t int, seed int64) *tensor.Tensor {
	x := tensor.New(b, c, t)
	tensor.FillNormal(x.Data, rand.New(rand.NewSource(seed)), 1)
	return x
}

func compareSlices(t *testing.T, got, want []float32, tol float64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d want %d", len(got), len(want))
	}
	for i := range got {
		if math.Abs(float64(got[i]-want[i])) > tol {
			t.Fatalf("mismatch at %d: got %f want %f", i, got[i], want[i])
		}
	}
}

// referenceConv1d is a direct transcription of the convolution sum.
func referenceConv1d(c *Conv1d, x *tensor.Tensor) *tensor.Tensor {
	tOut := c.OutputLength(x.T)
	out := tensor.New(x.B, c.OutChannels, tOut)
	w := c.effectiveWeight()
	for b := 0; b < x.B; b++ {
		for o := 0; o < c.OutChannels; o++ {
			for t := 0; t < tOut; t++ {
				var sum float64
				if c.Bias != nil {
					sum = float64(c.Bias[o])
				}
				for i := 0; i < c.InChannels; i++ {
					for k := 0; k < c.KernelSize; k++ {
						pos := t*c.Stride + k*c.Dilation - c.Padding
						if pos < 0 || pos >= x.T {
							continue
						}
						sum += float64(w.Row(o)[i*c.KernelSize+k]) * float64(x.Row(b, i)[pos])
					}
				}
				out.Row(b, o)[t] = float32(sum)
			}
		}
	}
	return out
}

func TestConv1dMatchesReference(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name             string
		in, out, k       int
		stride, pad, dil int
		bias             bool
		length           int
	}{
		{"pointwise", 3, 5, 1, 1, 0, 1, true, 11},
		{"same-padding", 4, 4, 3, 1, 1, 1, true, 16},
		{"dilated", 2, 6, 3, 1, 4, 4, false, 20},
		{"strided", 3, 2, 4, 4, 0, 1, true, 17},
		{"wide-padding", 1, 8, 3, 1, 3, 1, true, 9},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewConv1d(tt.in, tt.out, tt.k,
				WithStride(tt.stride), WithPadding(tt.pad), WithDilation(tt.dil), WithBias(tt.bias))
			c.Reset(rand.New(rand.NewSource(int64(i))))
			for j := range c.Bias {
				c.Bias[j] = float32(j) * 0.1
			}
			x := randTensor(2, tt.in, tt.length, int64(100+i))
			got := c.Forward(x)
			want := referenceConv1d(c, x)
			if got.T != c.OutputLength(tt.length) {
				t.Fatalf("length: got %d want %d", got.T, c.OutputLength(tt.length))
			}
			compareSlices(t, got.Data, want.Data, 1e-4)
		})
	}
}

func TestConv1dPanicsOnChannelMismatch(t *testing.T) {
	t.Parallel()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	NewConv1d1x1(2, 3, true).Forward(tensor.New(1, 4, 5))
}

func TestConv2dBoxFilter(t *testing.T) {
	t.Parallel()
	c := NewConv2d(1, 3, 0, 1, false)
	c.Reset(nil)
	x := tensor.FromData(1, 2, 4, []float32{3, 3, 3, 3, 0, 3, 6, 9})
	got := c.Forward(x)
	if got.C != 2 || got.T != 4 {
		t.Fatalf("shape: got %v", got.Shape())
	}
	want := []float32{2, 3, 3, 2, 1, 3, 6, 5}
	compareSlices(t, got.Data, want, 1e-5)
}

func TestConvTranspose1dMatchesReference(t *testing.T) {
	t.Parallel()
	for _, s := range []int{2, 3, 4} {
		c := NewConvTranspose1d(3, 2, 2*s, s, s/2+s%2, s%2, true)
		c.Reset(rand.New(rand.NewSource(int64(s))))
		x := randTensor(1, 3, 7, int64(s))
		got := c.Forward(x)
		if got.T != 7*s {
			t.Fatalf("stride %d: length %d, want %d", s, got.T, 7*s)
		}
		want := tensor.New(1, 2, got.T)
		for o := 0; o < 2; o++ {
			for pos := 0; pos < got.T; pos++ {
				sum := float64(c.Bias[o])
				for i := 0; i < 3; i++ {
					for tIn := 0; tIn < 7; tIn++ {
						k := pos + c.Padding - tIn*s
						if k < 0 || k >= c.KernelSize {
							continue
						}
						sum += float64(x.Row(0, i)[tIn]) * float64(c.Weight.Row(i)[o*c.KernelSize+k])
					}
				}
				want.Row(0, o)[pos] = float32(sum)
			}
		}
		compareSlices(t, got.Data, want.Data, 1e-5)
	}
}

func TestWeightNormRoundTripPreservesOutput(t *testing.T) {
	t.Parallel()
	c := NewConv1d(3, 4, 3, WithPadding(1))
	c.Reset(rand.New(rand.NewSource(9)))
	x := randTensor(1, 3, 12, 3)
	before := c.Forward(x)

	if err := c.ApplyWeightNorm(); err != nil {
		t.Fatalf("apply: %v", err)
	}
	normalized := c.Forward(x)
	compareSlices(t, normalized.Data, before.Data, 1e-5)

	if err := c.RemoveWeightNorm(); err != nil {
		t.Fatalf("remove: %v", err)
	}
	after := c.Forward(x)
	compareSlices(t, after.Data, before.Data, 1e-5)
}

func TestWeightNormStateMachine(t *testing.T) {
	t.Parallel()
	c := NewConv1d1x1(2, 2, true)
	if err := c.RemoveWeightNorm(); !errors.Is(err, ErrNoWeightNorm) {
		t.Fatalf("remove on plain conv: got %v", err)
	}
	if err := c.ApplyWeightNorm(); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := c.ApplyWeightNorm(); !errors.Is(err, ErrWeightNormApplied) {
		t.Fatalf("second apply: got %v", err)
	}
	if !c.HasWeightNorm() {
		t.Fatal("expected weight norm")
	}
}

type testNet struct {
	a   *Conv1d
	b   *Conv2d
	up  *ConvTranspose1d
	seq Sequence
}

func (n *testNet) Children() []Child {
	return []Child{
		{Name: "a", Module: n.a},
		{Name: "b", Module: n.b},
		{Name: "up", Module: n.up},
		{Name: "layers", Module: n.seq},
	}
}

func newTestNet() *testNet {
	return &testNet{
		a:   NewConv1d(2, 3, 3, WithPadding(1)),
		b:   NewConv2d(1, 3, 0, 1, false),
		up:  NewConvTranspose1d(3, 3, 4, 2, 1, 0, true),
		seq: Sequence{nil, NewConv1d1x1(3, 1, true), nil},
	}
}

func TestTreeWeightNormSkipsUnnormalizedModules(t *testing.T) {
	t.Parallel()
	net := newTestNet()
	if err := net.a.ApplyWeightNorm(); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := RemoveWeightNorm(net, nil); got != 1 {
		t.Fatalf("removed %d modules, want 1", got)
	}
	if err := ApplyWeightNorm(net, nil); err != nil {
		t.Fatalf("apply tree: %v", err)
	}
	if !net.a.HasWeightNorm() || !net.b.HasWeightNorm() || !net.seq[1].(*Conv1d).HasWeightNorm() {
		t.Fatal("expected every conv1d/conv2d to be normalized")
	}
	if err := ApplyWeightNorm(net, nil); !errors.Is(err, ErrWeightNormApplied) {
		t.Fatalf("second tree apply: got %v", err)
	}
	if got := RemoveWeightNorm(net, nil); got != 3 {
		t.Fatalf("removed %d modules, want 3", got)
	}
}

func TestNamedParamsFollowTreePaths(t *testing.T) {
	t.Parallel()
	net := newTestNet()
	var names []string
	for _, p := range NamedParams(net) {
		names = append(names, p.Name)
	}
	want := []string{"a.weight", "a.bias", "b.weight", "up.weight", "up.bias", "layers.1.weight", "layers.1.bias"}
	if len(names) != len(want) {
		t.Fatalf("names: got %v want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("names: got %v want %v", names, want)
		}
	}

	if err := ApplyWeightNorm(net, nil); err != nil {
		t.Fatalf("apply: %v", err)
	}
	params := NamedParams(net)
	if params[0].Name != "a.weight_g" || params[1].Name != "a.weight_v" {
		t.Fatalf("unexpected normalized names %q %q", params[0].Name, params[1].Name)
	}
}

func TestLoadParamsCopiesAndValidates(t *testing.T) {
	t.Parallel()
	src := newTestNet()
	Reset(src, rand.New(rand.NewSource(5)))
	snap := Snapshot(src)

	dst := newTestNet()
	if err := LoadParams(dst, snap); err != nil {
		t.Fatalf("load: %v", err)
	}
	compareSlices(t, dst.a.Weight.Data, src.a.Weight.Data, 0)
	compareSlices(t, dst.up.Bias, src.up.Bias, 0)

	bad := Snapshot(src)
	p := bad["a.weight"]
	p.Shape = []int{3, 2, 1}
	bad["a.weight"] = p
	if err := LoadParams(newTestNet(), bad); err == nil {
		t.Fatal("expected shape mismatch error")
	}
	delete(bad, "a.weight")
	if err := LoadParams(newTestNet(), bad); err == nil {
		t.Fatal("expected missing tensor error")
	}
}

func TestCountParams(t *testing.T) {
	t.Parallel()
	// a: 3*2*3+3, b: 3, up: 3*3*4+3, layers.1: 3+1
	if got, want := CountParams(newTestNet()), 21+3+39+4; got != want {
		t.Fatalf("CountParams: got %d want %d", got, want)
	}
}
