package tensor

import (
	"math"
	"testing"
)

func gemmNaive(C, A, B *Mat) {
	for i := 0; i < A.R; i++ {
		for j := 0; j < B.C; j++ {
			var sum float32
			for kk := 0; kk < A.C; kk++ {
				sum += A.Row(i)[kk] * B.Row(kk)[j]
			}
			C.Row(i)[j] = sum
		}
	}
}

func maxAbsDiff(a, b []float32) float64 {
	var maxAbs float64
	for i := range a {
		d := math.Abs(float64(a[i] - b[i]))
		if d > maxAbs {
			maxAbs = d
		}
	}
	return maxAbs
}

func TestGemmParMatchesNaive(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		m, k, n int
		workers int
	}{
		{"serial small", 5, 7, 9, 1},
		{"parallel odd", 50, 70, 45, 4},
		{"conv shaped", 64, 24, 2048, 0},
		{"single row", 1, 40, 300, 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			A := NewMat(tt.m, tt.k)
			B := NewMat(tt.k, tt.n)
			C0 := NewMat(tt.m, tt.n)
			C1 := NewMat(tt.m, tt.n)
			FillRand(&A, 1)
			FillRand(&B, 2)
			FillRand(&C1, 3)

			gemmNaive(&C0, &A, &B)
			GemmPar(&C1, &A, &B, 1, 0, tt.workers)

			if maxAbs := maxAbsDiff(C0.Data, C1.Data); maxAbs > 1e-5 {
				t.Fatalf("max abs diff %g", maxAbs)
			}
		})
	}
}

func TestGemmParAlphaBeta(t *testing.T) {
	t.Parallel()
	A := NewMat(40, 30)
	B := NewMat(30, 600)
	FillRand(&A, 4)
	FillRand(&B, 5)

	prod := NewMat(40, 600)
	gemmNaive(&prod, &A, &B)

	C := NewMat(40, 600)
	for i := range C.Data {
		C.Data[i] = 1
	}
	GemmPar(&C, &A, &B, 2, 0.5, 3)
	for i := range C.Data {
		want := 2*prod.Data[i] + 0.5
		if d := math.Abs(float64(C.Data[i] - want)); d > 1e-5 {
			t.Fatalf("index %d: got %g want %g", i, C.Data[i], want)
		}
	}
}

func TestGemmParNoAllocs(t *testing.T) {
	A := NewMat(16, 16)
	B := NewMat(16, 16)
	C := NewMat(16, 16)

	FillRand(&A, 3)
	FillRand(&B, 4)

	allocs := testing.AllocsPerRun(100, func() {
		GemmPar(&C, &A, &B, 1, 0, 2)
	})

	if allocs != 0 {
		t.Fatalf("unexpected allocs: %v", allocs)
	}
}

func TestGemmParPanicsOnMismatch(t *testing.T) {
	t.Parallel()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	A := NewMat(2, 3)
	B := NewMat(4, 2)
	C := NewMat(2, 2)
	GemmPar(&C, &A, &B, 1, 0, 1)
}
