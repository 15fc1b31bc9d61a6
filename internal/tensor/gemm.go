package tensor

import (
	"runtime"
)

// Tile sizes are variables to allow test-time sweeps without recompilation.
const (
	defaultTileM = 32
	defaultTileN = 64
	defaultTileK = 16

	maxTileM = 64
	maxTileN = 128
	maxTileK = 64

	// Below this many multiply-adds the pool round trip costs more than it saves.
	parallelMinWork = 1 << 15
)

var (
	tileM = defaultTileM
	tileN = defaultTileN
	tileK = defaultTileK
)

// selectGemmTiles picks tiles for C(m×n) = A(m×k)·B(k×n). Convolutions have
// a short k (in·kernel) and a long n (time), so tiles favour wide columns.
func selectGemmTiles(m, k, n int) (int, int, int) {
	if tileM != defaultTileM || tileN != defaultTileN || tileK != defaultTileK {
		return clampTile(tileM, maxTileM), clampTile(tileN, maxTileN), clampTile(tileK, maxTileK)
	}

	tm := defaultTileM
	tn := defaultTileN
	tk := defaultTileK

	switch {
	case k >= 192:
		tk = 32
	case k >= 96:
		tk = 24
	}
	if n >= 1024 {
		tn = maxTileN
	}
	if m < tm {
		tm = m
	}

	return clampTile(tm, maxTileM), clampTile(tn, maxTileN), clampTile(tk, maxTileK)
}

func clampTile(value, max int) int {
	if value < 1 {
		return 1
	}
	if value > max {
		return max
	}
	return value
}

type gemmTask struct {
	C, A, B     *Mat
	alpha, beta float32
	rs, re      int
	tm, tn, tk  int
	done        chan struct{}
}

type gemmPool struct {
	size      int
	tasks     chan gemmTask
	doneSlots chan chan struct{}
}

func newGemmPool() *gemmPool {
	size := runtime.GOMAXPROCS(0)
	if size < 1 {
		size = 1
	}
	p := &gemmPool{
		size:      size,
		tasks:     make(chan gemmTask, size*2),
		doneSlots: make(chan chan struct{}, size),
	}
	for i := 0; i < size; i++ {
		p.doneSlots <- make(chan struct{}, size)
	}
	for w := 0; w < size; w++ {
		packB := make([]float32, maxTileK*maxTileN)
		go func(packB []float32) {
			for task := range p.tasks {
				gemmRangeRows(task.C, task.A, task.B, task.alpha, task.beta, task.rs, task.re, packB, task.tm, task.tn, task.tk)
				task.done <- struct{}{}
			}
		}(packB)
	}
	return p
}

var gemmWorkPool = newGemmPool()

// GemmPar computes the matrix product C = alpha*A*B + beta*C using a
// blocked algorithm and parallelising across ranges of output rows.
// workers <= 0 uses GOMAXPROCS. Small products run on the calling goroutine.
func GemmPar(C, A, B *Mat, alpha, beta float32, workers int) {
	if A.C != B.R || C.R != A.R || C.C != B.C {
		panic("gemm: dimension mismatch")
	}
	if C.R == 0 || C.C == 0 {
		return
	}

	tm, tn, tk := selectGemmTiles(C.R, A.C, B.C)

	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if C.R*C.C*max(A.C, 1) < parallelMinWork {
		workers = 1
	}
	if workers > C.R {
		workers = C.R
	}
	if workers <= 1 {
		gemmRangeRows(C, A, B, alpha, beta, 0, C.R, nil, tm, tn, tk)
		return
	}
	if workers > gemmWorkPool.size {
		workers = gemmWorkPool.size
	}

	chunk := (C.R + workers - 1) / workers

	done := <-gemmWorkPool.doneSlots
	sent := 0
	for rs := 0; rs < C.R; rs += chunk {
		gemmWorkPool.tasks <- gemmTask{
			C:     C,
			A:     A,
			B:     B,
			alpha: alpha,
			beta:  beta,
			rs:    rs,
			re:    min(rs+chunk, C.R),
			tm:    tm,
			tn:    tn,
			tk:    tk,
			done:  done,
		}
		sent++
	}
	for i := 0; i < sent; i++ {
		<-done
	}
	gemmWorkPool.doneSlots <- done
}

// gemmRangeRows performs a blocked GEMM on a contiguous range of rows of C.
// packB, when large enough, holds a contiguous copy of the current B tile.
func gemmRangeRows(C, A, B *Mat, alpha, beta float32, rs, re int, packB []float32, tm, tn, tk int) {
	cStride := C.Stride
	n := C.C
	switch beta {
	case 0:
		for i := rs; i < re; i++ {
			base := i * cStride
			clear(C.Data[base : base+n])
		}
	case 1:
	default:
		for i := rs; i < re; i++ {
			base := i * cStride
			for j := 0; j < n; j++ {
				C.Data[base+j] *= beta
			}
		}
	}

	k := A.C
	aStride := A.Stride
	bStride := B.Stride

	if len(packB) >= tk*tn {
		for k0 := 0; k0 < k; k0 += tk {
			kMax := min(k0+tk, k)
			for j0 := 0; j0 < n; j0 += tn {
				jMax := min(j0+tn, n)
				width := jMax - j0
				packBTile(packB, B.Data, bStride, k0, kMax, j0, jMax)
				for i0 := rs; i0 < re; i0 += tm {
					iMax := min(i0+tm, re)
					blockUpdate(C.Data, A.Data, packB, cStride, aStride, width, alpha, i0, iMax, j0, jMax, k0, kMax, k0)
				}
			}
		}
		return
	}

	for i0 := rs; i0 < re; i0 += tm {
		iMax := min(i0+tm, re)
		for k0 := 0; k0 < k; k0 += tk {
			kMax := min(k0+tk, k)
			for j0 := 0; j0 < n; j0 += tn {
				jMax := min(j0+tn, n)
				blockUpdate(C.Data, A.Data, B.Data[j0:], cStride, aStride, bStride, alpha, i0, iMax, j0, jMax, k0, kMax, 0)
			}
		}
	}
}

func packBTile(dst []float32, bData []float32, bStride int, k0, kMax, j0, jMax int) {
	width := jMax - j0
	kInner := kMax - k0
	if width <= 0 || kInner <= 0 {
		return
	}
	if width > maxTileN || kInner > maxTileK {
		panic("packBTile exceeds max tile size")
	}
	for kk := 0; kk < kInner; kk++ {
		srcOff := (k0+kk)*bStride + j0
		copy(dst[kk*width:(kk+1)*width], bData[srcOff:srcOff+width])
	}
}

// blockUpdate accumulates alpha*A[i0:iMax, k0:kMax]·B into C[i0:iMax, j0:jMax].
// bData starts at column j0 of the block; row kk of B lives at
// (kk-kBase)*bStride.
func blockUpdate(cData, aData, bData []float32, cStride, aStride, bStride int, alpha float32, i0, iMax, j0, jMax, k0, kMax, kBase int) {
	width := jMax - j0
	for i := i0; i < iMax; i++ {
		aRow := aData[i*aStride:]
		cOff := i*cStride + j0
		cRow := cData[cOff : cOff+width]

		for kk := k0; kk < kMax; kk++ {
			aik := aRow[kk] * alpha
			if aik == 0 {
				continue
			}
			bOff := (kk - kBase) * bStride
			bRow := bData[bOff : bOff+width]

			j := 0
			for ; j+7 < width; j += 8 {
				cRow[j+0] += aik * bRow[j+0]
				cRow[j+1] += aik * bRow[j+1]
				cRow[j+2] += aik * bRow[j+2]
				cRow[j+3] += aik * bRow[j+3]
				cRow[j+4] += aik * bRow[j+4]
				cRow[j+5] += aik * bRow[j+5]
				cRow[j+6] += aik * bRow[j+6]
				cRow[j+7] += aik * bRow[j+7]
			}
			for ; j < width; j++ {
				cRow[j] += aik * bRow[j]
			}
		}
	}
}
