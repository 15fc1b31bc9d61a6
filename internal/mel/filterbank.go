package mel

import "math"

// Slaney mel scale: linear below 1 kHz, logarithmic above.
const (
	fSp        = 200.0 / 3
	minLogHz   = 1000.0
	minLogMel  = minLogHz / fSp
	logStepMel = 0.06875177742094912 // ln(6.4) / 27
)

// HzToMel converts a frequency to the Slaney mel scale.
func HzToMel(hz float64) float64 {
	if hz < minLogHz {
		return hz / fSp
	}
	return minLogMel + math.Log(hz/minLogHz)/logStepMel
}

// MelToHz is the inverse of HzToMel.
func MelToHz(m float64) float64 {
	if m < minLogMel {
		return m * fSp
	}
	return minLogHz * math.Exp(logStepMel*(m-minLogMel))
}

// Filterbank returns nMels triangular filters over fftSize/2+1 bins with
// Slaney area normalisation.
func Filterbank(sr, fftSize, nMels int, fmin, fmax float64) [][]float64 {
	bins := fftSize/2 + 1
	fftFreqs := make([]float64, bins)
	for k := range fftFreqs {
		fftFreqs[k] = float64(k) * float64(sr) / float64(fftSize)
	}

	lo, hi := HzToMel(fmin), HzToMel(fmax)
	edges := make([]float64, nMels+2)
	for i := range edges {
		edges[i] = MelToHz(lo + (hi-lo)*float64(i)/float64(nMels+1))
	}

	out := make([][]float64, nMels)
	for m := range out {
		left, center, right := edges[m], edges[m+1], edges[m+2]
		norm := 2 / (right - left)
		row := make([]float64, bins)
		for k, f := range fftFreqs {
			up := (f - left) / (center - left)
			down := (right - f) / (right - center)
			if w := math.Min(up, down); w > 0 {
				row[k] = w * norm
			}
		}
		out[m] = row
	}
	return out
}
