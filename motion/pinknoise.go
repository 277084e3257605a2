package motion

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/dsp/fourier"
)

// SpectralPink synthesizes n samples of 1/f-ish noise by shaping white
// noise in the frequency domain: amplitude scaled by 1/√f (yielding a
// ~1/f power spectrum), DC suppressed. Output is normalized to zero
// mean, unit variance.
func SpectralPink(rng *rand.Rand, n int) []float64 {
	if n < 2 {
		n = 2
	}
	white := make([]float64, n)
	for i := range white {
		white[i] = rng.NormFloat64()
	}

	fft := fourier.NewFFT(n)
	coeff := fft.Coefficients(nil, white)
	coeff[0] = 0
	for i := 1; i < len(coeff); i++ {
		coeff[i] *= complex(1/math.Sqrt(fft.Freq(i)), 0)
	}
	pink := fft.Sequence(nil, coeff)

	return normalize(pink)
}

// LowPassPink approximates pink noise with an exponential leaky
// integrator over uniform white noise. Kept as the non-spectral path for
// configurations that want cheaper synthesis; same normalization.
func LowPassPink(rng *rand.Rand, n int) []float64 {
	if n < 2 {
		n = 2
	}
	const alpha = 0.92
	out := make([]float64, n)
	x := 0.0
	for i := range out {
		x = alpha*x + (1-alpha)*(rng.Float64()*2-1)
		out[i] = x
	}
	return normalize(out)
}

// normalize shifts to zero mean and scales to unit (sample) variance,
// in place.
func normalize(v []float64) []float64 {
	mean := 0.0
	for _, x := range v {
		mean += x
	}
	mean /= float64(len(v))

	variance := 0.0
	for i := range v {
		v[i] -= mean
		variance += v[i] * v[i]
	}
	if len(v) > 1 {
		variance /= float64(len(v) - 1)
	}
	std := math.Sqrt(variance)
	if std == 0 {
		std = 1
	}
	for i := range v {
		v[i] /= std
	}
	return v
}
