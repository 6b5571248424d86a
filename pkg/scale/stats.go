package scale

import "github.com/chewxy/math32"

// outlierSigma is the rejection threshold for robustMean. Drops landing on
// the pan mid-read make the load cell ring for a few conversions; one pass
// of sigma clipping removes those without biasing a settled window.
const outlierSigma = 3.0

// mean returns the arithmetic mean of samples, or 0 for an empty slice.
func mean(samples []float32) float32 {
	if len(samples) == 0 {
		return 0
	}
	var sum float32
	for _, s := range samples {
		sum += s
	}
	return sum / float32(len(samples))
}

// stddev returns the sample standard deviation around mu. Fewer than two
// samples have no spread.
func stddev(samples []float32, mu float32) float32 {
	if len(samples) < 2 {
		return 0
	}
	var ss float32
	for _, s := range samples {
		d := s - mu
		ss += d * d
	}
	return math32.Sqrt(ss / float32(len(samples)-1))
}

// robustMean averages samples after one pass of sigma clipping: values more
// than outlierSigma standard deviations from the mean are dropped. This
// reduces noise in the measurements without smearing impact transients into
// the average.
func robustMean(samples []float32) float32 {
	mu := mean(samples)
	sigma := stddev(samples, mu)
	if sigma == 0 {
		return mu
	}

	kept := make([]float32, 0, len(samples))
	for _, s := range samples {
		if math32.Abs(s-mu) <= outlierSigma*sigma {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		return mu
	}
	return mean(kept)
}
