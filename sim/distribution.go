package sim

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// Named distributions over any RNG. They are decoupled from the generator so
// that every strategy draws the same values from the same stream.

// UniformClosedOpen samples from [0, 1) with 53 bits of precision.
func UniformClosedOpen(rng RNG) float64 {
	return float64(rng.Uint64()>>11) * 0x1.0p-53
}

// UniformOpenClosed samples from (0, 1].
func UniformOpenClosed(rng RNG) float64 {
	return float64((rng.Uint64()>>11)+1) * 0x1.0p-53
}

// IndexFromSample maps a [0, 1) sample onto [0, length).
func IndexFromSample(sample float64, length uint64) uint64 {
	if length == 0 {
		panic("sim: IndexFromSample with zero length")
	}
	i := uint64(math.Floor(sample * float64(length)))
	return min(i, length-1)
}

// SampleIndex draws a uniform index in [0, length).
func SampleIndex(rng RNG, length uint64) uint64 {
	return IndexFromSample(UniformClosedOpen(rng), length)
}

// SampleEvent draws a Bernoulli trial with success probability p.
func SampleEvent(rng RNG, p float64) bool {
	return UniformClosedOpen(rng) < p
}

// SampleExponential draws an exponential waiting time with rate lambda.
func SampleExponential(rng RNG, lambda float64) float64 {
	return -math.Log(UniformOpenClosed(rng)) / lambda
}

// SampleStandardNormal2D draws two independent standard normals (Box-Muller).
func SampleStandardNormal2D(rng RNG) (float64, float64) {
	u0 := UniformOpenClosed(rng)
	u1 := UniformClosedOpen(rng)
	r := math.Sqrt(-2 * math.Log(u0))
	theta := -2 * math.Pi * u1
	return r * math.Sin(theta), r * math.Cos(theta)
}

// SampleNormal2D draws two independent normals with the given mean and sigma.
func SampleNormal2D(rng RNG, mu, sigma float64) (float64, float64) {
	z0, z1 := SampleStandardNormal2D(rng)
	return z0*sigma + mu, z1*sigma + mu
}

// SamplePoisson draws a Poisson count with mean lambda.
func SamplePoisson(rng RNG, lambda float64) uint64 {
	if lambda <= 0 {
		return 0
	}
	return uint64(distuv.Poisson{Lambda: lambda, Src: rng}.Rand())
}

// NextAfter returns t if it is strictly greater than prior, otherwise the
// smallest float64 above prior. Event times are strictly increasing per lineage.
func NextAfter(prior, t float64) float64 {
	if t > prior {
		return t
	}
	return math.Nextafter(prior, math.Inf(1))
}
