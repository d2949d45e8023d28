// Package logodds converts between probabilities and natural log-odds.
package logodds

import "math"

// Epsilon bounds probabilities away from 0 and 1 before taking log-odds.
const Epsilon = 1e-12

// maxExp caps the exponent in InvLogit. math.Exp overflows past ~709.
const maxExp = 500.0

var maxBelowOne = math.Nextafter(1, 0)

// Logit returns ln(p/(1-p)) with p clamped to [Epsilon, 1-Epsilon].
// The result is always finite. NaN is treated as 0.5.
func Logit(p float64) float64 {
	if math.IsNaN(p) {
		return 0
	}
	p = Clamp(p)
	return math.Log(p / (1 - p))
}

// InvLogit returns 1/(1+e^-l). It is evaluated on the branch that keeps the
// exponent non-positive so large |l| neither overflows nor divides by zero.
// The result stays strictly inside (0,1): past l ~ 37 the sum rounds to 1,
// so the positive branch is capped at the largest float64 below 1.
func InvLogit(l float64) float64 {
	if math.IsNaN(l) {
		return 0.5
	}
	l = math.Max(-maxExp, math.Min(maxExp, l))
	if l >= 0 {
		return math.Min(1/(1+math.Exp(-l)), maxBelowOne)
	}
	e := math.Exp(l)
	return e / (1 + e)
}

// Clamp limits p to [Epsilon, 1-Epsilon].
func Clamp(p float64) float64 {
	return math.Max(Epsilon, math.Min(1-Epsilon, p))
}
