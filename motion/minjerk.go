// Package motion synthesizes human-plausible mouse trajectories and
// keystroke timing against an osinput.Sink.
//
// Mouse movement follows a quintic minimum-jerk profile perturbed by
// pink-noise tremor scaled with instantaneous velocity. Typing timing is
// driven by physical key-to-key distance on a QWERTY layout plus
// log-normal jitter, with overlapping key-hold windows (rollover).
package motion

import "math"

// MinJerk is the quintic minimum-jerk position profile for t in [0, 1]:
//
//	s(t) = 10t³ − 15t⁴ + 6t⁵
//
// Zero velocity and acceleration at both endpoints.
func MinJerk(t float64) float64 {
	t = clamp(t, 0, 1)
	return 10*t*t*t - 15*t*t*t*t + 6*t*t*t*t*t
}

// MinJerkVel is the unnormalized derivative of MinJerk:
//
//	v(t) = 30t² − 60t³ + 30t⁴
func MinJerkVel(t float64) float64 {
	t = clamp(t, 0, 1)
	return 30*t*t - 60*t*t*t + 30*t*t*t*t
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}
