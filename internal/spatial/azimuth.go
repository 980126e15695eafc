package spatial

import "math"

// Placement distributes the N conference voices across a semicircular sound
// field in front of the listener. Each participant's position depends only on
// its 1-based place in join order and on N, so placements are reproducible
// and symmetric: the k-th and (N+1-k)-th voices mirror each other across the
// center line. As N grows, the spacing between adjacent voices shrinks.
//
// The listener sits at the origin facing +y; positions land on the unit
// semicircle y > 0. Note a lone participant (N=1) is placed dead ahead at
// (0, 1) by the same formula, not special-cased.

// PlacePosition returns the (x, y) azimuth for the participant at the given
// 1-based place among n participants.
//
// place must be in [1, n] and n >= 1; out-of-range inputs still produce a
// defined point, they just fall outside the front semicircle.
func PlacePosition(place, n int) (x, y float64) {
	angle := 2.0 / float64(n+1)
	pos := float64(place)*angle - 1.0
	x = math.Sin(math.Pi * pos / 2.0)
	y = math.Cos(math.Pi * pos / 2.0)
	return x, y
}

// panGains maps an azimuth to per-ear gains using the constant-power pan law.
//
// All placements sit on the unit semicircle, so there is no distance term:
// only the left/right projection (the x coordinate) drives the gains. x = -1
// is hard left, 0 is center (both ears at 1/sqrt2), +1 is hard right.
func panGains(x float64) (left, right float32) {
	if x < -1.0 {
		x = -1.0
	} else if x > 1.0 {
		x = 1.0
	}
	theta := (x + 1.0) * math.Pi / 4.0
	left = float32(math.Cos(theta))
	right = float32(math.Sin(theta))
	return left, right
}
