package spin

import (
	"math"
	"time"
)

// Duration is the fixed length of every spin animation.
const Duration = 6 * time.Second

// Animation is the pure rotation curve for one spin: a single transition from
// the starting rotation to the broadcast target, eased so the wheel
// decelerates identically on every client. The host drives it by calling Tick
// with elapsed time; no network traffic happens during the animation.
type Animation struct {
	start float64
	total float64
	dur   time.Duration
}

// NewAnimation builds the curve from the client's current rotation to the
// announced target rotation.
func NewAnimation(current, targetRotation float64, dur time.Duration) Animation {
	return Animation{
		start: current,
		total: targetRotation - math.Mod(current, 360),
		dur:   dur,
	}
}

// Tick returns the rotation at elapsed and whether the animation is done.
func (a Animation) Tick(elapsed time.Duration) (float64, bool) {
	if elapsed >= a.dur {
		return a.start + a.total, true
	}
	p := float64(elapsed) / float64(a.dur)
	eased := easeOutCubic(p)
	return a.start + a.total*eased, false
}

// easeOutCubic is monotonic with a vanishing first derivative at p=1, so the
// wheel glides to a stop.
func easeOutCubic(p float64) float64 {
	return 1 - math.Pow(1-p, 3)
}

// TargetAngle returns the stop angle (degrees, before whole turns are added)
// that parks the pointer exactly at the center of winnerIndex's slice. Pure
// function of its inputs.
func TargetAngle(winnerIndex, choiceCount int) float64 {
	slice := 360.0 / float64(choiceCount)
	return 360 - (float64(winnerIndex)*slice + slice/2)
}

// PointerIndex inverts TargetAngle: given a resting rotation it returns the
// slice currently under the pointer.
func PointerIndex(choiceCount int, rotation float64) int {
	if choiceCount == 0 {
		return 0
	}
	slice := 360.0 / float64(choiceCount)
	at := math.Mod(360-math.Mod(rotation, 360), 360)
	idx := int(at / slice)
	return idx % choiceCount
}
