package script

import (
	"math"

	"stepcore/pkg/segment"
	"stepcore/pkg/timing"
	"stepcore/pkg/trapezoid"
)

// Profile fills the rate fields of seg for a trapezoid that starts at
// entry, cruises at nominal and ends at exit, changing speed at accel
// steps/s². Entry and exit are capped to nominal. When the segment is too
// short to reach nominal, acceleration and deceleration meet and the
// cruise phase is empty. A zero accel gives a constant-rate segment.
func Profile(seg *segment.Segment, entry, nominal, exit uint32, accel float64) {
	nominal = clampRate(nominal)
	entry = min(clampRate(entry), nominal)
	exit = min(clampRate(exit), nominal)
	n := seg.StepEventCount

	seg.NominalRate = nominal
	if accel <= 0 || n == 0 {
		seg.InitialRate, seg.FinalRate = nominal, nominal
		seg.AccelerateUntil, seg.DecelerateAfter = 0, n
		seg.AccelerationRate = 0
		return
	}
	seg.InitialRate, seg.FinalRate = entry, exit
	seg.AccelerationRate = trapezoid.AccelerationRateFor(accel)

	vi, vn, vf := float64(entry), float64(nominal), float64(exit)
	accelSteps := int64(math.Ceil((vn*vn - vi*vi) / (2 * accel)))
	decelSteps := int64(math.Floor((vn*vn - vf*vf) / (2 * accel)))
	plateau := int64(n) - accelSteps - decelSteps
	if plateau < 0 {
		// Where the acceleration and deceleration ramps intersect.
		accelSteps = int64(math.Ceil((2*accel*float64(n) - vi*vi + vf*vf) / (4 * accel)))
		accelSteps = max(0, min(accelSteps, int64(n)))
		plateau = 0
	}
	seg.AccelerateUntil = uint32(accelSteps)
	seg.DecelerateAfter = uint32(accelSteps + plateau)
}

func clampRate(r uint32) uint32 {
	return max(timing.MinStepRate, min(r, timing.MaxSupportedRate))
}

// PeakRate returns the highest rate a profiled segment reaches.
func PeakRate(seg *segment.Segment, accel float64) uint32 {
	if accel <= 0 || seg.AccelerateUntil < seg.DecelerateAfter {
		return seg.NominalRate
	}
	vi := float64(seg.InitialRate)
	peak := math.Sqrt(vi*vi + 2*accel*float64(seg.AccelerateUntil))
	return min(uint32(peak), seg.NominalRate)
}
