package control

import "math"

// DefaultFilterAlpha weights the gyro integration path of the complementary
// filter; the accelerometer tilt estimate fills the remaining 2%.
const DefaultFilterAlpha = 0.98

// ComplementaryFilter fuses gyro rates with accelerometer tilt into a stable
// orientation estimate. Gyro integration tracks fast motion, the
// accelerometer reference bleeds in slowly to cancel drift. Yaw has no
// gravity reference and integrates the gyro alone.
type ComplementaryFilter struct {
	alpha       float64
	roll        float64
	pitch       float64
	yaw         float64
	initialized bool
}

// NewComplementaryFilter builds a filter; alpha outside (0, 1) selects the
// default of 0.98.
func NewComplementaryFilter(alpha float64) *ComplementaryFilter {
	if alpha <= 0 || alpha >= 1 {
		alpha = DefaultFilterAlpha
	}
	return &ComplementaryFilter{alpha: alpha}
}

// Reset discards the orientation estimate, e.g. on operator pose
// re-initialization after an emergency stop.
func (f *ComplementaryFilter) Reset() {
	f.roll = 0
	f.pitch = 0
	f.yaw = 0
	f.initialized = false
}

// Update fuses one IMU sample over dt seconds and returns the new estimate.
// Accel is m/s^2 in body frame, gyro rad/s.
func (f *ComplementaryFilter) Update(accel, gyro [3]float64, dt float64) (roll, pitch, yaw float64) {
	accelRoll := math.Atan2(accel[1], accel[2])
	accelPitch := math.Atan2(-accel[0], math.Hypot(accel[1], accel[2]))

	if !f.initialized {
		// Seed directly from the accelerometer so the estimate does not
		// slew in from zero.
		f.roll = accelRoll
		f.pitch = accelPitch
		f.initialized = true
		return f.roll, f.pitch, f.yaw
	}

	f.roll = f.alpha*(f.roll+gyro[0]*dt) + (1-f.alpha)*accelRoll
	f.pitch = f.alpha*(f.pitch+gyro[1]*dt) + (1-f.alpha)*accelPitch
	f.yaw = normalizeAngle(f.yaw + gyro[2]*dt)

	return f.roll, f.pitch, f.yaw
}

// normalizeAngle wraps an angle into (-pi, pi].
func normalizeAngle(a float64) float64 {
	for a > math.Pi {
		a -= 2 * math.Pi
	}
	for a <= -math.Pi {
		a += 2 * math.Pi
	}
	return a
}
