// Package instrument drives the three bench instruments: the Kelvinion
// temperature controller, the 6221/2182 delta source-meter pair and the 3706
// switch matrix. Each controller owns serialized access to its transport;
// simulated variants implement the same contracts for degraded-mode startup.
package instrument

// Loop identifies one of the two temperature-control channels.
type Loop string

const (
	LoopSample  Loop = "A" // sample stage
	LoopChamber Loop = "B" // sample chamber
)

// TemperatureController programs setpoints and reports temperatures.
type TemperatureController interface {
	// SetTemperature writes setpoint, ramp, PID gains and hardware range for
	// one loop. rampOverride > 0 bypasses the ramp table.
	SetTemperature(target float64, loop Loop, rampOverride float64) error
	// ReadTemperatures atomically reads sample and chamber temperature.
	// A channel whose reply fails to parse comes back as NaN.
	ReadTemperatures() (sampleK, chamberK float64, err error)
	// GetSetTemperature reads the active setpoint for a loop.
	GetSetTemperature(loop Loop) (float64, error)
	// WaitForStable blocks until the sample loop holds the target, or until
	// the cancellation predicate turns true at a poll boundary. Returns true
	// only when stability was confirmed.
	WaitForStable(target float64, cancelled func() bool) bool
}

// SourceMeter performs delta (current-reversal) voltage measurements.
type SourceMeter interface {
	// DeltaMeasure arms a ±current reversal acquisition and returns the
	// averaged voltage after the settle delay.
	DeltaMeasure(current float64, voltageRange string) (float64, error)
	// Abort stops an in-flight acquisition, best-effort.
	Abort() error
}

// Matrix routes one measurement channel through the relay matrix.
type Matrix interface {
	// Connect opens all paths, then closes the path for each pin.
	Connect(pins []int) error
	// OpenAll disconnects every channel.
	OpenAll() error
}
