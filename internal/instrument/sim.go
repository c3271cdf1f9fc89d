package instrument

import (
	"sync"
)

// Simulated instruments stand in when a transport cannot be opened at
// startup, so the rest of the system runs unchanged in degraded mode.
// Setpoints are reached instantly and every channel reads as a fixed
// resistance.

const (
	simAmbientK       = 295.0
	simResistanceOhms = 100.0
)

// SimTempController is a temperature controller whose readings track its
// setpoints immediately.
type SimTempController struct {
	mu        sync.Mutex
	setpoints map[Loop]float64
}

func NewSimTempController() *SimTempController {
	return &SimTempController{setpoints: map[Loop]float64{
		LoopSample:  simAmbientK,
		LoopChamber: simAmbientK,
	}}
}

var _ TemperatureController = (*SimTempController)(nil)

func (s *SimTempController) SetTemperature(target float64, loop Loop, _ float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setpoints[loop] = target
	return nil
}

func (s *SimTempController) ReadTemperatures() (float64, float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setpoints[LoopSample], s.setpoints[LoopChamber], nil
}

func (s *SimTempController) GetSetTemperature(loop Loop) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setpoints[loop], nil
}

func (s *SimTempController) WaitForStable(_ float64, cancelled func() bool) bool {
	return cancelled == nil || !cancelled()
}

// SimSourceMeter reports the voltage a fixed test resistance would produce.
type SimSourceMeter struct{}

var _ SourceMeter = SimSourceMeter{}

func (SimSourceMeter) DeltaMeasure(current float64, _ string) (float64, error) {
	return current * simResistanceOhms, nil
}

func (SimSourceMeter) Abort() error { return nil }

// SimMatrix records the last routed pins and otherwise does nothing.
type SimMatrix struct {
	mu       sync.Mutex
	lastPins []int
}

var _ Matrix = (*SimMatrix)(nil)

func (m *SimMatrix) Connect(pins []int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastPins = append([]int(nil), pins...)
	return nil
}

func (m *SimMatrix) OpenAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastPins = nil
	return nil
}
