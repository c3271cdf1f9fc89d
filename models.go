package rig

import (
	"encoding/json"
	"math"
	"time"
)

// Event types appended to the run log.
const (
	EventProgress    = "PROGRESS"
	EventRunStart    = "RUN_START"
	EventRunFinish   = "RUN_FINISH"
	EventRunCancel   = "RUN_CANCEL"
	EventBlockStart  = "BLOCK_START"
	EventSetpoint    = "SETPOINT"
	EventSample      = "SAMPLE"
	EventWarning     = "WARNING"
	EventError       = "ERROR"
	EventConfig      = "CONFIG"
	EventInstruments = "INSTRUMENTS"
)

// TempBlock is one leg of a temperature sweep. Step sign is normalized to the
// start->stop direction during expansion; Step == 0 means a single point at
// Start. End terminates the whole sequence after this block completes.
type TempBlock struct {
	Start float64 `json:"start"`
	Stop  float64 `json:"stop"`
	Step  float64 `json:"step"`
	Ramp  float64 `json:"ramp,omitempty"` // K/min; 0 falls back to the PIDRAMP table
	End   bool    `json:"end,omitempty"`
}

// Sequence is an ordered list of temperature blocks, insertion order =
// execution order. Passed by value into a run and never mutated by the engine.
type Sequence []TempBlock

// ChannelConfig describes one logical measurement channel (CH1..CH4).
// Mutated only between runs.
type ChannelConfig struct {
	Enabled      bool    `json:"enabled"`
	Pins         []int   `json:"pins"`
	Current      float64 `json:"current"`       // excitation current, A
	VoltageRange string  `json:"voltage_range"` // 10mV | 100mV | 1V | 10V
}

// MeasurementSample is produced once per stabilized setpoint. Resistances maps
// channel name to ohms; NaN marks a channel whose measurement failed.
type MeasurementSample struct {
	RunID       string             `json:"run_id"`
	RecordedAt  time.Time          `json:"recorded_at"`
	SetpointK   float64            `json:"setpoint_k"`
	SampleK     float64            `json:"sample_k"`
	ChamberK    float64            `json:"chamber_k"`
	Resistances map[string]float64 `json:"resistances"`
}

// MarshalJSON renders non-finite floats as null so samples survive
// encoding/json (NaN is a legal in-process value but not a legal JSON one).
func (m MeasurementSample) MarshalJSON() ([]byte, error) {
	res := make(map[string]*float64, len(m.Resistances))
	for ch, r := range m.Resistances {
		res[ch] = finiteOrNil(r)
	}
	return json.Marshal(struct {
		RunID       string              `json:"run_id"`
		RecordedAt  time.Time           `json:"recorded_at"`
		SetpointK   *float64            `json:"setpoint_k"`
		SampleK     *float64            `json:"sample_k"`
		ChamberK    *float64            `json:"chamber_k"`
		Resistances map[string]*float64 `json:"resistances"`
	}{m.RunID, m.RecordedAt, finiteOrNil(m.SetpointK), finiteOrNil(m.SampleK), finiteOrNil(m.ChamberK), res})
}

// RunState is the live snapshot of a measurement session. CurrentBlock is -1
// while idle.
type RunState struct {
	RunID        string    `json:"run_id,omitempty"`
	IsRunning    bool      `json:"is_running"`
	IsCancelled  bool      `json:"is_cancelled"`
	CurrentBlock int       `json:"current_block"`
	SetpointK    float64   `json:"setpoint_k"`
	SampleK      float64   `json:"sample_k"`
	ChamberK     float64   `json:"chamber_k"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (s RunState) MarshalJSON() ([]byte, error) {
	type alias RunState
	return json.Marshal(struct {
		alias
		SetpointK *float64 `json:"setpoint_k"`
		SampleK   *float64 `json:"sample_k"`
		ChamberK  *float64 `json:"chamber_k"`
	}{alias(s), finiteOrNil(s.SetpointK), finiteOrNil(s.SampleK), finiteOrNil(s.ChamberK)})
}

// RigEvent is a single run-log entry.
type RigEvent struct {
	EventID     string    `json:"event_id"`
	OccurredAt  time.Time `json:"occurred_at"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	Metadata    any       `json:"metadata,omitempty"`
}

type User struct {
	ID           int    `json:"id"`
	Username     string `json:"username"`
	PasswordHash string `json:"-"`
}

func finiteOrNil(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
