package service

import (
	"errors"
	"math"

	rig "github.com/zhanghevhhe/Keithley-2182-Kelvinion-Resistance-measurement-system"
	"github.com/zhanghevhhe/Keithley-2182-Kelvinion-Resistance-measurement-system/internal/session"
	"github.com/zhanghevhhe/Keithley-2182-Kelvinion-Resistance-measurement-system/internal/sweep"
)

// ErrInvalidTarget rejects non-positive or non-finite manual setpoints.
var ErrInvalidTarget = errors.New("target temperature must be a positive finite value in kelvin")

type RunService struct {
	ctrl Controller
}

func NewRunService(ctrl Controller) *RunService {
	return &RunService{ctrl: ctrl}
}

// Start launches a temperature sweep and returns its run ID.
func (s *RunService) Start(seq rig.Sequence) (string, error) {
	return s.ctrl.Start(seq)
}

// Stop requests cancellation of the active run.
func (s *RunService) Stop() error {
	return s.ctrl.Stop()
}

// Preview expands a sequence into its setpoint list without touching
// hardware, so the operator can sanity-check a sweep before starting it.
func (s *RunService) Preview(seq rig.Sequence) ([]float64, error) {
	if len(seq) == 0 {
		return nil, session.ErrEmptySequence
	}
	return sweep.Plan(seq), nil
}

// SetTemperature applies a manual setpoint outside the sequencer. A ramp of
// zero keeps the configured ramp tables in charge.
func (s *RunService) SetTemperature(target, ramp float64) error {
	if math.IsNaN(target) || math.IsInf(target, 0) || target <= 0 {
		return ErrInvalidTarget
	}
	return s.ctrl.ManualSetTemperature(target, ramp)
}

// MeasureChannel performs one ad-hoc resistance measurement.
func (s *RunService) MeasureChannel(name string) (float64, error) {
	return s.ctrl.MeasureChannelNow(name)
}

// UpdateChannels replaces the channel table; rejected while a run is active.
func (s *RunService) UpdateChannels(chans map[string]rig.ChannelConfig) error {
	return s.ctrl.UpdateChannels(chans)
}

// ReloadPidRamp re-reads the PIDRAMP tables from disk and reports any
// expected sections the new file is missing.
func (s *RunService) ReloadPidRamp() ([]string, error) {
	return s.ctrl.ReloadPidRamp()
}
