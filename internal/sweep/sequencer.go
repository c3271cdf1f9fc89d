package sweep

import (
	"fmt"
	"sort"
	"time"

	rig "github.com/zhanghevhhe/Keithley-2182-Kelvinion-Resistance-measurement-system"
	"github.com/zhanghevhhe/Keithley-2182-Kelvinion-Resistance-measurement-system/internal/instrument"
	"github.com/zhanghevhhe/Keithley-2182-Kelvinion-Resistance-measurement-system/internal/logger"
)

// ChamberScale is the fixed chamber-to-sample setpoint ratio; the chamber
// stage is held slightly below the sample stage to match the thermal link
// between them.
const ChamberScale = 0.968

// Events receives the sequencer's progress stream. All callbacks run on the
// sequencer goroutine and must not block.
type Events interface {
	Progress(msg string)
	BlockStarted(index int)
	SetpointChanged(target float64)
	Sample(s rig.MeasurementSample)
	Warning(msg string)
}

// Sequencer expands a sequence into setpoints and drives one measurement run.
// It is single-use per run and driven by exactly one goroutine.
type Sequencer struct {
	temp   instrument.TemperatureController
	bench  *Bench
	events Events
	log    *logger.Logger
}

func NewSequencer(temp instrument.TemperatureController, bench *Bench, events Events, log *logger.Logger) *Sequencer {
	return &Sequencer{temp: temp, bench: bench, events: events, log: log}
}

// enabledChannelNames returns the enabled channels sorted by name, the
// deterministic measurement order within a point.
func enabledChannelNames(channels map[string]rig.ChannelConfig) []string {
	names := make([]string, 0, len(channels))
	for name, cfg := range channels {
		if cfg.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Run executes the sequence to completion or cancellation. The cancellation
// predicate is polled before each point, after the stability wait, and around
// each channel measurement; an in-flight hardware operation always completes.
func (s *Sequencer) Run(runID string, seq rig.Sequence, channels map[string]rig.ChannelConfig, cancelled func() bool) {
	s.events.Progress("Measurement sequence started.")
	s.log.Infow("target temperature sequence", "run_id", runID, "points", Plan(seq))

	enabled := enabledChannelNames(channels)

blocks:
	for i, block := range seq {
		if cancelled() {
			break
		}
		s.events.BlockStarted(i)

		points := ExpandBlock(block)
		if len(points) == 0 {
			s.events.Warning(fmt.Sprintf("Block %d: invalid parameters or empty sequence. Skipping.", i+1))
			continue
		}

		for _, point := range points {
			if cancelled() {
				break blocks
			}

			s.events.SetpointChanged(point)
			s.events.Progress(fmt.Sprintf("Block %d/%d: Setting temperature to %.2f K...", i+1, len(seq), point))
			if !s.program(point, block.Ramp, i) {
				continue
			}

			s.events.Progress(fmt.Sprintf("Block %d/%d: Waiting for temperature to stabilize at %.2f K...", i+1, len(seq), point))
			s.temp.WaitForStable(point, cancelled)
			if cancelled() {
				break blocks
			}

			s.events.Progress(fmt.Sprintf("Block %d/%d: Measuring at %.2f K...", i+1, len(seq), point))
			resistances, complete := s.measurePoint(enabled, channels, cancelled)
			if !complete {
				break blocks
			}

			sampleK, chamberK, err := s.temp.ReadTemperatures()
			if err != nil {
				s.events.Warning(fmt.Sprintf("Temperature readback failed: %v", err))
			}
			s.events.Sample(rig.MeasurementSample{
				RunID:       runID,
				RecordedAt:  time.Now(),
				SetpointK:   point,
				SampleK:     sampleK,
				ChamberK:    chamberK,
				Resistances: resistances,
			})
		}

		if cancelled() {
			break
		}
		if block.End {
			s.events.Progress("End of sequence reached (END flag).")
			break
		}
	}

	if cancelled() {
		s.events.Progress("Measurement sequence stopped by user.")
	} else {
		s.events.Progress("Measurement sequence finished.")
	}
}

// program writes both loop setpoints for a point: loop A at the target, loop B
// scaled by ChamberScale. A failed write skips the point with a warning
// rather than stalling in the stability wait.
func (s *Sequencer) program(point, rampOverride float64, blockIdx int) bool {
	if err := s.temp.SetTemperature(point, instrument.LoopSample, rampOverride); err != nil {
		s.events.Warning(fmt.Sprintf("Block %d: set sample loop to %.2f K failed: %v", blockIdx+1, point, err))
		return false
	}
	if err := s.temp.SetTemperature(point*ChamberScale, instrument.LoopChamber, 0); err != nil {
		s.events.Warning(fmt.Sprintf("Block %d: set chamber loop to %.2f K failed: %v", blockIdx+1, point*ChamberScale, err))
	}
	return true
}

// measurePoint measures every enabled channel in order. A failed channel is
// recorded as NaN with a warning and never stops the remaining channels.
// Returns complete=false when cancellation interrupted the point.
func (s *Sequencer) measurePoint(enabled []string, channels map[string]rig.ChannelConfig, cancelled func() bool) (map[string]float64, bool) {
	resistances := make(map[string]float64, len(enabled))
	for _, name := range enabled {
		if cancelled() {
			return nil, false
		}
		s.events.Progress("Measuring channel: " + name)
		r, err := s.bench.MeasureChannel(name, channels[name])
		if err != nil {
			s.events.Warning(fmt.Sprintf("Measurement error on channel %s: %v", name, err))
		}
		resistances[name] = r
	}
	if cancelled() {
		return nil, false
	}
	return resistances, true
}
