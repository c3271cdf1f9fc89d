package sweep

import (
	"errors"
	"math"
	"sync"
	"testing"

	rig "github.com/zhanghevhhe/Keithley-2182-Kelvinion-Resistance-measurement-system"
	"github.com/zhanghevhhe/Keithley-2182-Kelvinion-Resistance-measurement-system/internal/instrument"
	"github.com/zhanghevhhe/Keithley-2182-Kelvinion-Resistance-measurement-system/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type setCall struct {
	target float64
	loop   instrument.Loop
	ramp   float64
}

// fakeTempController reaches every setpoint instantly and records the
// programming calls.
type fakeTempController struct {
	mu       sync.Mutex
	calls    []setCall
	setErrOn int // 1-based call index that fails; 0 disables
	sampleK  float64
	chamberK float64
	readErr  error
}

func (f *fakeTempController) SetTemperature(target float64, loop instrument.Loop, ramp float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, setCall{target: target, loop: loop, ramp: ramp})
	if f.setErrOn > 0 && len(f.calls) == f.setErrOn {
		return errors.New("setpoint write failed")
	}
	if loop == instrument.LoopSample {
		f.sampleK = target
	} else {
		f.chamberK = target
	}
	return nil
}

func (f *fakeTempController) ReadTemperatures() (float64, float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sampleK, f.chamberK, f.readErr
}

func (f *fakeTempController) GetSetTemperature(loop instrument.Loop) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if loop == instrument.LoopSample {
		return f.sampleK, nil
	}
	return f.chamberK, nil
}

func (f *fakeTempController) WaitForStable(float64, func() bool) bool { return true }

func (f *fakeTempController) sampleLoopCalls() []setCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []setCall
	for _, c := range f.calls {
		if c.loop == instrument.LoopSample {
			out = append(out, c)
		}
	}
	return out
}

// recordingEvents captures the full event stream.
type recordingEvents struct {
	progress  []string
	blocks    []int
	setpoints []float64
	warnings  []string
	samples   []rig.MeasurementSample
}

func (r *recordingEvents) Progress(msg string)            { r.progress = append(r.progress, msg) }
func (r *recordingEvents) BlockStarted(i int)             { r.blocks = append(r.blocks, i) }
func (r *recordingEvents) SetpointChanged(t float64)      { r.setpoints = append(r.setpoints, t) }
func (r *recordingEvents) Warning(msg string)             { r.warnings = append(r.warnings, msg) }
func (r *recordingEvents) Sample(s rig.MeasurementSample) { r.samples = append(r.samples, s) }

func never() bool { return false }

func twoChannelTable() map[string]rig.ChannelConfig {
	return map[string]rig.ChannelConfig{
		"CH1": {Enabled: true, Pins: []int{1, 2}, Current: 1e-6, VoltageRange: "100mV"},
		"CH2": {Enabled: true, Pins: []int{3, 4}, Current: 1e-6, VoltageRange: "100mV"},
		"CH3": {Enabled: false, Pins: []int{5, 6}, Current: 1e-5, VoltageRange: "1V"},
	}
}

func newTestSequencer(temp *fakeTempController, meter *fakeMeter, events Events) *Sequencer {
	log := logger.Get(logger.ErrorLevel)
	bench := NewBench(&fakeMatrix{}, meter, log)
	return NewSequencer(temp, bench, events, log)
}

func TestSequencer_FullRun(t *testing.T) {
	temp := &fakeTempController{}
	events := &recordingEvents{}
	seqr := newTestSequencer(temp, &fakeMeter{voltage: 1e-4}, events)

	seq := rig.Sequence{
		{Start: 300, Stop: 298, Step: 1},
		{Start: 297, Stop: 297, Step: 0, End: true},
	}
	seqr.Run("run-1", seq, twoChannelTable(), never)

	// 300, 299, 298 from the first block plus the single 297 point.
	assert.Equal(t, []float64{300, 299, 298, 297}, events.setpoints)
	assert.Equal(t, []int{0, 1}, events.blocks)
	require.Len(t, events.samples, 4)

	for i, s := range events.samples {
		assert.Equal(t, "run-1", s.RunID)
		assert.Equal(t, events.setpoints[i], s.SetpointK)
		// Only enabled channels are measured.
		require.Len(t, s.Resistances, 2)
		assert.InDelta(t, 100.0, s.Resistances["CH1"], 1e-9)
		assert.InDelta(t, 100.0, s.Resistances["CH2"], 1e-9)
		assert.NotContains(t, s.Resistances, "CH3")
	}

	// Each point programs the sample loop at the target and the chamber loop
	// at the scaled target.
	sampleCalls := temp.sampleLoopCalls()
	require.Len(t, sampleCalls, 4)
	assert.Equal(t, 300.0, sampleCalls[0].target)
	require.Len(t, temp.calls, 8)
	assert.Equal(t, instrument.LoopChamber, temp.calls[1].loop)
	assert.InDelta(t, 300*ChamberScale, temp.calls[1].target, 1e-9)

	assert.Empty(t, events.warnings)
	require.NotEmpty(t, events.progress)
	assert.Equal(t, "Measurement sequence started.", events.progress[0])
	assert.Equal(t, "Measurement sequence finished.", events.progress[len(events.progress)-1])
	assert.Contains(t, events.progress, "End of sequence reached (END flag).")
}

func TestSequencer_BlockRampOverride(t *testing.T) {
	temp := &fakeTempController{}
	events := &recordingEvents{}
	seqr := newTestSequencer(temp, &fakeMeter{voltage: 1e-4}, events)

	seqr.Run("run-1", rig.Sequence{{Start: 100, Stop: 100, Step: 0, Ramp: 3.5}}, twoChannelTable(), never)

	calls := temp.sampleLoopCalls()
	require.Len(t, calls, 1)
	// The block ramp reaches the sample loop; the chamber loop keeps its table.
	assert.Equal(t, 3.5, calls[0].ramp)
	assert.Equal(t, 0.0, temp.calls[1].ramp)
}

func TestSequencer_Cancellation(t *testing.T) {
	temp := &fakeTempController{}
	events := &recordingEvents{}
	seqr := newTestSequencer(temp, &fakeMeter{voltage: 1e-4}, events)

	// Cancel after the first point's sample has been emitted.
	cancelled := func() bool { return len(events.samples) >= 1 }

	seqr.Run("run-1", rig.Sequence{{Start: 300, Stop: 290, Step: 1}}, twoChannelTable(), cancelled)

	assert.Len(t, events.samples, 1)
	assert.Equal(t, "Measurement sequence stopped by user.",
		events.progress[len(events.progress)-1])
}

func TestSequencer_InvalidBlockSkipped(t *testing.T) {
	temp := &fakeTempController{}
	events := &recordingEvents{}
	seqr := newTestSequencer(temp, &fakeMeter{voltage: 1e-4}, events)

	seq := rig.Sequence{
		{Start: math.NaN(), Stop: 90, Step: 1},
		{Start: 100, Stop: 100, Step: 0},
	}
	seqr.Run("run-1", seq, twoChannelTable(), never)

	// The broken block is skipped with a warning; the next block still runs.
	require.Len(t, events.warnings, 1)
	assert.Contains(t, events.warnings[0], "Block 1")
	require.Len(t, events.samples, 1)
	assert.Equal(t, 100.0, events.samples[0].SetpointK)
}

func TestSequencer_SetpointFailureSkipsPoint(t *testing.T) {
	temp := &fakeTempController{setErrOn: 1}
	events := &recordingEvents{}
	seqr := newTestSequencer(temp, &fakeMeter{voltage: 1e-4}, events)

	seqr.Run("run-1", rig.Sequence{{Start: 300, Stop: 299, Step: 1}}, twoChannelTable(), never)

	// First point is skipped with a warning; the second still runs.
	require.Len(t, events.samples, 1)
	assert.Equal(t, 299.0, events.samples[0].SetpointK)
	require.NotEmpty(t, events.warnings)
	assert.Contains(t, events.warnings[0], "set sample loop")
}

func TestSequencer_ChannelFailureRecordedAsNaN(t *testing.T) {
	temp := &fakeTempController{}
	events := &recordingEvents{}
	meter := &fakeMeter{measureErr: errors.New("compliance")}
	seqr := newTestSequencer(temp, meter, events)

	seqr.Run("run-1", rig.Sequence{{Start: 77, Stop: 77, Step: 0}}, twoChannelTable(), never)

	require.Len(t, events.samples, 1)
	s := events.samples[0]
	require.Len(t, s.Resistances, 2)
	for name, r := range s.Resistances {
		assert.True(t, r != r, "channel %s should be NaN", name)
	}
	assert.Len(t, events.warnings, 2)
}
