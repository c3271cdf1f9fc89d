// Package session owns the measurement run lifecycle: it starts the worker
// goroutine running the sequencer, tracks run/cancel state, polls the
// temperature controller, and fans progress/data events out to sinks.
package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	rig "github.com/zhanghevhhe/Keithley-2182-Kelvinion-Resistance-measurement-system"
	"github.com/zhanghevhhe/Keithley-2182-Kelvinion-Resistance-measurement-system/internal/config"
	"github.com/zhanghevhhe/Keithley-2182-Kelvinion-Resistance-measurement-system/internal/instrument"
	"github.com/zhanghevhhe/Keithley-2182-Kelvinion-Resistance-measurement-system/internal/logger"
	"github.com/zhanghevhhe/Keithley-2182-Kelvinion-Resistance-measurement-system/internal/sweep"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sourcegraph/conc"
)

var (
	ErrAlreadyRunning = errors.New("a measurement run is already active")
	ErrNotRunning     = errors.New("no measurement run is active")
	ErrEmptySequence  = errors.New("sequence has no temperature blocks")
	ErrRunActive      = errors.New("channel configuration cannot change while a run is active")
	ErrUnknownChannel = errors.New("unknown channel")
)

// Session orchestrates measurement runs. One Session lives for the process
// lifetime; at most one run is active at a time. Cancellation is cooperative:
// the worker observes the flag at the sequencer's checkpoints, so a stop
// request can lag by one in-flight hardware operation.
type Session struct {
	log   *logger.Logger
	temp  instrument.TemperatureController
	bench *sweep.Bench
	cfg   *config.Store

	running   atomic.Bool
	cancelled atomic.Bool
	block     atomic.Int64

	mu    sync.Mutex
	runID string
	sinks []Sink

	setpointBits atomic.Uint64
	sampleBits   atomic.Uint64
	chamberBits  atomic.Uint64
	updatedNano  atomic.Int64

	lastResistance *xsync.MapOf[string, float64]

	wg conc.WaitGroup
}

func New(temp instrument.TemperatureController, bench *sweep.Bench, cfg *config.Store, log *logger.Logger) *Session {
	s := &Session{
		log:            log,
		temp:           temp,
		bench:          bench,
		cfg:            cfg,
		lastResistance: xsync.NewMapOf[string, float64](),
	}
	s.block.Store(-1)
	s.storeFloat(&s.setpointBits, math.NaN())
	s.storeFloat(&s.sampleBits, math.NaN())
	s.storeFloat(&s.chamberBits, math.NaN())
	return s
}

// AddSink registers an event/data consumer. Call during wiring, before Start.
func (s *Session) AddSink(sink Sink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinks = append(s.sinks, sink)
}

func (s *Session) storeFloat(bits *atomic.Uint64, v float64) { bits.Store(math.Float64bits(v)) }
func (s *Session) loadFloat(bits *atomic.Uint64) float64     { return math.Float64frombits(bits.Load()) }

// Start launches a run for the given sequence and returns its run ID.
func (s *Session) Start(seq rig.Sequence) (string, error) {
	if len(seq) == 0 {
		return "", ErrEmptySequence
	}
	if !s.running.CompareAndSwap(false, true) {
		return "", ErrAlreadyRunning
	}
	s.cancelled.Store(false)
	s.block.Store(-1)

	runID := uuid.NewString()
	s.mu.Lock()
	s.runID = runID
	s.mu.Unlock()

	// Channel table captured once; mutation during a run is rejected anyway.
	channels := s.cfg.Channels()

	s.publish(rig.EventRunStart, "Measurement run started", map[string]any{
		"run_id": runID, "blocks": len(seq), "setpoints": sweep.Plan(seq),
	})

	s.wg.Go(func() {
		seqr := sweep.NewSequencer(s.temp, s.bench, s, s.log)
		seqr.Run(runID, seq, channels, s.cancelled.Load)

		wasCancelled := s.cancelled.Load()
		s.block.Store(-1)
		s.running.Store(false)
		if wasCancelled {
			s.publish(rig.EventRunCancel, "Measurement run cancelled", map[string]any{"run_id": runID})
		} else {
			s.publish(rig.EventRunFinish, "Measurement run finished", map[string]any{"run_id": runID})
		}
	})
	return runID, nil
}

// Stop requests cooperative cancellation of the active run.
func (s *Session) Stop() error {
	if !s.running.Load() {
		return ErrNotRunning
	}
	s.cancelled.Store(true)
	return nil
}

// IsRunning reports whether a run is active.
func (s *Session) IsRunning() bool { return s.running.Load() }

// State returns a consistent snapshot of the session.
func (s *Session) State() rig.RunState {
	s.mu.Lock()
	runID := s.runID
	s.mu.Unlock()

	st := rig.RunState{
		IsRunning:    s.running.Load(),
		IsCancelled:  s.cancelled.Load(),
		CurrentBlock: int(s.block.Load()),
		SetpointK:    s.loadFloat(&s.setpointBits),
		SampleK:      s.loadFloat(&s.sampleBits),
		ChamberK:     s.loadFloat(&s.chamberBits),
		UpdatedAt:    time.Unix(0, s.updatedNano.Load()).UTC(),
	}
	if st.IsRunning {
		st.RunID = runID
	}
	return st
}

// LastResistances returns the latest per-channel readings.
func (s *Session) LastResistances() map[string]float64 {
	out := make(map[string]float64)
	s.lastResistance.Range(func(name string, r float64) bool {
		out[name] = r
		return true
	})
	return out
}

// Poll reads both temperature channels at the given cadence until the context
// is cancelled. This is the foreground 1 Hz monitor; it shares the controller
// transport with the worker and relies on the controller's lock for atomic
// dual reads.
func (s *Session) Poll(ctx context.Context, tick time.Duration) {
	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			sampleK, chamberK, err := s.temp.ReadTemperatures()
			if err != nil {
				s.log.Warnw("temperature poll failed", "err", err)
			}
			s.storeFloat(&s.sampleBits, sampleK)
			s.storeFloat(&s.chamberBits, chamberK)
			s.updatedNano.Store(time.Now().UnixNano())
		}
	}
}

// ManualSetTemperature applies an operator setpoint outside the sequencer:
// loop A at the target (with optional ramp override), loop B scaled by the
// chamber ratio. Safe concurrently with a run at the transport level; the
// operator owns the policy question of interfering with an active sweep.
func (s *Session) ManualSetTemperature(target, rampOverride float64) error {
	if err := s.temp.SetTemperature(target, instrument.LoopSample, rampOverride); err != nil {
		return fmt.Errorf("set sample loop: %w", err)
	}
	if err := s.temp.SetTemperature(target*sweep.ChamberScale, instrument.LoopChamber, 0); err != nil {
		return fmt.Errorf("set chamber loop: %w", err)
	}
	s.publish(rig.EventSetpoint, fmt.Sprintf("Manual setpoint %.2f K applied", target), map[string]any{
		"target_k": target, "ramp_override": rampOverride, "manual": true,
	})
	return nil
}

// MeasureChannelNow performs one ad-hoc measurement of a configured channel,
// serialized against any active run by the bench lock.
func (s *Session) MeasureChannelNow(name string) (float64, error) {
	cfg, ok := s.cfg.Channel(name)
	if !ok {
		return math.NaN(), fmt.Errorf("%w: %s", ErrUnknownChannel, name)
	}
	r, err := s.bench.MeasureChannel(name, cfg)
	if err != nil {
		s.Warning(fmt.Sprintf("Manual measurement error on channel %s: %v", name, err))
		return r, err
	}
	s.lastResistance.Store(name, r)
	return r, nil
}

// UpdateChannels replaces the channel table; rejected while a run is active.
func (s *Session) UpdateChannels(chans map[string]rig.ChannelConfig) error {
	if s.running.Load() {
		return ErrRunActive
	}
	s.cfg.SetChannels(chans)
	s.publish(rig.EventConfig, "Channel configuration updated", map[string]any{"channels": len(chans)})
	return nil
}

// ReloadPidRamp swaps in freshly loaded PIDRAMP tables. In-flight operations
// keep the reference they captured.
func (s *Session) ReloadPidRamp() ([]string, error) {
	missing, err := s.cfg.ReloadPidRamp()
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		s.Warning(fmt.Sprintf("Loaded PIDRAMP configuration missing expected sections: %v", missing))
	}
	s.publish(rig.EventConfig, "PIDRAMP configuration reloaded", map[string]any{"missing": missing})
	return missing, nil
}

// Close waits for the worker goroutine to drain; Stop first for a prompt exit.
func (s *Session) Close() {
	s.wg.Wait()
}

// ---- sweep.Events implementation (worker-goroutine callbacks) ----

var _ sweep.Events = (*Session)(nil)

func (s *Session) Progress(msg string) {
	s.publish(rig.EventProgress, msg, nil)
}

func (s *Session) BlockStarted(index int) {
	s.block.Store(int64(index))
	s.publish(rig.EventBlockStart, fmt.Sprintf("Block %d started", index+1), map[string]any{"block": index})
}

func (s *Session) SetpointChanged(target float64) {
	s.storeFloat(&s.setpointBits, target)
	s.publish(rig.EventSetpoint, fmt.Sprintf("Setpoint %.2f K", target), map[string]any{"target_k": target})
}

func (s *Session) Warning(msg string) {
	s.log.Warnw("run warning", "msg", msg)
	s.publish(rig.EventWarning, msg, nil)
}

func (s *Session) Sample(sample rig.MeasurementSample) {
	for name, r := range sample.Resistances {
		s.lastResistance.Store(name, r)
	}
	s.log.Infow("sample ready", "run_id", sample.RunID,
		"setpoint_k", sample.SetpointK, "sample_k", sample.SampleK, "channels", len(sample.Resistances))
	s.mu.Lock()
	sinks := append([]Sink(nil), s.sinks...)
	s.mu.Unlock()
	for _, sink := range sinks {
		sink.OnSample(sample)
	}
}

func (s *Session) publish(typ, desc string, meta map[string]any) {
	ev := rig.RigEvent{
		EventID:     uuid.NewString(),
		OccurredAt:  time.Now().UTC(),
		Type:        typ,
		Description: desc,
	}
	if meta != nil {
		ev.Metadata = meta
	}
	if typ != rig.EventProgress {
		s.log.Infow("session event", "type", typ, "desc", desc)
	}
	s.mu.Lock()
	sinks := append([]Sink(nil), s.sinks...)
	s.mu.Unlock()
	for _, sink := range sinks {
		sink.OnEvent(ev)
	}
}
