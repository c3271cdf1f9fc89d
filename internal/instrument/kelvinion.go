package instrument

import (
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/zhanghevhhe/Keithley-2182-Kelvinion-Resistance-measurement-system/internal/config"
	"github.com/zhanghevhhe/Keithley-2182-Kelvinion-Resistance-measurement-system/internal/transport"
)

// Stabilization protocol constants.
const (
	settleDelay      = 800 * time.Millisecond // pre-read settle per poll
	pollDelay        = 1 * time.Second        // inter-poll delay
	sleepSliceDelay  = 200 * time.Millisecond // cancellation granularity inside a sleep
	stableReadsCount = 6                      // consecutive in-tolerance reads required
	commandGapDelay  = 50 * time.Millisecond  // gap between command groups
	pidWriteDelay    = 100 * time.Millisecond // gap between the three PID writes
)

// Kelvinion owns exclusive access to the temperature-controller transport.
// The mutex is held per command group (setpoint write, ramp write, the PID
// triple, range write) — a full SetTemperature is NOT atomic as one
// transaction. Loop A and B programming may interleave at the command level;
// that is safe because the loops are independent, but two concurrent
// SetTemperature calls for the same loop are a caller-side race.
type Kelvinion struct {
	mu     sync.Mutex
	tr     transport.Transport
	tables func() *config.PidRamp // current PIDRAMP reference; captured once per operation

	// poll timing, swapped in tests
	settle time.Duration
	poll   time.Duration
	slice  time.Duration
}

// NewKelvinion wires a transport and a PIDRAMP table provider. The provider is
// invoked once per operation, so a runtime table reload affects only
// operations started after the swap.
func NewKelvinion(tr transport.Transport, tables func() *config.PidRamp) *Kelvinion {
	return &Kelvinion{
		tr:     tr,
		tables: tables,
		settle: settleDelay,
		poll:   pollDelay,
		slice:  sleepSliceDelay,
	}
}

var _ TemperatureController = (*Kelvinion)(nil)

func (k *Kelvinion) write(cmd string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.tr.Write(cmd)
}

func (k *Kelvinion) query(cmd string) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.tr.Query(cmd)
}

// parseKelvin decodes a bracketed instrument reply. The payload sits between
// one leading and three trailing characters; a bare float is accepted as a
// fallback, anything else is NaN.
func parseKelvin(raw string) float64 {
	if len(raw) > 4 {
		if v, err := strconv.ParseFloat(raw[1:len(raw)-3], 64); err == nil {
			return v
		}
	}
	if v, err := strconv.ParseFloat(raw, 64); err == nil {
		return v
	}
	return math.NaN()
}

func formatTemp(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

// SetTemperature programs setpoint, ramp, PID and range for one loop.
func (k *Kelvinion) SetTemperature(target float64, loop Loop, rampOverride float64) error {
	if err := k.write(fmt.Sprintf("[SET:SETP:%s:%sK]", loop, formatTemp(target))); err != nil {
		return fmt.Errorf("setpoint %s: %w", loop, err)
	}
	time.Sleep(commandGapDelay)
	if err := k.SetRamp(target, loop, rampOverride); err != nil {
		return err
	}
	time.Sleep(commandGapDelay)
	if err := k.SetPid(target, loop); err != nil {
		return err
	}
	time.Sleep(commandGapDelay)
	return k.SetRange(target, loop)
}

// SetRamp writes the ramp rate for a loop: the override when given, otherwise
// the first matching table entry, otherwise the fixed default.
func (k *Kelvinion) SetRamp(target float64, loop Loop, rampOverride float64) error {
	ramp := rampOverride
	if ramp <= 0 {
		tables := k.tables()
		if loop == LoopChamber {
			ramp = tables.ChamberRampFor(target)
		} else {
			ramp = tables.SampleRampFor(target)
		}
	}
	if err := k.write(fmt.Sprintf("[SET:RAMP:%s:%s]", loop, formatTemp(ramp))); err != nil {
		return fmt.Errorf("ramp %s: %w", loop, err)
	}
	return nil
}

// SetPid writes the P/I gains for a loop from the table (KD is always zeroed).
// The three writes share one lock acquisition. No matching entry means no
// write at all.
func (k *Kelvinion) SetPid(target float64, loop Loop) error {
	var (
		entry config.PidEntry
		ok    bool
	)
	tables := k.tables()
	if loop == LoopChamber {
		entry, ok = tables.ChamberPidFor(target)
	} else {
		entry, ok = tables.SamplePidFor(target)
	}
	if !ok {
		return nil
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.tr.Write(fmt.Sprintf("[SET:PID:%s:KP:%s]", loop, formatTemp(entry.P))); err != nil {
		return fmt.Errorf("pid %s KP: %w", loop, err)
	}
	time.Sleep(pidWriteDelay)
	if err := k.tr.Write(fmt.Sprintf("[SET:PID:%s:KI:%s]", loop, formatTemp(entry.I))); err != nil {
		return fmt.Errorf("pid %s KI: %w", loop, err)
	}
	time.Sleep(pidWriteDelay)
	if err := k.tr.Write(fmt.Sprintf("[SET:PID:%s:KD:0]", loop)); err != nil {
		return fmt.Errorf("pid %s KD: %w", loop, err)
	}
	return nil
}

// SetRange writes the hardware heater range for a loop; no matching table
// entry means no write.
func (k *Kelvinion) SetRange(target float64, loop Loop) error {
	var (
		label string
		ok    bool
	)
	tables := k.tables()
	if loop == LoopChamber {
		label, ok = tables.ChamberRangeFor(target)
	} else {
		label, ok = tables.SampleRangeFor(target)
	}
	if !ok {
		return nil
	}
	if err := k.write(fmt.Sprintf("[SET:RANGE:%s:%s]", loop, label)); err != nil {
		return fmt.Errorf("range %s: %w", loop, err)
	}
	return nil
}

// ReadTemperatures reads the sample (F) and chamber (D) channels inside one
// lock acquisition, so no interleaved write from another goroutine can land
// between the two queries.
func (k *Kelvinion) ReadTemperatures() (float64, float64, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	rawF, err := k.tr.Query("[READ:K:F]")
	if err != nil {
		return math.NaN(), math.NaN(), fmt.Errorf("read sample temperature: %w", err)
	}
	rawD, err := k.tr.Query("[READ:K:D]")
	if err != nil {
		return parseKelvin(rawF), math.NaN(), fmt.Errorf("read chamber temperature: %w", err)
	}
	return parseKelvin(rawF), parseKelvin(rawD), nil
}

// GetSetTemperature reads the active setpoint for a loop.
func (k *Kelvinion) GetSetTemperature(loop Loop) (float64, error) {
	raw, err := k.query(fmt.Sprintf("[READ:SETP:%s]", loop))
	if err != nil {
		return math.NaN(), fmt.Errorf("read setpoint %s: %w", loop, err)
	}
	return parseKelvin(raw), nil
}

// sleep waits for d, checking the cancellation predicate every slice.
// Returns false when cancelled.
func (k *Kelvinion) sleep(d time.Duration, cancelled func() bool) bool {
	for elapsed := time.Duration(0); elapsed < d; elapsed += k.slice {
		if cancelled != nil && cancelled() {
			return false
		}
		step := k.slice
		if remaining := d - elapsed; remaining < step {
			step = remaining
		}
		time.Sleep(step)
	}
	return true
}

// WaitForStable implements the two-phase settle protocol: poll the sample
// channel until it first enters tolerance, then require stableReadsCount
// consecutive in-tolerance reads — any miss resets the counter to zero.
// Cancellation is cooperative: checked at every poll boundary, never
// mid-query; on cancel the method returns false without further hardware
// traffic.
func (k *Kelvinion) WaitForStable(target float64, cancelled func() bool) bool {
	tol := k.tables().ToleranceFor(target)

	for {
		if cancelled != nil && cancelled() {
			return false
		}
		if !k.sleep(k.settle, cancelled) {
			return false
		}
		t, _, _ := k.ReadTemperatures()
		if inTolerance(t, target, tol) {
			break
		}
		if !k.sleep(k.poll, cancelled) {
			return false
		}
	}

	valid := 0
	for valid < stableReadsCount {
		if cancelled != nil && cancelled() {
			return false
		}
		if !k.sleep(k.settle, cancelled) {
			return false
		}
		t, _, _ := k.ReadTemperatures()
		if inTolerance(t, target, tol) {
			valid++
		} else {
			valid = 0
		}
		if !k.sleep(k.poll, cancelled) {
			return false
		}
	}
	return true
}

// inTolerance is a strict two-sided check; NaN readings never pass.
func inTolerance(t, target, tol float64) bool {
	return t-target < tol && target-t < tol
}
