package sweep

import (
	"errors"
	"fmt"
	"math"
	"sync"

	rig "github.com/zhanghevhhe/Keithley-2182-Kelvinion-Resistance-measurement-system"
	"github.com/zhanghevhhe/Keithley-2182-Kelvinion-Resistance-measurement-system/internal/instrument"
	"github.com/zhanghevhhe/Keithley-2182-Kelvinion-Resistance-measurement-system/internal/logger"
)

// currentFloor is the excitation below which resistance is reported as
// infinite instead of dividing by near-zero.
const currentFloor = 1e-15

var errNoPins = errors.New("no pins configured")

// Bench is the exclusive pairing of switch matrix and source-meter. The mutex
// serializes the sequencer's per-channel measurements against manual ad-hoc
// measurements; the two contend for the same physical instruments.
type Bench struct {
	mu     sync.Mutex
	matrix instrument.Matrix
	meter  instrument.SourceMeter
	log    *logger.Logger
}

func NewBench(matrix instrument.Matrix, meter instrument.SourceMeter, log *logger.Logger) *Bench {
	return &Bench{matrix: matrix, meter: meter, log: log}
}

// MeasureChannel routes one channel through the matrix, runs a delta
// measurement and derives resistance. On any failure the source-meter is
// aborted best-effort and NaN is returned with the error; the relays are
// always reopened afterwards, success or failure.
func (b *Bench) MeasureChannel(name string, cfg rig.ChannelConfig) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(cfg.Pins) == 0 {
		return math.NaN(), fmt.Errorf("channel %s: %w", name, errNoPins)
	}

	defer func() {
		if err := b.matrix.OpenAll(); err != nil {
			b.log.Errorw("matrix open_all failed", "channel", name, "err", err)
		}
	}()

	if err := b.matrix.Connect(cfg.Pins); err != nil {
		return math.NaN(), fmt.Errorf("channel %s: connect pins %v: %w", name, cfg.Pins, err)
	}

	voltage, err := b.meter.DeltaMeasure(cfg.Current, cfg.VoltageRange)
	if err != nil {
		if abortErr := b.meter.Abort(); abortErr != nil {
			b.log.Errorw("source-meter abort failed", "channel", name, "err", abortErr)
		}
		return math.NaN(), fmt.Errorf("channel %s: delta measure: %w", name, err)
	}

	if math.Abs(cfg.Current) < currentFloor {
		return math.Inf(1), nil
	}
	resistance := voltage / cfg.Current
	b.log.Infow("channel measured", "channel", name, "resistance_ohm", resistance,
		"voltage_v", voltage, "current_a", cfg.Current)
	return resistance, nil
}
