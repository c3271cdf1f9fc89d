// Package export appends measurement samples to a CSV artifact compatible
// with the rig's downstream analysis scripts.
package export

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	rig "github.com/zhanghevhhe/Keithley-2182-Kelvinion-Resistance-measurement-system"
	"github.com/zhanghevhhe/Keithley-2182-Kelvinion-Resistance-measurement-system/internal/logger"
)

// placeholder marks channels that were disabled or failed to read. Analysis
// tooling expects this exact token, not an empty cell.
const placeholder = "XXXXXXE0"

const timestampLayout = "2006-01-02 15:04:05"

// Header returns the CSV column names for the given channel order.
func Header(channels []string) []string {
	cols := make([]string, 0, len(channels)+2)
	cols = append(cols, "Timestamp", "Temperature[K]")
	for _, ch := range channels {
		cols = append(cols, fmt.Sprintf("Resistance_%s[Ohm]", ch))
	}
	return cols
}

// Row renders one sample in the column order produced by Header. Channels
// absent from the sample, and non-finite readings, render as the placeholder.
func Row(s rig.MeasurementSample, channels []string) []string {
	cols := make([]string, 0, len(channels)+2)
	cols = append(cols, s.RecordedAt.Format(timestampLayout))
	if math.IsNaN(s.SampleK) || math.IsInf(s.SampleK, 0) {
		cols = append(cols, placeholder)
	} else {
		cols = append(cols, fmt.Sprintf("%.6e", s.SampleK))
	}
	for _, ch := range channels {
		r, ok := s.Resistances[ch]
		if !ok || math.IsNaN(r) || math.IsInf(r, 0) {
			cols = append(cols, placeholder)
			continue
		}
		cols = append(cols, fmt.Sprintf("%.6e", r))
	}
	return cols
}

// Recorder persists every sample to a CSV file. It opens the file lazily on
// the first sample, appends across runs, and writes the header only when the
// file is created empty. A write failure is logged and the sample dropped;
// recording trouble must never abort a sweep.
type Recorder struct {
	mu       sync.Mutex
	path     string
	channels []string
	log      *logger.Logger
	file     *os.File
	w        *csv.Writer
}

// NewRecorder builds a recorder for the given output path and channel set.
// Column order is the sorted channel names, fixed for the file's lifetime.
func NewRecorder(path string, channels []string, log *logger.Logger) *Recorder {
	sorted := append([]string(nil), channels...)
	sort.Strings(sorted)
	return &Recorder{path: path, channels: sorted, log: log}
}

func (r *Recorder) open() error {
	if r.w != nil {
		return nil
	}
	if dir := filepath.Dir(r.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", r.path, err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat %s: %w", r.path, err)
	}
	r.file = f
	r.w = csv.NewWriter(f)
	if st.Size() == 0 {
		if err := r.w.Write(Header(r.channels)); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
		r.w.Flush()
	}
	return r.w.Error()
}

// OnSample appends one row, flushing immediately so a crash loses at most the
// in-flight sample.
func (r *Recorder) OnSample(s rig.MeasurementSample) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s.RecordedAt.IsZero() {
		s.RecordedAt = time.Now()
	}
	if err := r.open(); err != nil {
		r.log.Errorw("csv recorder open failed", "path", r.path, "err", err)
		return
	}
	if err := r.w.Write(Row(s, r.channels)); err != nil {
		r.log.Errorw("csv recorder write failed", "path", r.path, "err", err)
		return
	}
	r.w.Flush()
	if err := r.w.Error(); err != nil {
		r.log.Errorw("csv recorder flush failed", "path", r.path, "err", err)
	}
}

// OnEvent is a no-op; the CSV artifact carries data rows only.
func (r *Recorder) OnEvent(rig.RigEvent) {}

// Close flushes and releases the file handle.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w != nil {
		r.w.Flush()
	}
	if r.file != nil {
		err := r.file.Close()
		r.file, r.w = nil, nil
		return err
	}
	return nil
}
