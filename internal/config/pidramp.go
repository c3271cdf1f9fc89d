package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Fallbacks when no table entry covers a target temperature.
const (
	DefaultRamp      = 1.0 // K/min
	DefaultTolerance = 0.1 // K
)

type RampEntry struct {
	Min  float64 `mapstructure:"min" json:"min"`
	Max  float64 `mapstructure:"max" json:"max"`
	Ramp float64 `mapstructure:"ramp" json:"ramp"`
}

type PidEntry struct {
	Min float64 `mapstructure:"min" json:"min"`
	Max float64 `mapstructure:"max" json:"max"`
	P   float64 `mapstructure:"p" json:"p"`
	I   float64 `mapstructure:"i" json:"i"`
}

type RangeEntry struct {
	Min   float64 `mapstructure:"min" json:"min"`
	Max   float64 `mapstructure:"max" json:"max"`
	Range string  `mapstructure:"range" json:"range"`
}

type ToleranceEntry struct {
	Min       float64 `mapstructure:"min" json:"min"`
	Max       float64 `mapstructure:"max" json:"max"`
	Tolerance float64 `mapstructure:"tolerance" json:"tolerance"`
}

// PidRamp holds the temperature-range-indexed controller tables. All lookups
// scan in declaration order and take the first entry whose inclusive
// [Min,Max] contains the target; overlap resolution depends on that
// first-match tie-break, so it must not be changed to nearest- or last-match.
type PidRamp struct {
	SampleRamp      []RampEntry      `mapstructure:"sample_ramp" json:"sample_ramp"`
	ChamberRamp     []RampEntry      `mapstructure:"chamber_ramp" json:"chamber_ramp"`
	SamplePid       []PidEntry       `mapstructure:"sample_pid" json:"sample_pid"`
	ChamberPid      []PidEntry       `mapstructure:"chamber_pid" json:"chamber_pid"`
	SampleRange     []RangeEntry     `mapstructure:"sample_range" json:"sample_range"`
	ChamberRange    []RangeEntry     `mapstructure:"chamber_range" json:"chamber_range"`
	ToleranceRanges []ToleranceEntry `mapstructure:"tolerance_ranges" json:"tolerance_ranges"`
}

func rampFor(entries []RampEntry, target float64) float64 {
	for _, e := range entries {
		if e.Min <= target && target <= e.Max {
			return e.Ramp
		}
	}
	return DefaultRamp
}

func pidFor(entries []PidEntry, target float64) (PidEntry, bool) {
	for _, e := range entries {
		if e.Min <= target && target <= e.Max {
			return e, true
		}
	}
	return PidEntry{}, false
}

func rangeFor(entries []RangeEntry, target float64) (string, bool) {
	for _, e := range entries {
		if e.Min <= target && target <= e.Max {
			return e.Range, true
		}
	}
	return "", false
}

// SampleRampFor returns the loop-A ramp rate for a target, or DefaultRamp.
func (p *PidRamp) SampleRampFor(target float64) float64 { return rampFor(p.SampleRamp, target) }

// ChamberRampFor returns the loop-B ramp rate for a target, or DefaultRamp.
func (p *PidRamp) ChamberRampFor(target float64) float64 { return rampFor(p.ChamberRamp, target) }

// SamplePidFor returns the loop-A PID gains for a target. The second return
// is false when no entry matches; callers then skip the PID write entirely.
func (p *PidRamp) SamplePidFor(target float64) (PidEntry, bool) { return pidFor(p.SamplePid, target) }

// ChamberPidFor returns the loop-B PID gains for a target.
func (p *PidRamp) ChamberPidFor(target float64) (PidEntry, bool) {
	return pidFor(p.ChamberPid, target)
}

// SampleRangeFor returns the loop-A hardware range label for a target.
func (p *PidRamp) SampleRangeFor(target float64) (string, bool) {
	return rangeFor(p.SampleRange, target)
}

// ChamberRangeFor returns the loop-B hardware range label for a target.
func (p *PidRamp) ChamberRangeFor(target float64) (string, bool) {
	return rangeFor(p.ChamberRange, target)
}

// ToleranceFor returns the stabilization tolerance for a target, or
// DefaultTolerance when no range matches.
func (p *PidRamp) ToleranceFor(target float64) float64 {
	for _, e := range p.ToleranceRanges {
		if e.Min <= target && target <= e.Max {
			return e.Tolerance
		}
	}
	return DefaultTolerance
}

// expectedPidRampKeys are the sections a complete PIDRAMP config carries;
// reload reports the absent ones as a warning rather than failing.
var expectedPidRampKeys = []string{
	"sample_ramp", "chamber_ramp", "sample_pid", "chamber_pid", "tolerance_ranges",
}

func decodePidRamp(v *viper.Viper) (*PidRamp, []string, error) {
	var pr PidRamp
	if err := v.UnmarshalKey("pidramp", &pr); err != nil {
		return nil, nil, fmt.Errorf("decode pidramp: %w", err)
	}
	var missing []string
	for _, key := range expectedPidRampKeys {
		if !v.IsSet("pidramp." + key) {
			missing = append(missing, key)
		}
	}
	return &pr, missing, nil
}
