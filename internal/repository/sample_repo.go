package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	rig "github.com/zhanghevhhe/Keithley-2182-Kelvinion-Resistance-measurement-system"

	"github.com/google/uuid"
)

type SampleSQLite struct {
	db *sql.DB
}

func NewSampleSQLite(db *sql.DB) *SampleSQLite { return &SampleSQLite{db: db} }

const (
	insertSampleSQL = `
		INSERT INTO samples (id, run_id, recorded_at, setpoint_k, sample_k, chamber_k, resistances)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	selectSampleColumns = `SELECT run_id, recorded_at, setpoint_k, sample_k, chamber_k, resistances FROM samples`
)

// marshalResistances encodes the channel map as JSON, with NaN/Inf rendered
// as null so the payload stays valid JSON.
func marshalResistances(res map[string]float64) (string, error) {
	enc := make(map[string]*float64, len(res))
	for ch, r := range res {
		if math.IsNaN(r) || math.IsInf(r, 0) {
			enc[ch] = nil
			continue
		}
		v := r
		enc[ch] = &v
	}
	b, err := json.Marshal(enc)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// unmarshalResistances is the inverse; null comes back as NaN.
func unmarshalResistances(s string) (map[string]float64, error) {
	if s == "" {
		return nil, nil
	}
	var enc map[string]*float64
	if err := json.Unmarshal([]byte(s), &enc); err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(enc))
	for ch, v := range enc {
		if v == nil {
			out[ch] = math.NaN()
		} else {
			out[ch] = *v
		}
	}
	return out, nil
}

// nullableK stores NaN temperatures as SQL NULL.
func nullableK(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

// Append inserts one sample row.
func (r *SampleSQLite) Append(ctx context.Context, s rig.MeasurementSample) error {
	resJSON, err := marshalResistances(s.Resistances)
	if err != nil {
		return fmt.Errorf("marshal resistances: %w", err)
	}

	recordedAt := s.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now()
	}

	_, err = r.db.ExecContext(ctx, insertSampleSQL,
		uuid.NewString(),
		s.RunID,
		recordedAt.UTC(),
		nullableK(s.SetpointK),
		nullableK(s.SampleK),
		nullableK(s.ChamberK),
		resJSON,
	)
	if err != nil {
		return fmt.Errorf("insert sample: %w", err)
	}
	return nil
}

// List returns samples filtered by run and/or inclusive time range, in
// recording order.
func (r *SampleSQLite) List(ctx context.Context, runID string, from, to time.Time) ([]rig.MeasurementSample, error) {
	var (
		conds []string
		args  []any
	)
	if runID != "" {
		conds = append(conds, "run_id = ?")
		args = append(args, runID)
	}
	if !from.IsZero() {
		conds = append(conds, "recorded_at >= ?")
		args = append(args, from.UTC())
	}
	if !to.IsZero() {
		conds = append(conds, "recorded_at <= ?")
		args = append(args, to.UTC())
	}

	q := selectSampleColumns
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY recorded_at ASC"

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("select samples: %w", err)
	}
	defer rows.Close()

	out := make([]rig.MeasurementSample, 0, 64)
	for rows.Next() {
		var (
			s         rig.MeasurementSample
			setpoint  sql.NullFloat64
			sampleK   sql.NullFloat64
			chamberK  sql.NullFloat64
			resString string
		)
		if err := rows.Scan(&s.RunID, &s.RecordedAt, &setpoint, &sampleK, &chamberK, &resString); err != nil {
			return nil, err
		}
		s.RecordedAt = s.RecordedAt.UTC()
		s.SetpointK = floatOrNaN(setpoint)
		s.SampleK = floatOrNaN(sampleK)
		s.ChamberK = floatOrNaN(chamberK)
		if s.Resistances, err = unmarshalResistances(resString); err != nil {
			return nil, fmt.Errorf("decode resistances: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func floatOrNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}
