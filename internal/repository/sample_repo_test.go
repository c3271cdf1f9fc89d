package repository

import (
	"errors"
	"math"
	"regexp"
	"strings"
	"testing"
	"time"

	rig "github.com/zhanghevhhe/Keithley-2182-Kelvinion-Resistance-measurement-system"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestSampleAppend_NaNBecomesNull(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer func() { _ = db.Close() }()

	repo := NewSampleSQLite(db)

	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO samples").
		WithArgs(sqlmock.AnyArg(), "run-1", at,
			77.0,           // setpoint
			nil,            // sample_k is NaN -> NULL
			74.5,           // chamber
			`{"CH1":null}`, // NaN resistance -> json null
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = repo.Append(ctx(t), rig.MeasurementSample{
		RunID:       "run-1",
		RecordedAt:  at,
		SetpointK:   77.0,
		SampleK:     math.NaN(),
		ChamberK:    74.5,
		Resistances: map[string]float64{"CH1": math.NaN()},
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("mock expectations: %v", err)
	}
}

func TestSampleAppend_DBError(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer func() { _ = db.Close() }()

	repo := NewSampleSQLite(db)

	mock.ExpectExec("INSERT INTO samples").
		WillReturnError(errors.New("locked"))

	err = repo.Append(ctx(t), rig.MeasurementSample{
		RunID:       "run-1",
		RecordedAt:  time.Now(),
		Resistances: map[string]float64{"CH1": 101.5},
	})
	if err == nil || !strings.Contains(err.Error(), "insert sample") {
		t.Fatalf("expected wrapped insert error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("mock expectations: %v", err)
	}
}

func TestSampleList_FiltersAndNullDecoding(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer func() { _ = db.Close() }()

	repo := NewSampleSQLite(db)

	from := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	at := from.Add(10 * time.Minute)

	query := selectSampleColumns + ` WHERE run_id = ? AND recorded_at >= ? ORDER BY recorded_at ASC`

	rows := sqlmock.NewRows([]string{"run_id", "recorded_at", "setpoint_k", "sample_k", "chamber_k", "resistances"}).
		AddRow("run-1", at, 300.0, 299.97, nil, `{"CH1":101.5,"CH2":null}`)

	mock.ExpectQuery(regexp.QuoteMeta(query)).
		WithArgs("run-1", from.UTC()).
		WillReturnRows(rows)

	got, err := repo.List(ctx(t), "run-1", from, time.Time{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("want 1 sample, got %d", len(got))
	}
	s := got[0]
	if s.RunID != "run-1" || s.SetpointK != 300.0 || s.SampleK != 299.97 {
		t.Fatalf("unexpected sample: %+v", s)
	}
	if !math.IsNaN(s.ChamberK) {
		t.Fatalf("NULL chamber_k should decode to NaN, got %v", s.ChamberK)
	}
	if s.Resistances["CH1"] != 101.5 {
		t.Fatalf("CH1 = %v, want 101.5", s.Resistances["CH1"])
	}
	if !math.IsNaN(s.Resistances["CH2"]) {
		t.Fatalf("null resistance should decode to NaN, got %v", s.Resistances["CH2"])
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("mock expectations: %v", err)
	}
}

func TestSampleList_BadResistanceJSON(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer func() { _ = db.Close() }()

	repo := NewSampleSQLite(db)

	rows := sqlmock.NewRows([]string{"run_id", "recorded_at", "setpoint_k", "sample_k", "chamber_k", "resistances"}).
		AddRow("run-1", time.Now().UTC(), 77.0, 77.0, 74.5, `{not json`)

	mock.ExpectQuery(regexp.QuoteMeta(selectSampleColumns + ` ORDER BY recorded_at ASC`)).
		WillReturnRows(rows)

	_, err = repo.List(ctx(t), "", time.Time{}, time.Time{})
	if err == nil || !strings.Contains(err.Error(), "decode resistances") {
		t.Fatalf("expected decode error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("mock expectations: %v", err)
	}
}
