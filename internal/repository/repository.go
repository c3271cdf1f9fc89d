package repository

import (
	"context"
	"database/sql"
	"time"

	rig "github.com/zhanghevhhe/Keithley-2182-Kelvinion-Resistance-measurement-system"
)

type Authorization interface {
	Create(username, hash string) (int, error)
	GetByUsername(username string) (*rig.User, error)
}

// SampleRepo persists measurement samples, one row per stabilized setpoint.
type SampleRepo interface {
	Append(ctx context.Context, s rig.MeasurementSample) error
	List(ctx context.Context, runID string, from, to time.Time) ([]rig.MeasurementSample, error)
}

// EventRepo is the append-only run log with filtered access.
type EventRepo interface {
	Append(ctx context.Context, e rig.RigEvent) error
	List(ctx context.Context, from, to time.Time, typ string) ([]rig.RigEvent, error)
}

type Repository struct {
	Samples SampleRepo
	Events  EventRepo
	Auth    Authorization
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{
		Samples: NewSampleSQLite(db),
		Events:  NewEventSQLite(db),
		Auth:    NewUserRepository(db),
	}
}
