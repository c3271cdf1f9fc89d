package service

import (
	"context"

	rig "github.com/zhanghevhhe/Keithley-2182-Kelvinion-Resistance-measurement-system"
	"github.com/zhanghevhhe/Keithley-2182-Kelvinion-Resistance-measurement-system/internal/config"
	"github.com/zhanghevhhe/Keithley-2182-Kelvinion-Resistance-measurement-system/internal/repository"
)

type Authorization interface {
	SignUp(username, password string) (int, error)
	GenerateToken(username, password string) (string, error)
	ParseToken(accessToken string) (int, error)
}

// Run exposes measurement control: sweep lifecycle, manual instrument
// operations, and configuration changes.
type Run interface {
	Start(seq rig.Sequence) (string, error)
	Stop() error
	Preview(seq rig.Sequence) ([]float64, error)
	SetTemperature(target, ramp float64) error
	MeasureChannel(name string) (float64, error)
	UpdateChannels(chans map[string]rig.ChannelConfig) error
	ReloadPidRamp() ([]string, error)
}

// Monitoring exposes read-only live state.
type Monitoring interface {
	State() rig.RunState
	Resistances() map[string]float64
	Channels() map[string]rig.ChannelConfig
}

// EventLog exposes the append-only run log with filtering access.
type EventLog interface {
	List(ctx context.Context, f LogFilter) ([]rig.RigEvent, error)
}

// Samples exposes recorded measurement history.
type Samples interface {
	List(ctx context.Context, f SampleFilter) ([]rig.MeasurementSample, error)
}

// Controller is the slice of the measurement session the services drive.
// *session.Session satisfies it; tests substitute fakes.
type Controller interface {
	Start(seq rig.Sequence) (string, error)
	Stop() error
	IsRunning() bool
	State() rig.RunState
	LastResistances() map[string]float64
	ManualSetTemperature(target, rampOverride float64) error
	MeasureChannelNow(name string) (float64, error)
	UpdateChannels(chans map[string]rig.ChannelConfig) error
	ReloadPidRamp() ([]string, error)
}

//
// Root Service aggregates all sub-services.
//

type Service struct {
	Run
	Monitoring
	EventLog
	Samples
	Authorization
}

// NewService wires the session and repository layer into concrete services.
func NewService(repos *repository.Repository, ctrl Controller, cfg *config.Store) *Service {
	return &Service{
		Run:           NewRunService(ctrl),
		Monitoring:    NewMonitoringService(ctrl, cfg),
		EventLog:      NewEventLogService(repos.Events),
		Samples:       NewSamplesService(repos.Samples),
		Authorization: NewAuthService(repos.Auth),
	}
}
