package service

import (
	rig "github.com/zhanghevhhe/Keithley-2182-Kelvinion-Resistance-measurement-system"
	"github.com/zhanghevhhe/Keithley-2182-Kelvinion-Resistance-measurement-system/internal/config"
)

type MonitoringService struct {
	ctrl Controller
	cfg  *config.Store
}

func NewMonitoringService(ctrl Controller, cfg *config.Store) *MonitoringService {
	return &MonitoringService{ctrl: ctrl, cfg: cfg}
}

// State returns the live run snapshot.
func (s *MonitoringService) State() rig.RunState {
	return s.ctrl.State()
}

// Resistances returns the latest reading per channel, keyed by channel name.
func (s *MonitoringService) Resistances() map[string]float64 {
	return s.ctrl.LastResistances()
}

// Channels returns the current channel configuration table.
func (s *MonitoringService) Channels() map[string]rig.ChannelConfig {
	return s.cfg.Channels()
}
