package config

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	rig "github.com/zhanghevhhe/Keithley-2182-Kelvinion-Resistance-measurement-system"

	"github.com/spf13/viper"
)

// Devices maps each instrument to its transport address (host:port for
// VISA-style raw-socket resources). An empty address means the instrument is
// absent and the simulated variant is used.
type Devices struct {
	Kelvinion   string `mapstructure:"kelvinion"`
	SourceMeter string `mapstructure:"k6221"`
	Matrix      string `mapstructure:"matrix"`
}

// channelYAML mirrors rig.ChannelConfig with mapstructure tags for viper.
type channelYAML struct {
	Enabled      bool    `mapstructure:"enabled"`
	Pins         []int   `mapstructure:"pins"`
	Current      float64 `mapstructure:"current"`
	VoltageRange string  `mapstructure:"voltage_range"`
}

// Store holds the loaded configuration. The PIDRAMP table is swapped as a
// whole pointer on reload, so callers that captured the old reference keep a
// consistent view; the channel table is guarded by a mutex and mutated only
// between runs.
type Store struct {
	v *viper.Viper

	Port     string
	LogLevel string
	DBPath   string
	CSVPath  string
	Devs     Devices

	pidramp atomic.Pointer[PidRamp]

	mu       sync.RWMutex
	channels map[string]rig.ChannelConfig
}

// Load reads configs/config.yml (or the given explicit path) into a Store.
func Load(path string) (*Store, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath("configs")
		v.SetConfigName("config")
	}
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	s := &Store{
		v:        v,
		Port:     v.GetString("port"),
		LogLevel: v.GetString("log_level"),
		DBPath:   v.GetString("db.path"),
		CSVPath:  v.GetString("output.csv_path"),
	}
	if err := v.UnmarshalKey("devices", &s.Devs); err != nil {
		return nil, fmt.Errorf("decode devices: %w", err)
	}

	var chans map[string]channelYAML
	if err := v.UnmarshalKey("channels", &chans); err != nil {
		return nil, fmt.Errorf("decode channels: %w", err)
	}
	s.channels = make(map[string]rig.ChannelConfig, len(chans))
	for name, c := range chans {
		s.channels[name] = rig.ChannelConfig{
			Enabled:      c.Enabled,
			Pins:         c.Pins,
			Current:      c.Current,
			VoltageRange: c.VoltageRange,
		}
	}

	pr, _, err := decodePidRamp(v)
	if err != nil {
		return nil, err
	}
	s.pidramp.Store(pr)
	return s, nil
}

// PidRamp returns the current table reference. In-flight operations keep
// whatever reference they captured across a reload.
func (s *Store) PidRamp() *PidRamp { return s.pidramp.Load() }

// ReloadPidRamp re-reads the config file and swaps the PIDRAMP tables.
// Returns the names of expected sections missing from the new tables, if any.
func (s *Store) ReloadPidRamp() ([]string, error) {
	if err := s.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("re-read config: %w", err)
	}
	pr, missing, err := decodePidRamp(s.v)
	if err != nil {
		return nil, err
	}
	s.pidramp.Store(pr)
	return missing, nil
}

// Channels returns a copy of the channel table.
func (s *Store) Channels() map[string]rig.ChannelConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]rig.ChannelConfig, len(s.channels))
	for name, c := range s.channels {
		out[name] = c
	}
	return out
}

// ChannelNames returns the configured channel names sorted, the deterministic
// order used for measurement and for the data-record columns.
func (s *Store) ChannelNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.channels))
	for name := range s.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Channel looks up a single channel by name.
func (s *Store) Channel(name string) (rig.ChannelConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.channels[name]
	return c, ok
}

// SetChannels replaces the channel table. Callers must ensure no run is
// active; the session service enforces that precondition.
func (s *Store) SetChannels(chans map[string]rig.ChannelConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels = make(map[string]rig.ChannelConfig, len(chans))
	for name, c := range chans {
		s.channels[name] = c
	}
}
