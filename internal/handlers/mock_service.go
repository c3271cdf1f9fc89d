package handlers

import (
	"context"
	"net/http"
	"time"

	rig "github.com/zhanghevhhe/Keithley-2182-Kelvinion-Resistance-measurement-system"
	"github.com/zhanghevhhe/Keithley-2182-Kelvinion-Resistance-measurement-system/internal/service"
	"github.com/zhanghevhhe/Keithley-2182-Kelvinion-Resistance-measurement-system/internal/session"

	"github.com/gin-gonic/gin"
)

// ---- Service Mocks ----

type mockAuth struct {
	signUpID      int
	signUpErr     error
	genTokenToken string
	genTokenErr   error
	parseID       int
	parseErr      error

	lastSignUpUsername string
	lastSignUpPassword string
	lastGenUsername    string
	lastGenPassword    string
	lastParseToken     string
}

func (m *mockAuth) SignUp(username, password string) (int, error) {
	m.lastSignUpUsername = username
	m.lastSignUpPassword = password
	return m.signUpID, m.signUpErr
}
func (m *mockAuth) GenerateToken(username, password string) (string, error) {
	m.lastGenUsername = username
	m.lastGenPassword = password
	return m.genTokenToken, m.genTokenErr
}
func (m *mockAuth) ParseToken(token string) (int, error) {
	m.lastParseToken = token
	return m.parseID, m.parseErr
}

type mockRun struct {
	startRunID string
	startErr   error
	stopErr    error

	previewOut []float64
	previewErr error

	setTempErr error
	measureR   float64
	measureErr error
	updateErr  error
	reloadOut  []string
	reloadErr  error

	startCalled   int
	stopCalled    int
	lastSequence  rig.Sequence
	lastTarget    float64
	lastRamp      float64
	lastChannel   string
	lastChansTab  map[string]rig.ChannelConfig
	reloadCalled  int
	measureCalled int
}

func (m *mockRun) Start(seq rig.Sequence) (string, error) {
	m.startCalled++
	m.lastSequence = seq
	return m.startRunID, m.startErr
}
func (m *mockRun) Stop() error {
	m.stopCalled++
	return m.stopErr
}
func (m *mockRun) Preview(seq rig.Sequence) ([]float64, error) {
	m.lastSequence = seq
	return m.previewOut, m.previewErr
}
func (m *mockRun) SetTemperature(target, ramp float64) error {
	m.lastTarget, m.lastRamp = target, ramp
	return m.setTempErr
}
func (m *mockRun) MeasureChannel(name string) (float64, error) {
	m.measureCalled++
	m.lastChannel = name
	return m.measureR, m.measureErr
}
func (m *mockRun) UpdateChannels(chans map[string]rig.ChannelConfig) error {
	m.lastChansTab = chans
	return m.updateErr
}
func (m *mockRun) ReloadPidRamp() ([]string, error) {
	m.reloadCalled++
	return m.reloadOut, m.reloadErr
}

type mockMonitoring struct {
	state       rig.RunState
	resistances map[string]float64
	channels    map[string]rig.ChannelConfig
}

func (m *mockMonitoring) State() rig.RunState                 { return m.state }
func (m *mockMonitoring) Resistances() map[string]float64     { return m.resistances }
func (m *mockMonitoring) Channels() map[string]rig.ChannelConfig {
	return m.channels
}

type mockEventLog struct {
	resp     []rig.RigEvent
	err      error
	lastFrom time.Time
	lastTo   time.Time
	lastType string
}

func (m *mockEventLog) List(ctx context.Context, f service.LogFilter) ([]rig.RigEvent, error) {
	m.lastFrom = f.From
	m.lastTo = f.To
	m.lastType = f.Type
	return m.resp, m.err
}

type mockSamples struct {
	resp       []rig.MeasurementSample
	err        error
	lastFilter service.SampleFilter
}

func (m *mockSamples) List(ctx context.Context, f service.SampleFilter) ([]rig.MeasurementSample, error) {
	m.lastFilter = f
	return m.resp, m.err
}

// ---- Shared Test Helpers ----

func newTestRouter(s *service.Service) *gin.Engine {
	h := NewHandler(s, session.NewBus(), nil)
	gin.SetMode(gin.TestMode)
	return h.InitRoutes()
}

func authHeader(token string) http.Header {
	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}
