package service

import (
	"errors"
	"math"
	"testing"

	rig "github.com/zhanghevhhe/Keithley-2182-Kelvinion-Resistance-measurement-system"
	"github.com/zhanghevhhe/Keithley-2182-Kelvinion-Resistance-measurement-system/internal/session"
)

// fakeController records calls and returns configured results.
type fakeController struct {
	startRunID string
	startErr   error
	stopErr    error
	running    bool

	setTarget float64
	setRamp   float64
	setErr    error

	measured   []string
	measureR   float64
	measureErr error

	updateErr error
	reloadOut []string
	reloadErr error
}

func (f *fakeController) Start(seq rig.Sequence) (string, error)     { return f.startRunID, f.startErr }
func (f *fakeController) Stop() error                                { return f.stopErr }
func (f *fakeController) IsRunning() bool                            { return f.running }
func (f *fakeController) State() rig.RunState                        { return rig.RunState{IsRunning: f.running} }
func (f *fakeController) LastResistances() map[string]float64        { return map[string]float64{"CH1": 1} }
func (f *fakeController) ReloadPidRamp() ([]string, error)           { return f.reloadOut, f.reloadErr }
func (f *fakeController) UpdateChannels(map[string]rig.ChannelConfig) error {
	return f.updateErr
}

func (f *fakeController) ManualSetTemperature(target, ramp float64) error {
	f.setTarget, f.setRamp = target, ramp
	return f.setErr
}

func (f *fakeController) MeasureChannelNow(name string) (float64, error) {
	f.measured = append(f.measured, name)
	return f.measureR, f.measureErr
}

func TestRunService_Preview(t *testing.T) {
	svc := NewRunService(&fakeController{})

	got, err := svc.Preview(rig.Sequence{{Start: 300, Stop: 298, Step: 1}})
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	want := []float64{300, 299, 298}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("point %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestRunService_Preview_EmptySequence(t *testing.T) {
	svc := NewRunService(&fakeController{})
	if _, err := svc.Preview(nil); !errors.Is(err, session.ErrEmptySequence) {
		t.Fatalf("expected ErrEmptySequence, got %v", err)
	}
}

func TestRunService_SetTemperature_Validation(t *testing.T) {
	ctrl := &fakeController{}
	svc := NewRunService(ctrl)

	for _, bad := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		if err := svc.SetTemperature(bad, 0); !errors.Is(err, ErrInvalidTarget) {
			t.Fatalf("target %v: expected ErrInvalidTarget, got %v", bad, err)
		}
	}
	if ctrl.setTarget != 0 {
		t.Fatalf("controller should not be touched on invalid input")
	}

	if err := svc.SetTemperature(77.0, 2.5); err != nil {
		t.Fatalf("SetTemperature: %v", err)
	}
	if ctrl.setTarget != 77.0 || ctrl.setRamp != 2.5 {
		t.Fatalf("unexpected delegation: target=%v ramp=%v", ctrl.setTarget, ctrl.setRamp)
	}
}

func TestRunService_MeasureChannel_Delegates(t *testing.T) {
	ctrl := &fakeController{measureR: 101.5}
	svc := NewRunService(ctrl)

	r, err := svc.MeasureChannel("CH2")
	if err != nil {
		t.Fatalf("MeasureChannel: %v", err)
	}
	if r != 101.5 {
		t.Fatalf("r = %v, want 101.5", r)
	}
	if len(ctrl.measured) != 1 || ctrl.measured[0] != "CH2" {
		t.Fatalf("unexpected calls: %v", ctrl.measured)
	}
}

func TestRunService_StartStop_PassThrough(t *testing.T) {
	ctrl := &fakeController{startRunID: "run-9"}
	svc := NewRunService(ctrl)

	id, err := svc.Start(rig.Sequence{{Start: 77, Stop: 77}})
	if err != nil || id != "run-9" {
		t.Fatalf("Start = (%q, %v)", id, err)
	}

	ctrl.stopErr = session.ErrNotRunning
	if err := svc.Stop(); !errors.Is(err, session.ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
}
