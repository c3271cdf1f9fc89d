package instrument

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastMeter(tr *mockTransport) *Keithley6221 {
	m, err := NewKeithley6221(tr)
	if err != nil {
		panic(err)
	}
	m.settle = time.Millisecond
	return m
}

func TestNewKeithley6221_ResetsInstrument(t *testing.T) {
	tr := newMockTransport()
	_, err := NewKeithley6221(tr)
	require.NoError(t, err)
	assert.Equal(t, []string{"*RST", "*CLS"}, tr.allWrites())
}

func TestDeltaMeasure_CommandSequence(t *testing.T) {
	tr := newMockTransport()
	m := fastMeter(tr)
	tr.reply(":SENSe:DATA:LATest?", "-1.015E-04,+3.45E+00")

	v, err := m.DeltaMeasure(1e-6, "100mV")
	require.NoError(t, err)
	assert.InDelta(t, -1.015e-4, v, 1e-12)

	writes := tr.allWrites()
	// Skip the constructor's *RST/*CLS pair.
	require.GreaterOrEqual(t, len(writes), 2)
	assert.Equal(t, []string{
		"*RST",
		"*CLS",
		"OUTPut:LTEarth OFF",
		"OUTPUT:ISHIELD OLOW",
		"UNIT:VOLT:DC V",
		"SENS:AVER:TCON MOV",
		"SENS:AVER:WIND 0.1",
		"SENS:AVER:COUN 6",
		"SENS:AVER ON",
		`SYSTEM:COMMUNICATE:SERIAL:SEND "VOLT:NPLC 5"`,
		`SYSTEM:COMMUNICATE:SERIAL:SEND "VOLT:RANG 0.1"`,
		"CURRent:COMPliance 10",
		"SOURCE:DELTA:HIGH 1.000e-06",
		"SOURCE:DELTA:LOW -1.000e-06",
		"SOURCE:DELTA:DELAY 0.1",
		"SOURCE:DELTA:COUNT INF",
		"SOURCE:DELTA:ARM",
		"INITIATE:IMMEDIATE",
		"SOURCE:SWEEP:ABORT",
	}, writes[2:])
}

func TestDeltaMeasure_RangeSubstitution(t *testing.T) {
	tr := newMockTransport()
	m := fastMeter(tr)
	tr.reply(":SENSe:DATA:LATest?", "2.0E-03")

	_, err := m.DeltaMeasure(1e-5, "1V")
	require.NoError(t, err)
	assert.Contains(t, tr.allWrites(), `SYSTEM:COMMUNICATE:SERIAL:SEND "VOLT:RANG 1"`)
}

func TestDeltaMeasure_UnknownRange(t *testing.T) {
	tr := newMockTransport()
	m := fastMeter(tr)

	_, err := m.DeltaMeasure(1e-6, "5V")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown voltage range "5V"`)
	// No hardware traffic beyond the constructor reset.
	assert.Len(t, tr.allWrites(), 2)
}

func TestReadingLatest(t *testing.T) {
	tr := newMockTransport()
	m := fastMeter(tr)

	tr.reply(":SENSe:DATA:LATest?",
		"-1.015E-04,+3.45E+00,+1.23E+00", // first comma field wins
		" 4.2e-05 ",                      // bare field, padded
		"garbage",
	)

	v, err := m.ReadingLatest()
	require.NoError(t, err)
	assert.InDelta(t, -1.015e-4, v, 1e-12)

	v, err = m.ReadingLatest()
	require.NoError(t, err)
	assert.InDelta(t, 4.2e-5, v, 1e-12)

	_, err = m.ReadingLatest()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse reading")
}

func TestDeltaMeasure_ReadFailureSkipsAbort(t *testing.T) {
	tr := newMockTransport()
	m := fastMeter(tr)
	// No scripted reply makes the readback query fail.

	_, err := m.DeltaMeasure(1e-6, "10mV")
	require.Error(t, err)
	assert.NotContains(t, tr.allWrites(), "SOURCE:SWEEP:ABORT")
}

func TestAbort(t *testing.T) {
	tr := newMockTransport()
	m := fastMeter(tr)

	require.NoError(t, m.Abort())
	writes := tr.allWrites()
	assert.Equal(t, "SOURCE:SWEEP:ABORT", writes[len(writes)-1])
}

func TestNewKeithley6221_WriteFailure(t *testing.T) {
	tr := &failingTransport{err: errors.New("conn reset")}
	_, err := NewKeithley6221(tr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reset source-meter")
}

type failingTransport struct{ err error }

func (f *failingTransport) Write(string) error           { return f.err }
func (f *failingTransport) Query(string) (string, error) { return "", f.err }
func (f *failingTransport) Close() error                 { return nil }
