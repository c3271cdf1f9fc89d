package instrument

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/zhanghevhhe/Keithley-2182-Kelvinion-Resistance-measurement-system/internal/transport"
)

const (
	deltaSettleDelay = 5 * time.Second       // acquisition settle before the readback
	deltaReadDelay   = 10 * time.Millisecond // gap after a read request
)

// voltageRangeVolts maps the configured range label to the 2182 range command
// argument.
var voltageRangeVolts = map[string]string{
	"10mV":  "0.01",
	"100mV": "0.1",
	"1V":    "1",
	"10V":   "10",
}

// Keithley6221 drives the 6221 current source with the 2182 nanovoltmeter on
// its serial link. Only the sequencer (through the bench lock) issues commands
// during a run, so the driver carries no lock of its own.
type Keithley6221 struct {
	tr     transport.Transport
	settle time.Duration
}

// NewKeithley6221 resets the instrument and returns the driver.
func NewKeithley6221(tr transport.Transport) (*Keithley6221, error) {
	m := &Keithley6221{tr: tr, settle: deltaSettleDelay}
	if err := tr.Write("*RST"); err != nil {
		return nil, fmt.Errorf("reset source-meter: %w", err)
	}
	if err := tr.Write("*CLS"); err != nil {
		return nil, fmt.Errorf("clear source-meter: %w", err)
	}
	return m, nil
}

var _ SourceMeter = (*Keithley6221)(nil)

// DeltaMeasure programs averaging and range, arms a continuous ±current
// reversal acquisition, reads the averaged voltage after the settle delay and
// aborts the sweep. The returned value is volts; resistance derivation is the
// caller's concern.
func (m *Keithley6221) DeltaMeasure(current float64, voltageRange string) (float64, error) {
	rangeV, ok := voltageRangeVolts[voltageRange]
	if !ok {
		return 0, fmt.Errorf("unknown voltage range %q", voltageRange)
	}

	setup := []string{
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
		fmt.Sprintf(`SYSTEM:COMMUNICATE:SERIAL:SEND "VOLT:RANG %s"`, rangeV),
		"CURRent:COMPliance 10",
		fmt.Sprintf("SOURCE:DELTA:HIGH %.3e", current),
		fmt.Sprintf("SOURCE:DELTA:LOW %.3e", -current),
		"SOURCE:DELTA:DELAY 0.1",
		"SOURCE:DELTA:COUNT INF",
		"SOURCE:DELTA:ARM",
		"INITIATE:IMMEDIATE",
	}
	for _, cmd := range setup {
		if err := m.tr.Write(cmd); err != nil {
			return 0, fmt.Errorf("delta setup %q: %w", cmd, err)
		}
	}

	time.Sleep(m.settle)

	v, err := m.ReadingLatest()
	if err != nil {
		return 0, err
	}
	if err := m.Abort(); err != nil {
		return 0, err
	}
	return v, nil
}

// ReadingLatest returns the most recent averaged reading.
func (m *Keithley6221) ReadingLatest() (float64, error) {
	raw, err := m.tr.Query(":SENSe:DATA:LATest?")
	if err != nil {
		return 0, fmt.Errorf("read latest: %w", err)
	}
	time.Sleep(deltaReadDelay)
	field := raw
	if i := strings.IndexByte(raw, ','); i >= 0 {
		field = raw[:i]
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
	if err != nil {
		return 0, fmt.Errorf("parse reading %q: %w", raw, err)
	}
	return v, nil
}

// Abort stops an armed or running delta sweep.
func (m *Keithley6221) Abort() error {
	return m.tr.Write("SOURCE:SWEEP:ABORT")
}
