package instrument

import (
	"fmt"

	"github.com/zhanghevhhe/Keithley-2182-Kelvinion-Resistance-measurement-system/internal/transport"
)

// matrixSlot is the fixed card-slot prefix of every relay address.
const matrixSlot = 4

// SwitchMatrix3706 routes a four-wire measurement channel through the relay
// matrix. Mutual exclusion between channels is by construction: Connect always
// opens every path first.
type SwitchMatrix3706 struct {
	tr transport.Transport
}

// NewSwitchMatrix3706 resets the matrix and opens all relays.
func NewSwitchMatrix3706(tr transport.Transport) (*SwitchMatrix3706, error) {
	m := &SwitchMatrix3706{tr: tr}
	if err := tr.Write("reset()"); err != nil {
		return nil, fmt.Errorf("reset matrix: %w", err)
	}
	if err := m.OpenAll(); err != nil {
		return nil, err
	}
	return m, nil
}

var _ Matrix = (*SwitchMatrix3706)(nil)

// OpenAll disconnects every channel.
func (m *SwitchMatrix3706) OpenAll() error {
	if err := m.tr.Write(`channel.open("allslots")`); err != nil {
		return fmt.Errorf("open all relays: %w", err)
	}
	return nil
}

// Connect opens all paths, then closes slot/row/column <slot><row><col%02d>
// for each pin, rows 1-indexed in pin order.
func (m *SwitchMatrix3706) Connect(pins []int) error {
	if err := m.OpenAll(); err != nil {
		return err
	}
	for i, pin := range pins {
		addr := fmt.Sprintf("%d%d%02d", matrixSlot, i+1, pin)
		if err := m.tr.Write(fmt.Sprintf("channel.close(%q)", addr)); err != nil {
			return fmt.Errorf("close relay %s: %w", addr, err)
		}
	}
	return nil
}
