// Package transport provides the command/response channel to one instrument.
// A Transport carries no concurrency safety of its own; the instrument
// controllers serialize access to it.
package transport

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"time"
)

// Transport is a bidirectional command channel to a single instrument.
type Transport interface {
	// Write sends one command.
	Write(cmd string) error
	// Query sends one command and returns the instrument's reply line.
	Query(cmd string) (string, error)
	Close() error
}

const (
	dialTimeout = 3 * time.Second
	ioTimeout   = 5 * time.Second
	terminator  = "\n"
)

// TCP is a VISA raw-socket style transport: newline-terminated ASCII commands
// over a plain TCP connection.
type TCP struct {
	conn net.Conn
	rd   *bufio.Reader
}

// Dial connects to an instrument at host:port.
func Dial(addr string) (*TCP, error) {
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial instrument %s: %w", addr, err)
	}
	return &TCP{conn: conn, rd: bufio.NewReader(conn)}, nil
}

func (t *TCP) Write(cmd string) error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(ioTimeout)); err != nil {
		return err
	}
	if _, err := t.conn.Write([]byte(cmd + terminator)); err != nil {
		return fmt.Errorf("write %q: %w", cmd, err)
	}
	return nil
}

func (t *TCP) Query(cmd string) (string, error) {
	if err := t.Write(cmd); err != nil {
		return "", err
	}
	if err := t.conn.SetReadDeadline(time.Now().Add(ioTimeout)); err != nil {
		return "", err
	}
	line, err := t.rd.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read reply to %q: %w", cmd, err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (t *TCP) Close() error { return t.conn.Close() }
