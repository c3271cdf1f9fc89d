package transport

import (
	"bufio"
	"net"
	"strings"
	"testing"
)

// startInstrument runs a one-connection fake instrument that answers queries
// from the given table and swallows everything else.
func startInstrument(t *testing.T, replies map[string]string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		rd := bufio.NewReader(conn)
		for {
			line, err := rd.ReadString('\n')
			if err != nil {
				return
			}
			cmd := strings.TrimRight(line, "\r\n")
			if reply, ok := replies[cmd]; ok {
				if _, err := conn.Write([]byte(reply)); err != nil {
					return
				}
			}
		}
	}()
	return ln.Addr().String()
}

func TestTCP_QueryRoundTrip(t *testing.T) {
	addr := startInstrument(t, map[string]string{
		"[READ:K:F]": "[77.35K;]\r\n",
		"*IDN?":      "KELVINION,1.0\n",
	})

	tr, err := Dial(addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer tr.Close()

	got, err := tr.Query("[READ:K:F]")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	// CR/LF terminators are stripped from the reply.
	if got != "[77.35K;]" {
		t.Errorf("reply = %q, want %q", got, "[77.35K;]")
	}

	got, err = tr.Query("*IDN?")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if got != "KELVINION,1.0" {
		t.Errorf("reply = %q, want %q", got, "KELVINION,1.0")
	}
}

func TestTCP_WriteOnly(t *testing.T) {
	addr := startInstrument(t, map[string]string{
		"[READ:SETP:A]": "[77K;]\n",
	})

	tr, err := Dial(addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer tr.Close()

	// A bare write produces no reply; a following query still lines up with
	// its own response.
	if err := tr.Write("[SET:SETP:A:77K]"); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := tr.Query("[READ:SETP:A]")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if got != "[77K;]" {
		t.Errorf("reply = %q, want %q", got, "[77K;]")
	}
}

func TestDial_Unreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	if _, err := Dial(addr); err == nil {
		t.Fatal("expected dial error for closed port")
	}
}

func TestDial_EmptyAddress(t *testing.T) {
	if _, err := Dial(""); err == nil {
		t.Fatal("expected dial error for empty address")
	}
}
