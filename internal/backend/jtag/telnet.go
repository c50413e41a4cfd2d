package jtag

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"
)

const (
	telnetTimeout = 10 * time.Second
	dialRetry     = 100 * time.Millisecond

	iac  = 255
	will = 251
	dont = 254
)

// Telnet is a command session on the OpenOCD telnet server.
type Telnet struct {
	mu   sync.Mutex
	conn net.Conn
	r    *bufio.Reader
}

// DialTelnet connects to addr and waits for the first prompt. OpenOCD
// opens its ports some time after it starts, so refused connections are
// retried until ctx is done.
func DialTelnet(ctx context.Context, addr string) (*Telnet, error) {
	var d net.Dialer
	for {
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			t := &Telnet{conn: conn, r: bufio.NewReader(conn)}
			t.setDeadline(ctx)
			if _, err := t.readPrompt(); err != nil {
				conn.Close()
				return nil, fmt.Errorf("openocd telnet %s: %w", addr, err)
			}
			return t, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("openocd telnet %s: %w", addr, err)
		case <-time.After(dialRetry):
		}
	}
}

// Command runs cmd and returns its output without the echoed command
// and the prompt.
func (t *Telnet) Command(ctx context.Context, cmd string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setDeadline(ctx)
	if _, err := t.conn.Write([]byte(cmd + "\n")); err != nil {
		return "", err
	}
	out, err := t.readPrompt()
	if err != nil {
		return "", fmt.Errorf("openocd %q: %w", cmd, err)
	}
	out = strings.ReplaceAll(out, "\r", "")
	if first, rest, ok := strings.Cut(out, "\n"); ok && strings.TrimSpace(first) == cmd {
		out = rest
	} else if strings.TrimSpace(out) == cmd {
		out = ""
	}
	return strings.TrimSpace(out), nil
}

// Close ends the session.
func (t *Telnet) Close() error {
	return t.conn.Close()
}

func (t *Telnet) setDeadline(ctx context.Context) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(telnetTimeout)
	}
	t.conn.SetDeadline(deadline)
}

// readPrompt reads up to the next "> " prompt at the start of a line,
// dropping telnet option negotiation.
func (t *Telnet) readPrompt() (string, error) {
	var buf []byte
	for {
		b, err := t.r.ReadByte()
		if err != nil {
			return string(buf), err
		}
		switch {
		case b == iac:
			op, err := t.r.ReadByte()
			if err != nil {
				return string(buf), err
			}
			if op >= will && op <= dont {
				if _, err := t.r.ReadByte(); err != nil {
					return string(buf), err
				}
			}
			continue
		case b == 0:
			continue
		}
		buf = append(buf, b)
		if bytes.Equal(buf, []byte("> ")) || bytes.HasSuffix(buf, []byte("\n> ")) {
			return string(buf[:len(buf)-2]), nil
		}
	}
}
