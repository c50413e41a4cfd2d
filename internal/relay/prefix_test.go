package relay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPrefixSingleDeviceNoTimestamp(t *testing.T) {
	p := &Prefixer{Index: 0, Total: 1}
	assert.Equal(t, "", p.Prefix("serial"))
	assert.Equal(t, "a\nb\n", p.Format("serial", []byte("a\r\nb\r\n")))
}

func TestPrefixMultiDevice(t *testing.T) {
	p := &Prefixer{Index: 1, Total: 2}

	assert.Equal(t, "[dut-1] line1\n[dut-1] line2\n", p.Format("serial", []byte("line1\nline2\n")))
	// previous chunk ended with a newline, so this one gets a prefix,
	// but the partial line is continued without one
	assert.Equal(t, "[dut-1] par", p.Format("serial", []byte("par")))
	assert.Equal(t, "tial\n[dut-1] next", p.Format("serial", []byte("tial\nnext")))
}

func TestPrefixTimestamp(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 13, 4, 5, 0, time.UTC)
	p := &Prefixer{Index: 0, Total: 2, Timestamp: true, now: func() time.Time { return fixed }}

	assert.Equal(t, "2024-05-01 13:04:05 [dut-0] ", p.Prefix(""))
	assert.Equal(t, "2024-05-01 13:04:05 [dut-0] ok\n", p.Format("", []byte("ok\n")))
}

func TestPrefixSourceAndStyle(t *testing.T) {
	p := &Prefixer{Total: 1, ShowSource: true, Style: func(s string) string { return "<" + s + ">" }}
	assert.Equal(t, "<[gdb] >x", p.Format("gdb", []byte("x")))
	assert.Equal(t, "", p.Format("gdb", nil))
}
