package qemu

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"
)

const qmpTimeout = 10 * time.Second

// QMP runs commands over the QEMU Machine Protocol. Every command uses a
// fresh connection, so a QMP value is safe for concurrent use.
type QMP struct {
	Addr string
}

type qmpRequest struct {
	Execute   string `json:"execute"`
	Arguments any    `json:"arguments,omitempty"`
}

type qmpResponse struct {
	Return json.RawMessage `json:"return"`
	Error  *struct {
		Class string `json:"class"`
		Desc  string `json:"desc"`
	} `json:"error"`
	Event string `json:"event"`
}

// Execute sends cmd with optional arguments and returns its result.
func (q QMP) Execute(ctx context.Context, cmd string, args any) (json.RawMessage, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", q.Addr)
	if err != nil {
		return nil, fmt.Errorf("qmp: %w", err)
	}
	defer conn.Close()
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(qmpTimeout)
	}
	conn.SetDeadline(deadline)

	dec := json.NewDecoder(conn)
	enc := json.NewEncoder(conn)
	var greeting map[string]json.RawMessage
	if err := dec.Decode(&greeting); err != nil {
		return nil, fmt.Errorf("qmp greeting: %w", err)
	}
	if _, ok := greeting["QMP"]; !ok {
		return nil, errors.New("qmp: unexpected greeting")
	}
	if _, err := q.call(enc, dec, qmpRequest{Execute: "qmp_capabilities"}); err != nil {
		return nil, err
	}
	return q.call(enc, dec, qmpRequest{Execute: cmd, Arguments: args})
}

func (q QMP) call(enc *json.Encoder, dec *json.Decoder, req qmpRequest) (json.RawMessage, error) {
	if err := enc.Encode(req); err != nil {
		return nil, fmt.Errorf("qmp %s: %w", req.Execute, err)
	}
	for {
		var resp qmpResponse
		if err := dec.Decode(&resp); err != nil {
			return nil, fmt.Errorf("qmp %s: %w", req.Execute, err)
		}
		if resp.Event != "" {
			continue
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("qmp %s: %s: %s", req.Execute, resp.Error.Class, resp.Error.Desc)
		}
		return resp.Return, nil
	}
}
