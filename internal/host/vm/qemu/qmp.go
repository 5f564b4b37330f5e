package qemu

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

type qmpResponse struct {
	Return json.RawMessage `json:"return,omitempty"`
	Event  string          `json:"event,omitempty"`
	Error  *struct {
		Class string `json:"class"`
		Desc  string `json:"desc"`
	} `json:"error,omitempty"`
}

// qmpExecute connects to the QMP socket, negotiates capabilities and runs
// command. Asynchronous events received meanwhile are skipped.
func qmpExecute(ctx context.Context, socket, command string) error {
	d := net.Dialer{Timeout: shutdownQMPTimeout}
	conn, err := d.DialContext(ctx, "unix", socket)
	if err != nil {
		return fmt.Errorf("qmp dial: %w", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(shutdownQMPTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return err
	}

	dec := json.NewDecoder(conn)
	var greeting struct {
		QMP json.RawMessage `json:"QMP"`
	}
	if err := dec.Decode(&greeting); err != nil {
		return fmt.Errorf("qmp greeting: %w", err)
	}
	if greeting.QMP == nil {
		return errors.New("qmp greeting: missing banner")
	}

	enc := json.NewEncoder(conn)
	for _, cmd := range []string{"qmp_capabilities", command} {
		if err := qmpRun(enc, dec, cmd); err != nil {
			return err
		}
	}
	return nil
}

func qmpRun(enc *json.Encoder, dec *json.Decoder, cmd string) error {
	if err := enc.Encode(map[string]string{"execute": cmd}); err != nil {
		return fmt.Errorf("qmp %s: %w", cmd, err)
	}
	for {
		var resp qmpResponse
		if err := dec.Decode(&resp); err != nil {
			// QEMU may close the socket on quit before answering.
			if cmd == "quit" && errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("qmp %s: %w", cmd, err)
		}
		if resp.Event != "" {
			continue
		}
		if resp.Error != nil {
			return fmt.Errorf("qmp %s: %s: %s", cmd, resp.Error.Class, resp.Error.Desc)
		}
		return nil
	}
}
