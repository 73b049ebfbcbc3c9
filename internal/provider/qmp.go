package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// qmpTimeout bounds a whole QMP exchange when ctx carries no deadline.
// savevm of a large guest can take a while.
const qmpTimeout = 5 * time.Minute

type qmpResponse struct {
	Return json.RawMessage `json:"return"`
	Error  *struct {
		Class string `json:"class"`
		Desc  string `json:"desc"`
	} `json:"error"`
	Event string `json:"event"`
}

// execQMP opens the VM's QMP socket, negotiates capabilities and runs one command.
func execQMP(ctx context.Context, qmpPath string, command map[string]interface{}) (json.RawMessage, error) {
	var d net.Dialer
	dialCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	conn, err := d.DialContext(dialCtx, "unix", qmpPath)
	if err != nil {
		return nil, fmt.Errorf("qmp connect %s: %w", qmpPath, err)
	}
	defer conn.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(qmpTimeout)
	}
	conn.SetDeadline(deadline)

	decoder := json.NewDecoder(conn)
	var greeting map[string]interface{}
	if err := decoder.Decode(&greeting); err != nil {
		return nil, fmt.Errorf("qmp greeting: %w", err)
	}
	if _, err := fmt.Fprintf(conn, `{"execute":"qmp_capabilities"}`+"\n"); err != nil {
		return nil, err
	}
	if _, err := readQMPReply(decoder); err != nil {
		return nil, err
	}

	data, err := json.Marshal(command)
	if err != nil {
		return nil, err
	}
	if _, err := fmt.Fprintf(conn, "%s\n", data); err != nil {
		return nil, err
	}
	return readQMPReply(decoder)
}

// readQMPReply skips asynchronous events until a command reply arrives.
func readQMPReply(decoder *json.Decoder) (json.RawMessage, error) {
	for {
		var resp qmpResponse
		if err := decoder.Decode(&resp); err != nil {
			return nil, fmt.Errorf("qmp read: %w", err)
		}
		if resp.Event != "" {
			continue
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("qmp %s: %s", resp.Error.Class, resp.Error.Desc)
		}
		return resp.Return, nil
	}
}

// qmpHumanCommand runs a monitor command and returns its text output.
func qmpHumanCommand(ctx context.Context, qmpPath, line string) (string, error) {
	ret, err := execQMP(ctx, qmpPath, map[string]interface{}{
		"execute": "human-monitor-command",
		"arguments": map[string]interface{}{
			"command-line": line,
		},
	})
	if err != nil {
		return "", err
	}
	var out string
	if len(ret) > 0 {
		if err := json.Unmarshal(ret, &out); err != nil {
			return "", err
		}
	}
	return out, nil
}
