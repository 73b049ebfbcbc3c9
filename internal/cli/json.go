package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Josepavese/nidolab/internal/orchestrator"
)

const SchemaVersion = "1.0"

const jsonEnvVar = "NIDOLAB_JSON"

// Out is where PrintJSON writes.
var Out io.Writer = os.Stdout

type Response struct {
	SchemaVersion string      `json:"schema_version"`
	Command       string      `json:"command"`
	Status        string      `json:"status"`
	Timestamp     string      `json:"timestamp"`
	Data          interface{} `json:"data,omitempty"`
	Error         *Problem    `json:"error,omitempty"`
}

type Problem struct {
	Type     string      `json:"type"`
	Title    string      `json:"title"`
	Detail   string      `json:"detail"`
	Instance string      `json:"instance,omitempty"`
	Code     string      `json:"code,omitempty"`
	Hint     string      `json:"hint,omitempty"`
	Details  interface{} `json:"details,omitempty"`
}

// NodeFailure is one entry of error.details for a lab operation.
type NodeFailure struct {
	Node        string `json:"node"`
	DisplayName string `json:"display_name,omitempty"`
	Error       string `json:"error"`
}

// ResultData is the data block of a lab operation response.
type ResultData struct {
	Op        orchestrator.Op `json:"op"`
	Label     string          `json:"label,omitempty"`
	Nodes     int             `json:"nodes"`
	Processed []string        `json:"processed"`
}

func NewResponseOK(command string, data interface{}) Response {
	return Response{
		SchemaVersion: SchemaVersion,
		Command:       command,
		Status:        "ok",
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Data:          data,
	}
}

func NewResponseError(command, code, title, detail, hint string, details interface{}) Response {
	return Response{
		SchemaVersion: SchemaVersion,
		Command:       command,
		Status:        "error",
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Error: &Problem{
			Type:    "about:blank",
			Title:   title,
			Detail:  detail,
			Code:    code,
			Hint:    hint,
			Details: details,
		},
	}
}

// NewResultResponse builds the envelope for a finished lab operation. A fatal
// err wins over per-node failures; a partial failure still carries data.
func NewResultResponse(command string, res *orchestrator.Result, err error) Response {
	if err != nil {
		resp := NewResponseError(command, errorCode(err), "lab operation failed", err.Error(), errorHint(err), nil)
		if res != nil {
			resp.Data = resultData(res)
			resp.Error.Details = failures(res)
		}
		return resp
	}
	if res == nil {
		return NewResponseOK(command, nil)
	}
	if len(res.Failures) == 0 {
		return NewResponseOK(command, resultData(res))
	}
	resp := NewResponseError(command, "ERR_NODE_FAILURES",
		fmt.Sprintf("%d of %d nodes failed", len(res.Failures), res.Nodes),
		res.Err().Error(), "", failures(res))
	resp.Data = resultData(res)
	return resp
}

func resultData(res *orchestrator.Result) ResultData {
	return ResultData{Op: res.Op, Label: res.Label, Nodes: res.Nodes, Processed: res.Processed}
}

func failures(res *orchestrator.Result) []NodeFailure {
	if len(res.Failures) == 0 {
		return nil
	}
	out := make([]NodeFailure, 0, len(res.Failures))
	for _, f := range res.Failures {
		out = append(out, NodeFailure{Node: f.Node, DisplayName: f.DisplayName, Error: f.Err.Error()})
	}
	return out
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, orchestrator.ErrCancelled):
		return "ERR_CANCELLED"
	case errors.Is(err, orchestrator.ErrEmptyLabel):
		return "ERR_INVALID_ARGS"
	default:
		return "ERR_BACKEND"
	}
}

func errorHint(err error) string {
	if errors.Is(err, orchestrator.ErrCancelled) {
		return "Nodes handled before the interruption keep their new state."
	}
	return ""
}

func PrintJSON(resp Response) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode JSON response: %v\n", err)
		return err
	}
	_, err = fmt.Fprintln(Out, string(payload))
	return err
}

func SetJSONMode(enabled bool) {
	if enabled {
		_ = os.Setenv(jsonEnvVar, "1")
		return
	}
	_ = os.Unsetenv(jsonEnvVar)
}

func IsJSONMode() bool {
	return os.Getenv(jsonEnvVar) == "1"
}
