package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	clijson "github.com/Josepavese/nidolab/internal/cli"
)

const testLab = `
nonNodeData:
  environmentPrefix: t-
allNodes:
  - nodeName: "*"
    bootDelay: 3
  - nodeName: db
    bootOrder: 1
  - nodeName: web
    bootOrder: 2
`

// execute runs the CLI in dry-run JSON mode and decodes the response.
func execute(t *testing.T, args ...string) (map[string]interface{}, error) {
	t.Helper()
	dir := t.TempDir()
	labFile := filepath.Join(dir, "lab.yaml")
	require.NoError(t, os.WriteFile(labFile, []byte(testLab), 0644))

	var buf bytes.Buffer
	prev := clijson.Out
	clijson.Out = &buf
	t.Cleanup(func() {
		clijson.Out = prev
		jsonOut, dryRun, assumeYes = false, false, false
		labPath, rootDir, logLevel, natsURL = "", "", "", ""
		clijson.SetJSONMode(false)
	})

	root := newRootCmd()
	root.SetArgs(append([]string{
		"--settings", filepath.Join(dir, "missing.env"),
		"--config", labFile,
		"--root", dir,
		"--log-level", "error",
		"--dry-run", "--json",
	}, args...))
	err := root.Execute()

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp), buf.String())
	return resp, err
}

func TestStartDryRun(t *testing.T) {
	resp, err := execute(t, "start")
	require.NoError(t, err)
	assert.Equal(t, "ok", resp["status"])

	data := resp["data"].(map[string]interface{})
	assert.Equal(t, "start", data["op"])
	assert.Equal(t, []interface{}{"t-db", "t-web"}, data["processed"])
}

func TestRestoreDryRun(t *testing.T) {
	resp, err := execute(t, "restore", "clean")
	require.NoError(t, err)
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, "clean", data["label"])
	assert.Equal(t, []interface{}{"t-db", "t-web"}, data["processed"])
}

func TestResetDryRun(t *testing.T) {
	resp, err := execute(t, "reset")
	require.NoError(t, err)
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, "nidolab-baseline", data["label"])
}

func TestPlanStop(t *testing.T) {
	resp, err := execute(t, "plan", "--stop")
	require.NoError(t, err)
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, "stop", data["direction"])

	batches := data["batches"].([]interface{})
	require.Len(t, batches, 2)
	assert.EqualValues(t, 2, batches[0].(map[string]interface{})["boot_order"])
}

func TestStatusDryRun(t *testing.T) {
	resp, err := execute(t, "status")
	require.NoError(t, err)
	nodes := resp["data"].(map[string]interface{})["nodes"].([]interface{})
	require.Len(t, nodes, 2)
	assert.Equal(t, "stopped", nodes[0].(map[string]interface{})["state"])
}
