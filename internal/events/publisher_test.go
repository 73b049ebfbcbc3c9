package events

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Josepavese/nidolab/internal/orchestrator"
)

type sent struct {
	subject string
	data    []byte
}

type fakeConn struct {
	msgs []sent
	err  error
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, sent{subject, data})
	return nil
}

func TestPublisherSubjectAndPayload(t *testing.T) {
	conn := &fakeConn{}
	p := newPublisher(conn, "", "demo")

	_, err := uuid.Parse(p.OperationID())
	require.NoError(t, err)

	p.Progress(orchestrator.Event{ActivityID: orchestrator.ActivityLab, Op: orchestrator.OpStart, Kind: orchestrator.KindGroup, Current: 1, Total: 2, Nodes: []string{"web"}})
	p.Progress(orchestrator.Event{ActivityID: orchestrator.ActivityLab, Op: orchestrator.OpRestore, Kind: orchestrator.KindNodeError, Err: errors.New("no snapshot")})

	require.Len(t, conn.msgs, 2)
	assert.Equal(t, "nidolab.progress.start", conn.msgs[0].subject)
	assert.Equal(t, "nidolab.progress.restore", conn.msgs[1].subject)

	var first map[string]interface{}
	require.NoError(t, json.Unmarshal(conn.msgs[0].data, &first))
	assert.Equal(t, p.OperationID(), first["operation_id"])
	assert.Equal(t, "demo", first["lab"])
	assert.Equal(t, "group", first["kind"])
	assert.EqualValues(t, 42, first["activity_id"])
	assert.Equal(t, []interface{}{"web"}, first["nodes"])
	assert.NotContains(t, first, "error")

	var second map[string]interface{}
	require.NoError(t, json.Unmarshal(conn.msgs[1].data, &second))
	assert.Equal(t, "no snapshot", second["error"])
}

func TestPublisherDistinctOperationIDs(t *testing.T) {
	a := newPublisher(&fakeConn{}, "x", "")
	b := newPublisher(&fakeConn{}, "x", "")
	assert.NotEqual(t, a.OperationID(), b.OperationID())
}

func TestPublisherSwallowsPublishErrors(t *testing.T) {
	p := newPublisher(&fakeConn{err: errors.New("nats not connected")}, "lab", "")
	assert.NotPanics(t, func() {
		p.Progress(orchestrator.Event{Op: orchestrator.OpStop, Kind: orchestrator.KindDone})
	})
}
