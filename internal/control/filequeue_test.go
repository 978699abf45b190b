package control

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) (*FileQueue, string, string) {
	t.Helper()
	dir := t.TempDir()
	reqPath := filepath.Join(dir, "requests.json")
	respPath := filepath.Join(dir, "response.json")
	h, _ := newTestHandler(t)
	return NewFileQueue(reqPath, respPath, h), reqPath, respPath
}

func TestFileQueueDrainProcessesAndTruncates(t *testing.T) {
	q, reqPath, respPath := newTestQueue(t)

	doc := []Request{{ID: "q1", Action: ActionAddOrder, Payload: addOrderPayload()}}
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(reqPath, data, 0o644))

	q.drain()

	// Queue truncated so a second wakeup cannot double-consume.
	left, err := os.ReadFile(reqPath)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(left))

	raw, err := os.ReadFile(respPath)
	require.NoError(t, err)
	var resp Response
	require.NoError(t, json.Unmarshal(raw, &resp))
	assert.Equal(t, "q1", resp.ID)
	assert.Equal(t, ActionAddOrder, resp.Action)
	assert.True(t, resp.OK, resp.Error)

	// Draining the empty queue is a no-op.
	q.drain()
	left, err = os.ReadFile(reqPath)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(left))
}

func TestFileQueueAcceptsSingleObject(t *testing.T) {
	q, reqPath, respPath := newTestQueue(t)

	single := Request{Action: ActionGetStatus}
	data, err := json.Marshal(single)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(reqPath, data, 0o644))

	q.drain()

	raw, err := os.ReadFile(respPath)
	require.NoError(t, err)
	var resp Response
	require.NoError(t, json.Unmarshal(raw, &resp))
	assert.Equal(t, ActionGetStatus, resp.Action)
	assert.True(t, resp.OK)
	assert.NotEmpty(t, resp.ID) // filled in when the caller omits one
}

func TestFileQueueIgnoresGarbage(t *testing.T) {
	q, reqPath, respPath := newTestQueue(t)
	require.NoError(t, os.WriteFile(reqPath, []byte("not json at all"), 0o644))

	q.drain()

	// Unparsable documents are left alone and produce no response.
	_, err := os.Stat(respPath)
	assert.True(t, os.IsNotExist(err))
}

func TestFileQueueSkipsItemsWithoutAction(t *testing.T) {
	q, reqPath, respPath := newTestQueue(t)
	require.NoError(t, os.WriteFile(reqPath, []byte(`[{"id":"x"},{"action":"get_status"}]`), 0o644))

	q.drain()

	raw, err := os.ReadFile(respPath)
	require.NoError(t, err)
	var resp Response
	require.NoError(t, json.Unmarshal(raw, &resp))
	assert.Equal(t, ActionGetStatus, resp.Action)
}
