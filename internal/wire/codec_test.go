package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurahashiryo/orientdb/pkg/request"
	"github.com/kurahashiryo/orientdb/pkg/task"
)

func newTestCodec() *Codec {
	registry := NewRegistry()
	registry.Register("resync", func() request.Task { return task.NewResyncTask() })
	return NewCodec(registry)
}

func TestEncodeDecodeRequestRoundTrip(t *testing.T) {
	codec := newTestCodec()
	req := &request.Request{
		ID:       "req-1",
		Sender:   "node-1",
		Database: "db",
		Cluster:  "shard0",
		Mode:     request.ModeResponse,
		Task:     task.NewResyncTask(),
	}

	data, err := codec.EncodeRequest(req)
	require.NoError(t, err)

	decoded, err := codec.DecodeRequest(data)
	require.NoError(t, err)
	assert.Equal(t, req.ID, decoded.ID)
	assert.Equal(t, req.Sender, decoded.Sender)
	assert.Equal(t, req.Database, decoded.Database)
	assert.Equal(t, req.Cluster, decoded.Cluster)
	assert.Equal(t, req.Mode, decoded.Mode)
	assert.Equal(t, "resync", decoded.Task.TypeTag())
}

func TestDecodeRequestUnknownTaskType(t *testing.T) {
	codec := newTestCodec()
	req := &request.Request{ID: "req-1", Task: task.NewConfigureDatabaseTask()}
	data, err := codec.EncodeRequest(req)
	require.NoError(t, err)

	_, err = codec.DecodeRequest(data)
	assert.Error(t, err, "configure-database was never registered on this codec")
}

func TestEncodeDecodeResponseRoundTrip(t *testing.T) {
	codec := newTestCodec()
	resp := request.Response{RequestID: "req-1", From: "node-2", To: "node-1", Payload: "digest-abc"}

	data, err := codec.EncodeResponse(resp)
	require.NoError(t, err)

	decoded, err := codec.DecodeResponse(data)
	require.NoError(t, err)
	assert.Equal(t, resp.RequestID, decoded.RequestID)
	assert.Equal(t, resp.From, decoded.From)
	assert.Equal(t, resp.Payload, decoded.Payload)
	assert.False(t, decoded.IsError())
}

func TestResponseErrorMarker(t *testing.T) {
	resp := request.Response{RequestID: "req-1", Err: "boom"}
	assert.True(t, resp.IsError())
}

func TestRegistryUnknownTag(t *testing.T) {
	registry := NewRegistry()
	_, err := registry.New("nope")
	assert.Error(t, err)
}
