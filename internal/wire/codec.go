// Package wire encodes requests and responses that cross a cluster
// queue. The outer envelope is encoded with github.com/json-iterator/go,
// the encoding/json drop-in the rest of the retrieval pack's config
// loaders use; only the envelope is interpreted here — a task's own
// payload round-trips through whatever shape its concrete Go type
// already marshals to, via a per-tag factory registry so the decoder
// knows which concrete type to allocate.
package wire

import (
	"fmt"
	"sync"

	jsoniter "github.com/json-iterator/go"

	"github.com/kurahashiryo/orientdb/pkg/request"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// TaskFactory allocates a zero-value concrete request.Task for one
// type tag, ready to be unmarshaled into.
type TaskFactory func() request.Task

// Registry maps a task's TypeTag to the factory that can decode it.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]TaskFactory
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]TaskFactory)}
}

// Register associates tag with factory. Call once per task variant a
// node's dispatcher or executor may see on the wire.
func (r *Registry) Register(tag string, factory TaskFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[tag] = factory
}

// New allocates a fresh task for tag, or an error if tag was never
// registered.
func (r *Registry) New(tag string) (request.Task, error) {
	r.mu.RLock()
	factory, ok := r.factories[tag]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("wire: no task factory registered for tag %q", tag)
	}
	return factory(), nil
}

// Codec encodes and decodes the envelopes carried on cluster queues.
type Codec struct {
	registry *Registry
}

// NewCodec creates a Codec backed by registry.
func NewCodec(registry *Registry) *Codec {
	return &Codec{registry: registry}
}

type requestEnvelope struct {
	ID          string              `json:"id"`
	Sender      string              `json:"sender"`
	Database    string              `json:"database"`
	Cluster     string              `json:"cluster,omitempty"`
	Mode        int                 `json:"mode"`
	TaskType    string              `json:"taskType"`
	TaskPayload jsoniter.RawMessage `json:"taskPayload"`
}

// EncodeRequest serializes req for transmission on a node's request
// queue.
func (c *Codec) EncodeRequest(req *request.Request) ([]byte, error) {
	payload, err := json.Marshal(req.Task)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal task payload: %w", err)
	}
	envelope := requestEnvelope{
		ID:          req.ID,
		Sender:      req.Sender,
		Database:    req.Database,
		Cluster:     req.Cluster,
		Mode:        int(req.Mode),
		TaskType:    req.Task.TypeTag(),
		TaskPayload: payload,
	}
	return json.Marshal(envelope)
}

// DecodeRequest reconstructs a Request from bytes taken off a
// request queue, allocating its Task via the registry.
func (c *Codec) DecodeRequest(data []byte) (*request.Request, error) {
	var envelope requestEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("wire: unmarshal envelope: %w", err)
	}
	task, err := c.registry.New(envelope.TaskType)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(envelope.TaskPayload, task); err != nil {
		return nil, fmt.Errorf("wire: unmarshal task payload for tag %q: %w", envelope.TaskType, err)
	}
	return &request.Request{
		ID:       envelope.ID,
		Sender:   envelope.Sender,
		Database: envelope.Database,
		Cluster:  envelope.Cluster,
		Mode:     request.ExecutionMode(envelope.Mode),
		Task:     task,
	}, nil
}

// EncodeResponse serializes resp for transmission on a node's
// response queue.
func (c *Codec) EncodeResponse(resp request.Response) ([]byte, error) {
	return json.Marshal(resp)
}

// DecodeResponse reconstructs a Response from bytes taken off a
// response queue. Payload decodes to a generic JSON-compatible value
// since the wire format never needs to know its concrete type.
func (c *Codec) DecodeResponse(data []byte) (request.Response, error) {
	var resp request.Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return request.Response{}, fmt.Errorf("wire: unmarshal response: %w", err)
	}
	return resp, nil
}
