package client

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/matheus3301/netid/internal/api"
)

// Client wraps the gRPC connection to the daemon.
type Client struct {
	conn *grpc.ClientConn
}

// New dials the daemon's Unix domain socket.
func New(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn}, nil
}

// NewFromConn wraps an existing connection.
func NewFromConn(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Call invokes a unary Control method. req may be nil.
func (c *Client) Call(ctx context.Context, method string, req map[string]any) (map[string]any, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", method, err)
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, api.FullMethod(method), in, out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

// Status fetches the daemon status.
func (c *Client) Status(ctx context.Context) (map[string]any, error) {
	return c.Call(ctx, api.MethodStatus, nil)
}

// Event is one envelope from WatchEvents.
type Event struct {
	ID         string
	Seq        uint64
	Profile    string
	Kind       string
	OccurredAt time.Time
	Payload    map[string]any
}

// EventStream receives events until its context ends.
type EventStream struct {
	stream grpc.ClientStream
}

// Watch opens an event stream filtered by kind prefix ("" for all).
func (c *Client) Watch(ctx context.Context, namespace string) (*EventStream, error) {
	desc := &api.ServiceDesc.Streams[0]
	stream, err := c.conn.NewStream(ctx, desc, api.FullMethod(api.MethodWatchEvents))
	if err != nil {
		return nil, fmt.Errorf("watch events: %w", err)
	}
	req, err := structpb.NewStruct(map[string]any{"namespace": namespace})
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, fmt.Errorf("watch events: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, fmt.Errorf("watch events: %w", err)
	}
	return &EventStream{stream: stream}, nil
}

// Recv blocks for the next event.
func (s *EventStream) Recv() (Event, error) {
	env := new(structpb.Struct)
	if err := s.stream.RecvMsg(env); err != nil {
		return Event{}, err
	}
	m := env.AsMap()
	evt := Event{}
	evt.ID, _ = m["event_id"].(string)
	evt.Profile, _ = m["profile"].(string)
	evt.Kind, _ = m["kind"].(string)
	if seq, ok := m["seq"].(float64); ok {
		evt.Seq = uint64(seq)
	}
	if ms, ok := m["occurred_at_unix_ms"].(float64); ok {
		evt.OccurredAt = time.UnixMilli(int64(ms))
	}
	evt.Payload, _ = m["payload"].(map[string]any)
	return evt, nil
}

// Objects converts a decoded list value into its object elements, skipping
// anything that is not an object.
func Objects(v any) []map[string]any {
	list, _ := v.([]any)
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// String reads a string field, or "".
func String(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// Int reads a numeric field, or 0.
func Int(m map[string]any, key string) int {
	f, _ := m[key].(float64)
	return int(f)
}

// Object reads a nested object field, or nil.
func Object(m map[string]any, key string) map[string]any {
	o, _ := m[key].(map[string]any)
	return o
}
