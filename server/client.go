package server

import (
	"context"
	"io"
	"strings"

	"connectrpc.com/connect"

	"github.com/chazu/shredctl/bridge"
)

// Client calls a control server. Errors are mapped back onto the bridge
// taxonomy, so errors.Is(err, bridge.ErrNotReady) works across the wire.
type Client struct {
	exec      *connect.Client[bridge.Command, bridge.Result]
	status    *connect.Client[StatusRequest, bridge.Status]
	shreds    *connect.Client[ShredsRequest, ShredsResponse]
	subscribe *connect.Client[SubscribeRequest, EventMessage]
}

// NewClient creates a client for the server at baseURL, for example
// "http://127.0.0.1:7800".
func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(Codec{})}, opts...)
	return &Client{
		exec:      connect.NewClient[bridge.Command, bridge.Result](httpClient, baseURL+ControlServiceExecProcedure, opts...),
		status:    connect.NewClient[StatusRequest, bridge.Status](httpClient, baseURL+ControlServiceStatusProcedure, opts...),
		shreds:    connect.NewClient[ShredsRequest, ShredsResponse](httpClient, baseURL+ControlServiceShredsProcedure, opts...),
		subscribe: connect.NewClient[SubscribeRequest, EventMessage](httpClient, baseURL+ControlServiceSubscribeProcedure, opts...),
	}
}

// Exec runs one command on the server. A command failure is reported in
// Result.Err, not as the returned error.
func (c *Client) Exec(ctx context.Context, cmd bridge.Command) (bridge.Result, error) {
	resp, err := c.exec.CallUnary(ctx, connect.NewRequest(&cmd))
	if err != nil {
		return bridge.Result{}, bridgeError(err)
	}
	return *resp.Msg, nil
}

// Status fetches the coordinator snapshot.
func (c *Client) Status(ctx context.Context) (bridge.Status, error) {
	resp, err := c.status.CallUnary(ctx, connect.NewRequest(&StatusRequest{}))
	if err != nil {
		return bridge.Status{}, bridgeError(err)
	}
	return *resp.Msg, nil
}

// Shreds lists the live shreds.
func (c *Client) Shreds(ctx context.Context) (ShredsResponse, error) {
	resp, err := c.shreds.CallUnary(ctx, connect.NewRequest(&ShredsRequest{}))
	if err != nil {
		return ShredsResponse{}, bridgeError(err)
	}
	return *resp.Msg, nil
}

// Subscribe opens a stream of firings of event. Cancel ctx or Close the
// stream to unsubscribe.
func (c *Client) Subscribe(ctx context.Context, event string) (*EventStream, error) {
	stream, err := c.subscribe.CallServerStream(ctx, connect.NewRequest(&SubscribeRequest{Event: event}))
	if err != nil {
		return nil, bridgeError(err)
	}
	return &EventStream{stream: stream}, nil
}

// EventStream is the client side of a Subscribe call.
type EventStream struct {
	stream *connect.ServerStreamForClient[EventMessage]
}

// Receive blocks for the next message. It returns io.EOF once the server
// ends the stream.
func (s *EventStream) Receive() (EventMessage, error) {
	if s.stream.Receive() {
		return *s.stream.Msg(), nil
	}
	if err := s.stream.Err(); err != nil {
		return EventMessage{}, bridgeError(err)
	}
	return EventMessage{}, io.EOF
}

// Close ends the stream.
func (s *EventStream) Close() error {
	return s.stream.Close()
}
