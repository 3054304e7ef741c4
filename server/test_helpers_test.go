package server

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"connectrpc.com/connect"

	"github.com/chazu/shredctl/bridge"
)

// ---------------------------------------------------------------------------
// Shared test infrastructure for server package tests.
//
// Every test gets its own coordinator with a private callback registry, so
// tests never see each other's listeners.
// ---------------------------------------------------------------------------

// testEnv bundles an initialized coordinator, a server over it, an
// httptest listener and a client.
type testEnv struct {
	Coord  *bridge.Coordinator
	Server *Server
	HTTP   *httptest.Server
	Client *Client
}

func testParams() bridge.Params {
	p := bridge.DefaultParams()
	p.PollInterval = time.Millisecond
	p.GraceDelay = time.Millisecond
	p.QuiesceTimeout = 50 * time.Millisecond
	p.ReadTimeoutFrames = 1024
	return p
}

func newTestCoordinator(t *testing.T) *bridge.Coordinator {
	t.Helper()
	c := bridge.New(bridge.WithCallbackRegistry(bridge.NewCallbackRegistry()))
	if err := c.Configure(testParams()); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if err := c.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return c
}

// newTestEnv starts a server over a fresh coordinator. Everything is torn
// down when the test finishes.
func newTestEnv(t *testing.T, opts ...ServerOption) *testEnv {
	t.Helper()
	c := newTestCoordinator(t)
	s := New(c, opts...)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Stop()
		ts.Close()
		c.Stop()
	})
	return &testEnv{
		Coord:  c,
		Server: s,
		HTTP:   ts,
		Client: NewClient(ts.Client(), ts.URL),
	}
}

// exec runs cmd through the client and fails the test on any error.
func (e *testEnv) exec(t *testing.T, cmd bridge.Command) bridge.Result {
	t.Helper()
	res, err := e.Client.Exec(bg(), cmd)
	if err != nil {
		t.Fatalf("Exec(%s): %v", cmd.Op, err)
	}
	if !res.OK {
		t.Fatalf("Exec(%s) failed: %v", cmd.Op, res.Err)
	}
	return res
}

// eventually polls cond until it holds or a second passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// ---------------------------------------------------------------------------
// Request builder helpers.
// ---------------------------------------------------------------------------

func connectReq[T any](msg *T) *connect.Request[T] {
	return connect.NewRequest(msg)
}

func bg() context.Context {
	return context.Background()
}
