package server

import (
	"context"
	"net/http"

	"connectrpc.com/connect"
	"github.com/tliron/commonlog"

	"github.com/chazu/shredctl/bridge"
)

// ControlServiceName is the fully-qualified name of the control service.
const ControlServiceName = "shredctl.v1.ControlService"

// Procedure paths of the control service.
const (
	ControlServiceExecProcedure      = "/" + ControlServiceName + "/Exec"
	ControlServiceStatusProcedure    = "/" + ControlServiceName + "/Status"
	ControlServiceShredsProcedure    = "/" + ControlServiceName + "/Shreds"
	ControlServiceSubscribeProcedure = "/" + ControlServiceName + "/Subscribe"
)

// StatusRequest asks for a coordinator snapshot.
type StatusRequest struct{}

// ShredsRequest asks for the live shreds.
type ShredsRequest struct{}

// ShredsResponse lists the live shreds with enough timing to render
// elapsed times.
type ShredsResponse struct {
	Shreds     []bridge.ShredHandle `cbor:"shreds" json:"shreds"`
	Now        uint64               `cbor:"now" json:"now"`
	SampleRate int                  `cbor:"sample_rate" json:"sample_rate"`
}

// SubscribeRequest opens a stream of firings of one global event.
type SubscribeRequest struct {
	Event string `cbor:"event" json:"event"`
}

// ControlService implements the control service handlers over a
// coordinator.
type ControlService struct {
	coord *bridge.Coordinator
	subs  *SubscriptionStore
	log   commonlog.Logger
}

// NewControlService creates a ControlService.
func NewControlService(coord *bridge.Coordinator, subs *SubscriptionStore, log commonlog.Logger) *ControlService {
	return &ControlService{coord: coord, subs: subs, log: log}
}

// Exec runs one command. Command failures travel in Result.Err; the call
// itself only fails on transport problems.
func (s *ControlService) Exec(
	ctx context.Context,
	req *connect.Request[bridge.Command],
) (*connect.Response[bridge.Result], error) {
	res := s.coord.Exec(*req.Msg)
	return connect.NewResponse(&res), nil
}

// Status reports the coordinator state. It never fails.
func (s *ControlService) Status(
	ctx context.Context,
	req *connect.Request[StatusRequest],
) (*connect.Response[bridge.Status], error) {
	st := s.coord.Status()
	return connect.NewResponse(&st), nil
}

// Shreds lists the live shreds.
func (s *ControlService) Shreds(
	ctx context.Context,
	req *connect.Request[ShredsRequest],
) (*connect.Response[ShredsResponse], error) {
	shreds, err := s.coord.Shreds().Refresh()
	if err != nil {
		return nil, connectError(err)
	}
	now, err := s.coord.Now()
	if err != nil {
		return nil, connectError(err)
	}
	return connect.NewResponse(&ShredsResponse{
		Shreds:     shreds,
		Now:        now,
		SampleRate: s.coord.Params().Engine.SampleRate,
	}), nil
}

// Subscribe streams firings of a global event until the client goes away
// or the server stops. The listener is removed when the stream ends.
func (s *ControlService) Subscribe(
	ctx context.Context,
	req *connect.Request[SubscribeRequest],
	stream *connect.ServerStream[EventMessage],
) error {
	sub, err := s.subs.Create(req.Msg.Event)
	if err != nil {
		return connectError(err)
	}
	defer s.subs.Destroy(sub.ID)

	if err := stream.Send(&EventMessage{Event: sub.Event, Subscription: sub.ID, Fired: sub.Created}); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sub.Done():
			return nil
		case msg := <-sub.Events():
			if err := stream.Send(&msg); err != nil {
				s.log.Debug("subscription send failed", "subscription", sub.ID, "error", err.Error())
				return err
			}
		}
	}
}

// NewControlServiceHandler builds an HTTP handler serving every procedure
// of svc with the CBOR codec. It returns the path to mount it on.
func NewControlServiceHandler(svc *ControlService, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(Codec{})}, opts...)

	exec := connect.NewUnaryHandler(ControlServiceExecProcedure, svc.Exec, opts...)
	status := connect.NewUnaryHandler(ControlServiceStatusProcedure, svc.Status, opts...)
	shreds := connect.NewUnaryHandler(ControlServiceShredsProcedure, svc.Shreds, opts...)
	subscribe := connect.NewServerStreamHandler(ControlServiceSubscribeProcedure, svc.Subscribe, opts...)

	return "/" + ControlServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case ControlServiceExecProcedure:
			exec.ServeHTTP(w, r)
		case ControlServiceStatusProcedure:
			status.ServeHTTP(w, r)
		case ControlServiceShredsProcedure:
			shreds.ServeHTTP(w, r)
		case ControlServiceSubscribeProcedure:
			subscribe.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}
