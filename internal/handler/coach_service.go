package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"connectrpc.com/connect"
	"github.com/rs/xid"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/voicetyped/speechcoach/internal/coach"
	"github.com/voicetyped/speechcoach/pkg/events"
)

// CoachServiceName is the fully-qualified name of the coach service.
const CoachServiceName = "speechcoach.v1.CoachService"

// Procedure paths.
const (
	StartSessionProcedure   = "/" + CoachServiceName + "/StartSession"
	StopSessionProcedure    = "/" + CoachServiceName + "/StopSession"
	PauseSessionProcedure   = "/" + CoachServiceName + "/PauseSession"
	ResumeSessionProcedure  = "/" + CoachServiceName + "/ResumeSession"
	GetSnapshotProcedure    = "/" + CoachServiceName + "/GetSnapshot"
	WatchSnapshotsProcedure = "/" + CoachServiceName + "/WatchSnapshots"
)

// CoachService serves the coach over Connect. Messages are
// google.protobuf.Struct documents carrying the same JSON as the REST API.
type CoachService struct {
	coach       *coach.Coach
	pub         *events.Publisher
	watchBuffer int
}

// NewCoachService creates the Connect service.
func NewCoachService(c *coach.Coach, pub *events.Publisher) *CoachService {
	return &CoachService{coach: c, pub: pub, watchBuffer: 64}
}

// SetWatchBuffer sets how many events a WatchSnapshots stream may lag
// behind before updates are dropped.
func (s *CoachService) SetWatchBuffer(n int) {
	if n > 0 {
		s.watchBuffer = n
	}
}

// NewCoachServiceHandler builds the route for every procedure.
func NewCoachServiceHandler(svc *CoachService, opts ...connect.HandlerOption) (string, http.Handler) {
	mux := http.NewServeMux()
	mux.Handle(StartSessionProcedure, connect.NewUnaryHandler(StartSessionProcedure, svc.StartSession, opts...))
	mux.Handle(StopSessionProcedure, connect.NewUnaryHandler(StopSessionProcedure, svc.StopSession, opts...))
	mux.Handle(PauseSessionProcedure, connect.NewUnaryHandler(PauseSessionProcedure, svc.PauseSession, opts...))
	mux.Handle(ResumeSessionProcedure, connect.NewUnaryHandler(ResumeSessionProcedure, svc.ResumeSession, opts...))
	mux.Handle(GetSnapshotProcedure, connect.NewUnaryHandler(GetSnapshotProcedure, svc.GetSnapshot, opts...))
	mux.Handle(WatchSnapshotsProcedure, connect.NewServerStreamHandler(WatchSnapshotsProcedure, svc.WatchSnapshots, opts...))
	return "/" + CoachServiceName + "/", mux
}

// ToStruct converts any JSON-encodable value to a Struct.
func ToStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

// FromStruct decodes a Struct into dest through its JSON form.
func FromStruct(s *structpb.Struct, dest any) error {
	if s == nil {
		return nil
	}
	raw, err := json.Marshal(s.AsMap())
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}

func sessionID(s *structpb.Struct) string {
	if s == nil {
		return ""
	}
	if v, ok := s.GetFields()["session_id"]; ok {
		return v.GetStringValue()
	}
	return ""
}

func respond(v any) (*connect.Response[structpb.Struct], error) {
	out, err := ToStruct(v)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, fmt.Errorf("encode response: %w", err))
	}
	return connect.NewResponse(out), nil
}

func (s *CoachService) StartSession(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	var sr coach.StartRequest
	if err := FromStruct(req.Msg, &sr); err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	info, err := s.coach.Start(ctx, sr)
	if err != nil {
		return nil, connectError(err)
	}
	return respond(info)
}

func (s *CoachService) StopSession(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	sum, err := s.coach.Stop(ctx, sessionID(req.Msg))
	if err != nil {
		return nil, connectError(err)
	}
	return respond(sum)
}

func (s *CoachService) PauseSession(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	if err := s.coach.Pause(ctx, sessionID(req.Msg)); err != nil {
		return nil, connectError(err)
	}
	return connect.NewResponse(&structpb.Struct{}), nil
}

func (s *CoachService) ResumeSession(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	if err := s.coach.Resume(ctx, sessionID(req.Msg)); err != nil {
		return nil, connectError(err)
	}
	return connect.NewResponse(&structpb.Struct{}), nil
}

func (s *CoachService) GetSnapshot(_ context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	snap, err := s.coach.Snapshot(sessionID(req.Msg))
	if err != nil {
		return nil, connectError(err)
	}
	return respond(snap)
}

// WatchSnapshots sends the current snapshot, then a new one after every
// metric update, until the session stops or the client goes away.
func (s *CoachService) WatchSnapshots(ctx context.Context, req *connect.Request[structpb.Struct], stream *connect.ServerStream[structpb.Struct]) error {
	id := sessionID(req.Msg)
	if id == "" {
		active, ok := s.coach.Active()
		if !ok {
			return connectError(coach.ErrNoSession)
		}
		id = active
	}

	subID := "watch-" + xid.New().String()
	ch := s.pub.SubscribeSession(subID, id, s.watchBuffer)
	defer s.pub.Unsubscribe(subID)

	// send returns a snapshot error unchanged so the caller can tell a
	// finished session from a broken stream.
	send := func() (snapErr, sendErr error) {
		snap, err := s.coach.Snapshot(id)
		if err != nil {
			return err, nil
		}
		msg, err := ToStruct(snap)
		if err != nil {
			return nil, connect.NewError(connect.CodeInternal, err)
		}
		return nil, stream.Send(msg)
	}
	if snapErr, sendErr := send(); snapErr != nil {
		return connectError(snapErr)
	} else if sendErr != nil {
		return sendErr
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case env, ok := <-ch:
			if !ok {
				return nil
			}
			switch env.Type {
			case events.MetricUpdated:
				snapErr, sendErr := send()
				if snapErr != nil {
					// The session ended between the update and the read.
					return nil
				}
				if sendErr != nil {
					return sendErr
				}
			case events.SessionStopped:
				return nil
			}
		}
	}
}
