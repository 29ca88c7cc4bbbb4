package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/edisonsu0623/krunker-game-backend/domain/room"
)

// Monitoring service procedures. Messages are protobuf well-known types, so
// any connect, gRPC or gRPC-web client can call them without generated stubs.
const (
	MonitorServiceName = "arena.v1.MonitorService"

	ListRoomsProcedure        = "/" + MonitorServiceName + "/ListRooms"
	StatusProcedure           = "/" + MonitorServiceName + "/Status"
	StreamRoomEventsProcedure = "/" + MonitorServiceName + "/StreamRoomEvents"
)

// roomSnapshotEvent opens every event stream with the current room state.
const roomSnapshotEvent = "roomSnapshot"

type roomSnapshot struct {
	Room    room.Snapshot         `json:"room"`
	Players []room.Player         `json:"players"`
	Scores  map[string]room.Score `json:"scores"`
}

// NewMonitorHandler builds the connect handlers for the monitoring service
// and returns the path prefix to mount them on.
func NewMonitorHandler(s *Server, opts ...connect.HandlerOption) (string, http.Handler) {
	mux := http.NewServeMux()
	mux.Handle(ListRoomsProcedure, connect.NewUnaryHandler(ListRoomsProcedure, s.ListRooms, opts...))
	mux.Handle(StatusProcedure, connect.NewUnaryHandler(StatusProcedure, s.Status, opts...))
	mux.Handle(StreamRoomEventsProcedure, connect.NewServerStreamHandler(StreamRoomEventsProcedure, s.StreamRoomEvents, opts...))
	return "/" + MonitorServiceName + "/", mux
}

func (s *Server) ListRooms(ctx context.Context, _ *connect.Request[emptypb.Empty]) (*connect.Response[structpb.Struct], error) {
	rooms, err := s.Rooms.ListRooms(ctx)
	if err != nil {
		return nil, toConnectError(err)
	}
	list, err := toValue(rooms)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(&structpb.Struct{
		Fields: map[string]*structpb.Value{"rooms": list},
	}), nil
}

func (s *Server) Status(ctx context.Context, _ *connect.Request[emptypb.Empty]) (*connect.Response[structpb.Struct], error) {
	st, err := s.Rooms.Status(ctx)
	if err != nil {
		return nil, toConnectError(err)
	}
	msg, err := structpb.NewStruct(statusFields(st))
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}

// StreamRoomEvents streams every broadcast of one room to a spectator,
// starting with a snapshot of the room.
func (s *Server) StreamRoomEvents(
	ctx context.Context,
	req *connect.Request[wrapperspb.StringValue],
	stream *connect.ServerStream[structpb.Struct],
) error {
	roomID := req.Msg.GetValue()
	if roomID == "" {
		return connect.NewError(connect.CodeInvalidArgument, errors.New("room id is required"))
	}

	events, cancel := s.hub.Subscribe(roomID)
	defer cancel()

	view, err := s.Rooms.Room(ctx, roomID)
	if err != nil {
		return toConnectError(err)
	}
	first, err := eventStruct(roomID, roomSnapshotEvent, roomSnapshot{Room: view.Room, Players: view.Players, Scores: view.Scores})
	if err != nil {
		return connect.NewError(connect.CodeInternal, err)
	}
	if err := stream.Send(first); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case b := <-events:
			msg, err := eventStruct(b.RoomID, b.Event, b.Payload)
			if err != nil {
				s.logger.Error("encode stream event",
					slog.String("event", b.Event),
					slog.String("error", err.Error()),
				)
				continue
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
		}
	}
}

func statusFields(st room.Status) map[string]any {
	return map[string]any{
		"status":  "running",
		"rooms":   st.RoomCount,
		"players": st.PlayerCount,
		"uptime":  st.Uptime.Seconds(),
	}
}

func eventStruct(roomID, event string, payload any) (*structpb.Struct, error) {
	v, err := toValue(payload)
	if err != nil {
		return nil, err
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"roomId":  structpb.NewStringValue(roomID),
		"event":   structpb.NewStringValue(event),
		"payload": v,
	}}, nil
}

// toValue converts any JSON-encodable value into a protobuf Value using its
// JSON field names.
func toValue(v any) (*structpb.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %T: %w", v, err)
	}
	var generic any
	if err := json.Unmarshal(b, &generic); err != nil {
		return nil, fmt.Errorf("unmarshal %T: %w", v, err)
	}
	return structpb.NewValue(generic)
}

func toConnectError(err error) error {
	switch {
	case errors.Is(err, room.ErrNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, room.ErrStopped):
		return connect.NewError(connect.CodeUnavailable, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeCanceled, err)
	default:
		return connect.NewError(connect.CodeInternal, err)
	}
}
