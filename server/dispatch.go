package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/edisonsu0623/krunker-game-backend/domain/room"
	"github.com/edisonsu0623/krunker-game-backend/protocol"
)

var (
	errUnknownEvent = errors.New("unknown event")
	errBadPayload   = errors.New("bad payload")
)

// maxDamage bounds client-reported damage before it reaches the arbitrator.
const maxDamage = 1 << 20

type errorMessage struct {
	Event   string `json:"event,omitempty"`
	Message string `json:"message"`
}

// HandleFrame decodes and applies one client frame. Malformed frames are
// answered with an error event; stale events are dropped silently.
func (s *Server) HandleFrame(ctx context.Context, playerID string, frame []byte) {
	env, err := protocol.DecodeEnvelope(frame)
	if err != nil {
		s.logger.Debug("malformed frame",
			slog.String("player_id", playerID),
			slog.String("error", err.Error()),
		)
		s.metrics.Event("unknown", "error")
		s.hub.SendTo(playerID, protocol.MsgError, errorMessage{Message: "malformed frame"})
		return
	}

	ctx, span := s.tracer.Start(ctx, "arena."+env.T,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("arena.event", env.T),
			attribute.String("arena.player_id", playerID),
		),
	)
	defer span.End()

	err = s.dispatch(ctx, playerID, env)
	switch {
	case err == nil:
		s.metrics.Event(env.T, "ok")
	case room.IsBenign(err):
		s.metrics.Event(env.T, "ignored")
		span.AddEvent("ignored", trace.WithAttributes(attribute.String("reason", err.Error())))
	default:
		s.metrics.Event(env.T, "error")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Warn("event failed",
			slog.String("player_id", playerID),
			slog.String("event", env.T),
			slog.String("error", err.Error()),
		)
		if errors.Is(err, errUnknownEvent) || errors.Is(err, errBadPayload) {
			s.hub.SendTo(playerID, protocol.MsgError, errorMessage{Event: env.T, Message: err.Error()})
		}
	}
}

func (s *Server) dispatch(ctx context.Context, playerID string, env protocol.Envelope) error {
	switch env.T {
	case protocol.MsgJoinRoom:
		return s.handleJoin(ctx, playerID, env)
	case protocol.MsgPlayerUpdate:
		return s.handleUpdate(ctx, playerID, env)
	case protocol.MsgPlayerShoot:
		p, err := protocol.DecodePayload[protocol.PlayerShoot](env, false)
		if err != nil {
			return fmt.Errorf("%w: %v", errBadPayload, err)
		}
		_, err = s.Rooms.Shoot(ctx, playerID, room.Shot{
			Origin:    vec(p.Origin),
			Direction: vec(p.Direction),
		})
		return err
	case protocol.MsgPlayerHit:
		p, err := protocol.DecodePayload[protocol.PlayerHit](env, false)
		if err != nil {
			return fmt.Errorf("%w: %v", errBadPayload, err)
		}
		if p.TargetID == "" {
			return fmt.Errorf("%w: missing targetId", errBadPayload)
		}
		_, err = s.Rooms.Hit(ctx, playerID, p.TargetID, clampDamage(p.Damage))
		return err
	case protocol.MsgGetRoomList:
		rooms, err := s.Rooms.ListRooms(ctx)
		if err != nil {
			return err
		}
		s.hub.SendTo(playerID, protocol.MsgRoomList, rooms)
		return nil
	default:
		return fmt.Errorf("%w: %q", errUnknownEvent, env.T)
	}
}

func (s *Server) handleJoin(ctx context.Context, playerID string, env protocol.Envelope) error {
	p, err := protocol.DecodePayload[protocol.JoinRoom](env, true)
	if err != nil {
		return fmt.Errorf("%w: %v", errBadPayload, err)
	}
	// On success the coordinator itself delivers joinedRoom, ordered ahead of
	// any other event from the room.
	_, err = s.Rooms.Join(ctx, room.JoinRequest{
		RoomID:   p.RoomID,
		PlayerID: playerID,
		Name:     p.PlayerName,
		ConnRef:  room.ConnRef(playerID),
	})
	if errors.Is(err, room.ErrRoomFull) {
		s.hub.SendTo(playerID, protocol.MsgJoinRoomError, room.ErrRoomFull.Error())
		return nil
	}
	return err
}

func (s *Server) handleUpdate(ctx context.Context, playerID string, env protocol.Envelope) error {
	fields, err := protocol.DecodePayload[map[string]json.RawMessage](env, false)
	if err != nil {
		return fmt.Errorf("%w: %v", errBadPayload, err)
	}

	var u room.PlayerUpdate
	for key, raw := range fields {
		switch key {
		case "position":
			var pos room.Vec3
			if err := json.Unmarshal(raw, &pos); err != nil {
				return fmt.Errorf("%w: position: %v", errBadPayload, err)
			}
			u.Position = &pos
		case "rotation":
			var rot room.Rotation
			if err := json.Unmarshal(raw, &rot); err != nil {
				return fmt.Errorf("%w: rotation: %v", errBadPayload, err)
			}
			u.Rotation = &rot
		default:
			var v any
			if err := json.Unmarshal(raw, &v); err != nil {
				return fmt.Errorf("%w: %s: %v", errBadPayload, key, err)
			}
			if u.Attributes == nil {
				u.Attributes = make(map[string]any)
			}
			u.Attributes[key] = v
		}
	}
	_, err = s.Rooms.Update(ctx, playerID, u)
	return err
}

func vec(v protocol.Vector) room.Vec3 {
	return room.Vec3{X: v.X, Y: v.Y, Z: v.Z}
}

func clampDamage(d float64) int {
	switch {
	case math.IsNaN(d) || d <= 0:
		return 0
	case d > maxDamage:
		return maxDamage
	}
	return int(math.Round(d))
}
