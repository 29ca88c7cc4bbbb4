package room

import (
	"encoding/json"
	"fmt"
)

// Broadcast tells the fan-out layer to deliver one event to a set of players.
type Broadcast struct {
	RoomID     string
	Event      string
	Payload    any
	Recipients []string
}

// Publisher delivers broadcasts. Publish is called from the coordinator
// goroutine and must not block on network I/O.
type Publisher interface {
	Publish(Broadcast)
}

type discardPublisher struct{}

func (discardPublisher) Publish(Broadcast) {}

// Joined is the full room state sent to a player that just joined.
type Joined struct {
	Room    Snapshot `json:"room"`
	Player  Player   `json:"player"`
	Players []Player `json:"players"`
}

// RoomClosed is sent to the members of a room dropped after an internal error.
type RoomClosed struct {
	RoomID  string `json:"roomId"`
	Message string `json:"message"`
}

type PlayerLeft struct {
	PlayerID string `json:"playerId"`
}

type HostChanged struct {
	RoomID string `json:"roomId"`
	HostID string `json:"hostId"`
}

// PlayerUpdated carries the merged fields back to the other members.
// Attributes travel flat next to playerId, position and rotation.
type PlayerUpdated struct {
	PlayerID   string
	Position   *Vec3
	Rotation   *Rotation
	Attributes map[string]any
}

func (u PlayerUpdated) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(u.Attributes)+3)
	for k, v := range u.Attributes {
		out[k] = v
	}
	out["playerId"] = u.PlayerID
	if u.Position != nil {
		out["position"] = u.Position
	}
	if u.Rotation != nil {
		out["rotation"] = u.Rotation
	}
	return json.Marshal(out)
}

func (u *PlayerUpdated) UnmarshalJSON(b []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return err
	}
	*u = PlayerUpdated{}
	for k, raw := range fields {
		var err error
		switch k {
		case "playerId":
			err = json.Unmarshal(raw, &u.PlayerID)
		case "position":
			u.Position = new(Vec3)
			err = json.Unmarshal(raw, u.Position)
		case "rotation":
			u.Rotation = new(Rotation)
			err = json.Unmarshal(raw, u.Rotation)
		default:
			var v any
			err = json.Unmarshal(raw, &v)
			if u.Attributes == nil {
				u.Attributes = make(map[string]any)
			}
			u.Attributes[k] = v
		}
		if err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
	}
	return nil
}

type ShotFired struct {
	ShooterID string `json:"shooterId"`
	Origin    Vec3   `json:"origin"`
	Direction Vec3   `json:"direction"`
	Timestamp int64  `json:"timestamp"` // server unix millis
}

// HitResult is the outcome of one arbitrated hit.
type HitResult struct {
	RoomID       string `json:"-"`
	ShooterID    string `json:"shooterId"`
	TargetID     string `json:"targetId"`
	Damage       int    `json:"damage"`
	TargetHealth int    `json:"targetHealth"`
	IsKill       bool   `json:"isKill"`
	ShooterScore Score  `json:"shooterScore"`
	TargetScore  Score  `json:"targetScore"`
}

type Respawned struct {
	PlayerID string `json:"playerId"`
	Position Vec3   `json:"position"`
	Health   int    `json:"health"`
}
