package room

import "log/slog"

// ConnRef identifies the transport connection a player arrived on.
type ConnRef string

type indexEntry struct {
	RoomID  string
	ConnRef ConnRef
}

// PlayerIndex maps a player to the room it is in. Like Registry it belongs to
// the coordinator goroutine.
type PlayerIndex struct {
	entries map[string]indexEntry
	logger  *slog.Logger
}

func NewPlayerIndex(logger *slog.Logger) *PlayerIndex {
	if logger == nil {
		logger = slog.Default()
	}
	return &PlayerIndex{
		entries: make(map[string]indexEntry),
		logger:  logger,
	}
}

// Register records playerID as a member of roomID. An existing entry is
// overwritten; that only happens when an upstream leave was missed.
func (x *PlayerIndex) Register(playerID, roomID string, conn ConnRef) {
	if prev, ok := x.entries[playerID]; ok {
		x.logger.Warn("player index entry overwritten",
			slog.String("player_id", playerID),
			slog.String("previous_room_id", prev.RoomID),
			slog.String("room_id", roomID),
		)
	}
	x.entries[playerID] = indexEntry{RoomID: roomID, ConnRef: conn}
}

func (x *PlayerIndex) Lookup(playerID string) (roomID string, conn ConnRef, ok bool) {
	e, ok := x.entries[playerID]
	return e.RoomID, e.ConnRef, ok
}

func (x *PlayerIndex) Unregister(playerID string) {
	delete(x.entries, playerID)
}

func (x *PlayerIndex) Len() int {
	return len(x.entries)
}
