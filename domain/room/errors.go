package room

import "errors"

var (
	ErrRoomFull      = errors.New("room is full")
	ErrNotFound      = errors.New("player or room not found")
	ErrInvalidTarget = errors.New("invalid target")
	ErrInvalidDamage = errors.New("damage must be positive")
	ErrDeadShooter   = errors.New("shooter is not alive")
	ErrStopped       = errors.New("coordinator stopped")
)

// IsBenign reports whether err models a late or stale client event that the
// caller should drop silently.
func IsBenign(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidTarget) ||
		errors.Is(err, ErrInvalidDamage) ||
		errors.Is(err, ErrDeadShooter)
}
