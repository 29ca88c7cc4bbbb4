package room

import (
	"context"
	"time"
)

// Service is the coordinator API used by transports.
type Service interface {
	Join(ctx context.Context, req JoinRequest) (JoinResult, error)
	Leave(ctx context.Context, playerID string) (LeaveResult, error)
	Update(ctx context.Context, playerID string, update PlayerUpdate) (PlayerUpdated, error)
	Shoot(ctx context.Context, playerID string, shot Shot) (ShotFired, error)
	Hit(ctx context.Context, shooterID, targetID string, damage int) (HitResult, error)
	ListRooms(ctx context.Context) ([]Summary, error)
	Status(ctx context.Context) (Status, error)
	Room(ctx context.Context, roomID string) (View, error)
}

type JoinRequest struct {
	RoomID   string
	PlayerID string
	Name     string
	ConnRef  ConnRef
}

type JoinResult struct {
	Player  Player
	Room    Snapshot
	Players []Player
	Created bool
}

type LeaveResult struct {
	RoomID      string
	RoomDeleted bool
	NewHostID   string // set only when the host changed
}

// PlayerUpdate is a partial client state. Nil fields are left untouched.
type PlayerUpdate struct {
	Position   *Vec3
	Rotation   *Rotation
	Attributes map[string]any
}

type Shot struct {
	Origin    Vec3
	Direction Vec3
}

type Status struct {
	RoomCount   int
	PlayerCount int
	Uptime      time.Duration
}

// View is a consistent copy of one room.
type View struct {
	Room    Snapshot
	Players []Player
	Scores  map[string]Score
}

var _ Service = (*Coordinator)(nil)

func (c *Coordinator) Join(ctx context.Context, req JoinRequest) (JoinResult, error) {
	reply := newReply[JoinResult]()
	return call(ctx, c, joinCmd{req: req, reply: reply}, reply)
}

// Leave removes the player from its room. It is safe to call more than once.
func (c *Coordinator) Leave(ctx context.Context, playerID string) (LeaveResult, error) {
	reply := newReply[LeaveResult]()
	return call(ctx, c, leaveCmd{playerID: playerID, reply: reply}, reply)
}

func (c *Coordinator) Update(ctx context.Context, playerID string, update PlayerUpdate) (PlayerUpdated, error) {
	reply := newReply[PlayerUpdated]()
	return call(ctx, c, updateCmd{playerID: playerID, update: update, reply: reply}, reply)
}

func (c *Coordinator) Shoot(ctx context.Context, playerID string, shot Shot) (ShotFired, error) {
	reply := newReply[ShotFired]()
	return call(ctx, c, shootCmd{playerID: playerID, shot: shot, reply: reply}, reply)
}

func (c *Coordinator) Hit(ctx context.Context, shooterID, targetID string, damage int) (HitResult, error) {
	reply := newReply[HitResult]()
	return call(ctx, c, hitCmd{shooterID: shooterID, targetID: targetID, damage: damage, reply: reply}, reply)
}

// ListRooms returns every active room ordered by id.
func (c *Coordinator) ListRooms(ctx context.Context) ([]Summary, error) {
	reply := newReply[[]Summary]()
	return call(ctx, c, listCmd{reply: reply}, reply)
}

func (c *Coordinator) Status(ctx context.Context) (Status, error) {
	reply := newReply[Status]()
	return call(ctx, c, statusCmd{reply: reply}, reply)
}

func (c *Coordinator) Room(ctx context.Context, roomID string) (View, error) {
	reply := newReply[View]()
	return call(ctx, c, viewCmd{roomID: roomID, reply: reply}, reply)
}

func call[T any](ctx context.Context, c *Coordinator, cmd command, reply chan result[T]) (T, error) {
	var zero T
	select {
	case c.inbox <- cmd:
	case <-c.done:
		return zero, ErrStopped
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	select {
	case r := <-reply:
		return r.val, r.err
	case <-c.done:
		select {
		case r := <-reply:
			return r.val, r.err
		default:
			return zero, ErrStopped
		}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
