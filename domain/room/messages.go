package room

// Commands delivered to the coordinator inbox. Every command that expects an
// answer carries a buffered reply channel so the coordinator never blocks on
// a caller that has gone away.

type command interface {
	name() string
	// subject is the player whose room is dropped if applying the command panics.
	subject() string
	fail(err error)
}

type result[T any] struct {
	val T
	err error
}

func newReply[T any]() chan result[T] {
	return make(chan result[T], 1)
}

func trySend[T any](ch chan result[T], r result[T]) {
	select {
	case ch <- r:
	default:
	}
}

type joinCmd struct {
	req   JoinRequest
	reply chan result[JoinResult]
}

func (c joinCmd) name() string { return "join" }
func (c joinCmd) subject() string { return c.req.PlayerID }
func (c joinCmd) fail(err error) { trySend(c.reply, result[JoinResult]{err: err}) }

type leaveCmd struct {
	playerID string
	reply    chan result[LeaveResult]
}

func (c leaveCmd) name() string { return "leave" }
func (c leaveCmd) subject() string { return c.playerID }
func (c leaveCmd) fail(err error) { trySend(c.reply, result[LeaveResult]{err: err}) }

type updateCmd struct {
	playerID string
	update   PlayerUpdate
	reply    chan result[PlayerUpdated]
}

func (c updateCmd) name() string { return "update" }
func (c updateCmd) subject() string { return c.playerID }
func (c updateCmd) fail(err error) { trySend(c.reply, result[PlayerUpdated]{err: err}) }

type shootCmd struct {
	playerID string
	shot     Shot
	reply    chan result[ShotFired]
}

func (c shootCmd) name() string { return "shoot" }
func (c shootCmd) subject() string { return c.playerID }
func (c shootCmd) fail(err error) { trySend(c.reply, result[ShotFired]{err: err}) }

type hitCmd struct {
	shooterID string
	targetID  string
	damage    int
	reply     chan result[HitResult]
}

func (c hitCmd) name() string { return "hit" }
func (c hitCmd) subject() string { return c.targetID }
func (c hitCmd) fail(err error) { trySend(c.reply, result[HitResult]{err: err}) }

// respawnCmd is posted by a respawn timer; deaths pins it to one specific death.
type respawnCmd struct {
	key    respawnKey
	deaths int
}

func (c respawnCmd) name() string { return "respawn" }
func (c respawnCmd) subject() string { return c.key.PlayerID }
func (c respawnCmd) fail(error) {}

type listCmd struct {
	reply chan result[[]Summary]
}

func (c listCmd) name() string { return "list" }
func (c listCmd) subject() string { return "" }
func (c listCmd) fail(err error) { trySend(c.reply, result[[]Summary]{err: err}) }

type statusCmd struct {
	reply chan result[Status]
}

func (c statusCmd) name() string { return "status" }
func (c statusCmd) subject() string { return "" }
func (c statusCmd) fail(err error) { trySend(c.reply, result[Status]{err: err}) }

type viewCmd struct {
	roomID string
	reply  chan result[View]
}

func (c viewCmd) name() string { return "view" }
func (c viewCmd) subject() string { return "" }
func (c viewCmd) fail(err error) { trySend(c.reply, result[View]{err: err}) }
