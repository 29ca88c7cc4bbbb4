package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/edisonsu0623/krunker-game-backend/protocol"
	"github.com/edisonsu0623/krunker-game-backend/telemetry"
)

// DefaultRespawnDelay is how long a killed player stays dead.
const DefaultRespawnDelay = 3 * time.Second

var errInternal = errors.New("internal error")

// Coordinator owns every room and the player index. All state is confined
// to the goroutine running Run; other goroutines talk to it through the
// Service methods.
type Coordinator struct {
	inbox    chan command
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	rooms   *Registry
	index   *PlayerIndex
	pending map[respawnKey]pendingRespawn

	pub          Publisher
	logger       *slog.Logger
	metrics      *telemetry.Metrics
	respawnDelay time.Duration
	maxPlayers   int
	now          func() time.Time
	started      time.Time
}

type Option func(*Coordinator)

func WithPublisher(p Publisher) Option {
	return func(c *Coordinator) { c.pub = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

func WithRespawnDelay(d time.Duration) Option {
	return func(c *Coordinator) { c.respawnDelay = d }
}

// WithMaxPlayers sets the capacity of newly created rooms.
func WithMaxPlayers(n int) Option {
	return func(c *Coordinator) { c.maxPlayers = n }
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func NewCoordinator(opts ...Option) *Coordinator {
	c := &Coordinator{
		inbox:        make(chan command, 256),
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
		pending:      make(map[respawnKey]pendingRespawn),
		pub:          discardPublisher{},
		logger:       slog.Default(),
		respawnDelay: DefaultRespawnDelay,
		maxPlayers:   DefaultMaxPlayers,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(slog.String("component", "coordinator"))
	c.rooms = NewRegistry(DefaultSettings(c.maxPlayers))
	c.index = NewPlayerIndex(c.logger)
	c.started = c.now()
	return c
}

// Run processes commands until ctx is cancelled or Stop is called.
func (c *Coordinator) Run(ctx context.Context) {
	defer close(c.done)
	defer c.stopTimers()

	c.logger.Info("coordinator started",
		slog.Int("max_players", c.maxPlayers),
		slog.Duration("respawn_delay", c.respawnDelay),
	)
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.quit:
			return
		case cmd := <-c.inbox:
			c.handleCommand(cmd)
		}
	}
}

func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() { close(c.quit) })
}

// Done is closed once Run has returned.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

func (c *Coordinator) stopTimers() {
	for key, pr := range c.pending {
		pr.timer.Stop()
		delete(c.pending, key)
	}
}

func (c *Coordinator) handleCommand(cmd command) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("command panicked",
				slog.String("command", cmd.name()),
				slog.String("player_id", cmd.subject()),
				slog.String("panic", fmt.Sprint(r)),
			)
			c.contain(cmd.subject())
			cmd.fail(errInternal)
		}
		c.metrics.ObserveCommand(cmd.name(), time.Since(start))
		c.metrics.SetOccupancy(c.rooms.Len(), c.index.Len())
	}()

	switch m := cmd.(type) {
	case joinCmd:
		res, err := c.join(m.req)
		m.reply <- result[JoinResult]{res, err}
	case leaveCmd:
		res, err := c.leave(m.playerID)
		m.reply <- result[LeaveResult]{res, err}
	case updateCmd:
		res, err := c.update(m.playerID, m.update)
		m.reply <- result[PlayerUpdated]{res, err}
	case shootCmd:
		res, err := c.shoot(m.playerID, m.shot)
		m.reply <- result[ShotFired]{res, err}
	case hitCmd:
		res, err := c.hit(m.shooterID, m.targetID, m.damage)
		m.reply <- result[HitResult]{res, err}
	case respawnCmd:
		c.respawn(m)
	case listCmd:
		m.reply <- result[[]Summary]{val: c.listRooms()}
	case statusCmd:
		m.reply <- result[Status]{val: c.status()}
	case viewCmd:
		res, err := c.view(m.roomID)
		m.reply <- result[View]{res, err}
	default:
		c.logger.Error("unknown command", slog.String("type", fmt.Sprintf("%T", cmd)))
	}
}

// contain drops the room the given player is in after a failed command so a
// corrupted room cannot affect the others.
func (c *Coordinator) contain(playerID string) {
	if playerID == "" {
		return
	}
	roomID, _, ok := c.index.Lookup(playerID)
	if !ok {
		return
	}
	rm, ok := c.rooms.Get(roomID)
	if !ok {
		c.index.Unregister(playerID)
		return
	}
	members := rm.memberIDs("")
	for _, id := range members {
		c.index.Unregister(id)
		c.cancelRespawn(respawnKey{RoomID: roomID, PlayerID: id})
	}
	c.rooms.Delete(roomID)
	c.logger.Error("room dropped", slog.String("room_id", roomID))
	c.notifyClosed(roomID, members)
}

// notifyClosed tells the members of a dropped room that they are no longer
// in it. It runs inside the panic handler, so a failing publisher is logged
// and otherwise ignored.
func (c *Coordinator) notifyClosed(roomID string, members []string) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("room closed notice failed",
				slog.String("room_id", roomID),
				slog.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	c.pub.Publish(Broadcast{
		RoomID:     roomID,
		Event:      protocol.MsgError,
		Payload:    RoomClosed{RoomID: roomID, Message: "room closed after an internal error"},
		Recipients: members,
	})
}

// resolve finds the player's room and record.
func (c *Coordinator) resolve(playerID string) (*Room, *Player, error) {
	roomID, _, ok := c.index.Lookup(playerID)
	if !ok {
		return nil, nil, ErrNotFound
	}
	rm, ok := c.rooms.Get(roomID)
	if !ok {
		c.logger.Warn("index points at missing room",
			slog.String("player_id", playerID),
			slog.String("room_id", roomID),
		)
		c.index.Unregister(playerID)
		return nil, nil, ErrNotFound
	}
	p, ok := rm.Players[playerID]
	if !ok {
		c.logger.Warn("index points at room without player",
			slog.String("player_id", playerID),
			slog.String("room_id", roomID),
		)
		c.index.Unregister(playerID)
		return nil, nil, ErrNotFound
	}
	return rm, p, nil
}

func (c *Coordinator) join(req JoinRequest) (JoinResult, error) {
	if req.PlayerID == "" {
		return JoinResult{}, fmt.Errorf("join: %w: empty player id", ErrNotFound)
	}
	roomID := strings.TrimSpace(req.RoomID)
	if roomID == "" {
		roomID = c.rooms.NewCode()
	}

	prev, _, inRoom := c.index.Lookup(req.PlayerID)
	if existing, ok := c.rooms.Get(roomID); ok && existing.full() && (!inRoom || prev != roomID) {
		return JoinResult{}, fmt.Errorf("join %s: %w", roomID, ErrRoomFull)
	}
	if inRoom {
		c.logger.Warn("player joined while still in a room",
			slog.String("player_id", req.PlayerID),
			slog.String("room_id", prev),
		)
		if _, err := c.leave(req.PlayerID); err != nil && !errors.Is(err, ErrNotFound) {
			return JoinResult{}, err
		}
	}

	rm, created := c.rooms.GetOrCreate(roomID, req.PlayerID)

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = DefaultName(req.PlayerID)
	}
	rm.nextSeq++
	p := newPlayer(req.PlayerID, name, rm.nextSeq, c.now())
	p.Score = rm.GameData.Scores[p.ID]
	rm.Players[p.ID] = p
	rm.GameData.Scores[p.ID] = p.Score
	c.index.Register(p.ID, rm.ID, req.ConnRef)

	c.logger.Info("player joined room",
		slog.String("player_id", p.ID),
		slog.String("room_id", rm.ID),
		slog.Bool("created", created),
	)
	res := JoinResult{
		Player:  p.clone(),
		Room:    rm.snapshot(),
		Players: rm.playerList(),
		Created: created,
	}
	// The joiner's snapshot is queued before any later room event can reach it.
	c.pub.Publish(Broadcast{
		RoomID:     rm.ID,
		Event:      protocol.MsgJoinedRoom,
		Payload:    Joined{Room: res.Room, Player: res.Player, Players: res.Players},
		Recipients: []string{p.ID},
	})
	if others := rm.memberIDs(p.ID); len(others) > 0 {
		c.pub.Publish(Broadcast{
			RoomID:     rm.ID,
			Event:      protocol.MsgPlayerJoined,
			Payload:    p.clone(),
			Recipients: others,
		})
	}
	return res, nil
}

// DefaultName derives a display name from the connection-assigned id.
func DefaultName(playerID string) string {
	short := playerID
	if len(short) > 6 {
		short = short[:6]
	}
	return "Player " + short
}

func (c *Coordinator) leave(playerID string) (LeaveResult, error) {
	roomID, _, ok := c.index.Lookup(playerID)
	if !ok {
		return LeaveResult{}, ErrNotFound
	}
	c.index.Unregister(playerID)
	c.cancelRespawn(respawnKey{RoomID: roomID, PlayerID: playerID})

	rm, ok := c.rooms.Get(roomID)
	if !ok {
		return LeaveResult{RoomID: roomID, RoomDeleted: true}, nil
	}
	delete(rm.Players, playerID)
	res := LeaveResult{RoomID: roomID}

	if len(rm.Players) == 0 {
		c.rooms.Delete(roomID)
		res.RoomDeleted = true
		c.logger.Info("room deleted", slog.String("room_id", roomID))
	} else if rm.HostID == playerID {
		rm.HostID = rm.electHost()
		res.NewHostID = rm.HostID
		c.logger.Info("host transferred",
			slog.String("room_id", roomID),
			slog.String("from", playerID),
			slog.String("to", rm.HostID),
		)
	}
	c.logger.Info("player left room",
		slog.String("player_id", playerID),
		slog.String("room_id", roomID),
	)

	if !res.RoomDeleted {
		members := rm.memberIDs("")
		c.pub.Publish(Broadcast{
			RoomID:     roomID,
			Event:      protocol.MsgPlayerLeft,
			Payload:    PlayerLeft{PlayerID: playerID},
			Recipients: members,
		})
		if res.NewHostID != "" {
			c.pub.Publish(Broadcast{
				RoomID:     roomID,
				Event:      protocol.MsgHostChanged,
				Payload:    HostChanged{RoomID: roomID, HostID: res.NewHostID},
				Recipients: members,
			})
		}
	}
	return res, nil
}

// reserved are fields a client may not overwrite through an update.
var reserved = map[string]bool{
	"id": true, "playerId": true, "health": true, "isAlive": true, "score": true,
	"position": true, "rotation": true, "lastUpdate": true, "name": true,
}

func (c *Coordinator) update(playerID string, u PlayerUpdate) (PlayerUpdated, error) {
	rm, p, err := c.resolve(playerID)
	if err != nil {
		return PlayerUpdated{}, err
	}

	out := PlayerUpdated{PlayerID: playerID}
	if u.Position != nil {
		p.Position = *u.Position
		pos := *u.Position
		out.Position = &pos
	}
	if u.Rotation != nil {
		p.Rotation = *u.Rotation
		rot := *u.Rotation
		out.Rotation = &rot
	}
	for k, v := range u.Attributes {
		if reserved[k] {
			continue
		}
		if p.Attributes == nil {
			p.Attributes = make(map[string]any)
		}
		p.Attributes[k] = v
		if out.Attributes == nil {
			out.Attributes = make(map[string]any)
		}
		out.Attributes[k] = v
	}
	p.LastUpdate = c.now().UnixMilli()

	if others := rm.memberIDs(playerID); len(others) > 0 {
		c.pub.Publish(Broadcast{
			RoomID:     rm.ID,
			Event:      protocol.MsgPlayerUpdate,
			Payload:    out,
			Recipients: others,
		})
	}
	return out, nil
}

func (c *Coordinator) listRooms() []Summary {
	out := make([]Summary, 0, c.rooms.Len())
	c.rooms.each(func(rm *Room) {
		out = append(out, rm.summary())
	})
	slices.SortFunc(out, func(a, b Summary) int {
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

func (c *Coordinator) status() Status {
	return Status{
		RoomCount:   c.rooms.Len(),
		PlayerCount: c.index.Len(),
		Uptime:      c.now().Sub(c.started),
	}
}

func (c *Coordinator) view(roomID string) (View, error) {
	rm, ok := c.rooms.Get(roomID)
	if !ok {
		return View{}, ErrNotFound
	}
	return View{
		Room:    rm.snapshot(),
		Players: rm.playerList(),
		Scores:  maps.Clone(rm.GameData.Scores),
	}, nil
}
