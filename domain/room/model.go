package room

import (
	"cmp"
	"maps"
	"slices"
	"time"
)

const (
	// MaxHealth is the health of a freshly joined or respawned player.
	MaxHealth = 100

	DefaultMaxPlayers = 8
	DefaultMapName    = "default"
	DefaultTimeLimit  = 300 // seconds
)

// SpawnPoint is where players enter the arena and respawn.
var SpawnPoint = Vec3{X: 0, Y: 2, Z: 0}

type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Rotation is yaw (x) and pitch (y), matching the client's camera euler order.
type Rotation struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Score struct {
	Kills  int `json:"kills"`
	Deaths int `json:"deaths"`
}

type GameState string

const (
	GameWaiting GameState = "waiting"
	GamePlaying GameState = "playing"
	GameEnded   GameState = "ended"
)

type GameMode string

const (
	ModeFFA GameMode = "ffa"
	ModeTDM GameMode = "tdm"
)

type Settings struct {
	MaxPlayers int      `json:"maxPlayers"`
	GameMode   GameMode `json:"gameMode"`
	MapName    string   `json:"mapName"`
	TimeLimit  int      `json:"timeLimit"`
}

// DefaultSettings returns the settings a room is created with.
func DefaultSettings(maxPlayers int) Settings {
	if maxPlayers <= 0 {
		maxPlayers = DefaultMaxPlayers
	}
	return Settings{
		MaxPlayers: maxPlayers,
		GameMode:   ModeFFA,
		MapName:    DefaultMapName,
		TimeLimit:  DefaultTimeLimit,
	}
}

// Player is owned by its room and only mutated on the coordinator goroutine.
type Player struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Position   Vec3           `json:"position"`
	Rotation   Rotation       `json:"rotation"`
	Health     int            `json:"health"`
	IsAlive    bool           `json:"isAlive"`
	Score      Score          `json:"score"`
	LastUpdate int64          `json:"lastUpdate"` // unix millis
	Attributes map[string]any `json:"attributes,omitempty"`

	joinSeq uint64
}

func newPlayer(id, name string, seq uint64, now time.Time) *Player {
	return &Player{
		ID:         id,
		Name:       name,
		Position:   SpawnPoint,
		Health:     MaxHealth,
		IsAlive:    true,
		LastUpdate: now.UnixMilli(),
		joinSeq:    seq,
	}
}

// clone returns a copy safe to hand outside the coordinator.
func (p *Player) clone() Player {
	cp := *p
	cp.Attributes = maps.Clone(p.Attributes)
	return cp
}

// respawn resets a dead player to a fresh life at the spawn point.
func (p *Player) respawn(now time.Time) {
	p.Health = MaxHealth
	p.IsAlive = true
	p.Position = SpawnPoint
	p.LastUpdate = now.UnixMilli()
}

type GameData struct {
	StartTime *time.Time       `json:"startTime"`
	Scores    map[string]Score `json:"scores"`
}

// Room is an isolated match session.
type Room struct {
	ID        string
	HostID    string
	GameState GameState
	Settings  Settings
	Players   map[string]*Player
	GameData  GameData

	nextSeq uint64
}

func newRoom(id, hostID string, settings Settings) *Room {
	return &Room{
		ID:        id,
		HostID:    hostID,
		GameState: GameWaiting,
		Settings:  settings,
		Players:   make(map[string]*Player),
		GameData: GameData{
			Scores: make(map[string]Score),
		},
	}
}

func (r *Room) full() bool {
	return len(r.Players) >= r.Settings.MaxPlayers
}

// electHost picks the remaining member that joined earliest.
func (r *Room) electHost() string {
	var (
		host string
		best uint64
	)
	for id, p := range r.Players {
		if host == "" || p.joinSeq < best {
			host, best = id, p.joinSeq
		}
	}
	return host
}

// memberIDs lists the room's players, optionally leaving one out.
func (r *Room) memberIDs(except string) []string {
	ids := make([]string, 0, len(r.Players))
	for id := range r.Players {
		if id != except {
			ids = append(ids, id)
		}
	}
	return ids
}

// Snapshot is a read-only copy of a room's metadata.
type Snapshot struct {
	ID        string    `json:"id"`
	HostID    string    `json:"hostId"`
	GameState GameState `json:"gameState"`
	Settings  Settings  `json:"settings"`
}

func (r *Room) snapshot() Snapshot {
	return Snapshot{
		ID:        r.ID,
		HostID:    r.HostID,
		GameState: r.GameState,
		Settings:  r.Settings,
	}
}

// playerList copies every player in join order.
func (r *Room) playerList() []Player {
	out := make([]Player, 0, len(r.Players))
	for _, p := range r.Players {
		out = append(out, p.clone())
	}
	slices.SortFunc(out, func(a, b Player) int {
		return cmp.Compare(a.joinSeq, b.joinSeq)
	})
	return out
}

// Summary is the room-list projection.
type Summary struct {
	ID          string    `json:"id"`
	PlayerCount int       `json:"playerCount"`
	MaxPlayers  int       `json:"maxPlayers"`
	GameState   GameState `json:"gameState"`
	GameMode    GameMode  `json:"gameMode"`
	MapName     string    `json:"mapName"`
}

func (r *Room) summary() Summary {
	return Summary{
		ID:          r.ID,
		PlayerCount: len(r.Players),
		MaxPlayers:  r.Settings.MaxPlayers,
		GameState:   r.GameState,
		GameMode:    r.Settings.GameMode,
		MapName:     r.Settings.MapName,
	}
}
