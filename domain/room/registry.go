package room

import "crypto/rand"

// Registry holds the active rooms by id. It is not safe for concurrent use;
// the coordinator goroutine is its only owner.
type Registry struct {
	rooms    map[string]*Room
	settings Settings
}

func NewRegistry(settings Settings) *Registry {
	return &Registry{
		rooms:    make(map[string]*Room),
		settings: settings,
	}
}

// GetOrCreate returns the room for id, creating it with default settings and
// hostID as host if needed. created reports whether a new room was made.
func (r *Registry) GetOrCreate(id, hostID string) (rm *Room, created bool) {
	if rm, ok := r.rooms[id]; ok {
		return rm, false
	}
	rm = newRoom(id, hostID, r.settings)
	r.rooms[id] = rm
	return rm, true
}

func (r *Registry) Get(id string) (*Room, bool) {
	rm, ok := r.rooms[id]
	return rm, ok
}

// Delete removes the room; absent ids are ignored.
func (r *Registry) Delete(id string) {
	delete(r.rooms, id)
}

func (r *Registry) Len() int {
	return len(r.rooms)
}

func (r *Registry) each(fn func(*Room)) {
	for _, rm := range r.rooms {
		fn(rm)
	}
}

const (
	codeLength = 6
	codeChars  = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// NewCode generates a room code that is not in use.
func (r *Registry) NewCode() string {
	for {
		code := generateCode(codeLength)
		if _, exists := r.rooms[code]; !exists {
			return code
		}
	}
}

// generateCode draws n characters from codeChars. len(codeChars) is 32, a
// divisor of 256, so reducing each random byte modulo 32 is unbiased.
func generateCode(n int) string {
	b := make([]byte, n)
	// crypto/rand.Read never returns an error and always fills b.
	_, _ = rand.Read(b)
	for i := range b {
		b[i] = codeChars[int(b[i])%len(codeChars)]
	}
	return string(b)
}
