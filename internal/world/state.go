package world

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// GameState is the server's global operational state.
type GameState int32

const (
	GameStartup GameState = iota
	GameInit
	GameNormal
	GameClosed
	GameShutdown
	GameClosing
	GameMaintain
)

var gameStateNames = [...]string{"startup", "init", "normal", "closed", "shutdown", "closing", "maintain"}

func (g GameState) String() string {
	if int(g) >= 0 && int(g) < len(gameStateNames) {
		return gameStateNames[g]
	}
	return fmt.Sprintf("GameState(%d)", int32(g))
}

// ParseGameState accepts the names printed by String, case-insensitively.
func ParseGameState(s string) (GameState, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, n := range gameStateNames {
		if n == s {
			return GameState(i), nil
		}
	}
	return 0, fmt.Errorf("unknown game state %q", s)
}

// MaxCasts is the most cast entries a cast list can carry.
const MaxCasts = 255

// Cast is one active live broadcast.
type Cast struct {
	Name    string
	Viewers int
}

// State holds the world data the login gateway reads: the game state, the
// message of the day and the live-cast registry. Safe for concurrent use;
// connection goroutines, dispatcher workers and the admin API all touch it.
type State struct {
	gameState atomic.Int32

	mu      sync.RWMutex
	motd    string
	motdNum uint32
	casts   map[string]*Cast // lower-case name → cast
}

func NewState() *State {
	s := &State{casts: make(map[string]*Cast)}
	s.gameState.Store(int32(GameStartup))
	return s
}

func (s *State) GameState() GameState {
	return GameState(s.gameState.Load())
}

func (s *State) SetGameState(g GameState) {
	s.gameState.Store(int32(g))
}

// MOTD returns the message of the day and its sequence number.
func (s *State) MOTD() (string, uint32) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.motd, s.motdNum
}

func (s *State) SetMOTD(motd string, num uint32) {
	s.mu.Lock()
	s.motd = motd
	s.motdNum = num
	s.mu.Unlock()
}

// AddCast registers or updates a broadcast.
func (s *State) AddCast(name string, viewers int) {
	if viewers < 0 {
		viewers = 0
	}
	key := strings.ToLower(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.casts[key]; ok {
		c.Viewers = viewers
		return
	}
	s.casts[key] = &Cast{Name: name, Viewers: viewers}
}

// RemoveCast reports whether a broadcast was removed.
func (s *State) RemoveCast(name string) bool {
	key := strings.ToLower(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.casts[key]; !ok {
		return false
	}
	delete(s.casts, key)
	return true
}

func (s *State) CastCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.casts)
}

// ListActive returns a snapshot of active broadcasts sorted by name, at most
// MaxCasts entries.
func (s *State) ListActive() []Cast {
	s.mu.RLock()
	out := make([]Cast, 0, len(s.casts))
	for _, c := range s.casts {
		out = append(out, *c)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	if len(out) > MaxCasts {
		out = out[:MaxCasts]
	}
	return out
}
