// Package events carries self-play progress to observers such as the
// terminal dashboard and the websocket viewer. Publishing never blocks the
// game: a subscriber that falls behind loses events.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/brensch/gomokuzero/game"
)

type Kind string

const (
	GameReset     Kind = "game_reset"
	MoveCommitted Kind = "move_committed"
	GameFinished  Kind = "game_finished"
)

type Event struct {
	Kind      Kind        `json:"kind"`
	GameID    string      `json:"game_id"`
	Turn      int         `json:"turn"`
	Move      game.Move   `json:"move"`
	Row       int         `json:"row"`
	Col       int         `json:"col"`
	Player    game.Player `json:"player"`
	Size      int         `json:"size"`
	Board     []int8      `json:"board,omitempty"`
	Winner    game.Player `json:"winner"`
	Timestamp time.Time   `json:"ts"`
}

// Snapshot builds an event for the current state of s. Board holds raw
// stone colours (black +1, white -1).
func Snapshot(kind Kind, gameID string, s *game.GameState) Event {
	ev := Event{
		Kind:      kind,
		GameID:    gameID,
		Turn:      s.MoveCount(),
		Move:      s.LastMove(),
		Row:       -1,
		Col:       -1,
		Player:    s.ToMove().Opponent(),
		Size:      s.Size(),
		Board:     s.PerspectiveFor(game.Black),
		Timestamp: time.Now(),
	}
	if ev.Move != game.NoMove {
		p := s.PointOf(ev.Move)
		ev.Row, ev.Col = p.Row, p.Col
	}
	if w, ok := s.Winner(); ok {
		ev.Winner = w
	}
	return ev
}

// Publisher is what the self-play driver needs from a bus.
type Publisher interface {
	Publish(Event)
}

// Bus fans events out to subscribers. The zero value is ready to use.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	closed bool

	published atomic.Int64
	dropped   atomic.Int64
}

func NewBus() *Bus {
	return &Bus{}
}

// Subscribe returns a channel receiving every event published from now on,
// and a function that unsubscribes and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	if b.subs == nil {
		b.subs = make(map[int]chan Event)
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// Publish delivers ev to every subscriber with room in its buffer.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	b.published.Add(1)
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

// Close closes every subscriber channel. Later publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}

type Stats struct {
	Published   int64
	Dropped     int64
	Subscribers int
}

func (b *Bus) Stats() Stats {
	b.mu.RLock()
	n := len(b.subs)
	b.mu.RUnlock()
	return Stats{Published: b.published.Load(), Dropped: b.dropped.Load(), Subscribers: n}
}
