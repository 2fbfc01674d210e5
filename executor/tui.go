package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/brensch/gomokuzero/executor/events"
	"github.com/brensch/gomokuzero/executor/selfplay"
	"github.com/brensch/gomokuzero/game"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/muesli/termenv"
)

const recentGamesShown = 10

type GameUpdate struct {
	WorkerID int
	GameID   string
	Winner   game.Player
	Moves    int
	Examples int
	Duration time.Duration
}

type TickMsg time.Time

type eventMsg events.Event

type model struct {
	gamesPlayed   int
	totalExamples int
	stats         func() runStats
	current       runStats
	startTime     time.Time
	recentGames   []string
	updates       <-chan GameUpdate
	feed          <-chan events.Event
	profile       termenv.Profile

	// watched follows a single game at a time; the board is rebuilt from
	// the event stream.
	watched string
	board   *game.GameState
}

func initialModel(updates <-chan GameUpdate, feed <-chan events.Event, stats func() runStats) model {
	return model{
		startTime: time.Now(),
		updates:   updates,
		feed:      feed,
		stats:     stats,
		profile:   termenv.ColorProfile(),
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func waitForUpdate(updates <-chan GameUpdate) tea.Cmd {
	return func() tea.Msg {
		u, ok := <-updates
		if !ok {
			return nil
		}
		return u
	}
}

func waitForEvent(feed <-chan events.Event) tea.Cmd {
	if feed == nil {
		return nil
	}
	return func() tea.Msg {
		ev, ok := <-feed
		if !ok {
			return nil
		}
		return eventMsg(ev)
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(waitForUpdate(m.updates), waitForEvent(m.feed), tickCmd())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case TickMsg:
		if m.stats != nil {
			m.current = m.stats()
		}
		return m, tickCmd()
	case GameUpdate:
		m.gamesPlayed++
		m.totalExamples += msg.Examples
		line := fmt.Sprintf("Worker %d: %s winner=%s moves=%d (%s)",
			msg.WorkerID, shortID(msg.GameID), msg.Winner, msg.Moves, msg.Duration.Round(time.Millisecond))
		m.recentGames = append([]string{line}, m.recentGames...)
		if len(m.recentGames) > recentGamesShown {
			m.recentGames = m.recentGames[:recentGamesShown]
		}
		return m, waitForUpdate(m.updates)
	case eventMsg:
		m.follow(events.Event(msg))
		return m, waitForEvent(m.feed)
	}
	return m, nil
}

// follow keeps the watched board in sync. A new game is picked up when
// the watched one finishes.
func (m *model) follow(ev events.Event) {
	switch ev.Kind {
	case events.GameReset:
		if m.watched == "" {
			m.watched = ev.GameID
			m.board = game.New(ev.Size)
		}
	case events.MoveCommitted:
		if ev.GameID == m.watched && m.board != nil {
			if !m.board.Play(ev.Move) {
				m.watched, m.board = "", nil
			}
		}
	case events.GameFinished:
		if ev.GameID == m.watched {
			m.watched = ""
		}
	}
}

func (m model) View() string {
	duration := time.Since(m.startTime)
	secs := duration.Seconds()
	rate := func(n int64) float64 {
		if secs < 1 {
			return 0
		}
		return float64(n) / secs
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Games Played:     %d\n", m.gamesPlayed)
	fmt.Fprintf(&sb, "Total Examples:   %d\n", m.totalExamples)
	fmt.Fprintf(&sb, "Total Moves:      %d\n", m.current.Moves)
	fmt.Fprintf(&sb, "Total Inferences: %d\n", m.current.States)
	fmt.Fprintf(&sb, "Duration:         %s\n", duration.Round(time.Second))
	fmt.Fprintf(&sb, "Moves/Sec:        %.2f\n", rate(m.current.Moves))
	fmt.Fprintf(&sb, "Inferences/Sec:   %.2f\n", rate(m.current.States))
	if m.current.Batch != "" {
		fmt.Fprintf(&sb, "Batching:         %s\n", m.current.Batch)
	}

	if m.board != nil {
		fmt.Fprintf(&sb, "\nWatching %s (move %d)\n", shortID(m.watched), m.board.MoveCount())
		sb.WriteString(selfplay.RenderBoard(m.board, m.profile))
	}

	sb.WriteString("\nRecent Games:\n")
	for _, g := range m.recentGames {
		sb.WriteString(g + "\n")
	}
	sb.WriteString("\nPress q to quit.\n")
	return sb.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
