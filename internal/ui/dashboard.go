package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/zsiec/reel/internal/playback"
)

const (
	refreshInterval = 100 * time.Millisecond
	seekStep        = 5.0
	controlTimeout  = 2 * time.Second
)

// Player is what the dashboard observes and controls.
type Player interface {
	Stats() playback.Stats
	Seek(ctx context.Context, seconds float64) error
	StopDecode() error
}

type tickMsg time.Time

type controlMsg struct {
	action string
	err    error
}

// Model is the dashboard state.
type Model struct {
	player   Player
	renderer *Renderer

	stats   playback.Stats
	snap    Snapshot
	lastErr error
	notice  string

	width    int
	height   int
	quitting bool
}

// NewModel builds a dashboard over player, previewing what renderer
// receives.
func NewModel(player Player, renderer *Renderer) *Model {
	return &Model{player: player, renderer: renderer}
}

// Init implements tea.Model
func (m *Model) Init() tea.Cmd {
	return tickEvery(refreshInterval)
}

// Update implements tea.Model
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "s":
			return m, m.control("stop", func(ctx context.Context) error {
				return m.player.StopDecode()
			})
		case "left", "h":
			return m, m.seekBy(-seekStep)
		case "right", "l":
			return m, m.seekBy(seekStep)
		case "home", "0":
			return m, m.seekTo(0)
		}

	case tickMsg:
		if m.quitting {
			return m, nil
		}
		m.refresh()
		return m, tickEvery(refreshInterval)

	case controlMsg:
		m.lastErr = msg.err
		if msg.err == nil {
			m.notice = msg.action
		}
		m.refresh()
		return m, nil
	}

	return m, nil
}

func (m *Model) refresh() {
	m.stats = m.player.Stats()
	if m.renderer != nil {
		m.snap = m.renderer.Snapshot()
	}
}

func (m *Model) seekBy(delta float64) tea.Cmd {
	return m.seekTo(m.stats.Position + delta)
}

func (m *Model) seekTo(target float64) tea.Cmd {
	if target < 0 {
		target = 0
	}
	return m.control(fmt.Sprintf("seek %s", formatTime(target)), func(ctx context.Context) error {
		return m.player.Seek(ctx, target)
	})
}

func (m *Model) control(action string, fn func(context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
		defer cancel()
		return controlMsg{action: action, err: fn(ctx)}
	}
}

// View implements tea.Model
func (m *Model) View() string {
	if m.quitting {
		return "Closing player...\n"
	}

	header := HeaderStyle.Render(fmt.Sprintf("reel  %s", StateBadge(m.stats.State)))

	body := lipgloss.JoinHorizontal(lipgloss.Top,
		m.renderPreview(),
		" ",
		m.renderStats(),
	)

	footer := MutedStyle.Render("←/→ seek 5s  0 restart  s stop  q quit")
	if m.lastErr != nil {
		footer = ErrorStyle.Render(m.lastErr.Error()) + "\n" + footer
	} else if m.notice != "" {
		footer = MutedStyle.Render(m.notice) + "\n" + footer
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		m.renderProgress(),
		body,
		footer,
	)
}

func (m *Model) renderPreview() string {
	title := PanelTitleStyle.Render("Video")
	content := m.snap.Preview
	if content == "" {
		content = MutedStyle.Render("no picture")
	}
	return PanelStyle.Render(title + "\n" + content)
}

func (m *Model) renderStats() string {
	st := m.stats
	var rows []string
	row := func(label, value string) {
		rows = append(rows, LabelStyle.Render(label)+ValueStyle.Render(value))
	}

	row("File", st.Path)
	if m.snap.Width > 0 {
		row("Frame", fmt.Sprintf("%dx%d", m.snap.Width, m.snap.Height))
	}
	if st.Clock != nil {
		row("Presented", fmt.Sprintf("%d", st.Clock.Presented))
		row("Correction", fmt.Sprintf("%+.1f ms", st.Clock.Correction*1000))
		row("Buffered", fmt.Sprintf("%.2f s", st.Clock.Buffered))
	}
	if st.VideoQueue != nil {
		row("Video queue", fmt.Sprintf("%d pkts / %s", st.VideoQueue.Packets, formatBytes(st.VideoQueue.Bytes)))
	}
	if st.AudioQueue != nil {
		row("Audio queue", fmt.Sprintf("%d pkts / %s", st.AudioQueue.Packets, formatBytes(st.AudioQueue.Bytes)))
	}
	if st.Audio != nil {
		row("Audio", fmt.Sprintf("%.2f s buffered", st.Audio.Buffered))
		row("Level", meter(m.snap.AudioLevel, 20))
	}
	if st.Demux != nil {
		row("Demuxed", fmt.Sprintf("%d pkts, %d seeks", st.Demux.Packets, st.Demux.Seeks))
	}

	return PanelStyle.Render(PanelTitleStyle.Render("Pipeline") + "\n" + strings.Join(rows, "\n"))
}

func (m *Model) renderProgress() string {
	width := m.width - 20
	if width < 20 {
		width = 40
	}
	ratio := 0.0
	if m.stats.Duration > 0 {
		ratio = m.stats.Position / m.stats.Duration
	}
	return fmt.Sprintf("%s %s / %s",
		bar(ratio, width),
		formatTime(m.stats.Position),
		formatTime(m.stats.Duration),
	)
}

func tickEvery(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Run shows the dashboard until the user quits or ctx ends.
func Run(ctx context.Context, player Player, renderer *Renderer) error {
	p := tea.NewProgram(NewModel(player, renderer), tea.WithAltScreen())

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			p.Quit()
		case <-stop:
		}
	}()

	_, err := p.Run()
	return err
}

func bar(ratio float64, width int) string {
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	full := int(ratio * float64(width))
	return BarFullStyle.Render(strings.Repeat("━", full)) +
		BarEmptyStyle.Render(strings.Repeat("━", width-full))
}

func meter(level float64, width int) string {
	return bar(level, width)
}

func formatTime(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	d := time.Duration(seconds * float64(time.Second))
	m := int(d / time.Minute)
	s := int((d % time.Minute) / time.Second)
	return fmt.Sprintf("%02d:%02d", m, s)
}

func formatBytes(b int) string {
	switch {
	case b >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(b)/(1<<20))
	case b >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(b)/(1<<10))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
