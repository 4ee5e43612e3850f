package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/hay-kot/loadctl/internal/core/notify"
	"github.com/hay-kot/loadctl/internal/stream"
	"github.com/hay-kot/loadctl/internal/tracking"
)

const (
	trailLength      = 12
	visibleNotices   = 8
	subscribeBuffer  = 16
	defaultMapWidth  = 41
	defaultMapHeight = 11
)

// MuteControl toggles toast muting on the notification stream.
type MuteControl interface {
	Mute() notify.MuteFilter
	SetMute(notify.MuteFilter)
}

// Options configures the dashboard.
type Options struct {
	Kind      tracking.Kind
	ID        string
	Positions *tracking.PositionStore
	Feed      *notify.Feed

	Toasts       *Toasts       // optional
	StreamStates *StreamStates // optional
	Mute         MuteControl   // optional
}

// Model is the Bubble Tea model for the tracking dashboard.
type Model struct {
	opts Options
	keys keyMap
	help help.Model

	width  int
	height int
	now    time.Time

	position      *tracking.Update
	trail         []tracking.Position
	notifications []notify.Notification
	lastToast     *notify.Notification
	streamState   stream.State
	hasStream     bool

	positions      <-chan tracking.Update
	cancelPosition func()
	feed           <-chan notify.Notification
	cancelFeed     func()
}

// New creates the dashboard and subscribes it to its sources. Call Close once
// the program has exited.
func New(opts Options) Model {
	m := Model{
		opts:          opts,
		keys:          defaultKeys(),
		help:          help.New(),
		now:           time.Now(),
		notifications: opts.Feed.List(),
		hasStream:     opts.StreamStates != nil,
	}

	m.positions, m.cancelPosition = opts.Positions.Subscribe(subscribeBuffer)
	m.feed, m.cancelFeed = opts.Feed.Subscribe(subscribeBuffer)

	if u, ok := opts.Positions.Current(); ok {
		m.position = &u
		m.trail = []tracking.Position{u.Position}
	}
	return m
}

// Close releases the dashboard's subscriptions.
func (m Model) Close() {
	m.cancelPosition()
	m.cancelFeed()
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{
		waitPosition(m.positions),
		waitNotification(m.feed),
		scheduleClock(),
	}
	if m.opts.Toasts != nil {
		cmds = append(cmds, waitToast(m.opts.Toasts.ch))
	}
	if m.opts.StreamStates != nil {
		cmds = append(cmds, waitStreamState(m.opts.StreamStates.ch))
	}
	return tea.Batch(cmds...)
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case positionMsg:
		u := tracking.Update(msg)
		m.position = &u
		m.trail = append(m.trail, u.Position)
		if len(m.trail) > trailLength {
			m.trail = m.trail[len(m.trail)-trailLength:]
		}
		return m, waitPosition(m.positions)

	case notificationMsg:
		m.notifications = m.opts.Feed.List()
		return m, waitNotification(m.feed)

	case toastMsg:
		n := notify.Notification(msg)
		m.lastToast = &n
		return m, waitToast(m.opts.Toasts.ch)

	case streamStateMsg:
		m.streamState = stream.State(msg)
		return m, waitStreamState(m.opts.StreamStates.ch)

	case clockMsg:
		m.now = time.Time(msg)
		return m, scheduleClock()
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Mute):
		if m.opts.Mute != nil {
			f := m.opts.Mute.Mute()
			f.All = !f.All
			m.opts.Mute.SetMute(f)
		}
		return m, nil

	case key.Matches(msg, m.keys.Clear):
		m.opts.Feed.Clear()
		m.notifications = nil
		m.lastToast = nil
		return m, nil
	}

	return m, nil
}

func (m Model) muted() bool {
	return m.opts.Mute != nil && m.opts.Mute.Mute().All
}
