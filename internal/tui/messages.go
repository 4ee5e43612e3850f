package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/hay-kot/loadctl/internal/core/notify"
	"github.com/hay-kot/loadctl/internal/stream"
	"github.com/hay-kot/loadctl/internal/tracking"
)

const clockInterval = time.Second

// positionMsg carries a new position for the tracked entity.
type positionMsg tracking.Update

// notificationMsg is sent when the feed receives a notification.
type notificationMsg notify.Notification

// toastMsg is a notification that should be surfaced prominently.
type toastMsg notify.Notification

// streamStateMsg reports a change in the event stream's lifecycle.
type streamStateMsg stream.State

// clockMsg refreshes relative timestamps.
type clockMsg time.Time

// closedMsg is sent when a source channel closes.
type closedMsg struct{}

func waitPosition(ch <-chan tracking.Update) tea.Cmd {
	return func() tea.Msg {
		u, ok := <-ch
		if !ok {
			return closedMsg{}
		}
		return positionMsg(u)
	}
}

func waitNotification(ch <-chan notify.Notification) tea.Cmd {
	return func() tea.Msg {
		n, ok := <-ch
		if !ok {
			return closedMsg{}
		}
		return notificationMsg(n)
	}
}

func waitToast(ch <-chan notify.Notification) tea.Cmd {
	return func() tea.Msg {
		n, ok := <-ch
		if !ok {
			return closedMsg{}
		}
		return toastMsg(n)
	}
}

func waitStreamState(ch <-chan stream.State) tea.Cmd {
	return func() tea.Msg {
		s, ok := <-ch
		if !ok {
			return closedMsg{}
		}
		return streamStateMsg(s)
	}
}

func scheduleClock() tea.Cmd {
	return tea.Tick(clockInterval, func(t time.Time) tea.Msg {
		return clockMsg(t)
	})
}

// Toasts is a notify.Toaster that hands notifications to the dashboard.
// Toasts that arrive while the buffer is full are dropped.
type Toasts struct {
	ch chan notify.Notification
}

// NewToasts creates a toaster with room for buffer pending toasts.
func NewToasts(buffer int) *Toasts {
	return &Toasts{ch: make(chan notify.Notification, buffer)}
}

// Toast implements notify.Toaster.
func (t *Toasts) Toast(n notify.Notification) {
	select {
	case t.ch <- n:
	default:
	}
}

// StreamStates adapts stream.Client state changes to the dashboard.
type StreamStates struct {
	ch chan stream.State
}

// NewStreamStates creates an adapter with room for buffer pending changes.
func NewStreamStates(buffer int) *StreamStates {
	return &StreamStates{ch: make(chan stream.State, buffer)}
}

// Observe is suitable for stream.Client.OnStateChange.
func (s *StreamStates) Observe(state stream.State) {
	select {
	case s.ch <- state:
	default:
	}
}
