package tui

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hay-kot/loadctl/internal/core/notify"
	"github.com/hay-kot/loadctl/internal/stream"
	"github.com/hay-kot/loadctl/internal/tracking"
)

type fakeMute struct {
	filter notify.MuteFilter
}

func (f *fakeMute) Mute() notify.MuteFilter     { return f.filter }
func (f *fakeMute) SetMute(m notify.MuteFilter) { f.filter = m }

func newTestModel(t *testing.T) (Model, *fakeMute) {
	t.Helper()
	mute := &fakeMute{}
	m := New(Options{
		Kind:         tracking.KindDriver,
		ID:           "d1",
		Positions:    tracking.NewPositionStore(),
		Feed:         notify.NewFeed(10),
		Toasts:       NewToasts(4),
		StreamStates: NewStreamStates(4),
		Mute:         mute,
	})
	t.Cleanup(m.Close)
	return m, mute
}

func press(m Model, r string) (Model, tea.Cmd) {
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(r)})
	return next.(Model), cmd
}

func TestModel_PositionUpdatesView(t *testing.T) {
	m, _ := newTestModel(t)
	assert.Contains(t, m.View(), "waiting for position")

	next, cmd := m.Update(positionMsg(tracking.Update{
		Kind:     tracking.KindDriver,
		ID:       "d1",
		Position: tracking.Position{Lat: 52.52, Lng: 13.405, At: time.Now()},
	}))
	m = next.(Model)

	assert.NotNil(t, cmd, "keeps listening for positions")
	view := m.View()
	assert.Contains(t, view, "52.52000, 13.40500")
	assert.Contains(t, view, iconMarker)
}

func TestModel_TrailIsBounded(t *testing.T) {
	m, _ := newTestModel(t)
	for i := 0; i < trailLength+5; i++ {
		next, _ := m.Update(positionMsg(tracking.Update{
			ID:       "d1",
			Position: tracking.Position{Lat: float64(i) * 0.001, Lng: 0},
		}))
		m = next.(Model)
	}
	assert.Len(t, m.trail, trailLength)
}

func TestModel_SeedsFromCurrentPosition(t *testing.T) {
	positions := tracking.NewPositionStore()
	positions.Set(tracking.Update{ID: "a1", Position: tracking.Position{Lat: 1, Lng: 2}})

	m := New(Options{Kind: tracking.KindAssignment, ID: "a1", Positions: positions, Feed: notify.NewFeed(5)})
	defer m.Close()

	require.NotNil(t, m.position)
	assert.Equal(t, "a1", m.position.ID)
}

func TestModel_Keys(t *testing.T) {
	m, mute := newTestModel(t)

	m, _ = press(m, "m")
	assert.True(t, mute.filter.All)
	assert.Contains(t, m.View(), "muted")

	m, _ = press(m, "m")
	assert.False(t, mute.filter.All)

	m.opts.Feed.Push(notify.New("load.created", "L-1"))
	next, _ := m.Update(notificationMsg{})
	m = next.(Model)
	assert.Contains(t, m.View(), "L-1")

	m, _ = press(m, "c")
	assert.Zero(t, m.opts.Feed.Len())
	assert.Contains(t, m.View(), "nothing yet")

	_, cmd := press(m, "q")
	require.NotNil(t, cmd)
	assert.Equal(t, tea.QuitMsg{}, cmd())
}

func TestModel_ToastAndStreamState(t *testing.T) {
	m, _ := newTestModel(t)

	next, _ := m.Update(toastMsg(notify.New("tracking.error", "live tracking: refused")))
	m = next.(Model)
	next, _ = m.Update(streamStateMsg(stream.StateReconnecting))
	m = next.(Model)

	view := m.View()
	assert.Contains(t, view, "live tracking: refused")
	assert.Contains(t, view, "reconnecting")
}

func TestModel_NotificationOverflow(t *testing.T) {
	m, _ := newTestModel(t)
	for i := 0; i < visibleNotices+2; i++ {
		m.opts.Feed.Push(notify.New("t", "msg"))
	}
	next, _ := m.Update(notificationMsg{})
	m = next.(Model)

	assert.Contains(t, m.View(), "… 2 more")
}

func TestToasts_DropWhenFull(t *testing.T) {
	toasts := NewToasts(1)
	toasts.Toast(notify.New("a", "first"))
	toasts.Toast(notify.New("b", "second"))

	assert.Equal(t, "first", (<-toasts.ch).Message)
	assert.Empty(t, toasts.ch)
}

func TestProject(t *testing.T) {
	center := tracking.Position{}

	x, y, ok := project(center, center, 41, 11)
	require.True(t, ok)
	assert.Equal(t, 20, x)
	assert.Equal(t, 5, y)

	x, y, ok = project(center, tracking.Position{Lat: mapSpan, Lng: mapSpan}, 41, 11)
	require.True(t, ok)
	assert.Equal(t, 40, x)
	assert.Equal(t, 0, y)

	_, _, ok = project(center, tracking.Position{Lat: 1}, 41, 11)
	assert.False(t, ok)
}
