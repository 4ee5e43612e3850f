package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/hay-kot/loadctl/internal/stream"
	"github.com/hay-kot/loadctl/internal/tracking"
)

// mapSpan is the number of degrees shown from the center to each edge.
const mapSpan = 0.02

// View implements tea.Model.
func (m Model) View() string {
	title := titleStyle.Render(fmt.Sprintf("loadctl %s tracking %s %s", iconDot, m.opts.Kind, m.opts.ID))

	sections := []string{
		title,
		m.renderMap(),
		m.renderStatus(),
		m.renderNotifications(),
	}
	if m.lastToast != nil {
		sections = append(sections, m.renderToast())
	}
	sections = append(sections, m.help.View(m.keys))

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) mapSize() (int, int) {
	w, h := defaultMapWidth, defaultMapHeight
	if m.width > 0 && m.width-4 < w {
		w = max(m.width-4, 11)
	}
	return w, h
}

// renderMap draws the recent trail around the current position, which is
// always at the center.
func (m Model) renderMap() string {
	w, h := m.mapSize()

	if m.position == nil {
		body := lipgloss.Place(w, h, lipgloss.Center, lipgloss.Center, mutedStyle.Render("waiting for position…"))
		return panelStyle.Render(panelTitleStyle.Render("Position") + "\n" + body)
	}

	grid := make([][]string, h)
	for y := range grid {
		grid[y] = make([]string, w)
		for x := range grid[y] {
			grid[y][x] = " "
		}
	}

	cx, cy := w/2, h/2
	for x := range grid[cy] {
		grid[cy][x] = mutedStyle.Render("·")
	}
	for y := range grid {
		grid[y][cx] = mutedStyle.Render("·")
	}

	center := m.position.Position
	for _, p := range m.trail {
		x, y, ok := project(center, p, w, h)
		if ok {
			grid[y][x] = mutedStyle.Render(iconDot)
		}
	}
	grid[cy][cx] = markerStyle.Render(iconMarker)

	rows := make([]string, h)
	for y := range grid {
		rows[y] = strings.Join(grid[y], "")
	}

	header := panelTitleStyle.Render("Position") + " " + mutedStyle.Render(fmt.Sprintf("%.5f, %.5f", center.Lat, center.Lng))
	footer := mutedStyle.Render("updated " + ago(m.now, center.At))
	return panelStyle.Render(header + "\n" + strings.Join(rows, "\n") + "\n" + footer)
}

// project maps p onto a w×h grid centered on center.
func project(center, p tracking.Position, w, h int) (int, int, bool) {
	dx := (p.Lng - center.Lng) / mapSpan
	dy := (p.Lat - center.Lat) / mapSpan
	if dx < -1 || dx > 1 || dy < -1 || dy > 1 {
		return 0, 0, false
	}
	x := w/2 + int(dx*float64(w/2))
	y := h/2 - int(dy*float64(h/2))
	x = min(max(x, 0), w-1)
	y = min(max(y, 0), h-1)
	return x, y, true
}

func (m Model) renderStatus() string {
	var parts []string

	if m.hasStream {
		state := m.streamState.String()
		switch m.streamState {
		case stream.StateStreaming:
			state = okStyle.Render(state)
		case stream.StateReconnecting, stream.StateClosed:
			state = warnStyle.Render(state)
		default:
			state = mutedStyle.Render(state)
		}
		parts = append(parts, "feed "+state)
	}

	if m.muted() {
		parts = append(parts, warnStyle.Render("muted"))
	} else {
		parts = append(parts, mutedStyle.Render("toasts on"))
	}

	return " " + strings.Join(parts, mutedStyle.Render(" "+iconDot+" "))
}

func (m Model) renderNotifications() string {
	title := panelTitleStyle.Render(fmt.Sprintf("Notifications (%d)", len(m.notifications)))

	if len(m.notifications) == 0 {
		return panelStyle.Render(title + "\n" + mutedStyle.Render("nothing yet"))
	}

	lines := []string{title}
	for i, n := range m.notifications {
		if i == visibleNotices {
			lines = append(lines, mutedStyle.Render(fmt.Sprintf("… %d more", len(m.notifications)-visibleNotices)))
			break
		}
		lines = append(lines, fmt.Sprintf("%s %s %s",
			mutedStyle.Render(n.ReceivedAt.Format("15:04:05")),
			typeStyle.Render(n.Type),
			n.Message,
		))
	}
	return panelStyle.Render(strings.Join(lines, "\n"))
}

func (m Model) renderToast() string {
	style := warnStyle
	if m.lastToast.Type == "tracking.error" {
		style = errorStyle
	}
	return " " + style.Render(iconBell+" "+m.lastToast.Message)
}

func ago(now, t time.Time) string {
	if t.IsZero() {
		return "at unknown time"
	}
	d := now.Sub(t).Round(time.Second)
	if d < time.Second {
		return "just now"
	}
	return d.String() + " ago"
}
