package commands

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/hay-kot/loadctl/internal/api"
	"github.com/hay-kot/loadctl/internal/core/config"
	"github.com/hay-kot/loadctl/internal/core/notify"
	"github.com/hay-kot/loadctl/internal/core/session"
	"github.com/hay-kot/loadctl/internal/store/jsonfile"
	"github.com/hay-kot/loadctl/internal/stream"
	"github.com/hay-kot/loadctl/internal/tracking"
)

type Flags struct {
	LogLevel   string
	LogFile    string
	ConfigPath string
	DataDir    string

	// Endpoint overrides applied on top of the config file.
	APIURL    string
	StreamURL string
	SocketURL string

	// Config is loaded in the Before hook and available to all commands
	Config *config.Config

	// Sessions is the persisted token store shared by every component.
	Sessions session.Store

	// API is the authenticated REST client.
	API *api.Client
}

// DefaultConfigPath returns the default config file path using XDG_CONFIG_HOME.
func DefaultConfigPath() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, _ := os.UserHomeDir()
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, "loadctl", "config.yaml")
}

// DefaultDataDir returns the default data directory using XDG_DATA_HOME.
func DefaultDataDir() string {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, _ := os.UserHomeDir()
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, "loadctl")
}

// ApplyOverrides copies endpoint flags onto cfg.
func (f *Flags) ApplyOverrides(cfg *config.Config) {
	if f.APIURL != "" {
		cfg.API.BaseURL = f.APIURL
	}
	if f.StreamURL != "" {
		cfg.Stream.URL = f.StreamURL
	}
	if f.SocketURL != "" {
		cfg.Tracking.SocketURL = f.SocketURL
	}
}

// Build creates the shared session store and API client from cfg.
func (f *Flags) Build(cfg *config.Config) {
	f.Config = cfg
	f.Sessions = jsonfile.NewSessionStore(cfg.SessionFile())
	f.API = api.New(api.Config{
		BaseURL:     cfg.API.BaseURL,
		RefreshPath: cfg.API.RefreshPath,
		Timeout:     cfg.API.Timeout,
	}, f.Sessions, log.With().Str("component", "api").Logger())
}

// muteFilter builds the configured toast mute filter.
func muteFilter(cfg *config.Config) notify.MuteFilter {
	return notify.MuteFilter{All: cfg.Notifications.Muted, Patterns: cfg.Notifications.MuteTypes}
}

// streamURL joins the event stream service URL and path.
func streamURL(cfg *config.Config) string {
	return strings.TrimRight(cfg.StreamURL(), "/") + "/" + strings.TrimLeft(cfg.Stream.Path, "/")
}

// newStreamClient wires an event stream client that records into feed and the
// notification history file.
func (f *Flags) newStreamClient(feed *notify.Feed) *stream.Client {
	cfg := f.Config
	history := jsonfile.NewNotificationStore(cfg.NotificationsFile()).WithMax(cfg.Notifications.Max)

	return stream.New(stream.Config{
		URL:     streamURL(cfg),
		Backoff: cfg.Stream.Backoff.Policy(),
		Mute:    muteFilter(cfg),
	}, f.API, f.Sessions, feed, log.With().Str("component", "stream").Logger()).
		WithHistory(history)
}

// newTracker wires a live tracker over the configured websocket.
func (f *Flags) newTracker() *tracking.Tracker {
	cfg := f.Config
	dialer := tracking.NewWSDialer(tracking.WSConfig{
		URL:       cfg.Tracking.SocketURL,
		Reconnect: cfg.TrackingReconnect(),
		Backoff:   cfg.Tracking.Backoff.Policy(),
	}, log.With().Str("component", "socket").Logger())

	return tracking.NewTracker(dialer, f.Sessions, tracking.NewPositionStore(), log.With().Str("component", "tracking").Logger()).
		WithAssignments(f.API)
}
