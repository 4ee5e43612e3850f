package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/hay-kot/criterio"

	"github.com/hay-kot/loadctl/internal/core/notify"
)

// ValidationWarning represents a non-fatal configuration issue.
type ValidationWarning struct {
	Category string `json:"category"`
	Item     string `json:"item,omitempty"`
	Message  string `json:"message"`
}

// Validate checks that the configuration is valid. Errors are returned as
// criterio.FieldErrors keyed by the YAML path of the offending field.
func (c *Config) Validate() error {
	var errs criterio.FieldErrorsBuilder

	if c.DataDir == "" {
		errs = errs.Append("data_dir", fmt.Errorf("data directory cannot be empty"))
	}

	if err := validateURL(c.API.BaseURL, "http", "https"); err != nil {
		errs = errs.Append("api.base_url", err)
	}
	if !strings.HasPrefix(c.API.RefreshPath, "/") {
		errs = errs.Append("api.refresh_path", fmt.Errorf("must start with /"))
	}
	if c.API.Timeout < 0 {
		errs = errs.Append("api.timeout", fmt.Errorf("must not be negative"))
	}

	if c.Stream.URL != "" {
		if err := validateURL(c.Stream.URL, "http", "https"); err != nil {
			errs = errs.Append("stream.url", err)
		}
	}
	if !strings.HasPrefix(c.Stream.Path, "/") {
		errs = errs.Append("stream.path", fmt.Errorf("must start with /"))
	}
	errs = validateBackoff(errs, "stream.backoff", c.Stream.Backoff)

	if err := validateURL(c.Tracking.SocketURL, "ws", "wss"); err != nil {
		errs = errs.Append("tracking.socket_url", err)
	}
	errs = validateBackoff(errs, "tracking.backoff", c.Tracking.Backoff)

	if c.Notifications.Max < 1 {
		errs = errs.Append("notifications.max", fmt.Errorf("must be at least 1"))
	}
	for i, p := range c.Notifications.MuteTypes {
		if err := notify.ValidatePattern(p); err != nil {
			errs = errs.Append(fmt.Sprintf("notifications.mute_types[%d]", i), err)
		}
	}

	return errs.ToError()
}

// Warnings returns non-fatal issues with the configuration.
func (c *Config) Warnings() []ValidationWarning {
	var warnings []ValidationWarning

	if strings.HasPrefix(c.API.BaseURL, "http://") && !isLocal(c.API.BaseURL) {
		warnings = append(warnings, ValidationWarning{
			Category: "API",
			Item:     "api.base_url",
			Message:  "tokens are sent over plain http to a non-local host",
		})
	}

	if strings.HasPrefix(c.Tracking.SocketURL, "ws://") && !isLocal(c.Tracking.SocketURL) {
		warnings = append(warnings, ValidationWarning{
			Category: "Tracking",
			Item:     "tracking.socket_url",
			Message:  "tokens are sent over an unencrypted websocket to a non-local host",
		})
	}

	if !c.TrackingReconnect() {
		warnings = append(warnings, ValidationWarning{
			Category: "Tracking",
			Item:     "tracking.reconnect",
			Message:  "live tracking stops on the first dropped connection",
		})
	}

	if c.Notifications.Muted && len(c.Notifications.MuteTypes) > 0 {
		warnings = append(warnings, ValidationWarning{
			Category: "Notifications",
			Item:     "notifications.mute_types",
			Message:  "mute_types has no effect while notifications.muted is true",
		})
	}

	return warnings
}

func validateBackoff(errs criterio.FieldErrorsBuilder, field string, b BackoffConfig) criterio.FieldErrorsBuilder {
	if b.Base <= 0 {
		errs = errs.Append(field+".base", fmt.Errorf("must be positive"))
	}
	if b.Max <= 0 {
		errs = errs.Append(field+".max", fmt.Errorf("must be positive"))
	}
	if b.Base > 0 && b.Max > 0 && b.Base > b.Max {
		errs = errs.Append(field, fmt.Errorf("base (%s) cannot exceed max (%s)", b.Base, b.Max))
	}
	return errs
}

func validateURL(raw string, schemes ...string) error {
	if raw == "" {
		return fmt.Errorf("cannot be empty")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}

	for _, s := range schemes {
		if u.Scheme == s {
			if u.Host == "" {
				return fmt.Errorf("missing host in %q", raw)
			}
			return nil
		}
	}

	return fmt.Errorf("scheme must be one of %s, got %q", strings.Join(schemes, ", "), u.Scheme)
}

func isLocal(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	default:
		return false
	}
}
