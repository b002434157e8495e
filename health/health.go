// Package health provides the health status type and the dependency checks
// the analyzer combines: working directories, the loaded catalog, and
// configured endpoints.
package health

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

// State is the coarse health of a component.
type State string

// Health states, ordered unhealthy > degraded > healthy for aggregation.
const (
	StateHealthy   State = "healthy"
	StateDegraded  State = "degraded"
	StateUnhealthy State = "unhealthy"
)

// Status is the result of one health check or an aggregation of several.
type Status struct {
	State   State          `json:"state"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Healthy returns a healthy status with the given message.
func Healthy(message string) Status {
	return Status{State: StateHealthy, Message: message}
}

// Degraded returns a degraded status.
func Degraded(message string, details map[string]any) Status {
	return Status{State: StateDegraded, Message: message, Details: details}
}

// Unhealthy returns an unhealthy status.
func Unhealthy(message string, details map[string]any) Status {
	return Status{State: StateUnhealthy, Message: message, Details: details}
}

// IsHealthy reports whether the status is healthy.
func (s Status) IsHealthy() bool { return s.State == StateHealthy }

// IsDegraded reports whether the status is degraded.
func (s Status) IsDegraded() bool { return s.State == StateDegraded }

// IsUnhealthy reports whether the status is unhealthy.
func (s Status) IsUnhealthy() bool { return s.State == StateUnhealthy }

// DirCheck verifies that a directory exists and is writable. A missing
// directory is unhealthy; an existing but unwritable one is degraded.
func DirCheck(path string) Status {
	if path == "" {
		return Unhealthy("directory path is empty", nil)
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Unhealthy(fmt.Sprintf("directory %s does not exist", path),
				map[string]any{"path": path})
		}
		return Unhealthy(fmt.Sprintf("cannot stat %s", path),
			map[string]any{"path": path, "error": err.Error()})
	}
	if !info.IsDir() {
		return Unhealthy(fmt.Sprintf("%s is not a directory", path),
			map[string]any{"path": path})
	}

	probe := filepath.Join(path, ".health-probe")
	f, err := os.Create(probe)
	if err != nil {
		return Degraded(fmt.Sprintf("directory %s is not writable", path),
			map[string]any{"path": path, "error": err.Error()})
	}
	f.Close()
	os.Remove(probe)

	return Healthy(fmt.Sprintf("directory %s is writable", path))
}

// CatalogCheck reports on the loaded technique catalog. No catalog is
// unhealthy; an empty one is degraded.
func CatalogCheck(version string, size int) Status {
	if version == "" && size == 0 {
		return Unhealthy("catalog not loaded", nil)
	}
	if size == 0 {
		return Degraded("catalog is empty",
			map[string]any{"version": version})
	}
	return Status{
		State:   StateHealthy,
		Message: fmt.Sprintf("catalog version %s with %d techniques", version, size),
		Details: map[string]any{"version": version, "techniques": size},
	}
}

// EndpointCheck verifies TCP connectivity to the host behind a URL. The
// port defaults from the scheme when the URL omits it.
func EndpointCheck(ctx context.Context, rawURL string) Status {
	if rawURL == "" {
		return Unhealthy("endpoint URL is empty", nil)
	}

	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return Unhealthy(fmt.Sprintf("invalid endpoint URL %s", rawURL),
			map[string]any{"url": rawURL})
	}
	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "https":
			port = "443"
		default:
			port = "80"
		}
	}

	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}

	address := net.JoinHostPort(u.Hostname(), port)
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return Unhealthy(fmt.Sprintf("cannot reach %s", address),
			map[string]any{"address": address, "error": err.Error()})
	}
	conn.Close()

	return Healthy(fmt.Sprintf("endpoint %s is reachable", address))
}

// Combine aggregates statuses: any unhealthy check makes the result
// unhealthy, otherwise any degraded check makes it degraded.
func Combine(checks ...Status) Status {
	if len(checks) == 0 {
		return Healthy("no checks configured")
	}

	var unhealthy, degraded []string
	for _, c := range checks {
		switch c.State {
		case StateUnhealthy:
			unhealthy = append(unhealthy, c.Message)
		case StateDegraded:
			degraded = append(degraded, c.Message)
		}
	}

	switch {
	case len(unhealthy) > 0:
		return Unhealthy(fmt.Sprintf("%d check(s) failed", len(unhealthy)),
			map[string]any{
				"total":         len(checks),
				"failed_checks": unhealthy,
				"degraded":      len(degraded),
			})
	case len(degraded) > 0:
		return Degraded(fmt.Sprintf("%d check(s) degraded", len(degraded)),
			map[string]any{
				"total":           len(checks),
				"degraded_checks": degraded,
			})
	default:
		return Healthy(fmt.Sprintf("all %d check(s) passed", len(checks)))
	}
}
