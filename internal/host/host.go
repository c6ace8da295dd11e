// Package host talks to the controller process that manages the local
// installation: it reports installed component versions and refreshes the
// active repository snapshot on request.
package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// ErrPermissionDenied is returned when the controller refuses an action.
var ErrPermissionDenied = errors.New("host: permission denied")

// Reply marker the controller sends on denied requests.
const permissionErrorMarker = "permissionError"

// InstalledInfo describes one locally installed component.
type InstalledInfo struct {
	Version string `json:"version"`
	Title   string `json:"title,omitempty"`
}

// Host is the host-environment collaborator.
type Host interface {
	// InstalledVersions returns the version info of every installed
	// component, keyed by qualified component name.
	InstalledVersions(ctx context.Context) (map[string]InstalledInfo, error)

	// RequestRepositoryRefresh asks the controller to fetch a fresh
	// snapshot of the named repository. The refreshed snapshot arrives
	// through the object store's change feed, not through this call.
	RequestRepositoryRefresh(ctx context.Context, repo string) error
}

// Static returns a Host with a fixed installed-version map and no
// repository refresh capability. Used in embedded mode and tests.
func Static(installed map[string]InstalledInfo) Host {
	return staticHost{installed: installed}
}

type staticHost struct {
	installed map[string]InstalledInfo
}

func (h staticHost) InstalledVersions(context.Context) (map[string]InstalledInfo, error) {
	if h.installed == nil {
		return map[string]InstalledInfo{}, nil
	}
	return h.installed, nil
}

func (h staticHost) RequestRepositoryRefresh(context.Context, string) error {
	return ErrPermissionDenied
}

type natsHost struct {
	nc      *nats.Conn
	host    string
	timeout time.Duration
}

// NewNATS creates a Host speaking to the controller at the given host name
// over an existing NATS connection.
func NewNATS(nc *nats.Conn, hostName string, timeout time.Duration) Host {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &natsHost{nc: nc, host: hostName, timeout: timeout}
}

// Dial connects a dedicated NATS connection for controller requests.
func Dial(url, hostName string, timeout time.Duration) (Host, error) {
	nc, err := nats.Connect(url, nats.Name("admind-host"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("connect controller: %w", err)
	}
	return NewNATS(nc, hostName, timeout), nil
}

func (h *natsHost) subject(op string) string {
	return fmt.Sprintf("host.%s.%s", h.host, op)
}

func (h *natsHost) InstalledVersions(ctx context.Context) (map[string]InstalledInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	msg, err := h.nc.RequestWithContext(ctx, h.subject("getInstalledInfo"), nil)
	if err != nil {
		return nil, fmt.Errorf("request installed info: %w", err)
	}
	if string(msg.Data) == permissionErrorMarker {
		return nil, ErrPermissionDenied
	}
	var installed map[string]InstalledInfo
	if err := json.Unmarshal(msg.Data, &installed); err != nil {
		return nil, fmt.Errorf("decode installed info: %w", err)
	}
	return installed, nil
}

func (h *natsHost) RequestRepositoryRefresh(ctx context.Context, repo string) error {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	req, err := json.Marshal(map[string]any{"repo": repo, "update": true})
	if err != nil {
		return fmt.Errorf("encode repository request: %w", err)
	}
	msg, err := h.nc.RequestWithContext(ctx, h.subject("getRepository"), req)
	if err != nil {
		return fmt.Errorf("request repository %q: %w", repo, err)
	}
	if string(msg.Data) == permissionErrorMarker {
		return ErrPermissionDenied
	}
	return nil
}
