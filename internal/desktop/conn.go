// Package desktop provides the pooled remote-desktop command path: cached,
// leasable sessions to remote-control endpoints, and the four commands the
// control plane executes over them.
package desktop

import (
	"context"
	"fmt"
	"image"
	"net/url"
	"strings"
	"time"
)

// Conn is one live remote-desktop session. The wire protocol behind it is
// out of scope here; implementations are injected via Dialers.
type Conn interface {
	Screenshot(ctx context.Context) (image.Image, error)
	TypeText(ctx context.Context, text string) error
	PressKey(ctx context.Context, key string, modifiers []string, hold time.Duration) error
	Click(ctx context.Context, x, y, button int) error
	Close() error
}

// Dialer opens a session to addr, authenticating with creds.
type Dialer func(ctx context.Context, addr, creds string) (Conn, error)

// Dialers selects the transport by address scheme: plain endpoints use Raw,
// ssh-tunneled ones use Tunneled.
type Dialers struct {
	Raw      Dialer
	Tunneled Dialer
}

// forAddr picks the dialer for an address. Schemes "vnc+ssh" and "vncs"
// tunnel; everything else (including scheme-less host:port) is raw.
func (d Dialers) forAddr(addr string) (Dialer, error) {
	scheme := ""
	if i := strings.Index(addr, "://"); i >= 0 {
		scheme = addr[:i]
	}
	switch scheme {
	case "vnc+ssh", "vncs":
		if d.Tunneled == nil {
			return nil, fmt.Errorf("no tunneled dialer configured for %s", addr)
		}
		return d.Tunneled, nil
	default:
		if d.Raw == nil {
			return nil, fmt.Errorf("no raw dialer configured")
		}
		return d.Raw, nil
	}
}

// SplitCreds extracts credentials embedded in an address's userinfo part,
// returning the stripped address and the embedded secret ("" when absent).
func SplitCreds(addr string) (string, string) {
	u, err := url.Parse(addr)
	if err != nil || u.User == nil {
		return addr, ""
	}
	creds, _ := u.User.Password()
	if creds == "" {
		creds = u.User.Username()
	}
	u.User = nil
	return u.String(), creds
}
