package desktop

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"time"

	xdraw "golang.org/x/image/draw"

	"github.com/byt3bl33d3r/figaro-sub000/internal/domain"
	"github.com/byt3bl33d3r/figaro-sub000/pkg/telemetry"
)

// Commander executes one-shot commands over pooled desktop sessions.
type Commander struct {
	pool         *Pool
	defaultCreds string
}

func NewCommander(pool *Pool, defaultCreds string) *Commander {
	return &Commander{pool: pool, defaultCreds: defaultCreds}
}

// Target is a resolved remote-desktop endpoint.
type Target struct {
	Addr  string
	Creds string
}

// ResolveTarget applies the credential precedence: per-connection creds,
// then creds embedded in the address userinfo, then the system default.
func (c *Commander) ResolveTarget(addr, connCreds string) Target {
	stripped, embedded := SplitCreds(addr)
	creds := connCreds
	if creds == "" {
		creds = embedded
	}
	if creds == "" {
		creds = c.defaultCreds
	}
	return Target{Addr: stripped, Creds: creds}
}

// ScreenshotResult carries both the original and displayed dimensions so
// callers can rescale click coordinates taken against the downscaled image.
type ScreenshotResult struct {
	PNG             []byte `json:"png"`
	OriginalWidth   int    `json:"original_width"`
	OriginalHeight  int    `json:"original_height"`
	DisplayedWidth  int    `json:"displayed_width"`
	DisplayedHeight int    `json:"displayed_height"`
}

// Screenshot captures the target's framebuffer, downscaling to maxWidth
// when the capture is wider (maxWidth <= 0 disables scaling).
func (c *Commander) Screenshot(ctx context.Context, target Target, maxWidth int) (*ScreenshotResult, error) {
	var result *ScreenshotResult
	err := c.withLease(ctx, target, "screenshot", func(conn Conn) error {
		img, err := conn.Screenshot(ctx)
		if err != nil {
			return err
		}

		bounds := img.Bounds()
		origW, origH := bounds.Dx(), bounds.Dy()
		dispW, dispH := origW, origH

		if maxWidth > 0 && origW > maxWidth {
			dispW = maxWidth
			dispH = origH * maxWidth / origW
			scaled := image.NewRGBA(image.Rect(0, 0, dispW, dispH))
			xdraw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), img, bounds, xdraw.Over, nil)
			img = scaled
		}

		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return err
		}
		result = &ScreenshotResult{
			PNG:             buf.Bytes(),
			OriginalWidth:   origW,
			OriginalHeight:  origH,
			DisplayedWidth:  dispW,
			DisplayedHeight: dispH,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// TypeText sends a text string to the target.
func (c *Commander) TypeText(ctx context.Context, target Target, text string) error {
	return c.withLease(ctx, target, "type_text", func(conn Conn) error {
		return conn.TypeText(ctx, text)
	})
}

// PressKey presses a key with optional modifiers, holding it for the given
// duration when hold > 0.
func (c *Commander) PressKey(ctx context.Context, target Target, key string, modifiers []string, hold time.Duration) error {
	return c.withLease(ctx, target, "key_press", func(conn Conn) error {
		return conn.PressKey(ctx, key, modifiers, hold)
	})
}

// Click clicks at (x, y) with the given button (1 = left).
func (c *Commander) Click(ctx context.Context, target Target, x, y, button int) error {
	return c.withLease(ctx, target, "click", func(conn Conn) error {
		return conn.Click(ctx, x, y, button)
	})
}

// withLease acquires a pooled session, runs fn under the lease, and turns
// any failure into a descriptive DesktopCommandError. A failed session is
// discarded so the next command dials fresh.
func (c *Commander) withLease(ctx context.Context, target Target, command string, fn func(Conn) error) error {
	lease, err := c.pool.Acquire(ctx, target.Addr, target.Creds)
	if err != nil {
		telemetry.DesktopCommandsTotal.WithLabelValues(command, "error").Inc()
		return &domain.DesktopCommandError{Addr: target.Addr, Command: command, Err: err}
	}

	if err := fn(lease.Conn); err != nil {
		c.pool.Discard(lease)
		telemetry.DesktopCommandsTotal.WithLabelValues(command, "error").Inc()
		return &domain.DesktopCommandError{Addr: target.Addr, Command: command, Err: err}
	}

	lease.Release()
	telemetry.DesktopCommandsTotal.WithLabelValues(command, "ok").Inc()
	return nil
}
