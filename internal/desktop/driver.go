package desktop

import (
	"context"
	"fmt"
	"sync"
)

// Driver names for the two transports.
const (
	DriverRaw      = "raw"
	DriverTunneled = "tunneled"
)

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]Dialer)
)

// RegisterDriver installs a session dialer for a transport, in the manner
// of database/sql drivers: the wire-protocol implementation lives in a
// separate package that registers itself at init time.
func RegisterDriver(name string, d Dialer) {
	driversMu.Lock()
	defer driversMu.Unlock()
	drivers[name] = d
}

// DriverDialers returns Dialers that resolve the registered drivers at call
// time. A command against a transport with no driver registered fails with
// a descriptive error instead of panicking.
func DriverDialers() Dialers {
	return Dialers{
		Raw:      driverDialer(DriverRaw),
		Tunneled: driverDialer(DriverTunneled),
	}
}

func driverDialer(name string) Dialer {
	return func(ctx context.Context, addr, creds string) (Conn, error) {
		driversMu.RLock()
		d, ok := drivers[name]
		driversMu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("no %q desktop driver registered", name)
		}
		return d(ctx, addr, creds)
	}
}
