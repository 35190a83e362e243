package health

import "sync/atomic"

// ready gates the readiness endpoint during startup and graceful shutdown.
// The server flips it off before draining so load balancers stop routing
// new requests while in-flight ones finish.
var ready atomic.Bool

func init() {
	ready.Store(true)
}

// SetReady toggles the readiness gate.
func SetReady(v bool) {
	ready.Store(v)
}

// Ready reports whether the readiness gate is open.
func Ready() bool {
	return ready.Load()
}
