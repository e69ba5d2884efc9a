package backend

import (
	"net/url"
	"sync"
	"time"
)

// Tunnel is the single loopback endpoint the relay forwards to, together
// with what has been observed about it: the last probe result, the number
// of exchanges in flight and their smoothed duration.
type Tunnel struct {
	address          string
	url              *url.URL
	mutex            sync.Mutex
	isHealthy        bool
	probed           bool
	activeExchanges  int
	ewmaResponseTime time.Duration
	hasEWMA          bool
}

const ewmaAlpha = 0.2

// New creates a Tunnel for the given host:port. Its health is unknown, and
// reported as unhealthy, until the first probe.
func New(address string) *Tunnel {
	return &Tunnel{
		address: address,
		url:     &url.URL{Scheme: "http", Host: address},
	}
}

// Address returns the backend host:port.
func (t *Tunnel) Address() string {
	return t.address
}

// URL returns the backend base URL. Callers must not modify it.
func (t *Tunnel) URL() *url.URL {
	return t.url
}

// IncrementExchanges records the start of an exchange.
func (t *Tunnel) IncrementExchanges() {
	t.mutex.Lock()
	t.activeExchanges++
	t.mutex.Unlock()
}

// DecrementExchanges records the end of an exchange.
func (t *Tunnel) DecrementExchanges() {
	t.mutex.Lock()
	if t.activeExchanges > 0 {
		t.activeExchanges--
	}
	t.mutex.Unlock()
}

// ActiveExchanges returns the number of exchanges currently in flight.
func (t *Tunnel) ActiveExchanges() int {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.activeExchanges
}

// IsHealthy returns the result of the last probe.
func (t *Tunnel) IsHealthy() bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.isHealthy
}

// SetHealthy stores a probe result. It reports whether the result differs
// from the previous one; the first result always counts as a change.
func (t *Tunnel) SetHealthy(healthy bool) (changed bool) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.probed && t.isHealthy == healthy {
		return false
	}

	t.probed = true
	t.isHealthy = healthy
	return true
}

// RecordResponse folds the duration of a finished exchange into the
// exponentially weighted moving average.
func (t *Tunnel) RecordResponse(duration time.Duration) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if !t.hasEWMA {
		t.ewmaResponseTime = duration
		t.hasEWMA = true
		return
	}
	//ewma = (1 - α) * ewma + α * latest
	t.ewmaResponseTime = time.Duration((1-ewmaAlpha)*float64(t.ewmaResponseTime) + ewmaAlpha*float64(duration))
}

// EWMATime returns the moving average exchange duration, or 0 before the
// first exchange finishes.
func (t *Tunnel) EWMATime() time.Duration {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if !t.hasEWMA {
		return 0
	}

	return t.ewmaResponseTime
}
