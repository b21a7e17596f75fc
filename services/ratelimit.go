package services

import (
	"context"
	"sync"
	"time"
)

// RateLimiter erzwingt einen Mindestabstand zwischen Aufrufen an eine
// externe Endpoint-Klasse. Pro Endpoint-Klasse existiert genau eine Instanz.
//
// Gleichzeitige Aufrufer reservieren unter dem Mutex jeweils den nächsten
// freien Slot, dadurch liegen aufeinanderfolgende Freigaben immer mindestens
// interval auseinander, gemessen an der vorherigen Freigabe.
type RateLimiter struct {
	mu       sync.Mutex
	interval time.Duration
	next     time.Time
	clock    Clock
}

// NewRateLimiter erstellt einen Rate-Limiter mit dem gegebenen Mindestabstand.
func NewRateLimiter(interval time.Duration, clock Clock) *RateLimiter {
	if clock == nil {
		clock = RealClock()
	}
	return &RateLimiter{interval: interval, clock: clock}
}

// WaitForNext blockiert, bis der nächste Slot frei ist, und verbucht ihn.
// Bei Kontextabbruch bleibt der reservierte Slot verbraucht; das ist für
// das Best-Effort-Modell dieses Kerns ausreichend.
func (r *RateLimiter) WaitForNext(ctx context.Context) error {
	r.mu.Lock()
	now := r.clock.Now()
	grant := r.next
	if grant.Before(now) {
		grant = now
	}
	r.next = grant.Add(r.interval)
	r.mu.Unlock()

	if wait := grant.Sub(now); wait > 0 {
		return r.clock.Sleep(ctx, wait)
	}
	return ctx.Err()
}
