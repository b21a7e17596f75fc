package services

import (
	"context"
	"time"
)

// Clock abstrahiert Zeit und Warten, damit Rate-Limiter und Retry-Policy
// ohne echte Timer getestet werden können.
type Clock interface {
	Now() time.Time
	// Sleep wartet d lang oder bis der Kontext abgebrochen wird.
	Sleep(ctx context.Context, d time.Duration) error
	// After liefert einen Kanal, der nach d feuert.
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

// RealClock ist die produktive Clock auf Basis von package time.
func RealClock() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (realClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}
