package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
)

// RetryState beschreibt den Zustand der Retry-Maschine.
type RetryState int

const (
	StateAttempting RetryState = iota
	StateBackoff
	StateSucceeded
	StateExhausted
)

// AttemptOutcome klassifiziert das Ergebnis eines einzelnen Versuchs.
type AttemptOutcome int

const (
	OutcomeSuccess AttemptOutcome = iota
	OutcomeRetryable
	OutcomeFatal
)

// NextState ist die reine Übergangsfunktion der Retry-Maschine. Sie hat
// keine Seiteneffekte und ist damit ohne Timer testbar.
func NextState(outcome AttemptOutcome, attempt, maxAttempts int) RetryState {
	switch outcome {
	case OutcomeSuccess:
		return StateSucceeded
	case OutcomeRetryable:
		if attempt < maxAttempts {
			return StateBackoff
		}
		return StateExhausted
	default:
		return StateExhausted
	}
}

// ClassifyOutcome entscheidet, ob ein Fehler ein Retry wert ist. Retryable
// sind ausschließlich Rate-Limit- und Timeout-Signale; alles andere wird
// sofort durchgereicht.
func ClassifyOutcome(err error) AttemptOutcome {
	if err == nil {
		return OutcomeSuccess
	}
	if isRetryable(err) {
		return OutcomeRetryable
	}
	return OutcomeFatal
}

func isRetryable(err error) bool {
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTimeout) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") || strings.Contains(msg, "timeout")
}

// RetryCallback meldet einen anstehenden neuen Versuch.
type RetryCallback func(attempt, maxAttempts int, delay time.Duration)

// CountdownCallback meldet einmal pro Sekunde das Restbudget eines Versuchs.
type CountdownCallback func(remainingSeconds, totalSeconds int)

// RetryPolicy kapselt Timeout, Backoff und Rate-Limiting für genau einen
// externen Aufruf. Die Policy weiß nichts über den Inhalt des Aufrufs.
type RetryPolicy struct {
	Limiter     *RateLimiter
	Timeout     time.Duration
	MaxAttempts int
	BaseDelay   time.Duration
	OnRetry     RetryCallback
	OnCountdown CountdownCallback

	Logger *zap.Logger
	Clock  Clock
}

type attemptResult struct {
	value string
	err   error
}

// Do führt den Aufruf mit Timeout- und Retry-Budget aus. Ein Versuch, der
// sein Zeitfenster überschreitet, wird aufgegeben (sein spätes Ergebnis
// verworfen) und wie ein fehlgeschlagener Aufruf behandelt.
func (p *RetryPolicy) Do(ctx context.Context, call func(ctx context.Context) (string, error)) (string, error) {
	clock := p.Clock
	if clock == nil {
		clock = RealClock()
	}
	log := p.Logger
	if log == nil {
		log = zap.NewNop()
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		if p.Limiter != nil {
			if err := p.Limiter.WaitForNext(ctx); err != nil {
				return "", err
			}
		}

		value, err := p.runAttempt(ctx, clock, call)
		outcome := ClassifyOutcome(err)
		if outcome == OutcomeFatal {
			return "", err
		}

		switch NextState(outcome, attempt, p.MaxAttempts) {
		case StateSucceeded:
			if attempt > 1 {
				log.Info("Aufruf nach Retry erfolgreich", zap.Int("attempt", attempt))
			}
			return value, nil
		case StateBackoff:
			lastErr = err
			delay := p.BaseDelay << (attempt - 1)
			log.Warn("Retryable Fehler, warte mit Backoff",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", p.MaxAttempts),
				zap.Duration("delay", delay),
				zap.Error(err))
			if p.OnRetry != nil {
				p.OnRetry(attempt, p.MaxAttempts, delay)
			}
			if err := clock.Sleep(ctx, delay); err != nil {
				return "", err
			}
		case StateExhausted:
			lastErr = err
			log.Error("Retry-Budget aufgebraucht",
				zap.Int("attempts", attempt),
				zap.Error(lastErr))
			return "", &ExhaustedError{Attempts: attempt, Last: lastErr}
		}
	}
}

// runAttempt lässt den Aufruf gegen das Timeout-Fenster laufen und meldet
// sekündlich das Restbudget. In den Aufruf selbst wird kein Abbruchsignal
// propagiert; ein verspätetes Ergebnis landet im gepufferten Kanal und
// wird ignoriert.
func (p *RetryPolicy) runAttempt(ctx context.Context, clock Clock, call func(ctx context.Context) (string, error)) (string, error) {
	total := int(p.Timeout / time.Second)
	if p.OnCountdown != nil {
		p.OnCountdown(total, total)
	}

	done := make(chan attemptResult, 1)
	go func() {
		value, err := call(ctx)
		done <- attemptResult{value: value, err: err}
	}()

	deadline := clock.Now().Add(p.Timeout)
	remaining := total
	for {
		// Fertige Ergebnisse immer zuerst einsammeln.
		select {
		case r := <-done:
			return r.value, r.err
		default:
		}

		select {
		case r := <-done:
			return r.value, r.err
		case <-ctx.Done():
			return "", ctx.Err()
		case <-clock.After(time.Second):
			remaining--
			if remaining <= 0 || !clock.Now().Before(deadline) {
				return "", ErrTimeout
			}
			if p.OnCountdown != nil {
				p.OnCountdown(remaining, total)
			}
		}
	}
}
