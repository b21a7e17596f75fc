package services

import (
	"errors"
	"fmt"
)

// Fehler-Taxonomie des Kerns. Aufrufer unterscheiden über errors.Is/As,
// rohe Provider-Fehlertexte verlassen die Service-Schicht nicht.
var (
	// ErrNotFound: referenziertes Paper bzw. Frage existiert nicht.
	ErrNotFound = errors.New("not found")

	// ErrRateLimited: externes API meldet Rate-Limiting (retryable).
	ErrRateLimited = errors.New("rate limited")

	// ErrTimeout: ein Versuch hat sein Zeitbudget überschritten (retryable).
	ErrTimeout = errors.New("timed out")

	// ErrExhaustedRetries: Retry-Budget aufgebraucht.
	ErrExhaustedRetries = errors.New("exhausted retries")

	// ErrOffline: Operation benötigt Netzzugriff, System ist offline.
	ErrOffline = errors.New("offline")
)

// ValidationError markiert eine fehlerhafte externe Antwort. Sie ist bewusst
// von transienten Fehlern getrennt, damit Aufrufer kein Retry-Budget darauf
// verschwenden.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

// ExhaustedError trägt den letzten Fehler nach aufgebrauchtem Retry-Budget.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("exhausted %d attempts: %v", e.Attempts, e.Last)
}

// Unwrap erlaubt errors.Is auf ErrExhaustedRetries und den letzten Fehler.
func (e *ExhaustedError) Unwrap() []error {
	return []error{ErrExhaustedRetries, e.Last}
}
