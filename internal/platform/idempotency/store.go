package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

// Status is the lifecycle state of a reserved idempotency key.
type Status string

const (
	// DefaultTTL bounds how long a completed submission stays replayable.
	DefaultTTL = 24 * time.Hour
	// StatusPending marks a key that is reserved while the submission runs.
	StatusPending Status = "pending"
	// StatusCompleted marks a key whose response has been captured for replay.
	StatusCompleted Status = "completed"
)

// ReservationState describes what Reserve found for a key.
type ReservationState int

const (
	// ReservationStateNew means the key was free and the caller owns it now.
	ReservationStateNew ReservationState = iota
	// ReservationStateCompleted means a captured response exists and should be replayed.
	ReservationStateCompleted
	// ReservationStatePending means another submission holds the key right now.
	ReservationStatePending
)

// Reservation is the outcome of claiming a key, carrying the stored record when one exists.
type Reservation struct {
	State  ReservationState
	Record Record
}

// Record is what survives of a submission once it has been answered: the
// fingerprint that claimed the key, and the response to replay until expiry.
type Record struct {
	Fingerprint string
	Status      Status
	Response    Response
	ExpiresAt   time.Time
}

// Response is the replayable portion of an HTTP response.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Store persists idempotency reservations and captured responses.
type Store interface {
	Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error)
	SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error
	Release(ctx context.Context, key, fingerprint string) error
	CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

// ErrFingerprintMismatch is returned when an idempotency key is reused with a
// different request fingerprint.
var ErrFingerprintMismatch = errors.New("idempotency: key reserved for different request fingerprint")

// recordID derives the storage key. Records are scoped by idempotency key
// alone; the fingerprint is compared against the stored record instead, so a
// reused key with a different body surfaces as a conflict rather than a miss.
func recordID(key string) string {
	return sha256Hex([]byte(strings.TrimSpace(key)))
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// sanitizeHeaders copies the headers worth replaying, dropping hop-by-hop
// fields and anything the transport recomputes per response.
func sanitizeHeaders(header http.Header) http.Header {
	if len(header) == 0 {
		return nil
	}

	filtered := make(http.Header, len(header))
	for name, values := range header {
		canonical := http.CanonicalHeaderKey(name)
		if shouldOmitHeader(canonical) {
			continue
		}
		copied := make([]string, len(values))
		copy(copied, values)
		filtered[canonical] = copied
	}
	if len(filtered) == 0 {
		return nil
	}
	return filtered
}

func shouldOmitHeader(name string) bool {
	switch strings.ToLower(name) {
	case "content-length", "date", "connection", "keep-alive", "proxy-authenticate", "proxy-authorization", "te", "trailers", "transfer-encoding", "upgrade":
		return true
	default:
		return false
	}
}
