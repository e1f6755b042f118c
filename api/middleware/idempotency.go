package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/cardvault/marketplace-backend/api/responses"
	pkgerrors "github.com/cardvault/marketplace-backend/pkg/errors"
	"github.com/cardvault/marketplace-backend/pkg/logger"
)

const (
	idempotencyHeader = "Idempotency-Key"
	replayedHeader    = "Idempotent-Replayed"

	defaultIdempotencyTTL = 24 * time.Hour
	paymentIdempotencyTTL = 7 * 24 * time.Hour

	// inFlightTTL bounds how long a crashed request can block its key.
	inFlightTTL          = 2 * time.Minute
	maxIdempotencyKeyLen = 255
	maxIdempotentBody    = 1 << 20
)

// idempotentRoutes maps "METHOD chi-pattern" to how long a response replays.
// Payment routes keep keys for a week to cover client retry queues.
var idempotentRoutes = map[string]time.Duration{
	"POST /api/v1/payments/intents":                   paymentIdempotencyTTL,
	"POST /api/v1/credits/checkout":                   paymentIdempotencyTTL,
	"POST /api/v1/listings":                           defaultIdempotencyTTL,
	"POST /api/v1/listings/{listingID}/cancel":        defaultIdempotencyTTL,
	"POST /api/v1/assets/uploads":                     defaultIdempotencyTTL,
	"POST /api/v1/assets/uploads/{uploadID}/finalize": defaultIdempotencyTTL,
}

// ResponseStore caches replayable responses keyed by Idempotency-Key.
type ResponseStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	ResponseKey(scope, key string) string
}

type idempotencyRecord struct {
	InFlight    bool   `json:"in_flight,omitempty"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
	RequestHash string `json:"request_hash"`
}

// Idempotency makes the configured POST routes safe to retry. The key is
// reserved before the handler runs so concurrent retries cannot both reach
// Stripe; the finished response then replaces the reservation. Server errors
// release the key so the next retry runs the handler again.
func Idempotency(store ResponseStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ttl, ok := routeTTL(r.Method, routePattern(r))
			if !ok || store == nil {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()

			idemKey := strings.TrimSpace(r.Header.Get(idempotencyHeader))
			switch {
			case idemKey == "":
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required"))
				return
			case len(idemKey) > maxIdempotencyKeyLen:
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key too long"))
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxIdempotentBody+1))
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
				return
			}
			if len(body) > maxIdempotentBody {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "request body too large"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			requestHash := hashBody(body)
			key := store.ResponseKey(requestScope(r), idemKey)

			reservation, _ := json.Marshal(idempotencyRecord{InFlight: true, RequestHash: requestHash})
			reserved, err := store.SetNX(ctx, key, string(reservation), inFlightTTL)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reserve idempotency key"))
				return
			}
			if !reserved {
				replayStored(ctx, logg, w, store, key, requestHash)
				return
			}

			rec := &responseCapture{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			// The client may be gone; bookkeeping must still land.
			bg := context.WithoutCancel(ctx)
			if rec.statusCode() >= http.StatusInternalServerError {
				if err := store.Del(bg, key); err != nil {
					logError(bg, logg, "release idempotency key", err)
				}
				return
			}

			payload, err := json.Marshal(idempotencyRecord{
				Status:      rec.statusCode(),
				ContentType: rec.Header().Get("Content-Type"),
				Body:        rec.body.Bytes(),
				RequestHash: requestHash,
			})
			if err != nil {
				logError(bg, logg, "marshal idempotency record", err)
				return
			}
			if err := store.Set(bg, key, string(payload), ttl); err != nil {
				logError(bg, logg, "persist idempotency record", err)
			}
		})
	}
}

// replayStored answers a retry from the stored record, or with a conflict
// when the original is still running or the body changed.
func replayStored(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, store ResponseStore, key, requestHash string) {
	stored, err := store.Get(ctx, key)
	if errors.Is(err, redis.Nil) {
		// Reservation expired between SetNX and Get; the client can retry.
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "request with this Idempotency-Key is being processed"))
		return
	}
	if err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
		return
	}

	var record idempotencyRecord
	if err := json.Unmarshal([]byte(stored), &record); err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotency record"))
		return
	}
	if record.RequestHash != requestHash {
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body"))
		return
	}
	if record.InFlight {
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "request with this Idempotency-Key is being processed"))
		return
	}

	if record.ContentType != "" {
		w.Header().Set("Content-Type", record.ContentType)
	}
	w.Header().Set(replayedHeader, "true")
	w.WriteHeader(record.Status)
	_, _ = w.Write(record.Body)
}

// requestScope keeps keys from colliding across callers and endpoints.
func requestScope(r *http.Request) string {
	return strings.Join([]string{UserIDFromContext(r.Context()), r.Method, r.URL.Path}, "|")
}

func hashBody(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

func routeTTL(method, pattern string) (time.Duration, bool) {
	ttl, ok := idempotentRoutes[method+" "+pattern]
	return ttl, ok
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (r *responseCapture) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseCapture) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *responseCapture) statusCode() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

func logError(ctx context.Context, logg *logger.Logger, msg string, err error) {
	if logg == nil || err == nil {
		return
	}
	logg.Error(ctx, msg, err)
}
