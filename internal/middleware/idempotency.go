package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/taskerhub/marketplace/internal/repository/postgres"
)

const (
	maxIdempotencyKeyLen   = 128
	maxIdempotencyBodySize = 1 << 20
)

// IdempotencyStore reserves client-supplied keys and keeps the responses they produced.
type IdempotencyStore interface {
	Reserve(ctx context.Context, entry *postgres.IdempotencyEntry) (*postgres.IdempotencyEntry, error)
	Complete(ctx context.Context, key string, status int, body string) error
	Release(ctx context.Context, key string) error
}

// Idempotency makes a request carrying an Idempotency-Key run at most once per caller and route.
// A repeat gets the stored response, a repeat that arrives while the first is still running gets
// 409, and the same key with a different body gets 422. Server errors release the key.
func Idempotency(store IdempotencyStore, ttl time.Duration, logger zerolog.Logger) func(http.Handler) http.Handler {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("Idempotency-Key")
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxIdempotencyKeyLen {
				writeError(w, http.StatusBadRequest, "Idempotency-Key too long", "validation_error")
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxIdempotencyBodySize+1))
			if err != nil || len(body) > maxIdempotencyBodySize {
				writeError(w, http.StatusRequestEntityTooLarge, "request body too large", "validation_error")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			now := time.Now()
			scoped := scopeKey(r, key)
			held, err := store.Reserve(r.Context(), &postgres.IdempotencyEntry{
				Key:         scoped,
				RequestHash: fingerprint(body),
				CreatedAt:   now,
				ExpiresAt:   now.Add(ttl),
			})
			if err != nil {
				logger.Warn().Err(err).Msg("idempotency reservation failed, serving without replay protection")
				next.ServeHTTP(w, r)
				return
			}
			if held != nil {
				replay(w, held, fingerprint(body))
				return
			}

			rec := &responseRecorder{ResponseWriter: w, body: &bytes.Buffer{}, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r)

			ctx := context.WithoutCancel(r.Context())
			if rec.statusCode >= 500 || rec.bodyTruncated {
				if err := store.Release(ctx, scoped); err != nil {
					logger.Warn().Err(err).Msg("failed to release idempotency key")
				}
				return
			}
			if err := store.Complete(ctx, scoped, rec.statusCode, rec.body.String()); err != nil {
				logger.Warn().Err(err).Msg("failed to store idempotent response")
			}
		})
	}
}

func replay(w http.ResponseWriter, held *postgres.IdempotencyEntry, hash string) {
	switch {
	case held.RequestHash != hash:
		writeError(w, http.StatusUnprocessableEntity, "Idempotency-Key was used with a different request", "idempotency_mismatch")
	case held.InFlight():
		writeError(w, http.StatusConflict, "a request with this Idempotency-Key is still being processed", "idempotency_in_flight")
	default:
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Idempotency-Replayed", "true")
		w.WriteHeader(held.ResponseStatus)
		_, _ = w.Write([]byte(held.ResponseBody))
	}
}

func fingerprint(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

func scopeKey(r *http.Request, key string) string {
	caller := "anonymous"
	if id, ok := GetUserID(r.Context()); ok {
		caller = id.String()
	}
	return caller + ":" + r.Method + ":" + r.URL.Path + ":" + key
}

type responseRecorder struct {
	http.ResponseWriter
	statusCode    int
	body          *bytes.Buffer
	bodyTruncated bool
}

func (r *responseRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	if !r.bodyTruncated {
		if r.body.Len()+len(b) > maxIdempotencyBodySize {
			r.bodyTruncated = true
		} else {
			r.body.Write(b)
		}
	}
	return r.ResponseWriter.Write(b)
}
