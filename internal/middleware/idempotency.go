package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
)

// IdempotencyHeader names the client-chosen key for a retried POST.
const IdempotencyHeader = "Idempotency-Key"

// storedResponse is what Redis keeps per key. Pending marks a request that
// is still being served.
type storedResponse struct {
	Fingerprint string `json:"fp"`
	Pending     bool   `json:"pending,omitempty"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

// Idempotency replays the first response for a repeated POST carrying the
// same Idempotency-Key. Keys are scoped to the authenticated actor. 5xx
// responses are not stored so the client can retry them. With a nil client,
// or when Redis is unreachable, requests pass through unchanged.
func Idempotency(rdb redis.Cmdable, ttl time.Duration, log *slog.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		if rdb == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(IdempotencyHeader)
			if r.Method != http.MethodPost || key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > 128 {
				writeError(w, http.StatusBadRequest, "invalid_idempotency_key", "Idempotency-Key too long")
				return
			}

			bodyBytes, err := io.ReadAll(r.Body)
			r.Body.Close()
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_request_body", "failed to read body")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(bodyBytes))

			ctx := r.Context()
			rk := idempotencyKey(r, key)
			fp := fingerprint(r, bodyBytes)
			pending, _ := json.Marshal(storedResponse{Fingerprint: fp, Pending: true})

			fresh, err := rdb.SetNX(ctx, rk, string(pending), ttl).Result()
			if err != nil {
				log.Warn("idempotency store unavailable, serving without replay protection", "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !fresh {
				replay(w, r, next, rdb, rk, fp, log)
				return
			}

			// Release the pending marker unless a final response was stored,
			// including after a panic or a client disconnect.
			storeCtx := context.WithoutCancel(ctx)
			stored := false
			defer func() {
				if stored {
					return
				}
				if err := rdb.Del(storeCtx, rk).Err(); err != nil {
					log.Warn("idempotency key not released", "key", rk, "error", err)
				}
			}()

			rec := &recorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.status >= http.StatusInternalServerError {
				return
			}
			done, _ := json.Marshal(storedResponse{
				Fingerprint: fp,
				Status:      rec.status,
				ContentType: rec.Header().Get("Content-Type"),
				Body:        rec.body.Bytes(),
			})
			if err := rdb.Set(storeCtx, rk, string(done), ttl).Err(); err != nil {
				log.Warn("idempotent response not stored", "key", rk, "error", err)
				return
			}
			stored = true
		})
	}
}

func replay(w http.ResponseWriter, r *http.Request, next http.Handler, rdb redis.Cmdable, rk, fp string, log *slog.Logger) {
	raw, err := rdb.Get(r.Context(), rk).Result()
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET.
		next.ServeHTTP(w, r)
		return
	}
	if err != nil {
		log.Warn("idempotency lookup failed", "key", rk, "error", err)
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "please retry")
		return
	}
	var stored storedResponse
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		log.Error("corrupt idempotency record", "key", rk, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
		return
	}
	switch {
	case stored.Fingerprint != fp:
		writeError(w, http.StatusUnprocessableEntity, "idempotency_key_reused", "Idempotency-Key reused with a different request")
	case stored.Pending:
		writeError(w, http.StatusConflict, "request_in_progress", "a request with this Idempotency-Key is in progress")
	default:
		if stored.ContentType != "" {
			w.Header().Set("Content-Type", stored.ContentType)
		}
		w.Header().Set("Idempotent-Replayed", "true")
		w.WriteHeader(stored.Status)
		_, _ = w.Write(stored.Body)
	}
}

func idempotencyKey(r *http.Request, key string) string {
	scope := "anonymous"
	if a, ok := ActorFromCtx(r.Context()); ok {
		scope = a.ID.String()
	}
	return "idem:" + scope + ":" + key
}

func fingerprint(r *http.Request, body []byte) string {
	h := sha256.New()
	h.Write([]byte(r.Method + " " + r.URL.Path + "\n"))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// recorder passes the response through while keeping a copy.
type recorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (r *recorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *recorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}
