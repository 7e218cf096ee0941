package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskbazaar/backend/internal/models"
)

const idemTTL = time.Hour

func idemRequest(t *testing.T, actor models.Actor, body, key string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/withdrawals", strings.NewReader(body))
	req.Header.Set(IdempotencyHeader, key)
	return req.WithContext(WithActor(req.Context(), actor))
}

func marshalStored(t *testing.T, s storedResponse) string {
	t.Helper()
	b, err := json.Marshal(s)
	require.NoError(t, err)
	return string(b)
}

func countingHandler(status int, body string, calls *int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	})
}

func TestIdempotency_FirstRequestIsStored(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	actor := models.Actor{ID: uuid.New(), Role: models.RoleBuyer}
	body := `{"amount":"10.00"}`
	req := idemRequest(t, actor, body, "k1")
	rk := "idem:" + actor.ID.String() + ":k1"
	fp := fingerprint(req, []byte(body))

	mock.ExpectSetNX(rk, marshalStored(t, storedResponse{Fingerprint: fp, Pending: true}), idemTTL).SetVal(true)
	mock.ExpectSet(rk, marshalStored(t, storedResponse{
		Fingerprint: fp,
		Status:      http.StatusCreated,
		ContentType: "application/json",
		Body:        []byte(`{"id":"w1"}`),
	}), idemTTL).SetVal("OK")

	calls := 0
	rec := httptest.NewRecorder()
	Idempotency(rdb, idemTTL, nil)(countingHandler(http.StatusCreated, `{"id":"w1"}`, &calls)).ServeHTTP(rec, req)

	assert.Equal(t, 1, calls)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, `{"id":"w1"}`, rec.Body.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotency_ReplaysStoredResponse(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	actor := models.Actor{ID: uuid.New(), Role: models.RoleBuyer}
	body := `{"amount":"10.00"}`
	req := idemRequest(t, actor, body, "k1")
	rk := "idem:" + actor.ID.String() + ":k1"
	fp := fingerprint(req, []byte(body))

	mock.ExpectSetNX(rk, marshalStored(t, storedResponse{Fingerprint: fp, Pending: true}), idemTTL).SetVal(false)
	mock.ExpectGet(rk).SetVal(marshalStored(t, storedResponse{
		Fingerprint: fp,
		Status:      http.StatusCreated,
		ContentType: "application/json",
		Body:        []byte(`{"id":"w1"}`),
	}))

	calls := 0
	rec := httptest.NewRecorder()
	Idempotency(rdb, idemTTL, nil)(countingHandler(http.StatusCreated, `{"id":"w2"}`, &calls)).ServeHTTP(rec, req)

	assert.Equal(t, 0, calls, "handler must not run on replay")
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, `{"id":"w1"}`, rec.Body.String())
	assert.Equal(t, "true", rec.Header().Get("Idempotent-Replayed"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotency_KeyReusedWithDifferentBody(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	actor := models.Actor{ID: uuid.New(), Role: models.RoleBuyer}
	req := idemRequest(t, actor, `{"amount":"99.00"}`, "k1")
	rk := "idem:" + actor.ID.String() + ":k1"
	fp := fingerprint(req, []byte(`{"amount":"99.00"}`))

	mock.ExpectSetNX(rk, marshalStored(t, storedResponse{Fingerprint: fp, Pending: true}), idemTTL).SetVal(false)
	mock.ExpectGet(rk).SetVal(marshalStored(t, storedResponse{Fingerprint: "other", Status: 201}))

	calls := 0
	rec := httptest.NewRecorder()
	Idempotency(rdb, idemTTL, nil)(countingHandler(http.StatusCreated, `{}`, &calls)).ServeHTTP(rec, req)

	assert.Equal(t, 0, calls)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotency_InFlight(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	actor := models.Actor{ID: uuid.New(), Role: models.RoleBuyer}
	req := idemRequest(t, actor, `{}`, "k1")
	rk := "idem:" + actor.ID.String() + ":k1"
	pending := marshalStored(t, storedResponse{Fingerprint: fingerprint(req, []byte(`{}`)), Pending: true})

	mock.ExpectSetNX(rk, pending, idemTTL).SetVal(false)
	mock.ExpectGet(rk).SetVal(pending)

	calls := 0
	rec := httptest.NewRecorder()
	Idempotency(rdb, idemTTL, nil)(countingHandler(http.StatusCreated, `{}`, &calls)).ServeHTTP(rec, req)

	assert.Equal(t, 0, calls)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotency_ServerErrorReleasesKey(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	actor := models.Actor{ID: uuid.New(), Role: models.RoleBuyer}
	req := idemRequest(t, actor, `{}`, "k1")
	rk := "idem:" + actor.ID.String() + ":k1"
	pending := marshalStored(t, storedResponse{Fingerprint: fingerprint(req, []byte(`{}`)), Pending: true})

	mock.ExpectSetNX(rk, pending, idemTTL).SetVal(true)
	mock.ExpectDel(rk).SetVal(1)

	calls := 0
	rec := httptest.NewRecorder()
	Idempotency(rdb, idemTTL, nil)(countingHandler(http.StatusServiceUnavailable, `{}`, &calls)).ServeHTTP(rec, req)

	assert.Equal(t, 1, calls)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotency_RedisDownPassesThrough(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	actor := models.Actor{ID: uuid.New(), Role: models.RoleBuyer}
	req := idemRequest(t, actor, `{}`, "k1")
	rk := "idem:" + actor.ID.String() + ":k1"
	pending := marshalStored(t, storedResponse{Fingerprint: fingerprint(req, []byte(`{}`)), Pending: true})
	mock.ExpectSetNX(rk, pending, idemTTL).SetErr(errors.New("connection refused"))

	calls := 0
	rec := httptest.NewRecorder()
	Idempotency(rdb, idemTTL, nil)(countingHandler(http.StatusCreated, `{}`, &calls)).ServeHTTP(rec, req)

	assert.Equal(t, 1, calls)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotency_SkipsWithoutKeyOrClient(t *testing.T) {
	calls := 0
	h := countingHandler(http.StatusOK, `{}`, &calls)

	rec := httptest.NewRecorder()
	Idempotency(nil, idemTTL, nil)(h).ServeHTTP(rec, idemRequest(t, models.Actor{ID: uuid.New()}, `{}`, "k1"))
	assert.Equal(t, http.StatusOK, rec.Code)

	rdb, mock := redismock.NewClientMock()
	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/withdrawals", strings.NewReader(`{}`))
	Idempotency(rdb, idemTTL, nil)(h).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, 2, calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotency_PanicReleasesKey(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	actor := models.Actor{ID: uuid.New(), Role: models.RoleBuyer}
	req := idemRequest(t, actor, `{}`, "k1")
	rk := "idem:" + actor.ID.String() + ":k1"
	pending := marshalStored(t, storedResponse{Fingerprint: fingerprint(req, []byte(`{}`)), Pending: true})

	mock.ExpectSetNX(rk, pending, idemTTL).SetVal(true)
	mock.ExpectDel(rk).SetVal(1)

	boom := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("settlement blew up") })
	rec := httptest.NewRecorder()
	chimw.Recoverer(Idempotency(rdb, idemTTL, nil)(boom)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ctxSpy records whether the context handed to Set and Del was already done.
type ctxSpy struct {
	redis.Cmdable
	mu   sync.Mutex
	errs map[string]error
}

func (c *ctxSpy) note(op string, ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs[op] = ctx.Err()
}

func (c *ctxSpy) Set(ctx context.Context, key string, value interface{}, exp time.Duration) *redis.StatusCmd {
	c.note("set", ctx)
	return c.Cmdable.Set(ctx, key, value, exp)
}

func (c *ctxSpy) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	c.note("del", ctx)
	return c.Cmdable.Del(ctx, keys...)
}

func TestIdempotency_StoresAfterClientDisconnect(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	spy := &ctxSpy{Cmdable: rdb, errs: map[string]error{}}
	actor := models.Actor{ID: uuid.New(), Role: models.RoleBuyer}
	body := `{"amount":"10.00"}`
	req := idemRequest(t, actor, body, "k1")
	ctx, cancel := context.WithCancel(req.Context())
	req = req.WithContext(ctx)
	rk := "idem:" + actor.ID.String() + ":k1"
	fp := fingerprint(req, []byte(body))

	mock.ExpectSetNX(rk, marshalStored(t, storedResponse{Fingerprint: fp, Pending: true}), idemTTL).SetVal(true)
	mock.ExpectSet(rk, marshalStored(t, storedResponse{
		Fingerprint: fp,
		Status:      http.StatusCreated,
		ContentType: "application/json",
		Body:        []byte(`{"id":"w1"}`),
	}), idemTTL).SetVal("OK")

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cancel()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"w1"}`))
	})
	rec := httptest.NewRecorder()
	Idempotency(spy, idemTTL, nil)(h).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	require.Contains(t, spy.errs, "set")
	assert.NoError(t, spy.errs["set"])
	assert.NotContains(t, spy.errs, "del")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotency_FailedStoreReleasesKey(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	spy := &ctxSpy{Cmdable: rdb, errs: map[string]error{}}
	actor := models.Actor{ID: uuid.New(), Role: models.RoleBuyer}
	req := idemRequest(t, actor, `{}`, "k1")
	ctx, cancel := context.WithCancel(req.Context())
	req = req.WithContext(ctx)
	rk := "idem:" + actor.ID.String() + ":k1"
	fp := fingerprint(req, []byte(`{}`))

	mock.ExpectSetNX(rk, marshalStored(t, storedResponse{Fingerprint: fp, Pending: true}), idemTTL).SetVal(true)
	mock.ExpectSet(rk, marshalStored(t, storedResponse{
		Fingerprint: fp,
		Status:      http.StatusOK,
		ContentType: "application/json",
		Body:        []byte(`{}`),
	}), idemTTL).SetErr(errors.New("i/o timeout"))
	mock.ExpectDel(rk).SetVal(1)

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cancel()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	})
	rec := httptest.NewRecorder()
	Idempotency(spy, idemTTL, nil)(h).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NoError(t, spy.errs["del"])
	assert.NoError(t, mock.ExpectationsWereMet())
}
