package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/girderhq/girder/internal/shared"
)

type fakeIdempotencyStore struct {
	keys map[string]bool
}

func newFakeIdempotencyStore() *fakeIdempotencyStore {
	return &fakeIdempotencyStore{keys: map[string]bool{}}
}

func (s *fakeIdempotencyStore) CheckAndInsert(_ context.Context, key, _ string) error {
	if s.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	s.keys[key] = true
	return nil
}

func (s *fakeIdempotencyStore) Delete(_ context.Context, key string) error {
	delete(s.keys, key)
	return nil
}

func keyedRequest(method, target, key string, companyID int64) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	return req.WithContext(shared.ContextWithCompany(req.Context(), companyID))
}

func TestIdempotencyMiddlewareRejectsReplay(t *testing.T) {
	store := newFakeIdempotencyStore()
	handler := idempotencyMiddleware(store)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, keyedRequest(http.MethodPost, "/api/v1/ap/payments", "pay-42", 1))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, keyedRequest(http.MethodPost, "/api/v1/ap/payments", "pay-42", 1))
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestIdempotencyMiddlewareScopesKeysByCompany(t *testing.T) {
	store := newFakeIdempotencyStore()
	handler := idempotencyMiddleware(store)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, keyedRequest(http.MethodPost, "/api/v1/ap/payments", "pay-42", 1))
	require.Equal(t, http.StatusCreated, rec.Code)

	// The same key under another tenant is a fresh request.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, keyedRequest(http.MethodPost, "/api/v1/ap/payments", "pay-42", 2))
	require.Equal(t, http.StatusCreated, rec.Code)
}

func TestIdempotencyMiddlewareReleasesKeyOnServerError(t *testing.T) {
	store := newFakeIdempotencyStore()
	fail := true
	handler := idempotencyMiddleware(store)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, keyedRequest(http.MethodPost, "/api/v1/journal-entries", "je-7", 1))
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	// A failed attempt releases the key so the client may retry.
	fail = false
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, keyedRequest(http.MethodPost, "/api/v1/journal-entries", "je-7", 1))
	require.Equal(t, http.StatusCreated, rec.Code)
}

func TestIdempotencyMiddlewareIgnoresReads(t *testing.T) {
	store := newFakeIdempotencyStore()
	handler := idempotencyMiddleware(store)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for range 2 {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, keyedRequest(http.MethodGet, "/api/v1/ap/bills", "list-1", 1))
		require.Equal(t, http.StatusOK, rec.Code)
	}
	require.Empty(t, store.keys)
}
