package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/edgeloop/itemd/internal/testutil"
	"github.com/edgeloop/itemd/pkg/item"
	"github.com/edgeloop/itemd/pkg/store/memory"
)

func newTestServer(t *testing.T) (*Server, *memory.Store) {
	t.Helper()
	st := memory.New(nil)
	return NewServer(st, "test", zaptest.NewLogger(t)), st
}

func doJSON(t *testing.T, h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	return out
}

func TestCreateItem(t *testing.T) {
	srv, _ := newTestServer(t)

	rr := doJSON(t, srv.Handler(), http.MethodPost, "/items", map[string]any{
		"name":  "widget",
		"price": 9.99,
		"color": "red",
	})
	require.Equal(t, http.StatusCreated, rr.Code)

	body := decodeBody(t, rr)
	assert.Equal(t, "Item created successfully", body["message"])
	assert.Equal(t, "test", body["environment"])

	created, ok := body["item"].(map[string]any)
	require.True(t, ok)
	assert.NotEmpty(t, created["id"])
	assert.Equal(t, "widget", created["name"])
	assert.Equal(t, 9.99, created["price"])
	assert.Equal(t, "red", created["color"])
	assert.Equal(t, created["createdAt"], created["updatedAt"])
}

func TestCreateItemValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		name    string
		body    []byte
		message string
	}{
		{"empty body", nil, "Request body is required"},
		{"empty object", []byte(`{}`), "Request body is required"},
		{"malformed json", []byte(`{"name":`), "Invalid JSON in request body"},
		{"missing name", []byte(`{"price": 1}`), "Missing required field: name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/items", bytes.NewReader(tt.body))
			rr := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rr, req)

			require.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Equal(t, tt.message, decodeBody(t, rr)["message"])
		})
	}
}

func TestCreateItemIgnoresClientID(t *testing.T) {
	srv, _ := newTestServer(t)

	rr := doJSON(t, srv.Handler(), http.MethodPost, "/items", map[string]any{
		"id":   "client-chosen",
		"name": "widget",
	})
	require.Equal(t, http.StatusCreated, rr.Code)

	created := decodeBody(t, rr)["item"].(map[string]any)
	assert.NotEqual(t, "client-chosen", created["id"])
}

func TestGetItem(t *testing.T) {
	srv, _ := newTestServer(t)

	rr := doJSON(t, srv.Handler(), http.MethodPost, "/items", map[string]any{
		"name":  "widget",
		"price": 9.99,
		"color": "red",
	})
	require.Equal(t, http.StatusCreated, rr.Code)
	created := decodeBody(t, rr)["item"].(map[string]any)
	id := created["id"].(string)

	rr = doJSON(t, srv.Handler(), http.MethodGet, "/items/"+id, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	body := decodeBody(t, rr)
	// the stored record round-trips whole, not just by id
	assert.Equal(t, created, body["item"])
	assert.Equal(t, "test", body["environment"])
}

func TestGetItemNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	rr := doJSON(t, srv.Handler(), http.MethodGet, "/items/nope", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "Item not found", decodeBody(t, rr)["message"])
}

func TestListItems(t *testing.T) {
	srv, _ := newTestServer(t)

	for i := 0; i < 3; i++ {
		rr := doJSON(t, srv.Handler(), http.MethodPost, "/items", map[string]any{
			"name": fmt.Sprintf("widget-%d", i),
		})
		require.Equal(t, http.StatusCreated, rr.Code)
	}

	rr := doJSON(t, srv.Handler(), http.MethodGet, "/items", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	body := decodeBody(t, rr)
	assert.Len(t, body["items"], 3)
	assert.Equal(t, "test", body["environment"])
}

func TestListItemsEmpty(t *testing.T) {
	srv, _ := newTestServer(t)

	rr := doJSON(t, srv.Handler(), http.MethodGet, "/items", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decodeBody(t, rr)["items"], 0)
}

func TestUpdateItem(t *testing.T) {
	srv, _ := newTestServer(t)

	rr := doJSON(t, srv.Handler(), http.MethodPost, "/items", map[string]any{
		"name":        "widget",
		"description": "original",
		"color":       "red",
	})
	require.Equal(t, http.StatusCreated, rr.Code)
	created := decodeBody(t, rr)["item"].(map[string]any)
	id := created["id"].(string)

	rr = doJSON(t, srv.Handler(), http.MethodPut, "/items/"+id, map[string]any{
		"description": "updated",
	})
	require.Equal(t, http.StatusOK, rr.Code)

	body := decodeBody(t, rr)
	assert.Equal(t, "Item updated successfully", body["message"])

	updated := body["item"].(map[string]any)
	assert.Equal(t, "updated", updated["description"])
	// fields absent from the payload survive the update
	assert.Equal(t, "widget", updated["name"])
	assert.Equal(t, "red", updated["color"])
	assert.Equal(t, created["createdAt"], updated["createdAt"])
	assert.Equal(t, id, updated["id"])
}

func TestUpdateItemIDImmutable(t *testing.T) {
	srv, _ := newTestServer(t)

	rr := doJSON(t, srv.Handler(), http.MethodPost, "/items", map[string]any{"name": "widget"})
	require.Equal(t, http.StatusCreated, rr.Code)
	id := decodeBody(t, rr)["item"].(map[string]any)["id"].(string)

	rr = doJSON(t, srv.Handler(), http.MethodPut, "/items/"+id, map[string]any{
		"id":   "hijacked",
		"name": "renamed",
	})
	require.Equal(t, http.StatusOK, rr.Code)
	updated := decodeBody(t, rr)["item"].(map[string]any)
	assert.Equal(t, id, updated["id"])
	assert.Equal(t, "renamed", updated["name"])

	// the old id still resolves, the attempted one never existed
	rr = doJSON(t, srv.Handler(), http.MethodGet, "/items/hijacked", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestUpdateItemRejectsEmptyName(t *testing.T) {
	srv, _ := newTestServer(t)

	rr := doJSON(t, srv.Handler(), http.MethodPost, "/items", map[string]any{"name": "widget"})
	require.Equal(t, http.StatusCreated, rr.Code)
	id := decodeBody(t, rr)["item"].(map[string]any)["id"].(string)

	for _, body := range []string{`{"name": null}`, `{"name": ""}`, `{"name": 42}`} {
		t.Run(body, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPut, "/items/"+id, bytes.NewReader([]byte(body)))
			rr := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rr, req)

			require.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Equal(t, "Missing required field: name", decodeBody(t, rr)["message"])
		})
	}

	// the rejected updates left the record alone
	rr = doJSON(t, srv.Handler(), http.MethodGet, "/items/"+id, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "widget", decodeBody(t, rr)["item"].(map[string]any)["name"])
}

func TestItemRoutesRejectMissingID(t *testing.T) {
	srv, _ := newTestServer(t)

	// "/items/" has an empty id segment, which the method patterns never match
	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete} {
		t.Run(method, func(t *testing.T) {
			req := httptest.NewRequest(method, "/items/", bytes.NewReader([]byte(`{"name":"x"}`)))
			rr := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rr, req)
			assert.Equal(t, http.StatusNotFound, rr.Code)
		})
	}
}

func TestUpdateItemNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	rr := doJSON(t, srv.Handler(), http.MethodPut, "/items/nope", map[string]any{"name": "x"})
	require.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "Item not found", decodeBody(t, rr)["message"])
}

func TestUpdateItemEmptyBody(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPut, "/items/some-id", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Request body is required", decodeBody(t, rr)["message"])
}

func TestDeleteItem(t *testing.T) {
	srv, _ := newTestServer(t)

	rr := doJSON(t, srv.Handler(), http.MethodPost, "/items", map[string]any{"name": "widget"})
	require.Equal(t, http.StatusCreated, rr.Code)
	id := decodeBody(t, rr)["item"].(map[string]any)["id"].(string)

	rr = doJSON(t, srv.Handler(), http.MethodDelete, "/items/"+id, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	body := decodeBody(t, rr)
	assert.Equal(t, "Item deleted successfully", body["message"])
	// response carries the deleted snapshot
	assert.Equal(t, id, body["item"].(map[string]any)["id"])

	rr = doJSON(t, srv.Handler(), http.MethodGet, "/items/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestDeleteItemNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	rr := doJSON(t, srv.Handler(), http.MethodDelete, "/items/nope", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "Item not found", decodeBody(t, rr)["message"])
}

func TestCreateItemFixtures(t *testing.T) {
	srv, _ := newTestServer(t)

	payloads, err := testutil.LoadJSON("item_payloads.json")
	require.NoError(t, err)

	for name, payload := range payloads {
		t.Run(name, func(t *testing.T) {
			rr := doJSON(t, srv.Handler(), http.MethodPost, "/items", payload)
			require.Equal(t, http.StatusCreated, rr.Code)

			created := decodeBody(t, rr)["item"].(map[string]any)
			for field, want := range payload.(map[string]any) {
				assert.Equal(t, want, created[field], "field %s", field)
			}
		})
	}
}

func TestUpdateBumpsUpdatedAt(t *testing.T) {
	st := memory.New(nil)
	srv := NewServer(st, "test", zaptest.NewLogger(t))

	created, err := time.Parse(time.RFC3339, "2024-01-01T00:00:00Z")
	require.NoError(t, err)
	it := item.New(item.Item{"name": "widget"}, created)
	require.NoError(t, st.Create(context.Background(), it))

	rr := doJSON(t, srv.Handler(), http.MethodPut, "/items/"+it.ID(), map[string]any{
		"name": "renamed",
	})
	require.Equal(t, http.StatusOK, rr.Code)

	updated := decodeBody(t, rr)["item"].(map[string]any)
	assert.Greater(t, updated["updatedAt"], updated["createdAt"].(string))
}
