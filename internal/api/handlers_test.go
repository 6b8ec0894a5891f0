package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtrntr/tradechat/internal/auth"
	"github.com/xtrntr/tradechat/internal/memstore"
	"github.com/xtrntr/tradechat/internal/negotiation"
)

type testEnv struct {
	store  *memstore.Store
	router chi.Router
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := memstore.New()
	log := logs.GetLoggerFromLevel(slog.LevelError)
	h := NewHandler(
		negotiation.NewService(st, log),
		auth.NewAuthService(st, "test-secret", time.Hour),
		log,
	)
	h.PollInterval = time.Second
	return &testEnv{store: st, router: h.Routes()}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

// login registers username and returns its id and token
func (e *testEnv) login(t *testing.T, username string) (int64, string) {
	t.Helper()
	creds := map[string]string{"username": username, "password": "password123"}

	rr := e.do(t, http.MethodPost, "/auth/register", "", creds)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var user struct {
		ID int64 `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &user))

	rr = e.do(t, http.MethodPost, "/auth/login", "", creds)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return user.ID, resp.Token
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func TestHandler_Register(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name           string
		requestBody    map[string]any
		expectedStatus int
	}{
		{
			name:           "Success",
			requestBody:    map[string]any{"username": "testuser", "password": "testpass"},
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "DuplicateUsername",
			requestBody:    map[string]any{"username": "testuser", "password": "testpass"},
			expectedStatus: http.StatusConflict,
		},
		{
			name:           "MissingPassword",
			requestBody:    map[string]any{"username": "other"},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "WrongType",
			requestBody:    map[string]any{"username": 42, "password": "testpass"},
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, http.MethodPost, "/auth/register", "", tt.requestBody)
			assert.Equal(t, tt.expectedStatus, rr.Code, rr.Body.String())
		})
	}
}

func TestHandler_Login(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, "alice")

	tests := []struct {
		name           string
		requestBody    map[string]string
		expectedStatus int
	}{
		{name: "Success", requestBody: map[string]string{"username": "alice", "password": "password123"}, expectedStatus: http.StatusOK},
		{name: "WrongPassword", requestBody: map[string]string{"username": "alice", "password": "nope"}, expectedStatus: http.StatusUnauthorized},
		{name: "UnknownUser", requestBody: map[string]string{"username": "bob", "password": "password123"}, expectedStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, http.MethodPost, "/auth/login", "", tt.requestBody)
			assert.Equal(t, tt.expectedStatus, rr.Code, rr.Body.String())
		})
	}
}

func TestHandler_Unauthorized(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodGet, "/rooms", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	rr = env.do(t, http.MethodGet, "/rooms", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestHandler_Health(t *testing.T) {
	rr := newTestEnv(t).do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

// A buyer and a seller negotiate over HTTP until the room closes.
func TestHandler_Negotiation(t *testing.T) {
	env := newTestEnv(t)
	sellerID, sellerToken := env.login(t, "seller")
	_, buyerToken := env.login(t, "buyer")
	_, otherToken := env.login(t, "other")

	item, err := env.store.CreateItem(context.Background(), sellerID, "camera", 25000)
	require.NoError(t, err)
	itemPath := fmt.Sprintf("/items/%d", item.ID)

	type roomResp struct {
		Room *struct {
			ID int64 `json:"id"`
		} `json:"room"`
	}

	// Owner gets no room
	rr := env.do(t, http.MethodPost, itemPath+"/room", sellerToken, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Nil(t, decodeBody[roomResp](t, rr).Room)

	rr = env.do(t, http.MethodPost, "/items/9999/room", buyerToken, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr = env.do(t, http.MethodPost, "/items/abc/room", buyerToken, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodPost, itemPath+"/room", buyerToken, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	room := decodeBody[roomResp](t, rr).Room
	require.NotNil(t, room)
	rr = env.do(t, http.MethodPost, itemPath+"/room", buyerToken, nil)
	assert.Equal(t, room.ID, decodeBody[roomResp](t, rr).Room.ID)

	msgPath := fmt.Sprintf("/rooms/%d/messages", room.ID)

	rr = env.do(t, http.MethodPost, msgPath, buyerToken, map[string]string{"text": "200?"})
	assert.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	rr = env.do(t, http.MethodPost, msgPath, sellerToken, map[string]string{"text": "230"})
	assert.Equal(t, http.StatusCreated, rr.Code)
	rr = env.do(t, http.MethodPost, msgPath, buyerToken, map[string]string{"text": "  "})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr = env.do(t, http.MethodPost, msgPath, otherToken, map[string]string{"text": "me too"})
	assert.Equal(t, http.StatusForbidden, rr.Code)
	rr = env.do(t, http.MethodGet, msgPath, otherToken, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = env.do(t, http.MethodPost, itemPath+"/confirm-sale", sellerToken, nil)
	assert.Equal(t, http.StatusConflict, rr.Code)
	rr = env.do(t, http.MethodPost, itemPath+"/confirm-purchase", sellerToken, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	rr = env.do(t, http.MethodPost, itemPath+"/confirm-purchase", otherToken, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = env.do(t, http.MethodPost, itemPath+"/confirm-purchase", buyerToken, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "buyer_confirmed", decodeBody[map[string]any](t, rr)["state"])

	rr = env.do(t, http.MethodGet, msgPath, sellerToken, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	thread := decodeBody[negotiation.Thread](t, rr)
	assert.Len(t, thread.Messages, 2)
	assert.Equal(t, int64(1000), thread.PollIntervalMs)
	assert.Equal(t, negotiation.ActionConfirmSale, thread.View.Action)

	rr = env.do(t, http.MethodPost, itemPath+"/confirm-sale", buyerToken, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	for range 2 {
		rr = env.do(t, http.MethodPost, itemPath+"/confirm-sale", sellerToken, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "sold", decodeBody[map[string]any](t, rr)["state"])
	}

	rr = env.do(t, http.MethodPost, msgPath, buyerToken, map[string]string{"text": "thanks"})
	assert.Equal(t, http.StatusForbidden, rr.Code)
	rr = env.do(t, http.MethodGet, msgPath, buyerToken, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	thread = decodeBody[negotiation.Thread](t, rr)
	assert.Equal(t, negotiation.StateSold, thread.State)
	assert.Equal(t, negotiation.LabelCompleted, thread.View.Label)

	rr = env.do(t, http.MethodGet, "/ledger?kind=sale", sellerToken, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decodeBody[[]map[string]any](t, rr), 1)
	rr = env.do(t, http.MethodGet, "/ledger?kind=purchase", buyerToken, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decodeBody[[]map[string]any](t, rr), 1)
	rr = env.do(t, http.MethodGet, "/ledger?kind=sale", buyerToken, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, decodeBody[[]map[string]any](t, rr))
	rr = env.do(t, http.MethodGet, "/ledger?kind=bogus", buyerToken, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodGet, "/rooms", sellerToken, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	rooms := decodeBody[[]map[string]any](t, rr)
	require.Len(t, rooms, 1)
	assert.Equal(t, "230", rooms[0]["last_message"])

	reviewPath := itemPath + "/review"
	rr = env.do(t, http.MethodPost, reviewPath, sellerToken, map[string]any{"score": 5})
	assert.Equal(t, http.StatusForbidden, rr.Code)
	rr = env.do(t, http.MethodPost, reviewPath, otherToken, map[string]any{"score": 5})
	assert.Equal(t, http.StatusForbidden, rr.Code)
	rr = env.do(t, http.MethodPost, reviewPath, buyerToken, map[string]any{"score": 0})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr = env.do(t, http.MethodPost, reviewPath, buyerToken, map[string]any{"score": 5, "text": "as described"})
	assert.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	rr = env.do(t, http.MethodPost, reviewPath, buyerToken, map[string]any{"score": 4})
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = env.do(t, http.MethodGet, "/reviews", sellerToken, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	reviews := decodeBody[[]map[string]any](t, rr)
	require.Len(t, reviews, 1)
	assert.Equal(t, "as described", reviews[0]["text"])
	rr = env.do(t, http.MethodGet, "/reviews", buyerToken, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, decodeBody[[]map[string]any](t, rr))
}
