package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"planning-poker/internal/infra/persistence/memory"
	"planning-poker/internal/middleware"
	"planning-poker/internal/service"
	"planning-poker/internal/service/mocks"
)

type testServer struct {
	router   *gin.Engine
	notifier *mocks.Notifier
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memory.NewStore()
	notifier := new(mocks.Notifier).AllowAll()
	auth, err := service.NewAuthService("test-secret", 1)
	require.NoError(t, err)

	rooms := service.NewRoomService(store, notifier)
	session := service.NewSessionService(store, notifier)
	presence := service.NewPresenceService(store, notifier)

	r := gin.New()
	api := r.Group("/api/v1")
	api.POST("/auth/guest", NewAuthHandler(auth).Guest)
	secured := api.Group("")
	secured.Use(middleware.Auth(auth))
	NewRoomHandler(rooms, session, presence).RegisterRoutes(secured)

	return &testServer{router: r, notifier: notifier}
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
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
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) guest(t *testing.T, name string) string {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/v1/auth/guest", "", gin.H{"displayName": name})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp GuestLoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	assert.Equal(t, name, resp.User.DisplayName)
	return resp.Token
}

type membershipBody struct {
	Room *struct {
		Code  string   `json:"code"`
		Cards []string `json:"cards"`
	} `json:"room"`
	Participant struct {
		ParticipantID uint   `json:"participantId"`
		RoomCode      string `json:"roomCode"`
		IsOwner       bool   `json:"isOwner"`
	} `json:"participant"`
	Snapshot snapshotBody `json:"snapshot"`
}

type snapshotBody struct {
	Room struct {
		Code string `json:"code"`
	} `json:"room"`
	Participants []struct {
		ID       uint `json:"id"`
		IsOwner  bool `json:"isOwner"`
		IsOnline bool `json:"isOnline"`
	} `json:"participants"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func TestRoomLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)
	aliceTok := s.guest(t, "alice")
	bobTok := s.guest(t, "bob")

	w := s.do(t, http.MethodPost, "/api/v1/rooms", aliceTok, gin.H{"name": "Sprint 12", "deckType": "tshirt"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created membershipBody
	decode(t, w, &created)
	require.NotNil(t, created.Room)
	assert.Contains(t, created.Room.Cards, "XL")
	assert.True(t, created.Participant.IsOwner)
	code := created.Room.Code

	// 小写房间码同样可以加入
	w = s.do(t, http.MethodPost, "/api/v1/rooms/"+strings.ToLower(code)+"/join", bobTok, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var joined membershipBody
	decode(t, w, &joined)
	assert.False(t, joined.Participant.IsOwner)
	assert.Equal(t, code, joined.Participant.RoomCode)
	assert.Len(t, joined.Snapshot.Participants, 2)

	w = s.do(t, http.MethodGet, "/api/v1/rooms/"+code, bobTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var snap snapshotBody
	decode(t, w, &snap)
	assert.Equal(t, code, snap.Room.Code)

	// 非房主不能转让
	w = s.do(t, http.MethodPost, "/api/v1/rooms/"+code+"/transfer", bobTok, gin.H{"targetParticipantId": created.Participant.ParticipantID})
	assert.Equal(t, http.StatusForbidden, w.Code)

	// 房主有其他在场成员时必须指定接任者
	w = s.do(t, http.MethodPost, "/api/v1/rooms/"+code+"/leave", aliceTok, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/rooms/"+code+"/leave", aliceTok, gin.H{"transferTo": joined.Participant.ParticipantID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decode(t, w, &snap)
	require.Len(t, snap.Participants, 1)
	assert.Equal(t, joined.Participant.ParticipantID, snap.Participants[0].ID)
	assert.True(t, snap.Participants[0].IsOwner)

	w = s.do(t, http.MethodPost, "/api/v1/rooms/"+code+"/presence", bobTok, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	// 已离开的成员心跳返回 404
	w = s.do(t, http.MethodPost, "/api/v1/rooms/"+code+"/presence", aliceTok, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	assert.NotEmpty(t, s.notifier.Published())
}

func TestRoomErrorsOverHTTP(t *testing.T) {
	s := newTestServer(t)
	tok := s.guest(t, "alice")

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   interface{}
		status int
		code   string
	}{
		{"no token", http.MethodGet, "/api/v1/rooms/ABCDEF", "", nil, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"unknown room", http.MethodGet, "/api/v1/rooms/ZZZZZZ", tok, nil, http.StatusNotFound, "NOT_FOUND"},
		{"join unknown room", http.MethodPost, "/api/v1/rooms/ZZZZZZ/join", tok, nil, http.StatusNotFound, "NOT_FOUND"},
		{"bad deck", http.MethodPost, "/api/v1/rooms", tok, gin.H{"name": "x", "deckType": "tarot"}, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"missing name", http.MethodPost, "/api/v1/rooms", tok, gin.H{"deckType": "fibonacci"}, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"missing transfer target", http.MethodPost, "/api/v1/rooms/ZZZZZZ/transfer", tok, gin.H{}, http.StatusBadRequest, "INVALID_ARGUMENT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, tt.method, tt.path, tt.token, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			var body struct {
				Code string `json:"code"`
			}
			decode(t, w, &body)
			assert.Equal(t, tt.code, body.Code)
		})
	}
}

func TestGuestRequiresDisplayName(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodPost, "/api/v1/auth/guest", "", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, http.StatusConflict, StatusOf(service.CodeQuorumNotMet))
	assert.Equal(t, http.StatusServiceUnavailable, StatusOf(service.CodeResourceExhausted))
	assert.Equal(t, http.StatusInternalServerError, StatusOf(service.CodeInternal))
	assert.Equal(t, http.StatusInternalServerError, StatusOf("SOMETHING_ELSE"))
}
