package websocket_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	gorillaWS "github.com/gorilla/websocket"
	"github.com/mautops/formflow-gin/internal/auth"
	"github.com/mautops/formflow-gin/internal/config"
	"github.com/mautops/formflow-gin/internal/form"
	"github.com/mautops/formflow-gin/internal/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupServer(t *testing.T) (*websocket.Hub, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := websocket.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	validator := auth.NewTokenValidator(config.AuthConfig{JWTSecret: "ws-secret"})
	router := gin.New()
	router.GET("/ws", websocket.WebSocketHandler(hub, validator, websocket.NewUpgrader(nil)))

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, userID string) *gorillaWS.Conn {
	t.Helper()
	token, err := auth.GenerateToken("ws-secret", "", form.Principal{ID: userID, Role: form.RoleOperator, Department: "IT"}, time.Hour)
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token
	conn, _, err := gorillaWS.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWebSocketHandler_MissingToken(t *testing.T) {
	_, srv := setupServer(t)

	resp, err := http.Get(srv.URL + "/ws")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebSocketHandler_InvalidToken(t *testing.T) {
	_, srv := setupServer(t)

	resp, err := http.Get(srv.URL + "/ws?token=bad")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHub_NotifyTransition(t *testing.T) {
	hub, srv := setupServer(t)

	owner := dial(t, srv, "op-1")
	other := dial(t, srv, "op-2")
	require.Eventually(t, func() bool { return hub.GetClientCount() == 2 }, 2*time.Second, 10*time.Millisecond)

	rec := &form.Record{ID: "f-1", Status: form.StatusSubmitted, SubmittedBy: "op-1", UpdatedAt: time.Unix(100, 0).UTC()}
	hub.NotifyTransition(rec, form.ActionSubmit, "op-1")

	require.NoError(t, owner.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := owner.ReadMessage()
	require.NoError(t, err)

	var ev websocket.Event
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, websocket.EventFormTransition, ev.Type)
	assert.Equal(t, "f-1", ev.FormID)
	assert.Equal(t, form.StatusSubmitted, ev.Status)
	assert.Equal(t, form.ActionSubmit, ev.Action)

	// 其他用户收不到
	require.NoError(t, other.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err = other.ReadMessage()
	assert.Error(t, err)
}

func TestHub_NotifyTransition_NoSubmitter(t *testing.T) {
	hub := websocket.NewHub()
	hub.NotifyTransition(nil, form.ActionSubmit, "x")
	hub.NotifyTransition(&form.Record{ID: "f"}, form.ActionSubmit, "x")
	assert.Equal(t, 0, hub.GetClientCount())
}

func TestNewUpgrader_CheckOrigin(t *testing.T) {
	up := websocket.NewUpgrader([]string{"https://app.example.com"})

	req := httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("Origin", "https://app.example.com")
	assert.True(t, up.CheckOrigin(req))

	req.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, up.CheckOrigin(req))

	assert.True(t, websocket.NewUpgrader([]string{"*"}).CheckOrigin(req))
}

func TestHub_EventsAreSeparateFrames(t *testing.T) {
	hub, srv := setupServer(t)
	conn := dial(t, srv, "op-1")
	require.Eventually(t, func() bool { return hub.GetClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	rec := &form.Record{ID: "f-1", Status: form.StatusSubmitted, SubmittedBy: "op-1"}
	hub.NotifyTransition(rec, form.ActionSubmit, "op-1")
	rec.Status = form.StatusApproved
	hub.NotifyTransition(rec, form.ActionSupervisorApprove, "sup-1")

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var statuses []form.Status
	for i := 0; i < 2; i++ {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var ev websocket.Event
		require.NoError(t, json.Unmarshal(data, &ev))
		statuses = append(statuses, ev.Status)
	}
	assert.Equal(t, []form.Status{form.StatusSubmitted, form.StatusApproved}, statuses)
}

func TestHub_StopClosesClients(t *testing.T) {
	hub := websocket.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	client := websocket.NewClient("c-1", "op-1", hub, nil)
	require.True(t, hub.Register(client))
	require.Eventually(t, func() bool { return hub.GetClientCount() == 1 }, time.Second, 10*time.Millisecond)

	cancel()
	<-stopped
	assert.Equal(t, 0, hub.GetClientCount())
	_, open := <-client.Send
	assert.False(t, open)

	// 停止后注册和注销都不会阻塞
	assert.False(t, hub.Register(websocket.NewClient("c-2", "op-2", hub, nil)))
	hub.Unregister(client)
}
