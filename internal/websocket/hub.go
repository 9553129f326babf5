package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/mautops/formflow-gin/internal/form"
	"github.com/sirupsen/logrus"
)

// EventFormTransition 表单流转事件类型
const EventFormTransition = "form.transition"

// Event 推送给客户端的事件
type Event struct {
	Type      string      `json:"type"`
	FormID    string      `json:"form_id"`
	Status    form.Status `json:"status"`
	Action    form.Action `json:"action"`
	Actor     string      `json:"actor"`
	Timestamp time.Time   `json:"timestamp"`
}

// Hub 管理所有 WebSocket 连接,按用户投递表单事件
type Hub struct {
	// 已注册的客户端
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client

	// done 在 Run 退出后关闭
	done chan struct{}

	// 互斥锁，保护 clients map
	mu sync.RWMutex
}

// NewHub 创建新的 Hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run 运行 Hub,直到 ctx 结束
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				h.remove(client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()
		}
	}
}

// Register 注册客户端,Hub 已停止时返回 false
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister 注销客户端
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// BroadcastToUser 向特定用户广播消息
func (h *Hub) BroadcastToUser(userID string, message []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		if client.UserID == userID {
			h.send(client, message)
		}
	}
}

// NotifyTransition 向表单提交人推送一次已接受的流转
func (h *Hub) NotifyTransition(rec *form.Record, action form.Action, actor string) {
	if rec == nil || rec.SubmittedBy == "" {
		return
	}
	msg, err := json.Marshal(Event{
		Type:      EventFormTransition,
		FormID:    rec.ID,
		Status:    rec.Status,
		Action:    action,
		Actor:     actor,
		Timestamp: rec.UpdatedAt,
	})
	if err != nil {
		logrus.WithError(err).WithField("form_id", rec.ID).Warn("failed to encode websocket event")
		return
	}
	h.BroadcastToUser(rec.SubmittedBy, msg)
}

// send 发送缓冲区满的客户端直接断开,调用方持有写锁
func (h *Hub) send(client *Client, message []byte) {
	select {
	case client.Send <- message:
	default:
		h.remove(client)
	}
}

func (h *Hub) remove(client *Client) {
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.Send)
	}
}

// GetClientCount 获取客户端数量
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients)
}
