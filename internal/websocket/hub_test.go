package websocket

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"testinbox/backend/internal/domain"
)

func setupHub(t *testing.T) (*Hub, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(nil, zap.NewNop(), nil)
	go hub.Run(ctx)

	router := gin.New()
	router.GET("/ws", HandleWebSocket(hub))
	server := httptest.NewServer(router)

	t.Cleanup(func() {
		cancel()
		server.Close()
	})

	return hub, "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHub_NotifyNewMail(t *testing.T) {
	hub, url := setupHub(t)

	conn := dial(t, url+"?address=Test-ABC@localhost.local")
	other := dial(t, url+"?address=someone-else@localhost.local")

	require.Eventually(t, func() bool {
		return hub.SubscriberCount("test-abc@localhost.local") == 1 && hub.ClientCount() == 2
	}, 2*time.Second, 10*time.Millisecond)

	hub.NotifyNewMail(&domain.Message{
		ID:         "msg-1",
		From:       "Sender <sender@example.com>",
		To:         "test-abc@LOCALHOST.local",
		Subject:    "Your code",
		ReceivedAt: time.Now().UTC(),
	}, &domain.Inbox{ID: "inbox-1", MessageCount: 1})

	msg := readMessage(t, conn)
	assert.Equal(t, MessageTypeNewMail, msg.Type)
	assert.Equal(t, "test-abc@localhost.local", msg.Address)

	var data NewMailData
	require.NoError(t, json.Unmarshal(msg.Data, &data))
	assert.Equal(t, "msg-1", data.MessageID)
	assert.Equal(t, "inbox-1", data.InboxID)
	assert.Equal(t, "Your code", data.Subject)
	assert.Equal(t, 1, data.MessageCount)

	// 未订阅该地址的连接收不到通知
	require.NoError(t, other.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	var none Message
	assert.Error(t, other.ReadJSON(&none))
}

func TestHub_SubscribeAndUnsubscribe(t *testing.T) {
	hub, url := setupHub(t)
	conn := dial(t, url)

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(Message{Type: MessageTypeSubscribe, Address: "Test-XYZ@localhost.local"}))
	ack := readMessage(t, conn)
	assert.Equal(t, MessageTypeSubscribed, ack.Type)
	assert.Equal(t, "test-xyz@localhost.local", ack.Address)
	assert.Equal(t, 1, hub.SubscriberCount("test-xyz@localhost.local"))

	require.NoError(t, conn.WriteJSON(Message{Type: MessageTypeSubscribe}))
	errMsg := readMessage(t, conn)
	assert.Equal(t, MessageTypeError, errMsg.Type)

	require.NoError(t, conn.WriteJSON(Message{Type: MessageTypeUnsubscribe, Address: "test-xyz@localhost.local"}))
	require.Eventually(t, func() bool {
		return hub.SubscriberCount("test-xyz@localhost.local") == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHub_UnregisterOnClose(t *testing.T) {
	hub, url := setupHub(t)
	conn := dial(t, url+"?address=test-abc@localhost.local")

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	conn.Close()
	require.Eventually(t, func() bool {
		return hub.ClientCount() == 0 && hub.SubscriberCount("test-abc@localhost.local") == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHub_NotifyWithoutRunDoesNotBlock(t *testing.T) {
	hub := NewHub(nil, zap.NewNop(), nil)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			hub.NotifyNewMail(&domain.Message{ID: "m", To: "a@b.c"}, nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("NotifyNewMail blocked")
	}
}
