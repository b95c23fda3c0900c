package sink

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/haolipeng/traffic_visor/pkg/stream"
	"github.com/haolipeng/traffic_visor/pkg/types"
	jsoniter "github.com/json-iterator/go"
	"golang.org/x/net/websocket"
)

const defaultWriteTimeout = 5 * time.Second

// JSONCodec 使用jsoniter编解码的websocket文本帧
var JSONCodec = websocket.Codec{
	Marshal: func(v interface{}) ([]byte, byte, error) {
		data, err := jsoniter.Marshal(v)
		return data, websocket.TextFrame, err
	},
	Unmarshal: func(data []byte, payloadType byte, v interface{}) error {
		return jsoniter.Unmarshal(data, v)
	},
}

// WebSocketTransport 通过websocket连接发送批次
// 后台读取客户端消息以便及时发现连接关闭
type WebSocketTransport struct {
	conn      *websocket.Conn
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex
}

func NewWebSocketTransport(conn *websocket.Conn) *WebSocketTransport {
	t := &WebSocketTransport{
		conn: conn,
		done: make(chan struct{}),
	}
	go t.drain()
	return t
}

// drain 丢弃客户端发来的消息，读取失败说明连接已关闭
func (t *WebSocketTransport) drain() {
	var msg []byte
	for {
		if err := websocket.Message.Receive(t.conn, &msg); err != nil {
			t.markClosed()
			return
		}
	}
}

func (t *WebSocketTransport) markClosed() {
	t.closeOnce.Do(func() { close(t.done) })
}

// Done 连接关闭后返回的channel被关闭
func (t *WebSocketTransport) Done() <-chan struct{} {
	return t.done
}

func (t *WebSocketTransport) Send(ctx context.Context, batch stream.Batch) error {
	select {
	case <-t.done:
		return types.ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	deadline := time.Now().Add(defaultWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		t.markClosed()
		return fmt.Errorf("%w: %v", types.ErrTransportClosed, err)
	}

	if err := JSONCodec.Send(t.conn, batch); err != nil {
		t.markClosed()
		return fmt.Errorf("%w: %v", types.ErrTransportClosed, err)
	}
	return nil
}

func (t *WebSocketTransport) Close() error {
	t.markClosed()
	return t.conn.Close()
}
