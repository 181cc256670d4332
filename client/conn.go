package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const writeWait = 5 * time.Second

// Conn 到服务端的 WebSocket 连接，实现 Transport。gorilla 要求同一时刻只有一个写者。
type Conn struct {
	ws  *websocket.Conn
	log *zap.SugaredLogger

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// Dial 连接 ws://host/ws
func Dial(ctx context.Context, url string, log *zap.SugaredLogger) (*Conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", url, err)
	}
	return &Conn{ws: ws, log: log}, nil
}

func (c *Conn) SendText(b []byte) error   { return c.write(websocket.TextMessage, b) }
func (c *Conn) SendBinary(b []byte) error { return c.write(websocket.BinaryMessage, b) }

func (c *Conn) write(kind int, b []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(kind, b)
}

// Close 发送关闭帧并关闭底层连接，可重复调用
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		err = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		c.writeMu.Unlock()
		err = multierr.Append(err, c.ws.Close())
	})
	return err
}

// Serve 读循环：把帧交给同步层。协议失步只记录；不变量被破坏时关闭连接并返回错误。
func (c *Conn) Serve(ctx context.Context, cl *Client) error {
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	for {
		kind, payload, err := c.ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("client: read: %w", err)
		}

		switch kind {
		case websocket.BinaryMessage:
			err = cl.HandleBinary(payload)
		case websocket.TextMessage:
			err = cl.HandleText(payload)
		default:
			continue
		}
		if errors.Is(err, ErrInvariant) {
			return multierr.Append(err, c.Close())
		}
		if err != nil {
			c.log.Warnw("discarding message from server", "err", err)
		}
	}
}
