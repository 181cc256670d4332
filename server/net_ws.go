package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"tilesync/protocol"
)

var (
	// ErrSendQueueFull 发送队列已满，消息被丢弃
	ErrSendQueueFull = errors.New("server: send queue full")
	// ErrConnClosed 连接已关闭
	ErrConnClosed = errors.New("server: connection closed")
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 25 * time.Second
	maxMessage = 1 << 16
)

type frame struct {
	kind int // websocket.TextMessage / websocket.BinaryMessage
	data []byte
}

// ClientConn 负责发送（写）数据到客户端的轻量包装。
// SendText/SendBinary/Close 只在会话协程中调用。
type ClientConn struct {
	ws     *websocket.Conn
	send   chan frame
	closed bool
}

func NewClientConn(ws *websocket.Conn, queue int) *ClientConn {
	return &ClientConn{
		ws:   ws,
		send: make(chan frame, queue),
	}
}

func (c *ClientConn) SendText(b []byte) error   { return c.enqueue(frame{websocket.TextMessage, b}) }
func (c *ClientConn) SendBinary(b []byte) error { return c.enqueue(frame{websocket.BinaryMessage, b}) }

// enqueue 非阻塞，满则丢弃（防止阻塞 Tick）
func (c *ClientConn) enqueue(f frame) error {
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close 关闭发送队列，写协程写完剩余消息后关闭底层连接
func (c *ClientConn) Close() error {
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	return nil
}

// writePump 独立协程，负责从 send 队列写出到 WS，并定期发送 ping
func (c *ClientConn) writePump(s *Session, gen protocol.Generation) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case f, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.ws.WriteMessage(f.kind, f.data); err != nil {
				// 关闭连接后读泵退出，由会话按断开处理
				s.log.Debugw("write failed", "generation", gen, "err", err)
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump 读取客户端消息，解码后投递到会话
func (c *ClientConn) readPump(s *Session, gen protocol.Generation) {
	defer c.ws.Close()
	// 读泵退出时，通知会话在其协程中移除该玩家
	defer s.post(leaveEvent{generation: gen})
	c.ws.SetReadLimit(maxMessage)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error { return c.ws.SetReadDeadline(time.Now().Add(pongWait)) })

	for {
		kind, payload, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Infow("read failed", "generation", gen, "err", err)
			}
			return
		}
		var ev event
		switch kind {
		case websocket.BinaryMessage:
			ev = s.decodeBinary(gen, payload)
		case websocket.TextMessage:
			ev = s.decodeText(gen, payload)
		}
		if ev != nil && !s.post(ev) {
			return
		}
	}
}

// decodeBinary 未知标签或残缺负载只记录，不断开连接
func (s *Session) decodeBinary(gen protocol.Generation, payload []byte) event {
	r := protocol.NewReader(payload)
	tag, err := r.ReadTag()
	if err != nil {
		s.metrics.IncProtocolErrors()
		s.log.Warnw("protocol desync: bad binary tag", "generation", gen, "err", err)
		return nil
	}
	switch tag {
	case protocol.TagPlayerUpdate:
		u, err := protocol.ReadPlayerUpdate(r)
		if err != nil {
			s.metrics.IncProtocolErrors()
			s.log.Warnw("malformed player-update", "generation", gen, "err", err)
			return nil
		}
		return updateEvent{generation: gen, update: u}
	default:
		s.metrics.IncProtocolErrors()
		s.log.Warnw("unexpected binary message from client", "generation", gen, "tag", tag)
		return nil
	}
}

func (s *Session) decodeText(gen protocol.Generation, payload []byte) event {
	msg, err := protocol.DecodeControl(payload)
	if err != nil {
		s.metrics.IncProtocolErrors()
		s.log.Warnw("discarding malformed control message", "generation", gen, "err", err)
		return nil
	}
	switch m := msg.(type) {
	case protocol.HelloBack:
		return helloBackEvent{generation: gen, characterIndex: m.CharacterIndex}
	case protocol.Tick:
		return legacyTickEvent{generation: gen, tick: m}
	default:
		s.metrics.IncProtocolErrors()
		s.log.Warnw("unexpected control message from client", "generation", gen, "type", msg.ControlType())
		return nil
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// 演示环境：允许所有来源（生产环境需严格限制）
		return true
	},
}

// HandleWS WebSocket 接入：每个连接分配新的 generation
func (s *Session) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnw("upgrade error", "err", err)
		return
	}

	client := NewClientConn(ws, s.sendQueue)
	gen, err := s.Join(r.Context(), client)
	if err != nil {
		s.log.Warnw("join failed", "err", err)
		_ = ws.Close()
		return
	}

	go client.writePump(s, gen)
	go client.readPump(s, gen)
}
