package server

import (
	"context"
	"errors"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"tilesync/protocol"
)

// ErrSessionClosed 会话循环已退出
var ErrSessionClosed = errors.New("server: session closed")

// Options 会话参数
type Options struct {
	TickInterval time.Duration
	SendQueue    int
}

// Session 进程内唯一的同步会话：注册表、广播计数器与定时器都归它所有。
// 所有状态只在 Run 所在的协程中修改，连接的读协程通过 inbox 投递事件。
type Session struct {
	log     *zap.SugaredLogger
	metrics *Metrics

	interval  time.Duration
	sendQueue int

	registry *Registry
	writer   *protocol.Writer
	nextGen  protocol.Generation

	// tick 从 1 开始，新玩家的 tickGeneration 为 0，不会被误判为脏
	tick   uint64
	ticker *time.Ticker

	// 控制消息发不出去的连接，当前事件处理完后断开
	evicted  []protocol.Generation
	evicting bool

	inbox chan event
	done  chan struct{}
}

func NewSession(log *zap.SugaredLogger, opts Options) *Session {
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second / 60
	}
	if opts.SendQueue <= 0 {
		opts.SendQueue = 64
	}
	return &Session{
		log:       log,
		metrics:   &Metrics{},
		interval:  opts.TickInterval,
		sendQueue: opts.SendQueue,
		registry:  NewRegistry(),
		writer:    protocol.NewWriter(),
		tick:      1,
		inbox:     make(chan event, 256), // 足够缓冲，避免网络读阻塞影响 Tick
		done:      make(chan struct{}),
	}
}

// Metrics 运行指标，可在任意协程读取
func (s *Session) Metrics() *Metrics { return s.metrics }

// Run 会话主循环：处理入站事件与广播定时器，直到 ctx 取消
func (s *Session) Run(ctx context.Context) error {
	defer close(s.done)
	for {
		var tickC <-chan time.Time
		if s.ticker != nil {
			tickC = s.ticker.C
		}
		select {
		case <-ctx.Done():
			if err := s.shutdown(); err != nil {
				s.log.Warnw("errors closing connections", "err", err)
			}
			return ctx.Err()
		case ev := <-s.inbox:
			s.dispatch(ev)
		case <-tickC:
			s.broadcastTick()
		}
	}
}

// post 投递事件；会话已退出时返回 false
func (s *Session) post(ev event) bool {
	select {
	case s.inbox <- ev:
		return true
	case <-s.done:
		return false
	}
}

// Join 注册新连接并返回分配的 generation
func (s *Session) Join(ctx context.Context, conn Conn) (protocol.Generation, error) {
	reply := make(chan protocol.Generation, 1)
	if !s.post(joinEvent{conn: conn, reply: reply}) {
		return 0, ErrSessionClosed
	}
	select {
	case gen := <-reply:
		return gen, nil
	case <-s.done:
		return 0, ErrSessionClosed
	case <-ctx.Done():
		// 事件已投递，玩家迟早会被登记；登记后立即移除
		go func() {
			select {
			case gen := <-reply:
				s.post(leaveEvent{generation: gen})
			case <-s.done:
			}
		}()
		return 0, ctx.Err()
	}
}

// Players 读取当前所有玩家（含未握手的）
func (s *Session) Players(ctx context.Context) ([]protocol.OtherPlayer, error) {
	reply := make(chan []protocol.OtherPlayer, 1)
	if !s.post(rosterQuery{reply: reply}) {
		return nil, ErrSessionClosed
	}
	select {
	case out := <-reply:
		return out, nil
	case <-s.done:
		return nil, ErrSessionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Session) dispatch(ev event) {
	switch e := ev.(type) {
	case joinEvent:
		e.reply <- s.handleJoin(e.conn)
	case helloBackEvent:
		s.handleHelloBack(e.generation, e.characterIndex)
	case updateEvent:
		s.handleUpdate(e.generation, e.update)
	case legacyTickEvent:
		s.handleLegacyTick(e.generation, e.tick)
	case leaveEvent:
		s.handleLeave(e.generation)
	case rosterQuery:
		all := s.registry.All()
		out := make([]protocol.OtherPlayer, 0, len(all))
		for _, p := range all {
			out = append(out, p.Snapshot())
		}
		e.reply <- out
	}
}

// handleJoin 分配 generation，登记玩家并发送 hello（花名册不含自己）
func (s *Session) handleJoin(conn Conn) protocol.Generation {
	gen := s.nextGen
	s.nextGen++

	p := &Player{Generation: gen, Conn: conn}
	s.registry.Add(p)
	s.metrics.SetPlayers(s.registry.Len())
	s.metrics.IncConnections()

	s.sendControl(p, protocol.Hello{Generation: gen, Others: s.registry.Roster(gen)})
	if s.registry.Len() == 1 {
		s.startTicker()
	}
	s.log.Infow("player connected", "generation", gen, "players", s.registry.Len())
	s.flushEvicted()
	return gen
}

// handleHelloBack 记录角色并通知所有连接有新玩家加入
func (s *Session) handleHelloBack(gen protocol.Generation, characterIndex int) {
	p, ok := s.registry.Get(gen)
	if !ok {
		return
	}
	if p.handshaken {
		s.log.Warnw("duplicate hello-back ignored", "generation", gen)
		return
	}
	p.CharacterIndex = characterIndex
	p.handshaken = true

	joined := protocol.OtherJoined{Other: p.Snapshot()}
	for _, other := range s.registry.All() {
		s.sendControl(other, joined)
	}
	s.log.Infow("player handshake complete", "generation", gen, "characterIndex", characterIndex)
	s.flushEvicted()
}

// handleUpdate 覆盖位置，并标记为当前 tick 的脏玩家
func (s *Session) handleUpdate(gen protocol.Generation, u protocol.PlayerUpdate) {
	p, ok := s.registry.Get(gen)
	if !ok {
		return
	}
	p.X, p.Y = u.X, u.Y
	p.tickGeneration = s.tick
	s.metrics.IncUpdates()
}

// handleLegacyTick JSON 位置上报：只覆盖坐标，不标脏
func (s *Session) handleLegacyTick(gen protocol.Generation, t protocol.Tick) {
	p, ok := s.registry.Get(gen)
	if !ok {
		return
	}
	p.X, p.Y = t.X, t.Y
	s.metrics.IncLegacyTicks()
}

// handleLeave 移除玩家，通知剩余连接；注册表为空时停止广播
func (s *Session) handleLeave(gen protocol.Generation) {
	p := s.registry.Remove(gen)
	if p == nil {
		return
	}
	if err := p.Conn.Close(); err != nil {
		s.log.Debugw("close connection", "generation", gen, "err", err)
	}
	s.metrics.SetPlayers(s.registry.Len())
	s.metrics.IncDisconnections()

	// 未握手的玩家从未出现在他人的花名册里
	if p.handshaken {
		left := protocol.OtherLeft{Generation: gen}
		for _, other := range s.registry.All() {
			s.sendControl(other, left)
		}
	}
	if s.registry.Len() == 0 {
		s.stopTicker()
	}
	s.log.Infow("player disconnected", "generation", gen, "players", s.registry.Len())
	s.flushEvicted()
}

func (s *Session) sendControl(p *Player, msg protocol.ControlMessage) {
	b, err := protocol.EncodeControl(msg)
	if err != nil {
		s.log.Errorw("encode control message", "type", msg.ControlType(), "err", err)
		return
	}
	err = p.Conn.SendText(b)
	if errors.Is(err, ErrSendQueueFull) {
		// 丢掉控制消息会让客户端的花名册失步，只能断开
		s.metrics.IncDropped()
		s.log.Warnw("control message dropped, disconnecting", "generation", p.Generation, "type", msg.ControlType())
		s.evicted = append(s.evicted, p.Generation)
		return
	}
	s.deliver(p, err)
}

// flushEvicted 断开被标记的连接；断开时发出的 other-left 可能再标记新的连接
func (s *Session) flushEvicted() {
	if s.evicting {
		return
	}
	s.evicting = true
	defer func() { s.evicting = false }()
	for len(s.evicted) > 0 {
		gen := s.evicted[0]
		s.evicted = s.evicted[1:]
		s.handleLeave(gen)
	}
}

// deliver 发送失败不重试，只记录；广播帧在队列满时直接丢弃
func (s *Session) deliver(p *Player, err error) {
	switch {
	case err == nil:
	case errors.Is(err, ErrSendQueueFull):
		s.metrics.IncDropped()
	default:
		s.log.Debugw("send failed", "generation", p.Generation, "err", err)
	}
}

func (s *Session) shutdown() error {
	s.stopTicker()
	var err error
	for _, p := range s.registry.All() {
		s.registry.Remove(p.Generation)
		err = multierr.Append(err, p.Conn.Close())
	}
	s.metrics.SetPlayers(0)
	return err
}
