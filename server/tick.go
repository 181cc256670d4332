package server

import (
	"time"

	"tilesync/protocol"
)

// startTicker 注册表 0 -> 1 时启动广播定时器
func (s *Session) startTicker() {
	if s.ticker != nil {
		return
	}
	s.ticker = time.NewTicker(s.interval)
	s.log.Debugw("broadcast ticker started", "interval", s.interval)
}

// stopTicker 注册表 1 -> 0 时停止，避免空转
func (s *Session) stopTicker() {
	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	s.ticker = nil
	s.log.Debug("broadcast ticker stopped")
}

// TickerRunning 广播定时器是否在运行（仅供会话协程与测试使用）
func (s *Session) TickerRunning() bool { return s.ticker != nil }

// broadcastTick 把自上次广播以来有位置变化的玩家打包成一条 broadcast-tick，
// 同一份数据发给所有连接；没有变化时什么也不发，计数器也不前进。
func (s *Session) broadcastTick() {
	start := time.Now()
	dirty := s.registry.Dirty(s.tick)
	if len(dirty) == 0 {
		s.metrics.IncSkipped()
		return
	}

	entries := make([]protocol.TickEntry, 0, len(dirty))
	for _, p := range dirty {
		entries = append(entries, protocol.TickEntry{Generation: p.Generation, X: p.X, Y: p.Y})
	}
	b, err := protocol.EncodeBroadcastTick(s.writer, entries)
	if err != nil {
		s.log.Errorw("encode broadcast-tick", "tick", s.tick, "err", err)
		return
	}
	for _, p := range s.registry.All() {
		s.deliver(p, p.Conn.SendBinary(b))
	}

	s.tick++
	s.metrics.AddTick(s.tick, len(b), time.Since(start).Nanoseconds())
}
