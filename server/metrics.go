package server

import (
	"sync/atomic"
)

// Metrics 记录会话运行期的关键指标（用于监控与调试）
type Metrics struct {
	Tick           int64 // 当前广播计数
	TickCount      int64 // 实际发送的广播次数
	TicksSkipped   int64 // 因无脏玩家而跳过的次数
	BytesBroadcast int64 // 广播负载字节数（未乘以接收者数量）
	Updates        int64 // 接受的二进制位置上报
	LegacyTicks    int64 // 接受的 JSON tick 上报
	ProtocolErrors int64 // 无法识别的帧
	SendDropped    int64 // 因发送队列满被丢弃的消息
	Connections    int64
	Disconnections int64
	Players        int64
	TotalTickNs    int64 // 广播累计耗时（纳秒）
}

func (m *Metrics) IncSkipped()        { atomic.AddInt64(&m.TicksSkipped, 1) }
func (m *Metrics) IncUpdates()        { atomic.AddInt64(&m.Updates, 1) }
func (m *Metrics) IncLegacyTicks()    { atomic.AddInt64(&m.LegacyTicks, 1) }
func (m *Metrics) IncProtocolErrors() { atomic.AddInt64(&m.ProtocolErrors, 1) }
func (m *Metrics) IncDropped()        { atomic.AddInt64(&m.SendDropped, 1) }
func (m *Metrics) IncConnections()    { atomic.AddInt64(&m.Connections, 1) }
func (m *Metrics) IncDisconnections() { atomic.AddInt64(&m.Disconnections, 1) }
func (m *Metrics) SetPlayers(n int)   { atomic.StoreInt64(&m.Players, int64(n)) }

func (m *Metrics) AddTick(tick uint64, bytes int, ns int64) {
	atomic.StoreInt64(&m.Tick, int64(tick))
	atomic.AddInt64(&m.TickCount, 1)
	atomic.AddInt64(&m.BytesBroadcast, int64(bytes))
	atomic.AddInt64(&m.TotalTickNs, ns)
}

// Snapshot 返回只读副本，便于 HTTP 输出
func (m *Metrics) Snapshot() map[string]any {
	tick := atomic.LoadInt64(&m.TickCount)
	total := atomic.LoadInt64(&m.TotalTickNs)
	var avgMs float64
	if tick > 0 {
		avgMs = float64(total) / float64(tick) / 1e6
	}
	return map[string]any{
		"tick":            atomic.LoadInt64(&m.Tick),
		"tick_count":      tick,
		"ticks_skipped":   atomic.LoadInt64(&m.TicksSkipped),
		"bytes_broadcast": atomic.LoadInt64(&m.BytesBroadcast),
		"updates":         atomic.LoadInt64(&m.Updates),
		"legacy_ticks":    atomic.LoadInt64(&m.LegacyTicks),
		"protocol_errors": atomic.LoadInt64(&m.ProtocolErrors),
		"send_dropped":    atomic.LoadInt64(&m.SendDropped),
		"connections":     atomic.LoadInt64(&m.Connections),
		"disconnections":  atomic.LoadInt64(&m.Disconnections),
		"players":         atomic.LoadInt64(&m.Players),
		"avg_tick_ms":     avgMs,
	}
}
