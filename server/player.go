package server

import "tilesync/protocol"

// Conn 会话向玩家发送消息所需的最小能力；由 ClientConn 实现，测试中可替换
type Conn interface {
	SendText(b []byte) error
	SendBinary(b []byte) error
	Close() error
}

// Player 注册表中的玩家（服务端只记录客户端上报的位置，不做校验）
type Player struct {
	Generation     protocol.Generation
	CharacterIndex int
	X              float64
	Y              float64

	Conn Conn // 网络连接的发送端（写协程）

	// tickGeneration 最近一次位置上报时调度器的计数值，等于当前计数即为“脏”
	tickGeneration uint64
	// handshaken 收到 hello-back 后为 true，此后才出现在花名册和广播中
	handshaken bool
}

// Snapshot 转为协议中的花名册条目
func (p *Player) Snapshot() protocol.OtherPlayer {
	return protocol.OtherPlayer{
		Generation:     p.Generation,
		X:              p.X,
		Y:              p.Y,
		CharacterIndex: p.CharacterIndex,
	}
}
