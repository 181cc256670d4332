package server

import "tilesync/protocol"

// event 投递到会话循环的入站事件；读协程只解码，不直接修改注册表
type event interface{ isEvent() }

// joinEvent 新连接接入，回复分配到的 generation
type joinEvent struct {
	conn  Conn
	reply chan<- protocol.Generation
}

// helloBackEvent 客户端握手回复
type helloBackEvent struct {
	generation     protocol.Generation
	characterIndex int
}

// updateEvent 二进制 player-update，参与脏标记
type updateEvent struct {
	generation protocol.Generation
	update     protocol.PlayerUpdate
}

// legacyTickEvent JSON tick，只覆盖位置
type legacyTickEvent struct {
	generation protocol.Generation
	tick       protocol.Tick
}

// leaveEvent 读泵退出（连接关闭或出错）
type leaveEvent struct {
	generation protocol.Generation
}

// rosterQuery 管理接口读取当前全部玩家
type rosterQuery struct {
	reply chan<- []protocol.OtherPlayer
}

func (joinEvent) isEvent()       {}
func (helloBackEvent) isEvent()  {}
func (updateEvent) isEvent()     {}
func (legacyTickEvent) isEvent() {}
func (leaveEvent) isEvent()      {}
func (rosterQuery) isEvent()     {}
