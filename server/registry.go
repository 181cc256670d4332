package server

import (
	"sort"

	"tilesync/protocol"
)

// Registry 按 generation 索引的在线玩家表；只在会话循环内访问，无需加锁
type Registry struct {
	players map[protocol.Generation]*Player
}

func NewRegistry() *Registry {
	return &Registry{players: make(map[protocol.Generation]*Player)}
}

func (r *Registry) Len() int { return len(r.players) }

func (r *Registry) Get(gen protocol.Generation) (*Player, bool) {
	p, ok := r.players[gen]
	return p, ok
}

// Add 注册玩家；generation 由会话保证唯一
func (r *Registry) Add(p *Player) {
	r.players[p.Generation] = p
}

// Remove 删除并返回玩家，不存在时返回 nil
func (r *Registry) Remove(gen protocol.Generation) *Player {
	p, ok := r.players[gen]
	if !ok {
		return nil
	}
	delete(r.players, gen)
	return p
}

// All 按 generation 升序返回全部玩家
func (r *Registry) All() []*Player {
	return r.collect(func(*Player) bool { return true })
}

// Roster 除 except 外所有已完成握手的玩家快照
func (r *Registry) Roster(except protocol.Generation) []protocol.OtherPlayer {
	players := r.collect(func(p *Player) bool {
		return p.handshaken && p.Generation != except
	})
	out := make([]protocol.OtherPlayer, 0, len(players))
	for _, p := range players {
		out = append(out, p.Snapshot())
	}
	return out
}

// Dirty 自上次广播以来上报过位置（tickGeneration == tick）的已握手玩家
func (r *Registry) Dirty(tick uint64) []*Player {
	return r.collect(func(p *Player) bool {
		return p.handshaken && p.tickGeneration == tick
	})
}

func (r *Registry) collect(keep func(*Player) bool) []*Player {
	out := make([]*Player, 0, len(r.players))
	for _, p := range r.players {
		if keep(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Generation < out[j].Generation })
	return out
}
