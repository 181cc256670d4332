package protocol

import (
	"fmt"
	"math"
)

// Generation 玩家会话的唯一编号，进程内单调递增、不复用
type Generation uint32

// PlayerUpdate 客户端上报的位置（二进制 player-update）
type PlayerUpdate struct {
	X float64
	Y float64
}

// TickEntry broadcast-tick 中的一条玩家位置
type TickEntry struct {
	Generation Generation
	X          float64
	Y          float64
}

// EncodePlayerUpdate 格式：[tag][float64 x][float64 y]
func EncodePlayerUpdate(w *Writer, u PlayerUpdate) []byte {
	w.WriteTag(TagPlayerUpdate)
	w.WriteFloat64(u.X)
	w.WriteFloat64(u.Y)
	return w.Finalize()
}

// EncodeBroadcastTick 格式：[tag][uint16 count][(uint32 gen, float64 x, float64 y) * count]
func EncodeBroadcastTick(w *Writer, entries []TickEntry) ([]byte, error) {
	if len(entries) > math.MaxUint16 {
		return nil, fmt.Errorf("protocol: %d entries exceed broadcast-tick capacity", len(entries))
	}
	w.WriteTag(TagBroadcastTick)
	w.WriteUint16(uint16(len(entries)))
	for _, e := range entries {
		w.WriteUint32(uint32(e.Generation))
		w.WriteFloat64(e.X)
		w.WriteFloat64(e.Y)
	}
	return w.Finalize(), nil
}

// ReadPlayerUpdate 读取标签之后的 player-update 负载
func ReadPlayerUpdate(r *Reader) (PlayerUpdate, error) {
	u := PlayerUpdate{X: r.ReadFloat64(), Y: r.ReadFloat64()}
	return u, r.Err()
}

// ReadBroadcastTick 读取标签之后的 broadcast-tick 负载
func ReadBroadcastTick(r *Reader) ([]TickEntry, error) {
	count := int(r.ReadUint16())
	if r.Err() != nil {
		return nil, r.Err()
	}
	entries := make([]TickEntry, 0, count)
	for i := 0; i < count; i++ {
		e := TickEntry{
			Generation: Generation(r.ReadUint32()),
			X:          r.ReadFloat64(),
			Y:          r.ReadFloat64(),
		}
		if r.Err() != nil {
			return nil, r.Err()
		}
		entries = append(entries, e)
	}
	return entries, nil
}
