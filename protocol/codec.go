package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// 线上字节序固定为小端，与已部署的客户端保持一致
var wireOrder = binary.LittleEndian

const initialCapacity = 1024

// ErrShortBuffer 读取越过了缓冲区末尾
var ErrShortBuffer = errors.New("protocol: read past end of buffer")

// Writer 可增长的二进制写缓冲：容量不足时翻倍，Finalize 后复用已分配的内存
type Writer struct {
	buf []byte
	n   int
}

func NewWriter() *Writer {
	return &Writer{buf: make([]byte, initialCapacity)}
}

// grow 保证还能写入 size 个字节
func (w *Writer) grow(size int) []byte {
	if w.buf == nil {
		w.buf = make([]byte, initialCapacity)
	}
	for w.n+size > len(w.buf) {
		next := make([]byte, len(w.buf)*2)
		copy(next, w.buf[:w.n])
		w.buf = next
	}
	b := w.buf[w.n : w.n+size]
	w.n += size
	return b
}

// Len 当前尚未 Finalize 的字节数
func (w *Writer) Len() int { return w.n }

// Finalize 返回已写内容的独立副本，并把游标归零（不释放容量）
func (w *Writer) Finalize() []byte {
	out := make([]byte, w.n)
	copy(out, w.buf[:w.n])
	w.n = 0
	return out
}

// WriteTag 写入消息类型标签
func (w *Writer) WriteTag(t Tag) {
	if !t.Valid() {
		panic(fmt.Sprintf("protocol: write of unknown tag %d", uint8(t)))
	}
	w.grow(1)[0] = byte(t)
}

// WriteByte 实现 io.ByteWriter，永不失败
func (w *Writer) WriteByte(c byte) error {
	w.grow(1)[0] = c
	return nil
}

func (w *Writer) WriteInt8(v int8)   { w.grow(1)[0] = byte(v) }
func (w *Writer) WriteUint8(v uint8) { w.grow(1)[0] = v }

func (w *Writer) WriteInt16(v int16)   { wireOrder.PutUint16(w.grow(2), uint16(v)) }
func (w *Writer) WriteUint16(v uint16) { wireOrder.PutUint16(w.grow(2), v) }
func (w *Writer) WriteInt32(v int32)   { wireOrder.PutUint32(w.grow(4), uint32(v)) }
func (w *Writer) WriteUint32(v uint32) { wireOrder.PutUint32(w.grow(4), v) }

func (w *Writer) WriteFloat32(v float32) {
	wireOrder.PutUint32(w.grow(4), math.Float32bits(v))
}

func (w *Writer) WriteFloat64(v float64) {
	wireOrder.PutUint64(w.grow(8), math.Float64bits(v))
}

// Reader 顺序读取二进制消息。越界读取返回零值并记录 ErrShortBuffer，
// 调用方在读完一条消息后检查 Err。
type Reader struct {
	buf []byte
	off int
	err error
}

func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

// Err 返回第一次越界读取的错误
func (r *Reader) Err() error { return r.err }

// Remaining 尚未读取的字节数
func (r *Reader) Remaining() int { return len(r.buf) - r.off }

func (r *Reader) next(size int) []byte {
	if r.err != nil {
		return nil
	}
	if r.off+size > len(r.buf) {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrShortBuffer, size, r.off, len(r.buf))
		r.off = len(r.buf)
		return nil
	}
	b := r.buf[r.off : r.off+size]
	r.off += size
	return b
}

// ReadTag 读取标签；未知字节返回 ErrUnknownTag
func (r *Reader) ReadTag() (Tag, error) {
	b := r.next(1)
	if b == nil {
		return 0, r.err
	}
	t := Tag(b[0])
	if !t.Valid() {
		return 0, fmt.Errorf("%w: byte %d", ErrUnknownTag, b[0])
	}
	return t, nil
}

// ReadByte 实现 io.ByteReader
func (r *Reader) ReadByte() (byte, error) {
	b := r.next(1)
	if b == nil {
		return 0, r.err
	}
	return b[0], nil
}

func (r *Reader) ReadInt8() int8 {
	if b := r.next(1); b != nil {
		return int8(b[0])
	}
	return 0
}

func (r *Reader) ReadUint8() uint8 {
	if b := r.next(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *Reader) ReadInt16() int16 {
	if b := r.next(2); b != nil {
		return int16(wireOrder.Uint16(b))
	}
	return 0
}

func (r *Reader) ReadUint16() uint16 {
	if b := r.next(2); b != nil {
		return wireOrder.Uint16(b)
	}
	return 0
}

func (r *Reader) ReadInt32() int32 {
	if b := r.next(4); b != nil {
		return int32(wireOrder.Uint32(b))
	}
	return 0
}

func (r *Reader) ReadUint32() uint32 {
	if b := r.next(4); b != nil {
		return wireOrder.Uint32(b)
	}
	return 0
}

func (r *Reader) ReadFloat32() float32 {
	if b := r.next(4); b != nil {
		return math.Float32frombits(wireOrder.Uint32(b))
	}
	return 0
}

func (r *Reader) ReadFloat64() float64 {
	if b := r.next(8); b != nil {
		return math.Float64frombits(wireOrder.Uint64(b))
	}
	return 0
}
