package protocol

import (
	"errors"
	"fmt"
)

// Tag 二进制消息的类型标签，占一个字节
type Tag uint8

// 标签表的下标即线上协议：只能在末尾追加，不能调整顺序
const (
	TagBroadcastTick Tag = iota
	TagPlayerUpdate
)

var tagNames = [...]string{
	TagBroadcastTick: "broadcast-tick",
	TagPlayerUpdate:  "player-update",
}

// ErrUnknownTag 首字节不在标签表中（协议失步）
var ErrUnknownTag = errors.New("protocol: unknown tag")

func (t Tag) String() string {
	if t.Valid() {
		return tagNames[t]
	}
	return fmt.Sprintf("Tag(%d)", uint8(t))
}

// Valid 是否为标签表中的已知标签
func (t Tag) Valid() bool {
	return int(t) < len(tagNames)
}

// ParseTag 根据名字查找标签
func ParseTag(name string) (Tag, error) {
	for i, n := range tagNames {
		if n == name {
			return Tag(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownTag, name)
}
