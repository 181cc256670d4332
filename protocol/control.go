package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// 控制通道（JSON 文本帧）的消息类型
const (
	TypeHello       = "hello"
	TypeHelloBack   = "hello-back"
	TypeOtherJoined = "other-joined"
	TypeOtherLeft   = "other-left"
	TypeTick        = "tick"
)

// ErrUnknownType JSON 消息缺少或带有未知的 type
var ErrUnknownType = errors.New("protocol: unknown control message type")

// ControlMessage 控制通道消息的封闭集合，只有本包内的类型实现它
type ControlMessage interface {
	ControlType() string
	sealed()
}

// OtherPlayer 其他玩家的快照（花名册条目）
type OtherPlayer struct {
	Generation     Generation `json:"generation"`
	X              float64    `json:"x"`
	Y              float64    `json:"y"`
	CharacterIndex int        `json:"characterIndex"`
}

// Hello 服务端在连接建立后立即发给新客户端，仅一次
type Hello struct {
	Generation Generation    `json:"generation"`
	Others     []OtherPlayer `json:"others"`
}

// HelloBack 客户端初始化精灵后回复所选角色
type HelloBack struct {
	CharacterIndex int `json:"characterIndex"`
}

// OtherJoined 某个玩家完成握手后广播给所有人
type OtherJoined struct {
	Other OtherPlayer `json:"other"`
}

// OtherLeft 某个玩家断开后广播给剩余玩家
type OtherLeft struct {
	Generation Generation `json:"generation"`
}

// Tick 旧版的 JSON 位置上报（客户端 -> 服务端），不参与脏标记
type Tick struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (Hello) ControlType() string       { return TypeHello }
func (HelloBack) ControlType() string   { return TypeHelloBack }
func (OtherJoined) ControlType() string { return TypeOtherJoined }
func (OtherLeft) ControlType() string   { return TypeOtherLeft }
func (Tick) ControlType() string        { return TypeTick }

func (Hello) sealed()       {}
func (HelloBack) sealed()   {}
func (OtherJoined) sealed() {}
func (OtherLeft) sealed()   {}
func (Tick) sealed()        {}

// EncodeControl 序列化为带 type 字段的扁平 JSON 对象
func EncodeControl(msg ControlMessage) ([]byte, error) {
	switch m := msg.(type) {
	case Hello:
		if m.Others == nil {
			m.Others = []OtherPlayer{}
		}
		return json.Marshal(struct {
			Type string `json:"type"`
			Hello
		}{TypeHello, m})
	case HelloBack:
		return json.Marshal(struct {
			Type string `json:"type"`
			HelloBack
		}{TypeHelloBack, m})
	case OtherJoined:
		return json.Marshal(struct {
			Type string `json:"type"`
			OtherJoined
		}{TypeOtherJoined, m})
	case OtherLeft:
		return json.Marshal(struct {
			Type string `json:"type"`
			OtherLeft
		}{TypeOtherLeft, m})
	case Tick:
		return json.Marshal(struct {
			Type string `json:"type"`
			Tick
		}{TypeTick, m})
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownType, msg)
	}
}

// DecodeControl 解析文本帧；非对象或未知 type 返回错误
func DecodeControl(b []byte) (ControlMessage, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return nil, fmt.Errorf("protocol: decode control message: %w", err)
	}
	var (
		msg ControlMessage
		err error
	)
	switch head.Type {
	case TypeHello:
		var m Hello
		err = json.Unmarshal(b, &m)
		msg = m
	case TypeHelloBack:
		var m HelloBack
		err = json.Unmarshal(b, &m)
		msg = m
	case TypeOtherJoined:
		var m OtherJoined
		err = json.Unmarshal(b, &m)
		msg = m
	case TypeOtherLeft:
		var m OtherLeft
		err = json.Unmarshal(b, &m)
		msg = m
	case TypeTick:
		var m Tick
		err = json.Unmarshal(b, &m)
		msg = m
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, head.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("protocol: decode %s: %w", head.Type, err)
	}
	return msg, nil
}
