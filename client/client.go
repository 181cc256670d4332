package client

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"

	"tilesync/protocol"
)

// ErrInvariant 服务端消息与本地镜像状态矛盾，继续运行只会放大错误
var ErrInvariant = errors.New("client: protocol invariant violated")

// DefaultLerp 每帧向目标位置移动剩余距离的比例
const DefaultLerp = 0.6

// Transport 向服务端发送文本帧与二进制帧
type Transport interface {
	SendText(b []byte) error
	SendBinary(b []byte) error
}

// Other 其他玩家在本地的镜像：Target 来自网络，X/Y 为插值后的渲染位置
type Other struct {
	Generation     protocol.Generation
	CharacterIndex int
	TargetX        float64
	TargetY        float64
	X              float64
	Y              float64
	Facing         Direction

	sprite Sprite
}

// Client 客户端同步层。读协程和渲染循环会并发调用，内部加锁。
type Client struct {
	mu sync.Mutex

	log       *zap.SugaredLogger
	transport Transport
	renderer  Renderer
	writer    *protocol.Writer
	lerp      float64

	characterIndex int
	generation     protocol.Generation
	ready          bool // 已收到 hello

	x, y         float64
	sentX, sentY float64 // 上次发送给服务端的位置，初始为原点

	others map[protocol.Generation]*Other
}

// New 创建同步层；renderer 可为 nil（无界面的机器人）
func New(log *zap.SugaredLogger, transport Transport, characterIndex int, renderer Renderer) *Client {
	return &Client{
		log:            log,
		transport:      transport,
		renderer:       renderer,
		writer:         protocol.NewWriter(),
		lerp:           DefaultLerp,
		characterIndex: characterIndex,
		others:         make(map[protocol.Generation]*Other),
	}
}

// Generation 本地玩家的 generation；收到 hello 之前 ok 为 false
func (c *Client) Generation() (gen protocol.Generation, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation, c.ready
}

// CharacterIndex 本地玩家选择的角色
func (c *Client) CharacterIndex() int { return c.characterIndex }

// SetLocalPosition 本地移动逻辑写入权威位置
func (c *Client) SetLocalPosition(x, y float64) {
	c.mu.Lock()
	c.x, c.y = x, y
	c.mu.Unlock()
}

func (c *Client) LocalPosition() (x, y float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.x, c.y
}

// SendPlayerUpdate 位置与上次发送相同时不发送，返回是否发送
func (c *Client) SendPlayerUpdate() (bool, error) {
	c.mu.Lock()
	if c.x == c.sentX && c.y == c.sentY {
		c.mu.Unlock()
		return false, nil
	}
	x, y := c.x, c.y
	b := protocol.EncodePlayerUpdate(c.writer, protocol.PlayerUpdate{X: x, Y: y})
	c.mu.Unlock()

	if err := c.transport.SendBinary(b); err != nil {
		return false, fmt.Errorf("client: send player-update: %w", err)
	}
	// 发送成功后才更新基准，失败时下次重发
	c.mu.Lock()
	c.sentX, c.sentY = x, y
	c.mu.Unlock()
	return true, nil
}

// SendLegacyTick 通过 JSON 通道上报位置（旧协议，服务端不标脏）
func (c *Client) SendLegacyTick() error {
	x, y := c.LocalPosition()
	b, err := protocol.EncodeControl(protocol.Tick{X: x, Y: y})
	if err != nil {
		return err
	}
	return c.transport.SendText(b)
}

// HandleBinary 处理服务端的二进制帧
func (c *Client) HandleBinary(b []byte) error {
	r := protocol.NewReader(b)
	tag, err := r.ReadTag()
	if err != nil {
		return err
	}
	switch tag {
	case protocol.TagBroadcastTick:
		entries, err := protocol.ReadBroadcastTick(r)
		if err != nil {
			return err
		}
		return c.applyTick(entries)
	default:
		return fmt.Errorf("%w: unexpected %s from server", protocol.ErrUnknownTag, tag)
	}
}

// applyTick 只更新目标位置；自己的条目已被读出但忽略，本地位置以本地为准
func (c *Client) applyTick(entries []protocol.TickEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range entries {
		if c.ready && e.Generation == c.generation {
			continue
		}
		o, ok := c.others[e.Generation]
		if !ok {
			return fmt.Errorf("%w: broadcast-tick for untracked generation %d", ErrInvariant, e.Generation)
		}
		o.TargetX, o.TargetY = e.X, e.Y
	}
	return nil
}

// HandleText 处理服务端的 JSON 控制消息
func (c *Client) HandleText(b []byte) error {
	msg, err := protocol.DecodeControl(b)
	if err != nil {
		return err
	}
	switch m := msg.(type) {
	case protocol.Hello:
		return c.onHello(m)
	case protocol.OtherJoined:
		c.onOtherJoined(m.Other)
		return nil
	case protocol.OtherLeft:
		return c.onOtherLeft(m.Generation)
	default:
		return fmt.Errorf("%w: unexpected %s from server", protocol.ErrUnknownType, msg.ControlType())
	}
}

// onHello 用花名册整体替换镜像，并回复 hello-back
func (c *Client) onHello(m protocol.Hello) error {
	c.mu.Lock()
	for _, o := range c.others {
		o.destroy()
	}
	c.generation = m.Generation
	c.ready = true
	c.others = make(map[protocol.Generation]*Other, len(m.Others))
	for _, p := range m.Others {
		if p.Generation == m.Generation {
			continue
		}
		c.others[p.Generation] = c.newOther(p)
	}
	c.mu.Unlock()

	c.log.Infow("hello received", "generation", m.Generation, "others", len(m.Others))
	b, err := protocol.EncodeControl(protocol.HelloBack{CharacterIndex: c.characterIndex})
	if err != nil {
		return err
	}
	if err := c.transport.SendText(b); err != nil {
		return fmt.Errorf("client: send hello-back: %w", err)
	}
	return nil
}

// onOtherJoined other-joined 广播给所有人，需要忽略自己
func (c *Client) onOtherJoined(p protocol.OtherPlayer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ready && p.Generation == c.generation {
		return
	}
	if o, ok := c.others[p.Generation]; ok {
		o.CharacterIndex = p.CharacterIndex
		o.TargetX, o.TargetY = p.X, p.Y
		return
	}
	c.others[p.Generation] = c.newOther(p)
	c.log.Debugw("other joined", "generation", p.Generation, "characterIndex", p.CharacterIndex)
}

func (c *Client) onOtherLeft(gen protocol.Generation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.others[gen]
	if !ok {
		return fmt.Errorf("%w: other-left for untracked generation %d", ErrInvariant, gen)
	}
	o.destroy()
	delete(c.others, gen)
	c.log.Debugw("other left", "generation", gen)
	return nil
}

func (c *Client) newOther(p protocol.OtherPlayer) *Other {
	o := &Other{
		Generation:     p.Generation,
		CharacterIndex: p.CharacterIndex,
		TargetX:        p.X,
		TargetY:        p.Y,
		X:              p.X,
		Y:              p.Y,
		Facing:         DirDown,
	}
	if c.renderer != nil {
		o.sprite = c.renderer.CreateSprite(p.CharacterIndex, p.X, p.Y)
	}
	return o
}

// Interpolate 每个渲染帧调用一次：渲染位置向目标移动固定比例，静止时不抖动
func (c *Client) Interpolate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, o := range c.others {
		nextX := math.Round(lerp(o.X, o.TargetX, c.lerp))
		nextY := math.Round(lerp(o.Y, o.TargetY, c.lerp))
		dx, dy := nextX-o.X, nextY-o.Y
		o.X, o.Y = nextX, nextY

		moving := dx != 0 || dy != 0
		if moving {
			if math.Abs(dx) > math.Abs(dy) {
				if dx > 0 {
					o.Facing = DirRight
				} else {
					o.Facing = DirLeft
				}
			} else if dy > 0 {
				o.Facing = DirDown
			} else {
				o.Facing = DirUp
			}
		}
		if o.sprite != nil {
			o.sprite.SetPosition(o.X, o.Y)
			o.sprite.SetFacing(o.Facing, moving)
		}
	}
}

// Others 按 generation 排序的镜像副本
func (c *Client) Others() []Other {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Other, 0, len(c.others))
	for _, o := range c.others {
		cp := *o
		cp.sprite = nil
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Generation < out[j].Generation })
	return out
}

func (o *Other) destroy() {
	if o.sprite != nil {
		o.sprite.Destroy()
		o.sprite = nil
	}
}

func lerp(a, b, t float64) float64 {
	return a*(1-t) + b*t
}
