package client

import (
	"errors"
	"math/rand"
	"sort"
	"testing"

	"tilesync/logging"
	"tilesync/protocol"
)

type fakeTransport struct {
	texts     [][]byte
	binaries  [][]byte
	binaryErr error
}

func (f *fakeTransport) SendText(b []byte) error {
	f.texts = append(f.texts, b)
	return nil
}

func (f *fakeTransport) SendBinary(b []byte) error {
	if f.binaryErr != nil {
		return f.binaryErr
	}
	f.binaries = append(f.binaries, b)
	return nil
}

type fakeSprite struct {
	x, y      float64
	facing    Direction
	destroyed bool
}

func (s *fakeSprite) SetPosition(x, y float64)        { s.x, s.y = x, y }
func (s *fakeSprite) SetFacing(dir Direction, _ bool) { s.facing = dir }
func (s *fakeSprite) Destroy()                        { s.destroyed = true }

type fakeRenderer struct{ sprites []*fakeSprite }

func (r *fakeRenderer) CreateSprite(_ int, x, y float64) Sprite {
	s := &fakeSprite{x: x, y: y}
	r.sprites = append(r.sprites, s)
	return s
}

func mustControl(t *testing.T, msg protocol.ControlMessage) []byte {
	t.Helper()
	b, err := protocol.EncodeControl(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return b
}

func mustTick(t *testing.T, entries ...protocol.TickEntry) []byte {
	t.Helper()
	b, err := protocol.EncodeBroadcastTick(protocol.NewWriter(), entries)
	if err != nil {
		t.Fatalf("encode tick: %v", err)
	}
	return b
}

func newTestClient(t *testing.T) (*Client, *fakeTransport, *fakeRenderer) {
	t.Helper()
	tr := &fakeTransport{}
	rd := &fakeRenderer{}
	return New(logging.Nop(), tr, 5, rd), tr, rd
}

func generations(others []Other) []protocol.Generation {
	out := make([]protocol.Generation, 0, len(others))
	for _, o := range others {
		out = append(out, o.Generation)
	}
	return out
}

func TestHelloReplacesOthersAndRepliesHelloBack(t *testing.T) {
	c, tr, rd := newTestClient(t)
	if err := c.HandleText(mustControl(t, protocol.Hello{Generation: 1, Others: []protocol.OtherPlayer{{Generation: 9}}})); err != nil {
		t.Fatalf("hello: %v", err)
	}
	err := c.HandleText(mustControl(t, protocol.Hello{
		Generation: 3,
		Others:     []protocol.OtherPlayer{{Generation: 1, X: 16, Y: 32, CharacterIndex: 2}},
	}))
	if err != nil {
		t.Fatalf("hello: %v", err)
	}
	gen, ok := c.Generation()
	if !ok || gen != 3 {
		t.Fatalf("generation = %d, %v", gen, ok)
	}
	others := c.Others()
	if len(others) != 1 || others[0].Generation != 1 || others[0].X != 16 || others[0].TargetY != 32 {
		t.Fatalf("others = %+v", others)
	}
	if !rd.sprites[0].destroyed {
		t.Fatalf("sprite from previous roster not destroyed")
	}
	if len(tr.texts) != 2 {
		t.Fatalf("sent %d texts, want one hello-back per hello", len(tr.texts))
	}
	msg, err := protocol.DecodeControl(tr.texts[1])
	if err != nil || msg != (protocol.HelloBack{CharacterIndex: 5}) {
		t.Fatalf("reply = %#v, %v", msg, err)
	}
}

func TestOtherJoinedIgnoresSelfAndDuplicates(t *testing.T) {
	c, _, rd := newTestClient(t)
	_ = c.HandleText(mustControl(t, protocol.Hello{Generation: 4}))

	_ = c.HandleText(mustControl(t, protocol.OtherJoined{Other: protocol.OtherPlayer{Generation: 4}}))
	if len(c.Others()) != 0 {
		t.Fatalf("self inserted as other")
	}
	_ = c.HandleText(mustControl(t, protocol.OtherJoined{Other: protocol.OtherPlayer{Generation: 6, CharacterIndex: 1}}))
	_ = c.HandleText(mustControl(t, protocol.OtherJoined{Other: protocol.OtherPlayer{Generation: 6, CharacterIndex: 2}}))
	others := c.Others()
	if len(others) != 1 || others[0].CharacterIndex != 2 {
		t.Fatalf("others = %+v", others)
	}
	if len(rd.sprites) != 1 {
		t.Fatalf("created %d sprites, want 1", len(rd.sprites))
	}
}

func TestOtherLeftUntrackedIsInvariantViolation(t *testing.T) {
	c, _, rd := newTestClient(t)
	_ = c.HandleText(mustControl(t, protocol.Hello{Generation: 0, Others: []protocol.OtherPlayer{{Generation: 2}}}))

	if err := c.HandleText(mustControl(t, protocol.OtherLeft{Generation: 2})); err != nil {
		t.Fatalf("other-left: %v", err)
	}
	if !rd.sprites[0].destroyed || len(c.Others()) != 0 {
		t.Fatalf("other not removed")
	}
	err := c.HandleText(mustControl(t, protocol.OtherLeft{Generation: 2}))
	if !errors.Is(err, ErrInvariant) {
		t.Fatalf("err = %v, want ErrInvariant", err)
	}
}

func TestBroadcastTickUpdatesTargetsAndSkipsSelf(t *testing.T) {
	c, _, _ := newTestClient(t)
	_ = c.HandleText(mustControl(t, protocol.Hello{Generation: 1, Others: []protocol.OtherPlayer{{Generation: 0, X: 0, Y: 0}, {Generation: 2, X: 5, Y: 5}}}))
	c.SetLocalPosition(100, 200)

	err := c.HandleBinary(mustTick(t,
		protocol.TickEntry{Generation: 0, X: 10, Y: 20},
		protocol.TickEntry{Generation: 1, X: -1, Y: -1},
		protocol.TickEntry{Generation: 2, X: 30, Y: 40},
	))
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if x, y := c.LocalPosition(); x != 100 || y != 200 {
		t.Fatalf("local position overwritten: (%v, %v)", x, y)
	}
	others := c.Others()
	if others[0].TargetX != 10 || others[0].TargetY != 20 || others[1].TargetX != 30 || others[1].TargetY != 40 {
		t.Fatalf("targets = %+v", others)
	}
	if others[0].X != 0 || others[1].X != 5 {
		t.Fatalf("rendered position changed before interpolation: %+v", others)
	}
}

func TestBroadcastTickUntrackedPeerIsInvariantViolation(t *testing.T) {
	c, _, _ := newTestClient(t)
	_ = c.HandleText(mustControl(t, protocol.Hello{Generation: 1}))
	err := c.HandleBinary(mustTick(t, protocol.TickEntry{Generation: 8, X: 1, Y: 1}))
	if !errors.Is(err, ErrInvariant) {
		t.Fatalf("err = %v, want ErrInvariant", err)
	}
}

func TestUnknownFramesAreSoftErrors(t *testing.T) {
	c, _, _ := newTestClient(t)
	for _, err := range []error{
		c.HandleBinary([]byte{0xee}),
		c.HandleBinary(protocol.EncodePlayerUpdate(protocol.NewWriter(), protocol.PlayerUpdate{})),
		c.HandleText([]byte(`{"type":"party"}`)),
		c.HandleText([]byte(`{"type":"hello-back","characterIndex":1}`)),
		c.HandleText([]byte(`garbage`)),
	} {
		if err == nil || errors.Is(err, ErrInvariant) {
			t.Fatalf("err = %v, want a non-invariant error", err)
		}
	}
}

func TestSendPlayerUpdateDeduplicates(t *testing.T) {
	c, tr, _ := newTestClient(t)
	if sent, _ := c.SendPlayerUpdate(); sent {
		t.Fatalf("sent update while still at origin")
	}
	c.SetLocalPosition(16, 16)
	if sent, err := c.SendPlayerUpdate(); !sent || err != nil {
		t.Fatalf("first move not sent: %v", err)
	}
	if sent, _ := c.SendPlayerUpdate(); sent {
		t.Fatalf("idle update sent twice")
	}
	c.SetLocalPosition(16, 32)
	if sent, _ := c.SendPlayerUpdate(); !sent {
		t.Fatalf("second move not sent")
	}
	if len(tr.binaries) != 2 {
		t.Fatalf("binaries = %d, want 2", len(tr.binaries))
	}
	r := protocol.NewReader(tr.binaries[1])
	if tag, _ := r.ReadTag(); tag != protocol.TagPlayerUpdate {
		t.Fatalf("tag = %v", tag)
	}
	if u, err := protocol.ReadPlayerUpdate(r); err != nil || u != (protocol.PlayerUpdate{X: 16, Y: 32}) {
		t.Fatalf("update = %+v, %v", u, err)
	}
}

func TestSendPlayerUpdateRetriesAfterFailedSend(t *testing.T) {
	c, tr, _ := newTestClient(t)
	if c.CharacterIndex() != 5 {
		t.Fatalf("CharacterIndex() = %d, want 5", c.CharacterIndex())
	}
	c.SetLocalPosition(16, 16)
	tr.binaryErr = errors.New("socket closed")
	if sent, err := c.SendPlayerUpdate(); sent || err == nil {
		t.Fatalf("failed send reported sent=%v err=%v", sent, err)
	}

	// 位置不变，但上次没发出去，仍要发送
	tr.binaryErr = nil
	if sent, err := c.SendPlayerUpdate(); !sent || err != nil {
		t.Fatalf("update not resent after failure: sent=%v err=%v", sent, err)
	}
	if sent, _ := c.SendPlayerUpdate(); sent {
		t.Fatalf("idle update sent twice")
	}
	if len(tr.binaries) != 1 {
		t.Fatalf("binaries = %d, want 1", len(tr.binaries))
	}
}

func TestSendLegacyTick(t *testing.T) {
	c, tr, _ := newTestClient(t)
	c.SetLocalPosition(3, 4)
	if err := c.SendLegacyTick(); err != nil {
		t.Fatalf("SendLegacyTick: %v", err)
	}
	msg, err := protocol.DecodeControl(tr.texts[0])
	if err != nil || msg != (protocol.Tick{X: 3, Y: 4}) {
		t.Fatalf("tick = %#v, %v", msg, err)
	}
}

func TestInterpolateConvergesWithoutJitter(t *testing.T) {
	c, _, rd := newTestClient(t)
	_ = c.HandleText(mustControl(t, protocol.Hello{Generation: 0, Others: []protocol.OtherPlayer{{Generation: 1, X: 0, Y: 0}}}))
	_ = c.HandleBinary(mustTick(t, protocol.TickEntry{Generation: 1, X: 100, Y: 0}))

	c.Interpolate()
	o := c.Others()[0]
	if o.X != 60 || o.Facing != DirRight {
		t.Fatalf("after one frame x=%v facing=%v", o.X, o.Facing)
	}
	for i := 0; i < 20; i++ {
		c.Interpolate()
	}
	o = c.Others()[0]
	if o.X != 100 || o.Y != 0 {
		t.Fatalf("did not converge: (%v, %v)", o.X, o.Y)
	}
	c.Interpolate()
	if again := c.Others()[0]; again.X != o.X || again.Y != o.Y || again.Facing != DirRight {
		t.Fatalf("jitter at rest: %+v -> %+v", o, again)
	}
	if s := rd.sprites[0]; s.x != 100 || s.facing != DirRight {
		t.Fatalf("sprite = %+v", s)
	}

	_ = c.HandleBinary(mustTick(t, protocol.TickEntry{Generation: 1, X: 100, Y: -50}))
	c.Interpolate()
	if f := c.Others()[0].Facing; f != DirUp {
		t.Fatalf("facing = %v, want up", f)
	}
}

// 模拟服务端注册表，随机产生加入/离开事件，客户端镜像必须始终等于注册表去掉自己
func TestRosterConsistency(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 50; round++ {
		registry := map[protocol.Generation]bool{}
		var next protocol.Generation
		for n := rng.Intn(5); n > 0; n-- {
			registry[next] = true
			next++
		}

		c, _, _ := newTestClient(t)
		self := next
		next++
		hello := protocol.Hello{Generation: self}
		for gen := range registry {
			hello.Others = append(hello.Others, protocol.OtherPlayer{Generation: gen})
		}
		registry[self] = true
		if err := c.HandleText(mustControl(t, hello)); err != nil {
			t.Fatalf("hello: %v", err)
		}
		// other-joined 也会发给自己
		_ = c.HandleText(mustControl(t, protocol.OtherJoined{Other: protocol.OtherPlayer{Generation: self}}))

		for step := 0; step < 30; step++ {
			if rng.Intn(2) == 0 || len(registry) == 1 {
				registry[next] = true
				if err := c.HandleText(mustControl(t, protocol.OtherJoined{Other: protocol.OtherPlayer{Generation: next}})); err != nil {
					t.Fatalf("other-joined: %v", err)
				}
				next++
			} else {
				var victim protocol.Generation
				for gen := range registry {
					if gen != self {
						victim = gen
						break
					}
				}
				delete(registry, victim)
				if err := c.HandleText(mustControl(t, protocol.OtherLeft{Generation: victim})); err != nil {
					t.Fatalf("other-left: %v", err)
				}
			}

			var want []protocol.Generation
			for gen := range registry {
				if gen != self {
					want = append(want, gen)
				}
			}
			sort.Slice(want, func(i, j int) bool { return want[i] < want[j] })
			got := generations(c.Others())
			if len(got) != len(want) {
				t.Fatalf("round %d step %d: mirror %v, registry %v", round, step, got, want)
			}
			for i := range got {
				if got[i] != want[i] {
					t.Fatalf("round %d step %d: mirror %v, registry %v", round, step, got, want)
				}
			}
		}
	}
}
