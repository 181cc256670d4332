package client

// Direction 精灵朝向，只在本地根据插值位移推导，不在网络上传输
type Direction int

const (
	DirNone Direction = iota
	DirLeft
	DirUp
	DirRight
	DirDown
)

func (d Direction) String() string {
	switch d {
	case DirLeft:
		return "left"
	case DirUp:
		return "up"
	case DirRight:
		return "right"
	case DirDown:
		return "down"
	default:
		return "none"
	}
}

// Sprite 渲染层提供的精灵；帧选择、动画由渲染层自己处理
type Sprite interface {
	SetPosition(x, y float64)
	SetFacing(dir Direction, moving bool)
	Destroy()
}

// Renderer 渲染层：为其他玩家创建精灵
type Renderer interface {
	CreateSprite(characterIndex int, x, y float64) Sprite
}

// Grid 地图碰撞：移动逻辑在改变本地位置前查询
type Grid interface {
	CanOccupy(tileX, tileY int) bool
}
