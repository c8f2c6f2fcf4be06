package content

import (
	"fmt"
	"math"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/freeminer/freeminer-sub007/internal/vec"
	"github.com/freeminer/freeminer-sub007/internal/voxel"
	"github.com/freeminer/freeminer-sub007/internal/world/collision"
	"github.com/freeminer/freeminer-sub007/internal/world/object"
)

const (
	// Gravity - ускорение падения, мировых единиц/с²
	Gravity = 9.81 * vec.BS
	// fallingPosMaxD - допустимая ошибка позиции за шаг коллизий
	fallingPosMaxD = 0.25 * vec.BS
)

// positionMessage - сообщение клиентам о перемещении объекта
type positionMessage struct {
	Pos   vec.V3f `msgpack:"p"`
	Speed vec.V3f `msgpack:"v,omitempty"`
}

//================ Player =================//

// Player - объект подключенного игрока. Не сохраняется в блоки и не выгружается.
type Player struct {
	object.BaseObject
	name string

	pitch, yaw float64
	fov        float64
}

// playerEyeHeight - высота глаз над позицией игрока, в нодах
const playerEyeHeight = 1.625

// NewPlayer создает объект игрока в мировой позиции pos
func NewPlayer(name string, pos vec.V3f) *Player {
	p := &Player{name: name}
	p.SetBasePosition(pos)
	p.SetCollisionBox(vec.NewBox(-0.3*vec.BS, 0, -0.3*vec.BS, 0.3*vec.BS, 1.77*vec.BS, 0.3*vec.BS), true)
	return p
}

func (p *Player) Type() object.Type                 { return object.TypePlayer }
func (p *Player) PlayerName() string                { return p.name }
func (p *Player) IsStaticAllowed() bool             { return false }
func (p *Player) ShouldUnload() bool                { return false }
func (p *Player) GetStaticData() voxel.StaticObject { return voxel.StaticObject{Type: uint8(object.TypePlayer)} }

// Step рассылает позицию игрока; движением управляет клиент
func (p *Player) Step(_ float64, sendRecommended bool) {
	if !sendRecommended {
		return
	}
	if data, err := msgpack.Marshal(positionMessage{Pos: p.BasePosition()}); err == nil {
		p.PushMessage(object.Message{ID: p.ID(), Data: data})
	}
}

// MoveTo перемещает игрока (позиция приходит от клиента)
func (p *Player) MoveTo(pos vec.V3f) {
	p.SetBasePosition(pos)
}

// SetLook сохраняет направление камеры клиента: углы в градусах, fov в радианах
func (p *Player) SetLook(pitch, yaw, fov float64) {
	p.pitch, p.yaw, p.fov = pitch, yaw, fov
}

func (p *Player) View() object.View {
	return object.View{
		Eye:   p.BasePosition().Add(vec.V3f{0, playerEyeHeight * vec.BS, 0}),
		Pitch: p.pitch,
		Yaw:   p.yaw,
		Fov:   p.fov,
	}
}

//================ Falling node =================//

// fallingNodeData - статические данные падающей ноды
type fallingNodeData struct {
	Node   string     `msgpack:"n"`
	Param2 uint8      `msgpack:"p2,omitempty"`
	Speed  [3]float64 `msgpack:"v"`
}

// FallingNode - нода, падающая под действием тяжести. Приземлившись,
// ставит себя в карту и исчезает.
type FallingNode struct {
	object.BaseObject
	env   collision.Env
	node  voxel.Node
	speed vec.V3f

	// Landed - позиция, куда нода встала (для тестов и журнала)
	Landed *vec.Vec3
}

// NewFallingNode создает падающую ноду в мировой позиции pos
func NewFallingNode(env collision.Env, n voxel.Node, pos vec.V3f) *FallingNode {
	f := &FallingNode{env: env, node: n}
	f.SetBasePosition(pos)
	half := 0.5 * vec.BS
	f.SetCollisionBox(vec.NewBox(-half, -half, -half, half, half, half), false)
	return f
}

func (f *FallingNode) Type() object.Type { return object.TypeFallingNode }

// Node возвращает падающую ноду
func (f *FallingNode) Node() voxel.Node { return f.node }

// Speed возвращает текущую скорость
func (f *FallingNode) Speed() vec.V3f { return f.speed }

func (f *FallingNode) GetStaticData() voxel.StaticObject {
	name := f.env.Map().NodeDefs().Get(f.node.Content).Name
	data, err := msgpack.Marshal(fallingNodeData{Node: name, Param2: f.node.Param2, Speed: [3]float64(f.speed)})
	if err != nil {
		data = nil
	}
	return voxel.StaticObject{Type: uint8(object.TypeFallingNode), Pos: f.BasePosition(), Data: data}
}

// Step двигает ноду через воксельную сетку; при касании земли нода встает в карту
func (f *FallingNode) Step(dtime float64, sendRecommended bool) {
	if f.IsGone() {
		return
	}
	pos := f.BasePosition()
	box, _ := f.CollisionBox()
	res := collision.MoveSimple(f.env, fallingPosMaxD, box, 0, dtime, &pos, &f.speed,
		vec.V3f{0, -Gravity, 0}, f, false)
	f.SetBasePosition(pos)

	if res.TouchingGround {
		f.land(pos)
		return
	}
	if sendRecommended {
		if data, err := msgpack.Marshal(positionMessage{Pos: pos, Speed: f.speed}); err == nil {
			f.PushMessage(object.Message{ID: f.ID(), Data: data})
		}
	}
}

// land ставит ноду в ближайшую свободную клетку над точкой приземления
func (f *FallingNode) land(pos vec.V3f) {
	m := f.env.Map()
	np := vec.FloatToInt(pos, vec.BS)
	for i := 0; i < 2; i++ {
		cur, ok := m.GetNode(np)
		if !ok {
			return
		}
		if !m.NodeDefs().Get(cur.Content).Walkable {
			m.SetNode(np, f.node)
			f.Landed = &np
			f.MarkForRemoval()
			return
		}
		np = np.Add(vec.Vec3{Y: 1})
	}
	// Места нет: нода теряется
	f.MarkForRemoval()
}

// RegisterObjects регистрирует фабрики объектов, восстанавливаемых из блоков
func RegisterObjects(reg *object.Registry, env collision.Env) {
	reg.Register(object.TypeFallingNode, func(static voxel.StaticObject) (object.ActiveObject, error) {
		var data fallingNodeData
		if err := msgpack.Unmarshal(static.Data, &data); err != nil {
			return nil, fmt.Errorf("данные падающей ноды: %w", err)
		}
		ndef := env.Map().NodeDefs()
		c, ok := ndef.GetID(data.Node)
		if !ok {
			c = ndef.AllocateUnknownID(data.Node)
		}
		for _, v := range data.Speed {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("некорректная скорость падающей ноды: %v", data.Speed)
			}
		}
		f := NewFallingNode(env, voxel.Node{Content: c, Param2: data.Param2}, static.Pos)
		f.speed = vec.V3f(data.Speed)
		return f, nil
	})
}
