package collision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freeminer/freeminer-sub007/internal/diagnostics"
	"github.com/freeminer/freeminer-sub007/internal/vec"
	"github.com/freeminer/freeminer-sub007/internal/voxel"
	"github.com/freeminer/freeminer-sub007/internal/world/object"
)

type testEnv struct {
	m    *voxel.Map
	om   *object.Manager
	diag *diagnostics.Diagnostics

	stone, slab, trampoline voxel.Content
}

func (e *testEnv) Map() *voxel.Map                       { return e.m }
func (e *testEnv) ObjectManager() *object.Manager        { return e.om }
func (e *testEnv) Diagnostics() *diagnostics.Diagnostics { return e.diag }

// newTestEnv создает мир из воздуха в блоках -1..0 по каждой оси
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ndef := voxel.NewNodeDefManager()
	stone, err := ndef.Register(voxel.ContentFeatures{Name: "test:stone", Walkable: true})
	require.NoError(t, err)
	slab, err := ndef.Register(voxel.ContentFeatures{
		Name:           "test:slab",
		Walkable:       true,
		CollisionBoxes: []vec.Box{vec.NewBox(-5, -5, -5, 5, 0, 5)},
	})
	require.NoError(t, err)
	trampoline, err := ndef.Register(voxel.ContentFeatures{
		Name:     "test:trampoline",
		Walkable: true,
		Groups:   map[string]int{"bouncy": 80},
	})
	require.NoError(t, err)

	m := voxel.NewMap(ndef)
	for x := -1; x <= 0; x++ {
		for y := -1; y <= 0; y++ {
			for z := -1; z <= 0; z++ {
				m.CreateBlock(vec.New3(x, y, z))
			}
		}
	}
	return &testEnv{
		m: m, om: object.NewManager(), diag: diagnostics.New(),
		stone: stone, slab: slab, trampoline: trampoline,
	}
}

func (e *testEnv) floor(c voxel.Content) {
	for x := -3; x <= 3; x++ {
		for z := -3; z <= 3; z++ {
			e.m.SetNode(vec.New3(x, -1, z), voxel.NewNode(c))
		}
	}
}

type platform struct {
	object.BaseObject
}

func (p *platform) Type() object.Type                 { return object.TypeEntity }
func (p *platform) Step(float64, bool)                {}
func (p *platform) GetStaticData() voxel.StaticObject { return voxel.StaticObject{} }

func newPlatform(pos vec.V3f, half float64) *platform {
	p := &platform{}
	p.SetBasePosition(pos)
	p.SetCollisionBox(vec.NewBox(-half, -half, -half, half, half, half), true)
	return p
}

var smallBox = vec.NewBox(-3, -3, -3, 3, 3, 3)

func TestMoveSimpleFreeMovement(t *testing.T) {
	env := newTestEnv(t)
	pos := vec.V3f{0, 0, 0}
	speed := vec.V3f{10, 4, -6}

	res := MoveSimple(env, 1, smallBox, 6, 0.5, &pos, &speed, vec.V3f{}, nil, true)

	assert.False(t, res.Collides)
	assert.Empty(t, res.Collisions)
	assert.InDelta(t, 5.0, pos.X(), 1e-3)
	assert.InDelta(t, 2.0, pos.Y(), 1e-3)
	assert.InDelta(t, -3.0, pos.Z(), 1e-3)
	assert.False(t, env.diag.CollisionProblems())
}

func TestMoveSimpleZeroDisplacement(t *testing.T) {
	env := newTestEnv(t)
	pos := vec.V3f{1, 2, 3}
	speed := vec.V3f{}

	res := MoveSimple(env, 1, smallBox, 6, 0.5, &pos, &speed, vec.V3f{}, nil, true)
	assert.Equal(t, Result{}, res)
	assert.Equal(t, vec.V3f{1, 2, 3}, pos)
}

func TestMoveSimpleUnloadedRegion(t *testing.T) {
	env := newTestEnv(t)
	start := vec.V3f{2000, 2000, 2000}
	pos := start
	speed := vec.V3f{10, 0, 0}

	MoveSimple(env, 1, smallBox, 6, 0.5, &pos, &speed, vec.V3f{}, nil, true)
	assert.Equal(t, start, pos, "в незагруженную область не двигаемся")
	assert.Equal(t, vec.V3f{}, speed)

	res := MoveSimple(env, 1, smallBox, 6, 0.5, &pos, &speed, vec.V3f{}, nil, true)
	assert.Equal(t, start, pos, "повторный вызов ничего не меняет")
	assert.Equal(t, vec.V3f{}, speed)
	assert.False(t, res.Collides)
}

func TestMoveSimpleLandsOnFloor(t *testing.T) {
	env := newTestEnv(t)
	env.floor(env.stone)
	pos := vec.V3f{0, 0, 0}
	speed := vec.V3f{0, -20, 0}

	res := MoveSimple(env, 1, smallBox, 6, 0.5, &pos, &speed, vec.V3f{}, nil, true)

	assert.True(t, res.Collides)
	assert.True(t, res.TouchingGround)
	assert.False(t, res.StandingOnObject)
	assert.InDelta(t, -2.0, pos.Y(), 1e-6, "низ бокса лег на верх ноды")
	assert.Equal(t, 0.0, speed.Y())

	require.Len(t, res.Collisions, 1)
	c := res.Collisions[0]
	assert.Equal(t, TypeNode, c.Type)
	assert.Equal(t, AxisY, c.Axis)
	assert.Equal(t, vec.New3(0, -1, 0), c.NodePos)
	assert.Equal(t, -20.0, c.OldSpeed.Y())
	assert.Equal(t, 0.0, c.NewSpeed.Y())
}

func TestMoveSimpleBounce(t *testing.T) {
	env := newTestEnv(t)
	env.floor(env.trampoline)
	pos := vec.V3f{0, 0, 0}
	speed := vec.V3f{0, -100, 0}

	res := MoveSimple(env, 1, smallBox, 6, 0.2, &pos, &speed, vec.V3f{}, nil, true)

	assert.True(t, res.Collides)
	assert.InDelta(t, 80.0, speed.Y(), 1e-9, "скорость отражается с коэффициентом bouncy/100")
	require.Len(t, res.Collisions, 1)
	assert.InDelta(t, 80.0, res.Collisions[0].NewSpeed.Y(), 1e-9)
}

func TestMoveSimpleSlowImpactDoesNotBounce(t *testing.T) {
	env := newTestEnv(t)
	env.floor(env.trampoline)
	pos := vec.V3f{0, 0, 0}
	speed := vec.V3f{0, -20, 0}

	MoveSimple(env, 1, smallBox, 6, 0.5, &pos, &speed, vec.V3f{}, nil, true)
	assert.Equal(t, 0.0, speed.Y(), "медленный удар гасит скорость")
}

func TestMoveSimpleStepUp(t *testing.T) {
	env := newTestEnv(t)
	env.floor(env.stone)
	env.m.SetNode(vec.New3(1, 0, 0), voxel.NewNode(env.slab))

	body := vec.NewBox(-3, 0, -3, 3, 10, 3)
	pos := vec.V3f{0, -5, 0}
	speed := vec.V3f{20, 0, 0}

	res := MoveSimple(env, 1, body, 6, 0.5, &pos, &speed, vec.V3f{}, nil, true)

	assert.False(t, res.Collides, "ступенька не останавливает движение")
	assert.Empty(t, res.Collisions)
	assert.True(t, res.TouchingGround)
	assert.InDelta(t, 10.0, pos.X(), 1e-6)
	assert.InDelta(t, 0.0, pos.Y(), 1e-6, "бокс поднят на верх полублока")
	assert.Equal(t, 20.0, speed.X())
}

func TestMoveSimpleWallStopsTooHighStep(t *testing.T) {
	env := newTestEnv(t)
	env.floor(env.stone)
	env.m.SetNode(vec.New3(1, 0, 0), voxel.NewNode(env.stone))

	body := vec.NewBox(-3, 0, -3, 3, 10, 3)
	pos := vec.V3f{0, -5, 0}
	speed := vec.V3f{20, 0, 0}

	res := MoveSimple(env, 1, body, 6, 0.5, &pos, &speed, vec.V3f{}, nil, true)

	assert.True(t, res.Collides)
	assert.InDelta(t, 2.0, pos.X(), 1e-6)
	assert.Equal(t, 0.0, speed.X())
	require.NotEmpty(t, res.Collisions)
	assert.Equal(t, AxisX, res.Collisions[0].Axis)
	assert.Equal(t, vec.New3(1, 0, 0), res.Collisions[0].NodePos)
}

func TestMoveSimpleStandsOnObject(t *testing.T) {
	env := newTestEnv(t)
	p := newPlatform(vec.V3f{0, -10, 0}, 5)
	require.True(t, env.om.RegisterObject(p))

	pos := vec.V3f{0, 0, 0}
	speed := vec.V3f{0, -20, 0}
	res := MoveSimple(env, 1, smallBox, 6, 0.5, &pos, &speed, vec.V3f{}, nil, true)

	assert.True(t, res.TouchingGround)
	assert.True(t, res.StandingOnObject)
	require.Len(t, res.Collisions, 1)
	assert.Equal(t, TypeObject, res.Collisions[0].Type)
	assert.Equal(t, p.ID(), res.Collisions[0].ObjectID)

	pos = vec.V3f{0, 0, 0}
	speed = vec.V3f{0, -20, 0}
	res = MoveSimple(env, 1, smallBox, 6, 0.5, &pos, &speed, vec.V3f{}, nil, false)
	assert.False(t, res.Collides, "без столкновений с объектами платформа не мешает")
}

func TestMoveSimpleClampsDTime(t *testing.T) {
	env := newTestEnv(t)
	pos := vec.V3f{0, 0, 0}
	speed := vec.V3f{1, 0, 0}

	MoveSimple(env, 1, smallBox, 6, 5, &pos, &speed, vec.V3f{}, nil, true)
	assert.InDelta(t, DTimeLimit, pos.X(), 1e-6)
	assert.True(t, env.diag.CollisionProblems())
	assert.Equal(t, int64(1), env.diag.Snapshot().DTimeClamped)
}

func TestMoveSimpleTruncatesSpeed(t *testing.T) {
	env := newTestEnv(t)
	pos := vec.V3f{0, 0, 0}
	speed := vec.V3f{0.123456789, -0.123456789, 1e6}

	MoveSimple(env, 1, smallBox, 6, 0.001, &pos, &speed, vec.V3f{}, nil, false)
	assert.InDelta(t, 0.1234, speed.X(), 1e-12)
	assert.InDelta(t, -0.1235, speed.Y(), 1e-12, "усечение идет вниз, а не к нулю")
	assert.Equal(t, maxSpeed, speed.Z())
}

func TestCheckIntersectionTouching(t *testing.T) {
	env := newTestEnv(t)
	env.m.SetNode(vec.New3(2, 0, 0), voxel.NewNode(env.stone))
	box := vec.NewBox(-5, -5, -5, 5, 5, 5)

	assert.False(t, CheckIntersection(env, box, vec.V3f{10, 0, 0}, nil, true), "касание гранями не пересечение")
	assert.True(t, CheckIntersection(env, box, vec.V3f{10.01, 0, 0}, nil, true))
	assert.False(t, CheckIntersection(env, box, vec.V3f{0, 0, 0}, nil, true))
}

func TestCheckIntersectionExcludesSelf(t *testing.T) {
	env := newTestEnv(t)
	self := newPlatform(vec.V3f{0, 0, 0}, 3)
	require.True(t, env.om.RegisterObject(self))

	assert.False(t, CheckIntersection(env, smallBox, vec.V3f{}, self, true))
	assert.True(t, CheckIntersection(env, smallBox, vec.V3f{}, nil, true))

	rider := newPlatform(vec.V3f{1, 0, 0}, 3)
	require.True(t, env.om.RegisterObject(rider))
	rider.SetParentID(self.ID())
	assert.False(t, CheckIntersection(env, smallBox, vec.V3f{}, self, true), "прикрепленные объекты не мешают")
}

func TestCheckIntersectionUnloaded(t *testing.T) {
	env := newTestEnv(t)
	assert.True(t, CheckIntersection(env, smallBox, vec.V3f{5000, 0, 0}, nil, false))
}

func TestAxisAlignedCollision(t *testing.T) {
	static := vec.NewBox(0, 0, 0, 10, 10, 10)

	var dt float64
	axis := AxisAlignedCollision(static, vec.NewBox(-20, 2, 2, -10, 8, 8), vec.V3f{10, 0, 0}, 11, &dt)
	assert.Equal(t, AxisX, axis)
	assert.InDelta(t, 1.0, dt, 1e-9)

	axis = AxisAlignedCollision(static, vec.NewBox(2, 20, 2, 8, 30, 8), vec.V3f{0, -5, 0}, 11, &dt)
	assert.Equal(t, AxisY, axis)
	assert.InDelta(t, 2.0, dt, 1e-9)

	axis = AxisAlignedCollision(static, vec.NewBox(-20, 2, 2, -10, 8, 8), vec.V3f{-10, 0, 0}, 11, &dt)
	assert.Equal(t, AxisNone, axis, "удаляющийся бокс не сталкивается")

	axis = AxisAlignedCollision(static, vec.NewBox(-20, 20, 2, -10, 30, 8), vec.V3f{10, 0, 0}, 11, &dt)
	assert.Equal(t, AxisNone, axis, "проходит выше")
}

func TestWouldCollideWithCeiling(t *testing.T) {
	moving := vec.NewBox(0, 0, 0, 6, 10, 6)
	ceiling := []vec.Box{vec.NewBox(0, 12, 0, 10, 22, 10)}
	assert.True(t, WouldCollideWithCeiling(ceiling, moving, 5, 1))
	assert.False(t, WouldCollideWithCeiling(ceiling, moving, 1, 1))
}
