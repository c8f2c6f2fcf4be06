package object

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freeminer/freeminer-sub007/internal/vec"
	"github.com/freeminer/freeminer-sub007/internal/voxel"
)

type testObject struct {
	BaseObject
	typ   Type
	steps int
}

func newTestObject(typ Type, pos vec.V3f) *testObject {
	o := &testObject{typ: typ}
	o.SetBasePosition(pos)
	return o
}

func (o *testObject) Type() Type { return o.typ }

func (o *testObject) Step(dtime float64, sendRecommended bool) { o.steps++ }

func (o *testObject) GetStaticData() voxel.StaticObject {
	return voxel.StaticObject{Type: uint8(o.typ), Pos: o.BasePosition()}
}

func TestRegisterObjectAssignsUniqueIDs(t *testing.T) {
	m := NewManager()

	a := newTestObject(TypeEntity, vec.V3f{})
	b := newTestObject(TypeEntity, vec.V3f{})
	c := newTestObject(TypeEntity, vec.V3f{})
	require.True(t, m.RegisterObject(a))
	require.True(t, m.RegisterObject(b))
	require.True(t, m.RegisterObject(c))
	assert.Equal(t, []uint16{1, 2, 3}, m.IDs())

	m.RemoveObject(2)
	d := newTestObject(TypeEntity, vec.V3f{})
	require.True(t, m.RegisterObject(d))
	assert.Equal(t, uint16(4), d.ID(), "курсор продолжает идти вперед, а не занимает освободившийся id")

	dup := newTestObject(TypeEntity, vec.V3f{})
	dup.SetID(3)
	assert.False(t, m.RegisterObject(dup), "занятый id отклоняется")

	own := newTestObject(TypeEntity, vec.V3f{})
	own.SetID(2)
	assert.True(t, m.RegisterObject(own), "освободившийся id можно задать явно")
}

func TestGetFreeIDWrapsAround(t *testing.T) {
	m := NewManager()
	m.lastUsedID = 65534

	a := newTestObject(TypeEntity, vec.V3f{})
	b := newTestObject(TypeEntity, vec.V3f{})
	require.True(t, m.RegisterObject(a))
	require.True(t, m.RegisterObject(b))
	assert.Equal(t, uint16(65535), a.ID())
	assert.Equal(t, uint16(1), b.ID(), "0 пропускается при переходе через границу")
}

func TestRegisterObjectNoFreeID(t *testing.T) {
	m := NewManager()
	for i := 0; i < 65535; i++ {
		require.True(t, m.RegisterObject(newTestObject(TypeEntity, vec.V3f{})))
	}
	assert.False(t, m.RegisterObject(newTestObject(TypeEntity, vec.V3f{})))
	assert.Equal(t, 65535, m.Count())
}

func TestRegisterObjectOverLimit(t *testing.T) {
	m := NewManager()
	far := newTestObject(TypeEntity, vec.V3f{0, (vec.MaxMapGenerationLimit + 1) * vec.BS, 0})
	assert.False(t, m.RegisterObject(far))
	assert.Equal(t, 0, m.Count())
	assert.Zero(t, far.ID(), "отклоненный объект остается без id")

	near := newTestObject(TypeEntity, vec.V3f{})
	require.True(t, m.RegisterObject(near))
	assert.Equal(t, uint16(1), near.ID(), "отказ не сдвигает курсор id")
}

func TestRemoveObjectIdempotent(t *testing.T) {
	m := NewManager()
	o := newTestObject(TypeEntity, vec.V3f{})
	require.True(t, m.RegisterObject(o))

	m.RemoveObject(o.ID())
	m.RemoveObject(o.ID())
	assert.True(t, o.IsGone())
	assert.Nil(t, m.GetActiveObject(o.ID()))
}

func TestGetObjectsInsideRadiusMatchesBruteForce(t *testing.T) {
	m := NewManager()
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		pos := vec.V3f{rng.Float64()*400 - 200, rng.Float64()*400 - 200, rng.Float64()*400 - 200}
		require.True(t, m.RegisterObject(newTestObject(TypeEntity, pos)))
	}

	for round := 0; round < 20; round++ {
		center := vec.V3f{rng.Float64()*200 - 100, rng.Float64()*200 - 100, rng.Float64()*200 - 100}
		radius := rng.Float64() * 150

		got := map[uint16]bool{}
		for _, o := range m.GetObjectsInsideRadius(center, radius, nil) {
			got[o.ID()] = true
		}
		for _, o := range m.Snapshot() {
			inside := o.BasePosition().Sub(center).LenSqr() <= radius*radius
			assert.Equal(t, inside, got[o.ID()], "объект %d, радиус %.2f", o.ID(), radius)
		}
	}
}

func TestGetObjectsInArea(t *testing.T) {
	m := NewManager()
	in := newTestObject(TypeEntity, vec.V3f{5, 5, 5})
	edge := newTestObject(TypeEntity, vec.V3f{10, 0, 0})
	out := newTestObject(TypeEntity, vec.V3f{11, 0, 0})
	for _, o := range []*testObject{in, edge, out} {
		require.True(t, m.RegisterObject(o))
	}

	found := m.GetObjectsInArea(vec.NewBox(0, 0, 0, 10, 10, 10), nil)
	assert.Len(t, found, 2, "граница бокса включается")

	onlyIn := m.GetObjectsInArea(vec.NewBox(0, 0, 0, 10, 10, 10), func(o ActiveObject) bool {
		return o.ID() == in.ID()
	})
	assert.Len(t, onlyIn, 1)
}

func TestEffectiveObserversIntersectParentChain(t *testing.T) {
	m := NewManager()
	parent := newTestObject(TypeEntity, vec.V3f{})
	child := newTestObject(TypeEntity, vec.V3f{})
	require.True(t, m.RegisterObject(parent))
	require.True(t, m.RegisterObject(child))

	parent.SetObservers(NewObserverSet("alice", "bob"))
	child.SetObservers(NewObserverSet("bob", "carol"))
	child.SetParentID(parent.ID())
	m.InvalidateActiveObjectObserverCaches()

	assert.True(t, m.IsEffectivelyObservedBy(child, "bob"))
	assert.False(t, m.IsEffectivelyObservedBy(child, "alice"))
	assert.False(t, m.IsEffectivelyObservedBy(child, "carol"))

	// Кэш держится до явного сброса
	parent.SetObservers(nil)
	assert.False(t, m.IsEffectivelyObservedBy(child, "carol"))
	m.InvalidateActiveObjectObserverCaches()
	assert.True(t, m.IsEffectivelyObservedBy(child, "carol"))
}

func TestGetAddedActiveObjectsAroundPos(t *testing.T) {
	m := NewManager()
	for i := 0; i < 15; i++ {
		require.True(t, m.RegisterObject(newTestObject(TypeEntity, vec.V3f{float64(i), 0, 0})))
	}
	farPlayer := newTestObject(TypePlayer, vec.V3f{1000, 0, 0})
	require.True(t, m.RegisterObject(farPlayer))
	hidden := newTestObject(TypeEntity, vec.V3f{1, 1, 1})
	hidden.SetObservers(NewObserverSet("someone_else"))
	require.True(t, m.RegisterObject(hidden))
	gone := newTestObject(TypeEntity, vec.V3f{2, 2, 2})
	require.True(t, m.RegisterObject(gone))
	gone.MarkForRemoval()

	t.Run("first batch is unlimited", func(t *testing.T) {
		added := m.GetAddedActiveObjectsAroundPos(vec.V3f{}, "alice", 50, 0, nil)
		assert.Len(t, added, 16, "15 сущностей и игрок при playerRadius=0")
		assert.NotContains(t, added, hidden.ID())
		assert.NotContains(t, added, gone.ID())
		assert.Contains(t, added, farPlayer.ID())
	})

	t.Run("player radius limits players only", func(t *testing.T) {
		added := m.GetAddedActiveObjectsAroundPos(vec.V3f{}, "alice", 50, 100, nil)
		assert.NotContains(t, added, farPlayer.ID())
		assert.Len(t, added, 15)
	})

	t.Run("capped once something is known", func(t *testing.T) {
		known := map[uint16]struct{}{1: {}}
		added := m.GetAddedActiveObjectsAroundPos(vec.V3f{}, "alice", 50, 0, known)
		assert.Len(t, added, maxAddedPerBatch)
		assert.NotContains(t, added, uint16(1))
	})
}

func TestStepIteratesSnapshot(t *testing.T) {
	m := NewManager()
	a := newTestObject(TypeEntity, vec.V3f{})
	require.True(t, m.RegisterObject(a))

	var spawned *testObject
	visited := 0
	m.Step(0.1, func(obj ActiveObject) {
		visited++
		obj.Step(0.1, false)
		if spawned == nil {
			spawned = newTestObject(TypeEntity, vec.V3f{})
			require.True(t, m.RegisterObject(spawned))
		}
	})

	assert.Equal(t, 1, visited, "объект, созданный во время прохода, ждет следующего")
	assert.Equal(t, 1, a.steps)
	assert.Equal(t, 2, m.Count())
}

func TestClearIf(t *testing.T) {
	m := NewManager()
	keep := newTestObject(TypePlayer, vec.V3f{})
	drop := newTestObject(TypeEntity, vec.V3f{})
	require.True(t, m.RegisterObject(keep))
	require.True(t, m.RegisterObject(drop))

	ok := m.ClearIf(func(obj ActiveObject, id uint16) bool {
		return obj.Type() != TypePlayer
	})
	assert.True(t, ok)
	assert.Equal(t, []uint16{keep.ID()}, m.IDs())

	m.mu.Lock()
	assert.False(t, m.ClearIf(func(ActiveObject, uint16) bool { return true }), "занятый lock - проход пропускается")
	m.mu.Unlock()
	assert.Equal(t, 1, m.Count())
}

func TestAttachmentChain(t *testing.T) {
	m := NewManager()
	root := newTestObject(TypeEntity, vec.V3f{})
	mid := newTestObject(TypeEntity, vec.V3f{})
	leaf := newTestObject(TypeEntity, vec.V3f{})
	other := newTestObject(TypeEntity, vec.V3f{})
	for _, o := range []*testObject{root, mid, leaf, other} {
		require.True(t, m.RegisterObject(o))
	}
	mid.SetParentID(root.ID())
	leaf.SetParentID(mid.ID())

	chain := m.AttachmentChain(mid.ID())
	assert.Contains(t, chain, root.ID())
	assert.Contains(t, chain, leaf.ID())
	assert.NotContains(t, chain, other.ID())
	assert.NotContains(t, chain, mid.ID())
}

func TestRegistryCreate(t *testing.T) {
	r := NewRegistry()
	r.Register(TypeEntity, func(s voxel.StaticObject) (ActiveObject, error) {
		return newTestObject(TypeEntity, s.Pos), nil
	})

	obj, err := r.Create(voxel.StaticObject{Type: uint8(TypeEntity), Pos: vec.V3f{1, 2, 3}})
	require.NoError(t, err)
	assert.Equal(t, vec.V3f{1, 2, 3}, obj.BasePosition())

	_, err = r.Create(voxel.StaticObject{Type: uint8(TypeFallingNode)})
	assert.Error(t, err)
}
