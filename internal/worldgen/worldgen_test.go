package worldgen

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freeminer/freeminer-sub007/internal/storage"
	"github.com/freeminer/freeminer-sub007/internal/vec"
	"github.com/freeminer/freeminer-sub007/internal/voxel"
)

func testNodeDefs(t *testing.T) *voxel.NodeDefManager {
	t.Helper()
	ndef := voxel.NewNodeDefManager()
	for _, f := range []voxel.ContentFeatures{
		{Name: "stone", Walkable: true},
		{Name: "dirt", Walkable: true},
		{Name: "dirt_with_grass", Walkable: true},
		{Name: "water", Liquid: voxel.LiquidSource, LightPropagates: true},
	} {
		_, err := ndef.Register(f)
		require.NoError(t, err)
	}
	return ndef
}

func TestGeneratorIsDeterministic(t *testing.T) {
	ndef := testNodeDefs(t)
	g1 := NewGenerator(42, 1, ndef)
	g2 := NewGenerator(42, 1, ndef)

	for _, p := range []vec.Vec3{{}, {X: 3, Y: -1, Z: 7}, {X: -5, Y: 0, Z: 2}} {
		a, b := voxel.NewBlock(p), voxel.NewBlock(p)
		g1.Generate(a)
		g2.Generate(b)
		var na, nb [voxel.NodesPerBlock]voxel.Node
		a.CopyNodes(&na)
		b.CopyNodes(&nb)
		assert.Equal(t, na, nb, "один сид должен давать одинаковый блок %s", p)
	}
}

func TestGeneratorLayers(t *testing.T) {
	ndef := testNodeDefs(t)
	g := NewGenerator(7, 1, ndef)
	stone, _ := ndef.GetID("stone")
	dirt, _ := ndef.GetID("dirt")
	grass, _ := ndef.GetID("dirt_with_grass")
	water, _ := ndef.GetID("water")

	assert.Equal(t, stone, g.NodeAt(vec.Vec3{Y: -10}, 0).Content, "глубоко под поверхностью камень")
	assert.Equal(t, dirt, g.NodeAt(vec.Vec3{Y: -1}, 0).Content, "под поверхностью земля")
	assert.Equal(t, grass, g.NodeAt(vec.Vec3{Y: 5}, 5).Content, "поверхность над водой покрыта травой")
	assert.Equal(t, dirt, g.NodeAt(vec.Vec3{Y: -3}, -3).Content, "дно под водой без травы")
	assert.Equal(t, water, g.NodeAt(vec.Vec3{Y: 1}, -3).Content, "до уровня воды вода")
	assert.Equal(t, voxel.ContentAir, g.NodeAt(vec.Vec3{Y: 2}, -3).Content, "выше уровня воды воздух")
}

func TestGeneratorMissingNodesFallBackToAir(t *testing.T) {
	g := NewGenerator(1, 1, voxel.NewNodeDefManager())
	assert.Equal(t, voxel.ContentAir, g.NodeAt(vec.Vec3{Y: -10}, 0).Content)
}

func TestEmergerLoadsFromStoreFirst(t *testing.T) {
	ctx := context.Background()
	ndef := testNodeDefs(t)
	store := storage.NewMemoryStore()

	saved := voxel.NewBlock(vec.Vec3{X: 1})
	saved.SetNode(vec.Vec3{X: 2, Y: 3, Z: 4}, voxel.NewNode(voxel.ContentUnknown))
	require.NoError(t, storage.SaveMapBlock(ctx, store, saved))

	m := voxel.NewMap(ndef)
	e := NewEmerger(m, store, NewGenerator(1, 1, ndef), 1)

	b := e.EmergeBlock(vec.Vec3{X: 1}, false)
	require.NotNil(t, b)
	n, ok := b.GetNode(vec.Vec3{X: 2, Y: 3, Z: 4})
	require.True(t, ok)
	assert.Equal(t, voxel.ContentUnknown, n.Content, "блок должен прийти из хранилища")
	assert.Equal(t, int64(1), e.Stats().Loaded)
}

func TestEmergeBlockCreateBlank(t *testing.T) {
	ndef := testNodeDefs(t)
	m := voxel.NewMap(ndef)
	e := NewEmerger(m, storage.NewMemoryStore(), NewGenerator(1, 1, ndef), 1)

	assert.Nil(t, e.EmergeBlock(vec.Vec3{Y: 2}, false), "без createBlank отсутствующий блок не создается")
	b := e.EmergeBlock(vec.Vec3{Y: 2}, true)
	require.NotNil(t, b)
	assert.Same(t, b, m.GetBlock(vec.Vec3{Y: 2}))
}

func TestGetBlockOrEmergeGeneratesAsync(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ndef := testNodeDefs(t)
	m := voxel.NewMap(ndef)
	e := NewEmerger(m, nil, NewGenerator(3, 1, ndef), 2)
	e.Start(ctx)
	defer e.Stop()

	p := vec.Vec3{X: 4, Y: -2, Z: 4}
	assert.Nil(t, e.GetBlockOrEmerge(p), "первый запрос только ставит блок в очередь")

	require.Eventually(t, func() bool { return e.GetBlockOrEmerge(p) != nil },
		2*time.Second, 10*time.Millisecond, "блок должен быть сгенерирован")

	b := m.GetBlock(p)
	assert.Equal(t, voxel.ModStateWriteNeeded, b.ModState(), "новый блок требует записи")
	assert.Equal(t, int64(1), e.Stats().Generated)
	assert.Eventually(t, func() bool { return e.Stats().Queued == 0 }, time.Second, 10*time.Millisecond)
}

func TestEmergerStopIsIdempotent(t *testing.T) {
	ndef := testNodeDefs(t)
	e := NewEmerger(voxel.NewMap(ndef), nil, nil, 1)
	e.Start(context.Background())
	e.Stop()
	e.Stop()
}
