package world

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freeminer/freeminer-sub007/internal/vec"
)

func TestActiveBlockListNeighborhood(t *testing.T) {
	l := NewActiveBlockList(ShapeCube)
	players := []ActivePlayer{{Pos: vec.V3f{5, 5, 5}, WantedRange: 1}}

	removed, added, extra := l.Update(players, 1, 1)
	assert.Len(t, added, 27, "первый вызов добавляет куб 3x3x3")
	for x := -1; x <= 1; x++ {
		for y := -1; y <= 1; y++ {
			for z := -1; z <= 1; z++ {
				assert.True(t, added.Contains(vec.New3(x, y, z)))
			}
		}
	}
	assert.Empty(t, removed)
	assert.Empty(t, extra)

	removed, added, extra = l.Update(players, 1, 1)
	assert.Empty(t, added, "повторный вызов с той же позицией ничего не меняет")
	assert.Empty(t, removed)
	assert.Empty(t, extra)
	assert.Equal(t, 27, l.Size())
}

func TestActiveBlockListMove(t *testing.T) {
	l := NewActiveBlockList(ShapeCube)
	l.Update([]ActivePlayer{{Pos: vec.V3f{5, 5, 5}}}, 1, 0)

	// Переход на один блок по X
	removed, added, _ := l.Update([]ActivePlayer{{Pos: vec.V3f{5 + 16*vec.BS, 5, 5}}}, 1, 0)
	assert.Len(t, added, 9)
	assert.Len(t, removed, 9)
	assert.True(t, added.Contains(vec.New3(2, 0, 0)))
	assert.True(t, removed.Contains(vec.New3(-1, 0, 0)))

	removed, _, _ = l.Update(nil, 1, 0)
	assert.Len(t, removed, 27, "без игроков все блоки уходят")
	assert.Zero(t, l.Size())
}

func TestActiveBlockListSphere(t *testing.T) {
	l := NewActiveBlockList(ShapeSphere)
	_, added, _ := l.Update([]ActivePlayer{{}}, 1, 0)
	assert.Len(t, added, 7, "сфера радиуса 1 - центр и 6 соседей по граням")
}

func TestActiveBlockListExtraBlocks(t *testing.T) {
	l := NewActiveBlockList(ShapeCube)
	_, added, extra := l.Update([]ActivePlayer{{WantedRange: 2}}, 1, 5)
	assert.Len(t, added, 27)
	assert.Len(t, extra, 125-27, "блоки видимости объектов не пересекаются с основными")
	assert.Equal(t, 125, l.Size())
	assert.Len(t, l.ABMList(), 27, "ABM не запускаются на дополнительных блоках")

	_, _, extra = l.Update([]ActivePlayer{{WantedRange: 2}}, 1, 1)
	assert.Empty(t, extra, "дальность объектов ограничена сервером")
}

func TestActiveBlockListForced(t *testing.T) {
	l := NewActiveBlockList(ShapeCube)
	p := vec.New3(100, 0, 0)
	require.True(t, l.AddForced(p))
	assert.False(t, l.AddForced(p))

	_, added, _ := l.Update(nil, 2, 0)
	assert.Equal(t, []vec.Vec3{p}, added.Sorted())

	removed, _, _ := l.Update(nil, 2, 0)
	assert.Empty(t, removed, "принудительный блок не уходит без игроков")

	l.RemoveForced(p)
	removed, _, _ = l.Update(nil, 2, 0)
	assert.True(t, removed.Contains(p))
}

func TestActiveBlockListAddRemove(t *testing.T) {
	l := NewActiveBlockList(ShapeCube)
	p := vec.New3(1, 2, 3)
	assert.True(t, l.Add(p))
	assert.False(t, l.Add(p))
	assert.True(t, l.Contains(p))
	assert.Equal(t, []vec.Vec3{p}, l.List())
	l.Remove(p)
	assert.False(t, l.Contains(p))
	assert.Empty(t, l.ABMList())
}

func TestCameraDir(t *testing.T) {
	assert.InDelta(t, 0, vec.V3f{0, 0, 1}.Sub(CameraDir(0, 0, false)).Len(), 1e-9, "без поворотов взгляд по +Z")
	assert.InDelta(t, 0, vec.V3f{-1, 0, 0}.Sub(CameraDir(0, 90, false)).Len(), 1e-9)
	assert.InDelta(t, 0, vec.V3f{0, -1, 0}.Sub(CameraDir(90, 0, false)).Len(), 1e-9, "положительный pitch смотрит вниз")
	assert.InDelta(t, 0, vec.V3f{0, 0, -1}.Sub(CameraDir(0, 0, true)).Len(), 1e-9, "инверсия разворачивает взгляд")
}

func TestActiveBlockListViewCone(t *testing.T) {
	pos := vec.V3f{5, 5, 5}
	looking := ActivePlayer{
		Pos:         pos,
		WantedRange: 3,
		Eye:         pos.Add(vec.V3f{0, 1.625 * vec.BS, 0}),
		Dir:         CameraDir(0, 0, false),
		Fov:         72 * math.Pi / 180,
	}

	l := NewActiveBlockList(ShapeCube)
	_, added, extra := l.Update([]ActivePlayer{looking}, 0, 3)
	require.Len(t, added, 1)
	assert.True(t, extra.Contains(vec.New3(0, 0, 3)), "блок впереди попадает в конус")
	assert.False(t, extra.Contains(vec.New3(0, 0, -3)), "блок за спиной не нужен")
	assert.True(t, extra.Contains(vec.New3(0, 0, -1)), "соседний блок виден при любом направлении")
	assert.Less(t, len(extra), 7*7*7-1, "конус уже куба")

	// Направление неизвестно: берется весь куб
	cube := NewActiveBlockList(ShapeCube)
	_, _, extra = cube.Update([]ActivePlayer{{Pos: pos, WantedRange: 3}}, 0, 3)
	assert.Len(t, extra, 7*7*7-1)
	assert.True(t, extra.Contains(vec.New3(0, 0, -3)))
}
