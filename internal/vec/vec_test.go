package vec

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFloatToInt(t *testing.T) {
	assert.Equal(t, New3(0, 0, 0), FloatToInt(V3f{4.9, -4.9, 0}, BS))
	assert.Equal(t, New3(1, -1, 0), FloatToInt(V3f{5.1, -5.1, 0}, BS))
	assert.Equal(t, New3(3, 0, -2), FloatToInt(V3f{30, 0, -20}, BS))
}

func TestNodeBlockPos(t *testing.T) {
	assert.Equal(t, New3(0, 0, 0), NodeBlockPos(New3(15, 0, 7)))
	assert.Equal(t, New3(-1, 1, 0), NodeBlockPos(New3(-1, 16, 0)), "отрицательные координаты сдвигаются арифметически")
	assert.Equal(t, New3(15, 0, 0), NodeInBlock(New3(-1, 16, 0)))
}

func TestObjectPosOverLimit(t *testing.T) {
	limit := (MaxMapGenerationLimit + 0.5) * BS
	assert.False(t, ObjectPosOverLimit(V3f{limit, -limit, 0}))
	assert.True(t, ObjectPosOverLimit(V3f{0, limit + 1, 0}))
	assert.True(t, ObjectPosOverLimit(V3f{0, 0, -limit - 1}))
}

func TestBoxIntersects(t *testing.T) {
	a := NodeBox(New3(0, 0, 0))
	b := NodeBox(New3(1, 0, 0))
	assert.True(t, a.Intersects(b), "касание гранями - пересечение без допуска")
	assert.False(t, a.Shrink(0.01).Intersects(b))
	assert.True(t, a.IsPointInside(V3f{5, 5, 5}))
	assert.False(t, a.IsPointInside(V3f{5.1, 0, 0}))
}
