package vec

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

const (
	// BS - размер ноды в единицах мировых координат
	BS = 10.0
	// BlockSize - длина ребра блока в нодах
	BlockSize = 16
	// MaxMapGenerationLimit - граница генерируемого мира в нодах
	MaxMapGenerationLimit = 31007
)

// V3f - вектор с плавающими координатами (позиции объектов, скорости)
type V3f = mgl64.Vec3

// FloatToInt переводит мировые координаты в позицию ноды с округлением к ближайшей
func FloatToInt(p V3f, d float64) Vec3 {
	return Vec3{
		X: roundDiv(p[0], d),
		Y: roundDiv(p[1], d),
		Z: roundDiv(p[2], d),
	}
}

func roundDiv(f, d float64) int {
	if f > 0 {
		return int((f + d/2) / d)
	}
	return int((f - d/2) / d)
}

// IntToFloat переводит позицию ноды в мировые координаты центра ноды
func IntToFloat(p Vec3, d float64) V3f {
	return V3f{float64(p.X) * d, float64(p.Y) * d, float64(p.Z) * d}
}

// NodeBlockPos возвращает позицию блока, содержащего ноду
func NodeBlockPos(p Vec3) Vec3 {
	return Vec3{X: p.X >> 4, Y: p.Y >> 4, Z: p.Z >> 4}
}

// BlockOrigin возвращает позицию первой ноды блока
func BlockOrigin(blockPos Vec3) Vec3 {
	return blockPos.Scale(BlockSize)
}

// NodeInBlock возвращает локальные координаты ноды внутри блока
func NodeInBlock(p Vec3) Vec3 {
	return Vec3{X: p.X & 0xF, Y: p.Y & 0xF, Z: p.Z & 0xF}
}

// ObjectBlockPos возвращает блок, в котором находится точка мира
func ObjectBlockPos(p V3f) Vec3 {
	return NodeBlockPos(FloatToInt(p, BS))
}

// ObjectPosOverLimit проверяет, выходит ли позиция объекта за границы мира
func ObjectPosOverLimit(p V3f) bool {
	limit := (MaxMapGenerationLimit + 0.5) * BS
	return math.Abs(p[0]) > limit || math.Abs(p[1]) > limit || math.Abs(p[2]) > limit
}
