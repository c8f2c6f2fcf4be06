// Package worldgen генерирует и подгружает блоки карты
package worldgen

import (
	"github.com/aquilax/go-perlin"

	"github.com/freeminer/freeminer-sub007/internal/vec"
	"github.com/freeminer/freeminer-sub007/internal/voxel"
)

// Параметры шума Перлина
const (
	noiseAlpha   = 2.0 // Сглаживание шума
	noiseBeta    = 2.0 // Частота шума
	noiseOctaves = 3
)

const (
	// terrainScale - масштаб шума высоты
	terrainScale = 0.01
	// terrainAmplitude - размах рельефа в нодах
	terrainAmplitude = 24.0
	// dirtDepth - толщина слоя земли над камнем
	dirtDepth = 3
)

// Generator строит рельеф по карте высот из шума Перлина
type Generator struct {
	Seed       int64
	WaterLevel int

	noise *perlin.Perlin

	air, stone, dirt, grass, water voxel.Content
}

// NewGenerator создает генератор. Типы нод берутся из ndef по именам;
// отсутствующий тип заменяется воздухом.
func NewGenerator(seed int64, waterLevel int, ndef *voxel.NodeDefManager) *Generator {
	lookup := func(name string) voxel.Content {
		if id, ok := ndef.GetID(name); ok {
			return id
		}
		return voxel.ContentAir
	}
	return &Generator{
		Seed:       seed,
		WaterLevel: waterLevel,
		noise:      perlin.NewPerlin(noiseAlpha, noiseBeta, noiseOctaves, seed),
		air:        voxel.ContentAir,
		stone:      lookup("stone"),
		dirt:       lookup("dirt"),
		grass:      lookup("dirt_with_grass"),
		water:      lookup("water"),
	}
}

// SurfaceHeight возвращает высоту поверхности в колонке (x, z)
func (g *Generator) SurfaceHeight(x, z int) int {
	n := g.noise.Noise2D(float64(x)*terrainScale, float64(z)*terrainScale)
	return int(n * terrainAmplitude)
}

// NodeAt возвращает ноду, которую генератор ставит в мировую позицию p
func (g *Generator) NodeAt(p vec.Vec3, surface int) voxel.Node {
	switch {
	case p.Y > surface:
		if p.Y <= g.WaterLevel {
			return voxel.NewNode(g.water)
		}
		return voxel.NewNode(g.air)
	case p.Y == surface:
		if surface < g.WaterLevel {
			return voxel.NewNode(g.dirt)
		}
		return voxel.NewNode(g.grass)
	case p.Y > surface-dirtDepth:
		return voxel.NewNode(g.dirt)
	default:
		return voxel.NewNode(g.stone)
	}
}

// Generate заполняет блок рельефом
func (g *Generator) Generate(b *voxel.Block) {
	origin := b.PosRelative()
	var heights [vec.BlockSize][vec.BlockSize]int
	for z := 0; z < vec.BlockSize; z++ {
		for x := 0; x < vec.BlockSize; x++ {
			heights[z][x] = g.SurfaceHeight(origin.X+x, origin.Z+z)
		}
	}
	b.Fill(func(rel vec.Vec3) voxel.Node {
		return g.NodeAt(origin.Add(rel), heights[rel.Z][rel.X])
	})
}
