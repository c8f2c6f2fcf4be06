package voxel

import (
	"github.com/freeminer/freeminer-sub007/internal/vec"
)

var faceDirs = [6]vec.Vec3{
	{X: 1}, {X: -1}, {Y: 1}, {Y: -1}, {Z: 1}, {Z: -1},
}

// PropagateLight пересчитывает искусственный свет в области [minp, maxp] (мировые ноды).
// Свет сбрасывается, источники зажигаются, затем распространяется в ширину,
// теряя единицу на каждой ноде. Нода без LightPropagates свет не пропускает.
// Незагруженные ноды считаются непрозрачными.
func PropagateLight(m *Map, minp, maxp vec.Vec3) {
	ndef := m.NodeDefs()
	inside := func(p vec.Vec3) bool {
		return p.X >= minp.X && p.X <= maxp.X &&
			p.Y >= minp.Y && p.Y <= maxp.Y &&
			p.Z >= minp.Z && p.Z <= maxp.Z
	}

	queue := make([]vec.Vec3, 0, 64)
	for z := minp.Z; z <= maxp.Z; z++ {
		for y := minp.Y; y <= maxp.Y; y++ {
			for x := minp.X; x <= maxp.X; x++ {
				p := vec.Vec3{X: x, Y: y, Z: z}
				n, ok := m.GetNode(p)
				if !ok {
					continue
				}
				src := ndef.Get(n.Content).LightSource
				if src > LightMax {
					src = LightMax
				}
				if n.Light() != src {
					m.setLightNoCache(p, n.WithLight(src))
				}
				if src > 0 {
					queue = append(queue, p)
				}
			}
		}
	}

	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		n, ok := m.GetNode(p)
		if !ok {
			continue
		}
		light := n.Light()
		if light <= 1 {
			continue
		}
		for _, d := range faceDirs {
			np := p.Add(d)
			if !inside(np) {
				continue
			}
			nn, ok := m.GetNode(np)
			if !ok || !ndef.Get(nn.Content).LightPropagates {
				continue
			}
			if nn.Light() >= light-1 {
				continue
			}
			m.setLightNoCache(np, nn.WithLight(light-1))
			queue = append(queue, np)
		}
	}
}

// setLightNoCache меняет только свет; тип ноды и кэш типов блока не меняются
func (m *Map) setLightNoCache(p vec.Vec3, n Node) {
	b := m.GetBlock(vec.NodeBlockPos(p))
	if b == nil {
		return
	}
	rel := vec.NodeInBlock(p)
	b.mu.Lock()
	b.nodes[index(rel)] = n
	b.mu.Unlock()
	b.RaiseModified(ModStateWriteAtUnload)
}
