package vec

// Box - ось-ориентированный параллелепипед в мировых координатах
type Box struct {
	Min V3f
	Max V3f
}

// NewBox создает бокс из двух углов
func NewBox(minX, minY, minZ, maxX, maxY, maxZ float64) Box {
	return Box{Min: V3f{minX, minY, minZ}, Max: V3f{maxX, maxY, maxZ}}
}

// NodeBox возвращает полный бокс ноды в мировых координатах
func NodeBox(p Vec3) Box {
	c := IntToFloat(p, BS)
	h := BS / 2
	return Box{Min: c.Sub(V3f{h, h, h}), Max: c.Add(V3f{h, h, h})}
}

// Translate сдвигает бокс на вектор
func (b Box) Translate(d V3f) Box {
	return Box{Min: b.Min.Add(d), Max: b.Max.Add(d)}
}

// Shrink уменьшает бокс на eps с каждой стороны
func (b Box) Shrink(eps float64) Box {
	e := V3f{eps, eps, eps}
	return Box{Min: b.Min.Add(e), Max: b.Max.Sub(e)}
}

// Extent возвращает размер бокса по осям
func (b Box) Extent() V3f {
	return b.Max.Sub(b.Min)
}

// IsPointInside проверяет, лежит ли точка внутри бокса (включая грани)
func (b Box) IsPointInside(p V3f) bool {
	return p[0] >= b.Min[0] && p[0] <= b.Max[0] &&
		p[1] >= b.Min[1] && p[1] <= b.Max[1] &&
		p[2] >= b.Min[2] && p[2] <= b.Max[2]
}

// Intersects проверяет пересечение боксов; касание гранями считается пересечением
func (b Box) Intersects(o Box) bool {
	return b.Min[0] <= o.Max[0] && b.Max[0] >= o.Min[0] &&
		b.Min[1] <= o.Max[1] && b.Max[1] >= o.Min[1] &&
		b.Min[2] <= o.Max[2] && b.Max[2] >= o.Min[2]
}
