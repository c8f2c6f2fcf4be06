package world

import (
	"math"
	"sort"

	"github.com/freeminer/freeminer-sub007/internal/vec"
)

// BlockShape - форма области активных блоков вокруг игрока
type BlockShape uint8

const (
	ShapeCube BlockShape = iota
	ShapeSphere
)

// ParseBlockShape разбирает значение simulation.active_block_shape
func ParseBlockShape(s string) BlockShape {
	if s == "sphere" {
		return ShapeSphere
	}
	return ShapeCube
}

// BlockSet - множество позиций блоков
type BlockSet map[vec.Vec3]struct{}

// Sorted возвращает позиции в порядке vec.Vec3.Less
func (s BlockSet) Sorted() []vec.Vec3 {
	out := make([]vec.Vec3, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// Contains проверяет наличие позиции
func (s BlockSet) Contains(p vec.Vec3) bool {
	_, ok := s[p]
	return ok
}

// ActivePlayer - то, что списку активных блоков нужно знать об игроке
type ActivePlayer struct {
	Pos vec.V3f
	// WantedRange - дальность видимости объектов, запрошенная клиентом, в блоках
	WantedRange int
	// Eye, Dir и Fov задают конус видимости; нулевой Dir или Fov - направление
	// неизвестно, дополнительные блоки берутся кубом
	Eye vec.V3f
	Dir vec.V3f
	Fov float64
}

// blockMaxRadius - радиус описанной сферы блока в мировых единицах
var blockMaxRadius = 0.5 * vec.BlockSize * vec.BS * math.Sqrt(3)

// CameraDir - единичный вектор взгляда: (0,0,1), повернутый на pitch вокруг X и на yaw вокруг Y
func CameraDir(pitchDeg, yawDeg float64, inverted bool) vec.V3f {
	dir := vec.V3f{0, 0, 1}

	sn, cs := math.Sincos(pitchDeg * math.Pi / 180)
	y, z := dir[1], dir[2]
	dir[1] = y*cs - z*sn
	dir[2] = y*sn + z*cs

	sn, cs = math.Sincos(yawDeg * math.Pi / 180)
	x, z := dir[0], dir[2]
	dir[0] = x*cs - z*sn
	dir[2] = x*sn + z*cs

	if inverted {
		dir = dir.Mul(-1)
	}
	return dir
}

// blockInSight проверяет, попадает ли блок в конус камеры на дальности rng (мировые единицы)
func blockInSight(p vec.Vec3, eye, dir vec.V3f, fov, rng float64) bool {
	center := vec.IntToFloat(vec.BlockOrigin(p), vec.BS).Add(vec.V3f{1, 1, 1}.Mul(vec.BlockSize / 2 * vec.BS))
	rel := center.Sub(eye)

	d := math.Max(0, rel.Len()-blockMaxRadius)
	if d > rng {
		return false
	}
	if d == 0 {
		return true
	}

	// Камера отодвигается назад так, чтобы блок, видимый хотя бы частью,
	// был виден центром
	adj := blockMaxRadius / math.Cos((math.Pi-fov)/2)
	relAdj := center.Sub(eye.Sub(dir.Mul(adj)))
	cosAngle := relAdj.Dot(dir) / relAdj.Len()
	// Угол расширен на 10%: половина fov отсекает видимые края
	return cosAngle >= math.Cos(fov*0.55)
}

func fillViewCone(p0 vec.Vec3, r int, eye, dir vec.V3f, fov float64, out BlockSet) {
	rng := float64(r) * vec.BS * vec.BlockSize
	for x := p0.X - r; x <= p0.X+r; x++ {
		for y := p0.Y - r; y <= p0.Y+r; y++ {
			for z := p0.Z - r; z <= p0.Z+r; z++ {
				p := vec.New3(x, y, z)
				if blockInSight(p, eye, dir, fov, rng) {
					out[p] = struct{}{}
				}
			}
		}
	}
}

// ActiveBlockList - множество активных блоков.
// Используется только потоком симуляции.
type ActiveBlockList struct {
	shape       BlockShape
	list        BlockSet
	abmList     BlockSet
	forceloaded BlockSet
}

// NewActiveBlockList создает пустой список
func NewActiveBlockList(shape BlockShape) *ActiveBlockList {
	return &ActiveBlockList{
		shape:       shape,
		list:        make(BlockSet),
		abmList:     make(BlockSet),
		forceloaded: make(BlockSet),
	}
}

func fillRadius(p0 vec.Vec3, r int, out BlockSet, shape BlockShape) {
	for x := p0.X - r; x <= p0.X+r; x++ {
		for y := p0.Y - r; y <= p0.Y+r; y++ {
			for z := p0.Z - r; z <= p0.Z+r; z++ {
				p := vec.New3(x, y, z)
				if shape == ShapeSphere && p.DistanceTo(p0) > float64(r) {
					continue
				}
				out[p] = struct{}{}
			}
		}
	}
}

// Update пересчитывает список по позициям игроков.
// added - новые блоки, которым нужны ABM; extraAdded - блоки, нужные только
// для видимости объектов; removed - блоки, вышедшие из обоих радиусов.
func (l *ActiveBlockList) Update(players []ActivePlayer, activeBlockRange, activeObjectRange int) (removed, added, extraAdded BlockSet) {
	newlist := make(BlockSet, len(l.list))
	for p := range l.forceloaded {
		newlist[p] = struct{}{}
	}
	extralist := make(BlockSet)

	for _, pl := range players {
		pos := vec.ObjectBlockPos(pl.Pos)
		fillRadius(pos, activeBlockRange, newlist, l.shape)

		aoRange := activeObjectRange
		if pl.WantedRange < aoRange {
			aoRange = pl.WantedRange
		}
		if aoRange > activeBlockRange {
			if pl.Fov > 0 && pl.Dir != (vec.V3f{}) {
				fillViewCone(pos, aoRange, pl.Eye, pl.Dir, pl.Fov, extralist)
			} else {
				fillRadius(pos, aoRange, extralist, ShapeCube)
			}
		}
	}

	l.abmList = make(BlockSet, len(newlist))
	for p := range newlist {
		l.abmList[p] = struct{}{}
	}

	added = make(BlockSet)
	for p := range newlist {
		if !l.list.Contains(p) {
			added[p] = struct{}{}
		}
	}

	extraAdded = make(BlockSet)
	for p := range extralist {
		if newlist.Contains(p) {
			continue
		}
		if !l.list.Contains(p) {
			extraAdded[p] = struct{}{}
		}
		newlist[p] = struct{}{}
	}

	removed = make(BlockSet)
	for p := range l.list {
		if !newlist.Contains(p) {
			removed[p] = struct{}{}
		}
	}

	l.list = newlist
	return removed, added, extraAdded
}

// Contains сообщает, активен ли блок
func (l *ActiveBlockList) Contains(p vec.Vec3) bool { return l.list.Contains(p) }

// Size возвращает число активных блоков
func (l *ActiveBlockList) Size() int { return len(l.list) }

// List возвращает все активные блоки
func (l *ActiveBlockList) List() []vec.Vec3 { return l.list.Sorted() }

// ABMList возвращает блоки, на которых запускаются ABM
func (l *ActiveBlockList) ABMList() []vec.Vec3 { return l.abmList.Sorted() }

// Add добавляет блок вне цикла Update. Возвращает false, если он уже активен.
func (l *ActiveBlockList) Add(p vec.Vec3) bool {
	if l.list.Contains(p) {
		return false
	}
	l.list[p] = struct{}{}
	l.abmList[p] = struct{}{}
	return true
}

// Remove убирает блок из списка
func (l *ActiveBlockList) Remove(p vec.Vec3) {
	delete(l.list, p)
	delete(l.abmList, p)
}

// AddForced делает блок постоянно активным. Возвращает false, если он уже был таким.
func (l *ActiveBlockList) AddForced(p vec.Vec3) bool {
	if l.forceloaded.Contains(p) {
		return false
	}
	l.forceloaded[p] = struct{}{}
	return true
}

// RemoveForced снимает постоянную активность; блок уйдет на следующем Update
func (l *ActiveBlockList) RemoveForced(p vec.Vec3) {
	delete(l.forceloaded, p)
}

// Forced возвращает постоянно активные блоки
func (l *ActiveBlockList) Forced() []vec.Vec3 { return l.forceloaded.Sorted() }
