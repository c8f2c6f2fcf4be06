// Package collision перемещает ось-ориентированные боксы через воксельную сетку.
// Столкновения разрешаются по одной оси за раз, с подъемом на ступеньки и отскоком.
package collision

import (
	"math"
	"time"

	"github.com/freeminer/freeminer-sub007/internal/diagnostics"
	"github.com/freeminer/freeminer-sub007/internal/logging"
	"github.com/freeminer/freeminer-sub007/internal/vec"
	"github.com/freeminer/freeminer-sub007/internal/voxel"
	"github.com/freeminer/freeminer-sub007/internal/world/object"
)

const (
	// DTimeLimit - максимальный шаг времени одного вызова MoveSimple
	DTimeLimit = 2.0

	maxSpeed         = 5000.0
	speedTruncFactor = 10000.0
	maxLoops         = 100

	// collZero - допуск на ошибку float при касании граней (10 - 9.96875)
	collZero = 0.032
	// groundTolerance - насколько близко к верху кандидата должен быть низ бокса
	groundTolerance = 0.15 * vec.BS
	// bounceThreshold - медленнее этого удар гасит скорость вместо отскока
	bounceThreshold = 3 * vec.BS
	// objectSearchMargin добавляется к радиусу поиска объектов
	objectSearchMargin = 1.5 * vec.BS
	// intersectionEpsilon - на сколько бокс сжимается в CheckIntersection
	intersectionEpsilon = 0.001
)

// Axis - ось столкновения
type Axis int8

const (
	AxisNone Axis = iota - 1
	AxisX
	AxisY
	AxisZ
)

func (a Axis) String() string {
	switch a {
	case AxisX:
		return "x"
	case AxisY:
		return "y"
	case AxisZ:
		return "z"
	default:
		return "none"
	}
}

// Type - с чем произошло столкновение
type Type uint8

const (
	TypeNode Type = iota
	TypeObject
)

// Info описывает одно столкновение за шаг
type Info struct {
	Type     Type
	Axis     Axis
	NodePos  vec.Vec3 // для TypeNode
	ObjectID uint16   // для TypeObject
	NewPos   vec.V3f
	OldSpeed vec.V3f
	NewSpeed vec.V3f
}

// Result - итог перемещения
type Result struct {
	Collides         bool
	TouchingGround   bool
	StandingOnObject bool
	Collisions       []Info
}

// Env - окружение, в котором движется бокс
type Env interface {
	Map() *voxel.Map
	// ObjectManager может вернуть nil, тогда объекты не учитываются
	ObjectManager() *object.Manager
	Diagnostics() *diagnostics.Diagnostics
}

var problemLog = logging.NewRateLimited(logging.GetCollisionLogger(), 10*time.Second, 1)

// MoveSimple перемещает бокс box (относительно pos) на dtime секунд.
// pos и speed обновляются на месте. stepHeight и posMaxD в мировых единицах.
func MoveSimple(env Env, posMaxD float64, box vec.Box, stepHeight, dtime float64,
	pos, speed *vec.V3f, accel vec.V3f, self object.ActiveObject, collideWithObjects bool) Result {

	var result Result
	diag := env.Diagnostics()

	if dtime > DTimeLimit {
		problemLog.Warn("MoveSimple: maximum step interval exceeded (%.3f > %.1f), lost movement details",
			dtime, DTimeLimit)
		diag.SetCollisionProblems()
		diag.DTimeClamped()
		dtime = DTimeLimit
	}

	// Трапециевидное интегрирование
	dpos := speed.Add(accel.Mul(dtime / 2)).Mul(dtime)
	*speed = speed.Add(accel.Mul(dtime))
	if dpos == (vec.V3f{}) {
		return result
	}

	for i := 0; i < 3; i++ {
		v := math.Max(-maxSpeed, math.Min(maxSpeed, speed[i]))
		speed[i] = math.Floor(v*speedTruncFactor) / speedTruncFactor
	}

	sc := getScratch()
	defer putScratch(sc)

	newpos := pos.Add(dpos)
	minp := vec.FloatToInt(minVec(*pos, newpos).Add(box.Min), vec.BS).Sub(vec.New3(1, 1, 1))
	maxp := vec.FloatToInt(maxVec(*pos, newpos).Add(box.Max), vec.BS).Add(vec.New3(1, 1, 1))

	if !sc.collectNodes(env.Map(), minp, maxp) {
		// Вокруг нет ни одной загруженной ноды - не двигаемся в неизвестность
		*speed = vec.V3f{}
		return result
	}

	if collideWithObjects {
		ext := box.Extent()
		radius := speed.Len()*dtime + ext.Len() + objectSearchMargin
		sc.collectObjects(env.ObjectManager(), *pos, radius, self)
	}

	cands := sc.cands
	sc.boxes = sc.boxes[:0]
	for i := range cands {
		sc.boxes = append(sc.boxes, cands[i].box)
	}
	d := posMaxD * 1.1

	for loops := 0; dtime > vec.BS*1e-10; loops++ {
		if loops >= maxLoops {
			problemLog.Warn("MoveSimple: loop count exceeded at (%.1f,%.1f,%.1f), aborting",
				pos.X(), pos.Y(), pos.Z())
			diag.SetCollisionProblems()
			diag.LoopLimitExceeded()
			break
		}

		moving := box.Translate(*pos)

		nearestAxis := AxisNone
		nearestDtime := dtime
		nearest := -1

		for i := range cands {
			if cands[i].stepUp {
				continue
			}
			t := 0.0
			axis := AxisAlignedCollision(cands[i].box, moving, *speed, d, &t)
			if axis == AxisNone || t >= nearestDtime {
				continue
			}
			nearestDtime = t
			nearestAxis = axis
			nearest = i
		}

		if nearest == -1 {
			*pos = pos.Add(speed.Mul(dtime))
			break
		}

		c := &cands[nearest]
		cbox := c.box

		stepUp := nearestAxis != AxisY &&
			moving.Min.Y() < cbox.Max.Y() &&
			moving.Min.Y()+stepHeight > cbox.Max.Y() &&
			!WouldCollideWithCeiling(sc.boxes, moving, cbox.Max.Y()-moving.Min.Y(), d)

		if nearestDtime < 0 {
			// Отрицательное время дает допуск d: двигаемся только по оси удара
			if !stepUp {
				pos[nearestAxis] += speed[nearestAxis] * nearestDtime
			}
		} else {
			*pos = pos.Add(speed.Mul(nearestDtime))
			dtime -= nearestDtime
		}

		info := Info{
			Type:     TypeNode,
			Axis:     nearestAxis,
			NodePos:  c.nodePos,
			OldSpeed: *speed,
		}
		if c.isObject {
			info.Type = TypeObject
			info.ObjectID = c.objectID
		}

		if stepUp {
			c.stepUp = true
		} else {
			bounce := -float64(c.bouncy) / 100
			if math.Abs(speed[nearestAxis]) > bounceThreshold && c.bouncy != 0 {
				speed[nearestAxis] *= bounce
			} else {
				speed[nearestAxis] = 0
			}
			result.Collides = true
		}

		info.NewPos = *pos
		info.NewSpeed = *speed
		if !stepUp && !c.unloaded {
			result.Collisions = append(result.Collisions, info)
		}
	}

	// Финальный проход: касание земли и подъем на ступеньку
	moved := box.Translate(*pos)
	for i := range cands {
		cbox := cands[i].box
		if !(cbox.Max.X()-d > moved.Min.X() && cbox.Min.X()+d < moved.Max.X() &&
			cbox.Max.Z()-d > moved.Min.Z() && cbox.Min.Z()+d < moved.Max.Z()) {
			continue
		}
		if cands[i].stepUp {
			pos[1] += cbox.Max.Y() - moved.Min.Y()
			moved = box.Translate(*pos)
		}
		if math.Abs(cbox.Max.Y()-moved.Min.Y()) < groundTolerance {
			result.TouchingGround = true
			if cands[i].isObject {
				result.StandingOnObject = true
			}
		}
	}

	return result
}

// CheckIntersection проверяет, пересекается ли бокс в позиции pos с препятствиями.
// Касание гранями пересечением не считается.
func CheckIntersection(env Env, box vec.Box, pos vec.V3f, self object.ActiveObject, collideWithObjects bool) bool {
	check := box.Shrink(intersectionEpsilon).Translate(pos)

	sc := getScratch()
	defer putScratch(sc)

	minp := vec.FloatToInt(check.Min, vec.BS).Sub(vec.New3(1, 1, 1))
	maxp := vec.FloatToInt(check.Max, vec.BS).Add(vec.New3(1, 1, 1))
	sc.collectNodes(env.Map(), minp, maxp)

	if collideWithObjects {
		sc.collectObjects(env.ObjectManager(), pos, box.Extent().Len()+objectSearchMargin, self)
	}

	for i := range sc.cands {
		if sc.cands[i].box.Intersects(check) {
			return true
		}
	}
	return false
}

// AxisAlignedCollision ищет столкновение движущегося бокса со статическим.
// Возвращает ось и записывает в dtime время до удара; AxisNone - столкновения нет.
// d - допуск, в пределах которого уже пройденная грань еще считается препятствием.
func AxisAlignedCollision(static, moving vec.Box, speed vec.V3f, d float64, dtime *float64) Axis {
	size := static.Extent()
	rel := vec.Box{Min: moving.Min.Sub(static.Min), Max: moving.Max.Sub(static.Min)}

	// Явно расходящиеся боксы
	for i := 0; i < 3; i++ {
		if (speed[i] >= 0 && rel.Min[i] > size[i]) || (speed[i] <= 0 && rel.Max[i] < 0) {
			return AxisNone
		}
	}

	for axis := AxisX; axis <= AxisZ; axis++ {
		i := int(axis)
		j, k := (i+1)%3, (i+2)%3

		var t float64
		switch {
		case speed[i] > 0:
			// Плоскость min статического бокса
			if rel.Max[i] > d {
				continue
			}
			t = -rel.Max[i] / speed[i]
		case speed[i] < 0:
			// Плоскость max статического бокса
			if rel.Min[i] < size[i]-d {
				continue
			}
			t = (size[i] - rel.Min[i]) / speed[i]
		default:
			continue
		}

		if rel.Min[j]+speed[j]*t < size[j] &&
			rel.Max[j]+speed[j]*t > collZero &&
			rel.Min[k]+speed[k]*t < size[k] &&
			rel.Max[k]+speed[k]*t > collZero {
			*dtime = t
			return axis
		}
	}
	return AxisNone
}

// WouldCollideWithCeiling проверяет, упрется ли бокс в потолок при подъеме на yIncrease
func WouldCollideWithCeiling(boxes []vec.Box, moving vec.Box, yIncrease, d float64) bool {
	for _, s := range boxes {
		if moving.Max.Y()-d <= s.Min.Y() &&
			moving.Max.Y()+yIncrease > s.Min.Y() &&
			moving.Min.X() < s.Max.X() &&
			moving.Max.X() > s.Min.X() &&
			moving.Min.Z() < s.Max.Z() &&
			moving.Max.Z() > s.Min.Z() {
			return true
		}
	}
	return false
}

func minVec(a, b vec.V3f) vec.V3f {
	return vec.V3f{math.Min(a[0], b[0]), math.Min(a[1], b[1]), math.Min(a[2], b[2])}
}

func maxVec(a, b vec.V3f) vec.V3f {
	return vec.V3f{math.Max(a[0], b[0]), math.Max(a[1], b[1]), math.Max(a[2], b[2])}
}
