package collision

import (
	"sync"

	"github.com/freeminer/freeminer-sub007/internal/vec"
	"github.com/freeminer/freeminer-sub007/internal/voxel"
	"github.com/freeminer/freeminer-sub007/internal/world/object"
)

type nodeArray = [voxel.NodesPerBlock]voxel.Node

// candidate - препятствие для одного вызова MoveSimple
type candidate struct {
	box      vec.Box
	bouncy   int
	unloaded bool
	stepUp   bool
	isObject bool
	objectID uint16
	nodePos  vec.Vec3
}

// scratch - переиспользуемые буферы вызова: снимки блоков и кандидаты.
// Lock'и блоков берутся только на время копирования.
type scratch struct {
	blocks map[vec.Vec3]*nodeArray // nil - блок не загружен
	free   []*nodeArray
	used   []*nodeArray
	cands  []candidate
	boxes  []vec.Box
}

var scratchPool = sync.Pool{
	New: func() interface{} {
		return &scratch{blocks: make(map[vec.Vec3]*nodeArray)}
	},
}

func getScratch() *scratch {
	return scratchPool.Get().(*scratch)
}

func putScratch(sc *scratch) {
	for k := range sc.blocks {
		delete(sc.blocks, k)
	}
	sc.free = append(sc.free, sc.used...)
	sc.used = sc.used[:0]
	sc.cands = sc.cands[:0]
	sc.boxes = sc.boxes[:0]
	scratchPool.Put(sc)
}

// node читает ноду из снимка блока, снимая его при первом обращении
func (sc *scratch) node(m *voxel.Map, p vec.Vec3) (voxel.Node, bool) {
	bp := vec.NodeBlockPos(p)
	arr, seen := sc.blocks[bp]
	if !seen {
		if b := m.GetBlock(bp); b != nil && !b.IsOrphan() {
			if n := len(sc.free); n > 0 {
				arr = sc.free[n-1]
				sc.free = sc.free[:n-1]
			} else {
				arr = new(nodeArray)
			}
			b.CopyNodes(arr)
			sc.used = append(sc.used, arr)
		}
		sc.blocks[bp] = arr
	}
	if arr == nil {
		return voxel.Node{Content: voxel.ContentIgnore}, false
	}
	return arr[voxel.NodeIndex(vec.NodeInBlock(p))], true
}

// collectNodes добавляет боксы проходимых нод и заглушки незагруженных позиций.
// Возвращает false, если в области нет ни одной загруженной позиции.
func (sc *scratch) collectNodes(m *voxel.Map, minp, maxp vec.Vec3) bool {
	ndef := m.NodeDefs()
	anyValid := false
	for x := minp.X; x <= maxp.X; x++ {
		for y := minp.Y; y <= maxp.Y; y++ {
			for z := minp.Z; z <= maxp.Z; z++ {
				p := vec.Vec3{X: x, Y: y, Z: z}
				n, ok := sc.node(m, p)
				if !ok {
					sc.cands = append(sc.cands, candidate{box: vec.NodeBox(p), unloaded: true, nodePos: p})
					continue
				}
				anyValid = true

				f := ndef.Get(n.Content)
				if !f.Walkable {
					continue
				}
				bouncy := f.Group("bouncy")
				center := vec.IntToFloat(p, vec.BS)
				for _, b := range ndef.CollisionBoxes(n) {
					sc.cands = append(sc.cands, candidate{
						box:     b.Translate(center),
						bouncy:  bouncy,
						nodePos: p,
					})
				}
			}
		}
	}
	return anyValid
}

// collectObjects добавляет боксы объектов вокруг pos, кроме self и его цепочки прикреплений
func (sc *scratch) collectObjects(om *object.Manager, pos vec.V3f, radius float64, self object.ActiveObject) {
	if om == nil {
		return
	}
	var selfID uint16
	var chain map[uint16]struct{}
	if self != nil {
		selfID = self.ID()
		chain = om.AttachmentChain(selfID)
	}

	objs := om.GetObjectsInsideRadius(pos, radius, func(obj object.ActiveObject) bool {
		if obj.IsGone() || (self != nil && obj.ID() == selfID) {
			return false
		}
		_, attached := chain[obj.ID()]
		return !attached
	})
	for _, obj := range objs {
		box, ok := obj.CollisionBox()
		if !ok || !obj.CollideWithObjects() {
			continue
		}
		sc.cands = append(sc.cands, candidate{
			box:      box.Translate(obj.BasePosition()),
			isObject: true,
			objectID: obj.ID(),
		})
	}
}
