// Package modifier запускает правила над нодами активных блоков.
//
// ABM срабатывают периодически по таймеру и шансу, LBM - один раз при
// загрузке блока, если правило появилось в мире позже последней активации блока.
package modifier

import (
	"math"
	"math/rand"
	"sort"

	"github.com/freeminer/freeminer-sub007/internal/diagnostics"
	"github.com/freeminer/freeminer-sub007/internal/vec"
	"github.com/freeminer/freeminer-sub007/internal/voxel"
)

const (
	minTriggerInterval = 0.001
	maxTimerSpread     = 60
	timerSpreadFactor  = 0.51
)

// Environment - то, что движку правил нужно от окружения
type Environment interface {
	Map() *voxel.Map
	Rand() *rand.Rand
	Diagnostics() *diagnostics.Diagnostics
	// AddedObjects - сколько объектов добавлено с последнего ResetAddedObjects
	AddedObjects() int
	ResetAddedObjects()
}

// ABM - правило, периодически срабатывающее на ноды активных блоков
type ABM interface {
	TriggerContents() []string
	RequiredNeighbors() []string
	WithoutNeighbors() []string
	TriggerInterval() float64
	TriggerChance() int
	SimpleCatchUp() bool
	MinY() int
	MaxY() int
	Trigger(env Environment, p vec.Vec3, n voxel.Node, activeObjectCount, activeObjectCountWider int)
}

// ABMDef - ABM, заданное данными и функцией
type ABMDef struct {
	Name      string
	Nodenames []string
	Neighbors []string
	Without   []string
	Interval  float64
	Chance    int
	CatchUp   bool
	// MinYSet/MaxYSet ограничивают мировую высоту; nil - без ограничения
	MinYSet *int
	MaxYSet *int
	Action  func(env Environment, p vec.Vec3, n voxel.Node, activeObjectCount, activeObjectCountWider int)
}

func (d *ABMDef) TriggerContents() []string   { return d.Nodenames }
func (d *ABMDef) RequiredNeighbors() []string { return d.Neighbors }
func (d *ABMDef) WithoutNeighbors() []string  { return d.Without }
func (d *ABMDef) TriggerInterval() float64    { return d.Interval }
func (d *ABMDef) TriggerChance() int          { return d.Chance }
func (d *ABMDef) SimpleCatchUp() bool         { return d.CatchUp }

func (d *ABMDef) MinY() int {
	if d.MinYSet == nil {
		return math.MinInt32
	}
	return *d.MinYSet
}

func (d *ABMDef) MaxY() int {
	if d.MaxYSet == nil {
		return math.MaxInt32
	}
	return *d.MaxYSet
}

func (d *ABMDef) Trigger(env Environment, p vec.Vec3, n voxel.Node, activeObjectCount, activeObjectCountWider int) {
	if d.Action != nil {
		d.Action(env, p, n, activeObjectCount, activeObjectCountWider)
	}
}

// ABMWithState - правило вместе с его таймером
type ABMWithState struct {
	ABM   ABM
	Timer float64
}

// NewABMWithState создает состояние со случайным начальным таймером,
// чтобы правила с одинаковым интервалом не срабатывали в один тик
func NewABMWithState(abm ABM, rnd *rand.Rand) *ABMWithState {
	itv := math.Max(minTriggerInterval, abm.TriggerInterval())
	minval := int(math.Max(-timerSpreadFactor*itv, -maxTimerSpread))
	maxval := int(math.Min(timerSpreadFactor*itv, maxTimerSpread))
	timer := minval
	if maxval > minval {
		timer += rnd.Intn(maxval - minval + 1)
	}
	return &ABMWithState{ABM: abm, Timer: float64(timer)}
}

// activeABM - правило, готовое к запуску в этом цикле
type activeABM struct {
	abm      ABM
	required []voxel.Content
	without  []voxel.Content
	chance   int
	minY     int
	maxY     int
}

// Stats - счетчики одного прохода ABM
type Stats struct {
	BlocksScanned int
	BlocksCached  int
	ABMsRun       int
}

// ABMHandler - правила, созревшие в этом цикле, проиндексированные по типу ноды
type ABMHandler struct {
	env   Environment
	byID  [][]activeABM
	empty bool
}

// NewABMHandler продвигает таймеры правил и собирает созревшие.
// Без useTimers каждое правило считается созревшим за dtime.
func NewABMHandler(abms []*ABMWithState, dtime float64, env Environment, useTimers bool) *ABMHandler {
	h := &ABMHandler{env: env, empty: true}
	if dtime < minTriggerInterval {
		return h
	}
	ndef := env.Map().NodeDefs()

	for _, st := range abms {
		abm := st.ABM
		itv := math.Max(minTriggerInterval, abm.TriggerInterval())
		actual := dtime
		if useTimers {
			st.Timer += dtime
			if st.Timer < itv {
				continue
			}
			st.Timer -= itv
			actual = itv
		}

		chance := abm.TriggerChance()
		if chance == 0 {
			chance = 1
		}
		aabm := activeABM{
			abm:    abm,
			chance: chance,
			minY:   abm.MinY(),
			maxY:   abm.MaxY(),
		}
		if abm.SimpleCatchUp() {
			intervals := actual / itv
			if intervals == 0 {
				continue
			}
			aabm.chance = int(float64(chance) / intervals)
			if aabm.chance == 0 {
				aabm.chance = 1
			}
		}

		aabm.required = resolveIDs(ndef, abm.RequiredNeighbors())
		aabm.without = resolveIDs(ndef, abm.WithoutNeighbors())

		for _, c := range resolveIDs(ndef, abm.TriggerContents()) {
			if int(c) >= len(h.byID) {
				grown := make([][]activeABM, int(c)+256)
				copy(grown, h.byID)
				h.byID = grown
			}
			h.byID[c] = append(h.byID[c], aabm)
			h.empty = false
		}
	}
	return h
}

// resolveIDs переводит имена и группы в отсортированный список без повторов
func resolveIDs(ndef *voxel.NodeDefManager, names []string) []voxel.Content {
	var ids []voxel.Content
	for _, name := range names {
		ids, _ = ndef.GetIDs(name, ids)
	}
	if len(ids) == 0 {
		return nil
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := ids[:1]
	for _, c := range ids[1:] {
		if c != out[len(out)-1] {
			out = append(out, c)
		}
	}
	return out
}

func containsID(ids []voxel.Content, c voxel.Content) bool {
	i := sort.Search(len(ids), func(i int) bool { return ids[i] >= c })
	return i < len(ids) && ids[i] == c
}

func (h *ABMHandler) rulesFor(c voxel.Content) []activeABM {
	if int(c) >= len(h.byID) {
		return nil
	}
	return h.byID[c]
}

// Empty сообщает, что в этом цикле нечего запускать
func (h *ABMHandler) Empty() bool { return h.empty }

// CountObjects возвращает число активных объектов блока и оценку числа
// объектов в кубе 3x3x3 вокруг него. Незагруженные соседи экстраполируются
// средним по загруженным.
func CountObjects(block *voxel.Block, m *voxel.Map) (active, wider int) {
	unknown := 0
	for x := -1; x <= 1; x++ {
		for y := -1; y <= 1; y++ {
			for z := -1; z <= 1; z++ {
				b2 := m.GetBlock(block.Pos().Add(vec.New3(x, y, z)))
				if b2 == nil {
					unknown++
					continue
				}
				wider += b2.StaticObjects.Size()
			}
		}
	}
	if known := 27 - unknown; known > 0 {
		wider += unknown * wider / known
	}
	return block.StaticObjects.ActiveSize(), wider
}

// Apply проходит по нодам блока и запускает подходящие правила.
// Блок, захваченный на запись, пропускается до следующего цикла.
func (h *ABMHandler) Apply(block *voxel.Block, stats *Stats) {
	if h.empty || block.Busy() {
		return
	}

	if cached, ok := block.CachedContents(); ok {
		stats.BlocksCached++
		run := false
		for _, c := range cached {
			if len(h.rulesFor(c)) > 0 {
				run = true
				break
			}
		}
		if !run {
			return
		}
	}
	stats.BlocksScanned++

	m := h.env.Map()
	activeCount, wider := CountObjects(block, m)
	h.env.ResetAddedObjects()

	wantCache, cacheGen := block.WantsContentCache()
	var contents []voxel.Content
	seen := make(map[voxel.Content]struct{}, voxel.ContentCacheMax)
	posRel := block.PosRelative()
	rnd := h.env.Rand()

	for z := 0; z < vec.BlockSize; z++ {
		for y := 0; y < vec.BlockSize; y++ {
			for x := 0; x < vec.BlockSize; x++ {
				p0 := vec.New3(x, y, z)
				n := block.GetNodeNoCheck(p0)
				c := n.Content

				if wantCache {
					if _, ok := seen[c]; !ok {
						if len(contents) >= voxel.ContentCacheMax {
							wantCache = false
							contents = nil
							block.DisableContentCache()
							h.env.Diagnostics().ContentCacheDrop()
						} else {
							seen[c] = struct{}{}
							contents = append(contents, c)
						}
					}
				}

				rules := h.rulesFor(c)
				if len(rules) == 0 {
					continue
				}

				p := p0.Add(posRel)
				for i := range rules {
					aabm := &rules[i]
					if p.Y < aabm.minY || p.Y > aabm.maxY {
						continue
					}
					if rnd.Intn(aabm.chance) != 0 {
						continue
					}
					if !h.neighborsMatch(block, m, p0, aabm) {
						continue
					}

					stats.ABMsRun++
					aabm.abm.Trigger(h.env, p, n, activeCount, wider)

					if block.IsOrphan() {
						return
					}

					if h.env.AddedObjects() > 0 {
						activeCount, wider = CountObjects(block, m)
						h.env.ResetAddedObjects()
					}

					n = block.GetNodeNoCheck(p0)
					if n.Content != c {
						break
					}
				}
			}
		}
	}

	if wantCache {
		block.StoreContentCache(contents, cacheGen)
	}
}

// neighborsMatch проверяет 26 соседей: нужен хотя бы один из required
// и ни одного из without. Соседи за границей блока читаются из карты.
func (h *ABMHandler) neighborsMatch(block *voxel.Block, m *voxel.Map, p0 vec.Vec3, aabm *activeABM) bool {
	checkRequired := len(aabm.required) > 0
	checkWithout := len(aabm.without) > 0
	if !checkRequired && !checkWithout {
		return true
	}

	haveRequired := false
	posRel := block.PosRelative()
	for x := p0.X - 1; x <= p0.X+1; x++ {
		for y := p0.Y - 1; y <= p0.Y+1; y++ {
			for z := p0.Z - 1; z <= p0.Z+1; z++ {
				p1 := vec.New3(x, y, z)
				if p1 == p0 {
					continue
				}
				var c voxel.Content
				if voxel.IsValidPosition(p1) {
					c = block.GetNodeNoCheck(p1).Content
				} else {
					n, _ := m.GetNode(p1.Add(posRel))
					c = n.Content
				}

				if checkRequired && !haveRequired && containsID(aabm.required, c) {
					if !checkWithout {
						return true
					}
					haveRequired = true
				}
				if checkWithout && containsID(aabm.without, c) {
					return false
				}
			}
		}
	}
	return haveRequired || !checkRequired
}
