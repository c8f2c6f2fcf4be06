package modifier

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/freeminer/freeminer-sub007/internal/logging"
	"github.com/freeminer/freeminer-sub007/internal/vec"
	"github.com/freeminer/freeminer-sub007/internal/voxel"
)

// AlwaysRunTime - время введения группы правил, запускаемых при каждой загрузке
const AlwaysRunTime uint32 = math.MaxUint32

var (
	// ErrInvalidLBMName - имя LBM пустое или содержит символы вне [a-z0-9_:]
	ErrInvalidLBMName = errors.New("invalid LBM name")
	// ErrMalformedIntroductionTimes - строка времен введения не разбирается
	ErrMalformedIntroductionTimes = errors.New("malformed LBM introduction times")
	// ErrLBMManagerSealed - после загрузки времен введения правила добавлять нельзя
	ErrLBMManagerSealed = errors.New("LBM manager is already in query mode")
)

// LBMDef - правило, срабатывающее при загрузке блока.
// Trigger получает позиции нод относительно блока; срез действителен только на время вызова.
type LBMDef struct {
	Name            string
	TriggerContents []string
	RunAtEveryLoad  bool
	Trigger         func(env Environment, block *voxel.Block, positions []vec.Vec3, dtimeS float64)
}

// lbmContentMapping - правила одной группы, проиндексированные по типу ноды
type lbmContentMapping struct {
	list      []*LBMDef
	byContent map[voxel.Content][]*LBMDef
}

func newLBMContentMapping() *lbmContentMapping {
	return &lbmContentMapping{byContent: make(map[voxel.Content][]*LBMDef)}
}

func (cm *lbmContentMapping) addLBM(def *LBMDef, ndef *voxel.NodeDefManager) {
	cm.list = append(cm.list, def)

	var ids []voxel.Content
	for _, name := range def.TriggerContents {
		var found bool
		ids, found = ndef.GetIDs(name, ids)
		if found {
			continue
		}
		// Неизвестные имена получают собственный id, чтобы правило сработало,
		// когда такие ноды появятся в загруженных блоках
		c := ndef.AllocateUnknownID(strings.TrimPrefix(name, ":"))
		if c == voxel.ContentIgnore {
			logging.GetModifierLogger().Warn("Could not internalize node name %q while loading LBM %q", name, def.Name)
			continue
		}
		ids = append(ids, c)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for i, c := range ids {
		if i > 0 && ids[i-1] == c {
			continue
		}
		cm.byContent[c] = append(cm.byContent[c], def)
	}
}

func (cm *lbmContentMapping) lookup(c voxel.Content) []*LBMDef {
	return cm.byContent[c]
}

// LBMManager хранит LBM и времена их введения в мир.
// Сначала правила регистрируются через AddLBMDef, затем LoadIntroductionTimes
// переводит менеджер в режим запросов.
type LBMManager struct {
	ndef      *voxel.NodeDefManager
	queryMode bool
	defs      map[string]*LBMDef
	lookup    map[uint32]*lbmContentMapping
	times     []uint32 // ключи lookup по возрастанию
	logger    *logging.Logger
}

// NewLBMManager создает пустой менеджер
func NewLBMManager(ndef *voxel.NodeDefManager) *LBMManager {
	return &LBMManager{
		ndef:   ndef,
		defs:   make(map[string]*LBMDef),
		lookup: make(map[uint32]*lbmContentMapping),
		logger: logging.GetModifierLogger(),
	}
}

func validLBMName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == ':':
		default:
			return false
		}
	}
	return true
}

// AddLBMDef регистрирует правило. Ведущее ":" в имени отбрасывается.
func (lm *LBMManager) AddLBMDef(def *LBMDef) error {
	if lm.queryMode {
		return ErrLBMManagerSealed
	}
	def.Name = strings.TrimPrefix(def.Name, ":")
	if !validLBMName(def.Name) {
		return fmt.Errorf("%w: %q, only characters [a-z0-9_:] are allowed", ErrInvalidLBMName, def.Name)
	}
	lm.defs[def.Name] = def
	return nil
}

// QueryMode сообщает, загружены ли времена введения
func (lm *LBMManager) QueryMode() bool { return lm.queryMode }

func (lm *LBMManager) group(t uint32) *lbmContentMapping {
	cm, ok := lm.lookup[t]
	if !ok {
		cm = newLBMContentMapping()
		lm.lookup[t] = cm
	}
	return cm
}

// LoadIntroductionTimes распределяет правила по группам времени введения.
// Правила, не упомянутые в строке, считаются введенными в момент now;
// правила RunAtEveryLoad попадают в группу AlwaysRunTime.
func (lm *LBMManager) LoadIntroductionTimes(times string, now uint32) error {
	if lm.queryMode {
		return ErrLBMManagerSealed
	}
	introduced, err := ParseIntroductionTimes(times)
	if err != nil {
		return err
	}
	lm.queryMode = true

	names := make([]string, 0, len(introduced))
	for name := range introduced {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		t := introduced[name]
		def, ok := lm.defs[name]
		if !ok {
			lm.logger.Info("LBMManager: LBM %s is not registered. Discarding it.", name)
			continue
		}
		if def.RunAtEveryLoad {
			continue
		}
		if t > now {
			lm.logger.Warn("LBMManager: LBM %s was introduced in the future. Pretending it's new.", name)
			continue
		}
		lm.group(t).addLBM(def, lm.ndef)
		delete(lm.defs, name)
	}

	rest := make([]string, 0, len(lm.defs))
	for name := range lm.defs {
		rest = append(rest, name)
	}
	sort.Strings(rest)

	introducedNow := lm.group(now)
	runningAlways := lm.group(AlwaysRunTime)
	for _, name := range rest {
		def := lm.defs[name]
		if def.RunAtEveryLoad {
			runningAlways.addLBM(def, lm.ndef)
		} else {
			introducedNow.addLBM(def, lm.ndef)
		}
	}
	lm.defs = make(map[string]*LBMDef)

	if len(introducedNow.list) == 0 {
		delete(lm.lookup, now)
	}
	if len(runningAlways.list) == 0 {
		delete(lm.lookup, AlwaysRunTime)
	}

	lm.times = lm.times[:0]
	for t := range lm.lookup {
		lm.times = append(lm.times, t)
	}
	sort.Slice(lm.times, func(i, j int) bool { return lm.times[i] < lm.times[j] })

	lm.logger.Info("LBMManager: %d unique times in lookup table", len(lm.times))
	return nil
}

// ParseIntroductionTimes разбирает строку вида "name~time;name~time;".
// Текст после последней ';' игнорируется.
func ParseIntroductionTimes(times string) (map[string]uint32, error) {
	out := make(map[string]uint32)
	for {
		idx := strings.IndexByte(times, ';')
		if idx < 0 {
			break
		}
		entry := times[:idx]
		times = times[idx+1:]

		parts := strings.Split(entry, "~")
		if len(parts) != 2 {
			return nil, fmt.Errorf("%w: entry %q requires exactly one '~'", ErrMalformedIntroductionTimes, entry)
		}
		if parts[0] == "" {
			return nil, fmt.Errorf("%w: LBM name is empty", ErrMalformedIntroductionTimes)
		}
		t, err := strconv.ParseUint(parts[1], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %q: %v", ErrMalformedIntroductionTimes, entry, err)
		}
		out[strings.TrimPrefix(parts[0], ":")] = uint32(t)
	}
	return out, nil
}

// CreateIntroductionTimesString собирает строку для сохранения в мете окружения.
// Правила RunAtEveryLoad не сохраняются.
func (lm *LBMManager) CreateIntroductionTimesString() string {
	var sb strings.Builder
	for _, t := range lm.times {
		for _, def := range lm.lookup[t].list {
			if def.RunAtEveryLoad {
				continue
			}
			sb.WriteString(def.Name)
			sb.WriteByte('~')
			sb.WriteString(strconv.FormatUint(uint64(t), 10))
			sb.WriteByte(';')
		}
	}
	return sb.String()
}

// lbmBatch - позиции одного типа нод и правила, которые к ним применяются
type lbmBatch struct {
	content   voxel.Content
	positions []vec.Vec3
	seen      map[vec.Vec3]struct{}
	lbms      []*LBMDef
}

func (b *lbmBatch) addLBMs(defs []*LBMDef) {
	for _, d := range defs {
		dup := false
		for _, have := range b.lbms {
			if have == d {
				dup = true
				break
			}
		}
		if !dup {
			b.lbms = append(b.lbms, d)
		}
	}
}

// ApplyLBMs запускает правила, введенные не раньше stamp, на нодах блока.
// Каждое правило вызывается один раз на тип ноды со всеми ее позициями.
// Перед каждым вызовом, кроме самого первого, позиции перепроверяются:
// предыдущие правила могли заменить ноды.
func (lm *LBMManager) ApplyLBMs(env Environment, block *voxel.Block, stamp uint32, dtimeS float64) {
	if !lm.queryMode {
		lm.logger.Error("LBMManager: ApplyLBMs called before introduction times were loaded")
		return
	}

	start := sort.Search(len(lm.times), func(i int) bool { return lm.times[i] >= stamp })
	if start == len(lm.times) {
		return
	}

	var nodes [voxel.NodesPerBlock]voxel.Node
	block.CopyNodes(&nodes)

	var order []*lbmBatch
	batches := make(map[voxel.Content]*lbmBatch)

	for _, t := range lm.times[start:] {
		cm := lm.lookup[t]
		merged := make(map[voxel.Content]bool)
		for z := 0; z < vec.BlockSize; z++ {
			for y := 0; y < vec.BlockSize; y++ {
				for x := 0; x < vec.BlockSize; x++ {
					pos := vec.New3(x, y, z)
					c := nodes[voxel.NodeIndex(pos)].Content
					defs := cm.lookup(c)
					if len(defs) == 0 {
						continue
					}
					batch, ok := batches[c]
					if !ok {
						batch = &lbmBatch{content: c, seen: make(map[vec.Vec3]struct{})}
						batches[c] = batch
						order = append(order, batch)
					}
					if !merged[c] {
						batch.addLBMs(defs)
						merged[c] = true
					}
					if _, ok := batch.seen[pos]; !ok {
						batch.seen[pos] = struct{}{}
						batch.positions = append(batch.positions, pos)
					}
				}
			}
		}
	}

	first := true
	for _, batch := range order {
		lm.logger.Trace("Running %d LBMs for content %d (%dx) in block %s",
			len(batch.lbms), batch.content, len(batch.positions), block.Pos())
		for _, def := range batch.lbms {
			if !first {
				kept := batch.positions[:0]
				for _, p := range batch.positions {
					if block.GetNodeNoCheck(p).Content == batch.content {
						kept = append(kept, p)
					}
				}
				batch.positions = kept
			}
			first = false

			if len(batch.positions) == 0 {
				break
			}
			if def.Trigger != nil {
				def.Trigger(env, block, batch.positions, dtimeS)
			}
			if block.IsOrphan() {
				return
			}
		}
	}
}
