package object

import (
	"sort"
	"sync"
	"time"

	"github.com/freeminer/freeminer-sub007/internal/logging"
	"github.com/freeminer/freeminer-sub007/internal/vec"
)

const (
	// maxAddedPerBatch - сколько новых объектов отдается игроку за раз, если он уже что-то знает
	maxAddedPerBatch = 10
	// maxParentDepth ограничивает обход цепочки прикреплений
	maxParentDepth = 64
)

// Manager владеет активными объектами окружения.
// Все операции потокобезопасны; обратные вызовы Step и ClearIf выполняются без удержания lock'а.
type Manager struct {
	mu         sync.RWMutex
	objects    map[uint16]ActiveObject
	lastUsedID uint16

	logger *logging.Logger
	warn   *logging.RateLimited
}

// NewManager создает пустой менеджер объектов
func NewManager() *Manager {
	logger := logging.GetObjectLogger()
	return &Manager{
		objects: make(map[uint16]ActiveObject),
		logger:  logger,
		warn:    logging.NewRateLimited(logger, time.Second, 5),
	}
}

// GetActiveObject возвращает объект по id или nil
func (m *Manager) GetActiveObject(id uint16) ActiveObject {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.objects[id]
}

// Count возвращает число объектов
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

// IDs возвращает отсортированные id всех объектов
func (m *Manager) IDs() []uint16 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sortedIDsLocked()
}

func (m *Manager) sortedIDsLocked() []uint16 {
	ids := make([]uint16, 0, len(m.objects))
	for id := range m.objects {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Snapshot возвращает объекты, отсортированные по id
func (m *Manager) Snapshot() []ActiveObject {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ActiveObject, 0, len(m.objects))
	for _, id := range m.sortedIDsLocked() {
		out = append(out, m.objects[id])
	}
	return out
}

func (m *Manager) isFreeIDLocked(id uint16) bool {
	if id == 0 {
		return false
	}
	_, taken := m.objects[id]
	return !taken
}

// getFreeIDLocked ищет свободный id по кругу от последнего выданного; 0 - свободных нет
func (m *Manager) getFreeIDLocked() uint16 {
	newID := m.lastUsedID
	for {
		newID++
		if m.isFreeIDLocked(newID) {
			m.lastUsedID = newID
			return newID
		}
		if newID == m.lastUsedID {
			return 0
		}
	}
}

// RegisterObject добавляет объект. Объекту без id выдается свободный id.
// Возвращает false, если id занят, свободных id нет или позиция за пределами мира.
func (m *Manager) RegisterObject(obj ActiveObject) bool {
	if obj == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	// Позиция проверяется до выдачи id: отклоненный объект не тратит id
	pos := obj.BasePosition()
	if vec.ObjectPosOverLimit(pos) {
		m.warn.Warn("RegisterObject: object %s position (%.1f,%.1f,%.1f) is outside the map limits",
			obj.Type(), pos.X(), pos.Y(), pos.Z())
		return false
	}

	id := obj.ID()
	if id == 0 {
		id = m.getFreeIDLocked()
		if id == 0 {
			m.logger.Error("RegisterObject: no free id available")
			return false
		}
		obj.SetID(id)
	} else if !m.isFreeIDLocked(id) {
		m.logger.Error("RegisterObject: id %d is not free", id)
		return false
	}

	m.objects[id] = obj
	m.logger.Trace("RegisterObject: added id=%d type=%s", id, obj.Type())
	return true
}

// RemoveObject убирает объект из менеджера и помечает его к удалению.
// Повторный вызов для того же id безопасен.
func (m *Manager) RemoveObject(id uint16) {
	m.mu.Lock()
	obj, ok := m.objects[id]
	if ok {
		delete(m.objects, id)
	}
	m.mu.Unlock()

	if !ok {
		m.logger.Info("RemoveObject: id=%d not found", id)
		return
	}
	obj.MarkForRemoval()
}

// Clear удаляет все объекты
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, obj := range m.objects {
		obj.MarkForRemoval()
	}
	m.objects = make(map[uint16]ActiveObject)
}

// GetObjectsInsideRadius возвращает объекты, чья базовая позиция не дальше radius от pos.
// filter может быть nil.
func (m *Manager) GetObjectsInsideRadius(pos vec.V3f, radius float64, filter func(ActiveObject) bool) []ActiveObject {
	r2 := radius * radius
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ActiveObject
	for _, obj := range m.objects {
		if obj.BasePosition().Sub(pos).LenSqr() > r2 {
			continue
		}
		if filter == nil || filter(obj) {
			result = append(result, obj)
		}
	}
	return result
}

// GetObjectsInArea возвращает объекты, чья базовая позиция лежит в box
func (m *Manager) GetObjectsInArea(box vec.Box, filter func(ActiveObject) bool) []ActiveObject {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ActiveObject
	for _, obj := range m.objects {
		if !box.IsPointInside(obj.BasePosition()) {
			continue
		}
		if filter == nil || filter(obj) {
			result = append(result, obj)
		}
	}
	return result
}

// GetAddedActiveObjectsAroundPos возвращает id объектов, которые игрок должен начать видеть.
// Для игроков используется playerRadius (0 - без ограничения), для остальных radius.
// Если known не пуст, за один вызов отдается не больше maxAddedPerBatch объектов.
func (m *Manager) GetAddedActiveObjectsAroundPos(playerPos vec.V3f, playerName string,
	radius, playerRadius float64, known map[uint16]struct{}) []uint16 {

	m.mu.RLock()
	defer m.mu.RUnlock()

	var added []uint16
	for _, id := range m.sortedIDsLocked() {
		obj := m.objects[id]
		if obj.IsGone() {
			continue
		}

		dist := obj.BasePosition().Sub(playerPos).Len()
		if obj.Type() == TypePlayer {
			if playerRadius != 0 && dist > playerRadius {
				continue
			}
		} else if dist > radius {
			continue
		}

		if _, ok := known[id]; ok {
			continue
		}
		if !m.effectiveObserversLocked(obj, 0).Contains(playerName) {
			continue
		}

		added = append(added, id)
		if len(known) > 0 && len(added) >= maxAddedPerBatch {
			break
		}
	}
	return added
}

// IsEffectivelyObservedBy проверяет видимость объекта игроку с учетом цепочки родителей
func (m *Manager) IsEffectivelyObservedBy(obj ActiveObject, playerName string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.effectiveObserversLocked(obj, 0).Contains(playerName)
}

// effectiveObserversLocked - пересечение ограничений объекта и всех его предков (с кэшем)
func (m *Manager) effectiveObserversLocked(obj ActiveObject, depth int) *ObserverSet {
	b := obj.base()
	if s, ok := b.cachedEffectiveObservers(); ok {
		return s
	}

	eff := obj.Observers()
	if parentID := obj.ParentID(); parentID != 0 && depth < maxParentDepth {
		if parent, ok := m.objects[parentID]; ok && parent != obj {
			eff = intersect(eff, m.effectiveObserversLocked(parent, depth+1))
		}
	}
	b.setEffectiveObservers(eff)
	return eff
}

// InvalidateActiveObjectObserverCaches сбрасывает кэш видимости всех объектов.
// Вызывается после изменения наблюдателей или прикреплений.
func (m *Manager) InvalidateActiveObjectObserverCaches() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, obj := range m.objects {
		obj.base().invalidateEffectiveObservers()
	}
}

// AttachmentChain возвращает id предков и потомков объекта (сам объект не включается)
func (m *Manager) AttachmentChain(id uint16) map[uint16]struct{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chain := make(map[uint16]struct{})
	cur := id
	for depth := 0; depth < maxParentDepth; depth++ {
		obj, ok := m.objects[cur]
		if !ok {
			break
		}
		parent := obj.ParentID()
		if parent == 0 || parent == id {
			break
		}
		if _, seen := chain[parent]; seen {
			break
		}
		chain[parent] = struct{}{}
		cur = parent
	}

	// Потомки: объекты, у которых id встречается среди предков
	for oid, obj := range m.objects {
		if oid == id {
			continue
		}
		p := obj.ParentID()
		for depth := 0; p != 0 && depth < maxParentDepth; depth++ {
			if p == id {
				chain[oid] = struct{}{}
				break
			}
			parent, ok := m.objects[p]
			if !ok {
				break
			}
			p = parent.ParentID()
		}
	}
	return chain
}

// Step вызывает fn для снимка объектов. fn может регистрировать и удалять объекты.
func (m *Manager) Step(dtime float64, fn func(obj ActiveObject)) {
	for _, obj := range m.Snapshot() {
		fn(obj)
	}
}

// ClearIf удаляет объекты, для которых fn вернула true.
// При занятом lock'е проход пропускается и возвращается false.
func (m *Manager) ClearIf(fn func(obj ActiveObject, id uint16) bool) bool {
	if !m.mu.TryLock() {
		return false
	}
	snapshot := make(map[uint16]ActiveObject, len(m.objects))
	for id, obj := range m.objects {
		snapshot[id] = obj
	}
	m.mu.Unlock()

	var doomed []uint16
	for id, obj := range snapshot {
		if fn(obj, id) {
			doomed = append(doomed, id)
		}
	}
	if len(doomed) == 0 {
		return true
	}

	m.mu.Lock()
	for _, id := range doomed {
		if m.objects[id] == snapshot[id] {
			delete(m.objects, id)
		}
	}
	m.mu.Unlock()
	return true
}
