package voxel

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/freeminer/freeminer-sub007/internal/vec"
)

// LiquidType - тип жидкости ноды
type LiquidType uint8

const (
	LiquidNone LiquidType = iota
	LiquidFlowing
	LiquidSource
)

// ContentFeatures - определение типа ноды
type ContentFeatures struct {
	Name     string
	Walkable bool
	Liquid   LiquidType
	// Groups - целочисленные группы ("bouncy", "cracky", ...). Ядро трактует их как непрозрачные ключи.
	Groups map[string]int
	// CollisionBoxes задаются относительно центра ноды в мировых единицах.
	// Пустой список у проходимой ноды означает полный куб.
	CollisionBoxes  []vec.Box
	LightSource     uint8
	LightPropagates bool
}

// Group возвращает значение группы или 0
func (f *ContentFeatures) Group(name string) int {
	if f == nil || f.Groups == nil {
		return 0
	}
	return f.Groups[name]
}

var fullNodeBox = vec.NewBox(-vec.BS/2, -vec.BS/2, -vec.BS/2, vec.BS/2, vec.BS/2, vec.BS/2)

// NodeDefManager сопоставляет идентификаторы нод их определениям
type NodeDefManager struct {
	mu       sync.RWMutex
	features map[Content]*ContentFeatures
	byName   map[string]Content
	nextID   Content
}

// NewNodeDefManager создает менеджер с зарезервированными unknown, air и ignore
func NewNodeDefManager() *NodeDefManager {
	m := &NodeDefManager{
		features: make(map[Content]*ContentFeatures),
		byName:   make(map[string]Content),
	}
	m.set(ContentUnknown, &ContentFeatures{Name: "unknown", Walkable: true})
	m.set(ContentAir, &ContentFeatures{Name: "air", LightPropagates: true})
	m.set(ContentIgnore, &ContentFeatures{Name: "ignore"})
	return m
}

func (m *NodeDefManager) set(c Content, f *ContentFeatures) {
	m.features[c] = f
	m.byName[f.Name] = c
}

func (m *NodeDefManager) allocateLocked() (Content, error) {
	for m.nextID < 0xFFFF {
		c := m.nextID
		m.nextID++
		if _, taken := m.features[c]; !taken {
			return c, nil
		}
	}
	return ContentIgnore, fmt.Errorf("закончились идентификаторы нод")
}

// Register регистрирует новый тип ноды и возвращает его идентификатор
func (m *NodeDefManager) Register(f ContentFeatures) (Content, error) {
	name := strings.TrimPrefix(f.Name, ":")
	if name == "" {
		return ContentIgnore, fmt.Errorf("пустое имя ноды")
	}
	f.Name = name

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byName[name]; exists {
		return ContentIgnore, fmt.Errorf("нода %q уже зарегистрирована", name)
	}
	c, err := m.allocateLocked()
	if err != nil {
		return ContentIgnore, err
	}
	m.set(c, &f)
	return c, nil
}

// AllocateUnknownID выделяет идентификатор под имя, для которого нет определения.
// Такие ноды ведут себя как unknown (проходимость включена).
func (m *NodeDefManager) AllocateUnknownID(name string) Content {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.byName[name]; ok {
		return c
	}
	c, err := m.allocateLocked()
	if err != nil {
		return ContentIgnore
	}
	m.set(c, &ContentFeatures{Name: name, Walkable: true})
	return c
}

// Get возвращает определение ноды; для незарегистрированных - unknown
func (m *NodeDefManager) Get(c Content) *ContentFeatures {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if f, ok := m.features[c]; ok {
		return f
	}
	return m.features[ContentUnknown]
}

// GetID возвращает идентификатор по имени
func (m *NodeDefManager) GetID(name string) (Content, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.byName[strings.TrimPrefix(name, ":")]
	return c, ok
}

// GetIDs дописывает в out идентификаторы по имени или "group:<name>".
// Возвращает false, если имя не найдено.
func (m *NodeDefManager) GetIDs(name string, out []Content) ([]Content, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if group, ok := strings.CutPrefix(name, "group:"); ok {
		ids := make([]Content, 0)
		for c, f := range m.features {
			if f.Group(group) != 0 {
				ids = append(ids, c)
			}
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		return append(out, ids...), true
	}

	c, ok := m.byName[strings.TrimPrefix(name, ":")]
	if !ok {
		return out, false
	}
	return append(out, c), true
}

// CollisionBoxes возвращает боксы ноды относительно ее центра
func (m *NodeDefManager) CollisionBoxes(n Node) []vec.Box {
	f := m.Get(n.Content)
	if !f.Walkable {
		return nil
	}
	if len(f.CollisionBoxes) == 0 {
		return []vec.Box{fullNodeBox}
	}
	return f.CollisionBoxes
}

// Count возвращает число зарегистрированных типов
func (m *NodeDefManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.features)
}
