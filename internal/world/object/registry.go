package object

import (
	"fmt"
	"sync"

	"github.com/freeminer/freeminer-sub007/internal/voxel"
)

// Factory восстанавливает объект из статической записи блока
type Factory func(static voxel.StaticObject) (ActiveObject, error)

// Registry хранит фабрики объектов по типу
type Registry struct {
	mu        sync.RWMutex
	factories map[Type]Factory
}

// NewRegistry создает пустой реестр фабрик
func NewRegistry() *Registry {
	return &Registry{factories: make(map[Type]Factory)}
}

// Register регистрирует фабрику для типа
func (r *Registry) Register(t Type, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[t] = f
}

// Create создает объект из статической записи
func (r *Registry) Create(static voxel.StaticObject) (ActiveObject, error) {
	r.mu.RLock()
	f, ok := r.factories[Type(static.Type)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("нет фабрики для типа объекта %s", Type(static.Type))
	}
	obj, err := f(static)
	if err != nil {
		return nil, fmt.Errorf("создание объекта %s: %w", Type(static.Type), err)
	}
	return obj, nil
}
