package voxel

import (
	"sync"

	"github.com/freeminer/freeminer-sub007/internal/vec"
)

// MaxStaticObjectsOnLoad - больше объектов из хранилища не читаем
const MaxStaticObjectsOnLoad = 1024

// StaticObject - сериализованный объект, хранящийся в неактивном блоке
type StaticObject struct {
	Type uint8   `msgpack:"t" json:"type"`
	Pos  vec.V3f `msgpack:"p" json:"pos"`
	Data []byte  `msgpack:"d" json:"data,omitempty"`
}

// StaticObjectList - статические объекты блока.
// stored ждут активации, active привязаны к id живых объектов.
type StaticObjectList struct {
	mu     sync.Mutex
	stored []StaticObject
	active map[uint16]StaticObject
}

// NewStaticObjectList создает пустой список
func NewStaticObjectList() *StaticObjectList {
	return &StaticObjectList{active: make(map[uint16]StaticObject)}
}

// Insert добавляет объект: с id - в активные, без id - в ожидающие активации
func (l *StaticObjectList) Insert(id uint16, obj StaticObject) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if id == 0 {
		l.stored = append(l.stored, obj)
		return
	}
	l.active[id] = obj
}

// PushStored добавляет объект в ожидающие активации
func (l *StaticObjectList) PushStored(obj StaticObject) {
	l.Insert(0, obj)
}

// Remove удаляет активную запись объекта
func (l *StaticObjectList) Remove(id uint16) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.active[id]; !ok {
		return false
	}
	delete(l.active, id)
	return true
}

// StoreActiveObject переносит активную запись в ожидающие активации
func (l *StaticObjectList) StoreActiveObject(id uint16) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	obj, ok := l.active[id]
	if !ok {
		return false
	}
	delete(l.active, id)
	l.stored = append(l.stored, obj)
	return true
}

// GetActive возвращает активную запись объекта
func (l *StaticObjectList) GetActive(id uint16) (StaticObject, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	obj, ok := l.active[id]
	return obj, ok
}

// GetAllStored возвращает копию ожидающих активации
func (l *StaticObjectList) GetAllStored() []StaticObject {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]StaticObject, len(l.stored))
	copy(out, l.stored)
	return out
}

// ClearStored очищает ожидающие активации
func (l *StaticObjectList) ClearStored() {
	l.mu.Lock()
	l.stored = nil
	l.mu.Unlock()
}

// ActiveSize возвращает число активных записей
func (l *StaticObjectList) ActiveSize() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.active)
}

// StoredSize возвращает число ожидающих активации
func (l *StaticObjectList) StoredSize() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.stored)
}

// Size возвращает общее число записей
func (l *StaticObjectList) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.stored) + len(l.active)
}

// All возвращает все записи для сериализации: активные сохраняются как ожидающие
func (l *StaticObjectList) All() []StaticObject {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]StaticObject, 0, len(l.stored)+len(l.active))
	out = append(out, l.stored...)
	for _, obj := range l.active {
		out = append(out, obj)
	}
	return out
}
