package object

import (
	"sync"
	"sync/atomic"

	"github.com/freeminer/freeminer-sub007/internal/vec"
	"github.com/freeminer/freeminer-sub007/internal/voxel"
)

// Type - тип активного объекта; совпадает с полем Type статической записи
type Type uint8

const (
	TypeInvalid Type = iota
	TypePlayer
	TypeEntity
	TypeFallingNode
)

func (t Type) String() string {
	switch t {
	case TypePlayer:
		return "player"
	case TypeEntity:
		return "entity"
	case TypeFallingNode:
		return "falling_node"
	default:
		return "invalid"
	}
}

// Message - исходящее сообщение объекта для клиентов
type Message struct {
	ID       uint16 `json:"id"`
	Reliable bool   `json:"reliable"`
	Data     []byte `json:"data"`
}

// ActiveObject - объект, симулируемый окружением.
// Конкретные типы встраивают BaseObject и реализуют Type, Step и GetStaticData.
type ActiveObject interface {
	ID() uint16
	SetID(id uint16)
	Type() Type

	BasePosition() vec.V3f
	SetBasePosition(p vec.V3f)

	// IsGone - объект помечен к удалению или деактивации
	IsGone() bool
	MarkForRemoval()
	PendingRemoval() bool
	PendingDeactivation() bool
	MarkForDeactivation()

	// ParentID - id объекта, к которому прикреплен этот (0 - нет)
	ParentID() uint16
	SetParentID(id uint16)

	// Observers - собственное ограничение видимости (nil - видим всем)
	Observers() *ObserverSet
	SetObservers(s *ObserverSet)

	// CollisionBox - бокс относительно базовой позиции
	CollisionBox() (vec.Box, bool)
	CollideWithObjects() bool

	Step(dtime float64, sendRecommended bool)
	PushMessage(msg Message)
	PopMessages() []Message

	IsStaticAllowed() bool
	ShouldUnload() bool
	GetStaticData() voxel.StaticObject
	StaticBlock() (vec.Vec3, bool)
	SetStaticBlock(p vec.Vec3, exists bool)

	KnownByCount() int
	AddKnownBy()
	RemoveKnownBy()

	base() *BaseObject
}

// BaseObject реализует общую часть ActiveObject
type BaseObject struct {
	mu sync.RWMutex

	id       uint16
	pos      vec.V3f
	parentID uint16

	gone                atomic.Bool
	pendingDeactivation atomic.Bool
	knownBy             atomic.Int32

	observers      *ObserverSet
	effective      *ObserverSet
	effectiveValid bool

	box                vec.Box
	hasBox             bool
	collideWithObjects bool

	staticExists bool
	staticBlock  vec.Vec3

	messages []Message
}

func (o *BaseObject) base() *BaseObject { return o }

func (o *BaseObject) ID() uint16 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.id
}

func (o *BaseObject) SetID(id uint16) {
	o.mu.Lock()
	o.id = id
	o.mu.Unlock()
}

func (o *BaseObject) BasePosition() vec.V3f {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.pos
}

func (o *BaseObject) SetBasePosition(p vec.V3f) {
	o.mu.Lock()
	o.pos = p
	o.mu.Unlock()
}

func (o *BaseObject) IsGone() bool         { return o.gone.Load() || o.pendingDeactivation.Load() }
func (o *BaseObject) MarkForRemoval()      { o.gone.Store(true) }
func (o *BaseObject) PendingRemoval() bool { return o.gone.Load() }

func (o *BaseObject) PendingDeactivation() bool { return o.pendingDeactivation.Load() }
func (o *BaseObject) MarkForDeactivation()      { o.pendingDeactivation.Store(true) }

func (o *BaseObject) ParentID() uint16 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.parentID
}

// SetParentID меняет родителя; кэши наблюдателей сбрасывает менеджер
func (o *BaseObject) SetParentID(id uint16) {
	o.mu.Lock()
	o.parentID = id
	o.mu.Unlock()
}

func (o *BaseObject) Observers() *ObserverSet {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.observers
}

func (o *BaseObject) SetObservers(s *ObserverSet) {
	o.mu.Lock()
	o.observers = s
	o.mu.Unlock()
}

// SetCollisionBox задает бокс столкновений; без вызова объект не сталкивается
func (o *BaseObject) SetCollisionBox(box vec.Box, collideWithObjects bool) {
	o.mu.Lock()
	o.box = box
	o.hasBox = true
	o.collideWithObjects = collideWithObjects
	o.mu.Unlock()
}

func (o *BaseObject) CollisionBox() (vec.Box, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.box, o.hasBox
}

func (o *BaseObject) CollideWithObjects() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.collideWithObjects
}

func (o *BaseObject) PushMessage(msg Message) {
	o.mu.Lock()
	o.messages = append(o.messages, msg)
	o.mu.Unlock()
}

// PopMessages забирает накопленные сообщения
func (o *BaseObject) PopMessages() []Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := o.messages
	o.messages = nil
	return out
}

func (o *BaseObject) IsStaticAllowed() bool { return true }
func (o *BaseObject) ShouldUnload() bool    { return true }

func (o *BaseObject) StaticBlock() (vec.Vec3, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.staticBlock, o.staticExists
}

func (o *BaseObject) SetStaticBlock(p vec.Vec3, exists bool) {
	o.mu.Lock()
	o.staticBlock = p
	o.staticExists = exists
	o.mu.Unlock()
}

func (o *BaseObject) KnownByCount() int { return int(o.knownBy.Load()) }
func (o *BaseObject) AddKnownBy()       { o.knownBy.Add(1) }
func (o *BaseObject) RemoveKnownBy() {
	if o.knownBy.Add(-1) < 0 {
		o.knownBy.Store(0)
	}
}

func (o *BaseObject) cachedEffectiveObservers() (*ObserverSet, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.effective, o.effectiveValid
}

func (o *BaseObject) setEffectiveObservers(s *ObserverSet) {
	o.mu.Lock()
	o.effective = s
	o.effectiveValid = true
	o.mu.Unlock()
}

func (o *BaseObject) invalidateEffectiveObservers() {
	o.mu.Lock()
	o.effective = nil
	o.effectiveValid = false
	o.mu.Unlock()
}

// PlayerObject - объект, управляемый подключенным игроком
type PlayerObject interface {
	ActiveObject
	PlayerName() string
}

// View - направление взгляда игрока для конуса видимости
type View struct {
	Eye      vec.V3f // мировая позиция глаз
	Pitch    float64 // градусы
	Yaw      float64 // градусы
	Fov      float64 // радианы; 0 - клиент не сообщил
	Inverted bool
}

// Viewer - необязательный интерфейс игрока, знающего направление камеры
type Viewer interface {
	View() View
}

// Lifecycle - необязательные хуки объекта при добавлении в окружение и удалении из него
type Lifecycle interface {
	AddedToEnvironment(dtimeS uint32)
	RemovingFromEnvironment()
}
