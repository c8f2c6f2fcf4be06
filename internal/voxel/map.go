package voxel

import (
	"github.com/sasha-s/go-deadlock"

	"github.com/freeminer/freeminer-sub007/internal/vec"
)

func init() {
	// Детектор включается конфигурацией debug.detect_deadlocks
	deadlock.Opts.Disable = true
}

// SetLockDebugging включает детектор взаимоблокировок для lock'ов карты
func SetLockDebugging(enabled bool) {
	deadlock.Opts.Disable = !enabled
}

// Map - разреженная воксельная сетка из блоков.
// Lock карты защищает только словарь блоков и никогда не удерживается при ожидании lock'а блока.
type Map struct {
	mu     deadlock.RWMutex
	blocks map[vec.Vec3]*Block
	ndef   *NodeDefManager
}

// NewMap создает пустую карту
func NewMap(ndef *NodeDefManager) *Map {
	return &Map{
		blocks: make(map[vec.Vec3]*Block),
		ndef:   ndef,
	}
}

// NodeDefs возвращает менеджер определений нод
func (m *Map) NodeDefs() *NodeDefManager { return m.ndef }

// GetBlock возвращает загруженный блок или nil
func (m *Map) GetBlock(blockPos vec.Vec3) *Block {
	m.mu.RLock()
	b := m.blocks[blockPos]
	m.mu.RUnlock()
	return b
}

// CreateBlock возвращает существующий блок или вставляет новый пустой
func (m *Map) CreateBlock(blockPos vec.Vec3) *Block {
	if b := m.GetBlock(blockPos); b != nil {
		return b
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.blocks[blockPos]; ok {
		return b
	}
	b := NewBlock(blockPos)
	m.blocks[blockPos] = b
	return b
}

// InsertBlock вставляет готовый блок. Возвращает false, если позиция занята.
func (m *Map) InsertBlock(b *Block) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blocks[b.Pos()]; ok {
		return false
	}
	m.blocks[b.Pos()] = b
	return true
}

// DeleteBlock удаляет блок из карты и делает его сиротой
func (m *Map) DeleteBlock(blockPos vec.Vec3) bool {
	m.mu.Lock()
	b, ok := m.blocks[blockPos]
	if ok {
		delete(m.blocks, blockPos)
	}
	m.mu.Unlock()
	if ok {
		b.MakeOrphan()
	}
	return ok
}

// Blocks возвращает снимок загруженных блоков
func (m *Map) Blocks() []*Block {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Block, 0, len(m.blocks))
	for _, b := range m.blocks {
		out = append(out, b)
	}
	return out
}

// BlockCount возвращает число загруженных блоков
func (m *Map) BlockCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blocks)
}

// GetNode возвращает ноду по мировой позиции. valid=false, если блок не загружен.
func (m *Map) GetNode(p vec.Vec3) (Node, bool) {
	b := m.GetBlock(vec.NodeBlockPos(p))
	if b == nil {
		return Node{Content: ContentIgnore}, false
	}
	return b.GetNodeNoCheck(vec.NodeInBlock(p)), true
}

// SetNode записывает ноду по мировой позиции. false, если блок не загружен.
func (m *Map) SetNode(p vec.Vec3, n Node) bool {
	b := m.GetBlock(vec.NodeBlockPos(p))
	if b == nil {
		return false
	}
	return b.SetNode(vec.NodeInBlock(p), n)
}

// RemoveNode заменяет ноду воздухом
func (m *Map) RemoveNode(p vec.Vec3) bool {
	return m.SetNode(p, Node{Content: ContentAir})
}
