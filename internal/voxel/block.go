package voxel

import (
	"sync"
	"sync/atomic"

	"github.com/freeminer/freeminer-sub007/internal/vec"
)

const (
	// NodesPerBlock - число нод в блоке
	NodesPerBlock = vec.BlockSize * vec.BlockSize * vec.BlockSize
	// TimestampUndefined - блок ни разу не был активным
	TimestampUndefined uint32 = 0xFFFFFFFF
	// ContentCacheMax - предел кэша типов нод; при превышении кэш отключается навсегда
	ContentCacheMax = 64
	// ResaveTimestampDiff - через сколько секунд расхождения с диском блок помечается к записи
	ResaveTimestampDiff = 60
)

// ModState - состояние изменений блока
type ModState int32

const (
	ModStateClean ModState = iota
	ModStateWriteAtUnload
	ModStateWriteNeeded
)

// Block - кубический чанк 16x16x16 нод.
// Свой lock защищает массив нод независимо от lock'а карты.
type Block struct {
	pos vec.Vec3

	mu    sync.RWMutex
	nodes [NodesPerBlock]Node

	orphan        atomic.Bool
	timestamp     atomic.Uint32
	diskTimestamp atomic.Uint32
	modified      atomic.Int32
	usageTimer    atomic.Int64 // миллисекунды

	// Кэш типов нод используется только потоком симуляции
	cacheMu            sync.Mutex
	contents           []Content
	contentsGen        uint64 // растет при каждом изменении нод
	doNotCacheContents bool

	StaticObjects *StaticObjectList
}

// NewBlock создает блок, заполненный воздухом
func NewBlock(pos vec.Vec3) *Block {
	b := &Block{pos: pos, StaticObjects: NewStaticObjectList()}
	for i := range b.nodes {
		b.nodes[i] = Node{Content: ContentAir}
	}
	b.timestamp.Store(TimestampUndefined)
	b.diskTimestamp.Store(TimestampUndefined)
	return b
}

func index(p vec.Vec3) int {
	return p.Z*vec.BlockSize*vec.BlockSize + p.Y*vec.BlockSize + p.X
}

// NodeIndex возвращает индекс локальной позиции в массиве, заполненном CopyNodes
func NodeIndex(rel vec.Vec3) int { return index(rel) }

// IsValidPosition проверяет, что локальная позиция лежит внутри блока
func IsValidPosition(p vec.Vec3) bool {
	return p.X >= 0 && p.X < vec.BlockSize &&
		p.Y >= 0 && p.Y < vec.BlockSize &&
		p.Z >= 0 && p.Z < vec.BlockSize
}

// Pos возвращает позицию блока
func (b *Block) Pos() vec.Vec3 { return b.pos }

// PosRelative возвращает мировую позицию первой ноды блока
func (b *Block) PosRelative() vec.Vec3 { return vec.BlockOrigin(b.pos) }

// GetNode возвращает ноду по локальной позиции
func (b *Block) GetNode(p vec.Vec3) (Node, bool) {
	if !IsValidPosition(p) {
		return Node{Content: ContentIgnore}, false
	}
	return b.GetNodeNoCheck(p), true
}

// GetNodeNoCheck возвращает ноду без проверки границ
func (b *Block) GetNodeNoCheck(p vec.Vec3) Node {
	b.mu.RLock()
	n := b.nodes[index(p)]
	b.mu.RUnlock()
	return n
}

// SetNode записывает ноду по локальной позиции
func (b *Block) SetNode(p vec.Vec3, n Node) bool {
	if !IsValidPosition(p) {
		return false
	}
	b.mu.Lock()
	b.nodes[index(p)] = n
	b.mu.Unlock()

	b.invalidateContentCache()
	b.RaiseModified(ModStateWriteNeeded)
	return true
}

// Busy сообщает, что массив нод сейчас захвачен на запись
func (b *Block) Busy() bool {
	if b.mu.TryLock() {
		b.mu.Unlock()
		return false
	}
	return true
}

// CopyNodes копирует массив нод под read lock'ом
func (b *Block) CopyNodes(dst *[NodesPerBlock]Node) {
	b.mu.RLock()
	*dst = b.nodes
	b.mu.RUnlock()
}

// Fill заполняет массив нод функцией генерации (без отметки об изменении)
func (b *Block) Fill(fn func(rel vec.Vec3) Node) {
	b.mu.Lock()
	for z := 0; z < vec.BlockSize; z++ {
		for y := 0; y < vec.BlockSize; y++ {
			for x := 0; x < vec.BlockSize; x++ {
				p := vec.Vec3{X: x, Y: y, Z: z}
				b.nodes[index(p)] = fn(p)
			}
		}
	}
	b.mu.Unlock()
	b.invalidateContentCache()
}

// IsOrphan возвращает true, если блок удален из карты
func (b *Block) IsOrphan() bool { return b.orphan.Load() }

// MakeOrphan помечает блок удаленным
func (b *Block) MakeOrphan() { b.orphan.Store(true) }

// Timestamp возвращает игровое время последней активности блока
func (b *Block) Timestamp() uint32 { return b.timestamp.Load() }

// SetTimestamp обновляет отметку и помечает блок к записи при выгрузке
func (b *Block) SetTimestamp(t uint32) {
	b.timestamp.Store(t)
	b.RaiseModified(ModStateWriteAtUnload)
}

// SetTimestampNoChangedFlag обновляет отметку без изменения состояния записи
func (b *Block) SetTimestampNoChangedFlag(t uint32) { b.timestamp.Store(t) }

// DiskTimestamp возвращает отметку, с которой блок был записан
func (b *Block) DiskTimestamp() uint32 { return b.diskTimestamp.Load() }

// RaiseModified повышает состояние изменений, никогда не понижая его
func (b *Block) RaiseModified(state ModState) {
	for {
		cur := b.modified.Load()
		if ModState(cur) >= state {
			return
		}
		if b.modified.CompareAndSwap(cur, int32(state)) {
			return
		}
	}
}

// ModState возвращает текущее состояние изменений
func (b *Block) ModState() ModState { return ModState(b.modified.Load()) }

// MarkSaved сбрасывает флаг изменений после записи
func (b *Block) MarkSaved() {
	b.modified.Store(int32(ModStateClean))
	b.diskTimestamp.Store(b.timestamp.Load())
}

// ResetUsageTimer обнуляет таймер неиспользования
func (b *Block) ResetUsageTimer() { b.usageTimer.Store(0) }

// IncrementUsageTimer увеличивает таймер неиспользования
func (b *Block) IncrementUsageTimer(dtime float64) {
	b.usageTimer.Add(int64(dtime * 1000))
}

// UsageTimer возвращает время без использования в секундах
func (b *Block) UsageTimer() float64 { return float64(b.usageTimer.Load()) / 1000 }

// CachedContents возвращает кэш типов нод. ok=false - кэш не заполнен.
func (b *Block) CachedContents() (contents []Content, ok bool) {
	b.cacheMu.Lock()
	defer b.cacheMu.Unlock()
	if len(b.contents) == 0 {
		return nil, false
	}
	return b.contents, true
}

// WantsContentCache возвращает true, если кэш пуст и не отключен,
// и поколение нод, которое нужно передать в StoreContentCache
func (b *Block) WantsContentCache() (bool, uint64) {
	b.cacheMu.Lock()
	defer b.cacheMu.Unlock()
	return len(b.contents) == 0 && !b.doNotCacheContents, b.contentsGen
}

// StoreContentCache сохраняет собранный при полном проходе список типов.
// Если ноды менялись после начала прохода (gen устарел), список не сохраняется.
func (b *Block) StoreContentCache(contents []Content, gen uint64) bool {
	b.cacheMu.Lock()
	defer b.cacheMu.Unlock()
	if b.doNotCacheContents || gen != b.contentsGen {
		return false
	}
	b.contents = contents
	return true
}

// DisableContentCache навсегда отключает кэш типов для блока
func (b *Block) DisableContentCache() {
	b.cacheMu.Lock()
	b.doNotCacheContents = true
	b.contents = nil
	b.cacheMu.Unlock()
}

// ContentCacheDisabled сообщает, отключен ли кэш
func (b *Block) ContentCacheDisabled() bool {
	b.cacheMu.Lock()
	defer b.cacheMu.Unlock()
	return b.doNotCacheContents
}

func (b *Block) invalidateContentCache() {
	b.cacheMu.Lock()
	b.contents = nil
	b.contentsGen++
	b.cacheMu.Unlock()
}
