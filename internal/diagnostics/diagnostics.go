// Package diagnostics хранит флаги деградации симуляции.
// Экземпляр живет столько же, сколько процесс; тесты сбрасывают его через Reset.
package diagnostics

import (
	"sync"
	"sync/atomic"
)

// Diagnostics - набор флагов и счетчиков "продолжили с потерями"
type Diagnostics struct {
	collisionProblems atomic.Bool

	dtimeClamped      atomic.Int64
	loopLimitExceeded atomic.Int64
	contentCacheDrops atomic.Int64
	abmBudgetExceeded atomic.Int64
	corruptBlocks     atomic.Int64

	mu     sync.Mutex
	warned map[string]bool
}

// New создает пустой контекст диагностики
func New() *Diagnostics {
	return &Diagnostics{warned: make(map[string]bool)}
}

var process = New()

// Process возвращает контекст диагностики процесса
func Process() *Diagnostics {
	return process
}

// SetCollisionProblems отмечает, что движок столкновений работал с потерями
func (d *Diagnostics) SetCollisionProblems() {
	d.collisionProblems.Store(true)
}

// CollisionProblems возвращает флаг проблем со столкновениями
func (d *Diagnostics) CollisionProblems() bool {
	return d.collisionProblems.Load()
}

func (d *Diagnostics) DTimeClamped()      { d.dtimeClamped.Add(1) }
func (d *Diagnostics) LoopLimitExceeded() { d.loopLimitExceeded.Add(1) }
func (d *Diagnostics) ContentCacheDrop()  { d.contentCacheDrops.Add(1) }
func (d *Diagnostics) ABMBudgetExceeded() { d.abmBudgetExceeded.Add(1) }
func (d *Diagnostics) CorruptBlock()      { d.corruptBlocks.Add(1) }

// WarnOnce возвращает true только при первом вызове для ключа.
// ClearWarned снимает отметку, когда состояние нормализовалось.
func (d *Diagnostics) WarnOnce(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.warned[key] {
		return false
	}
	d.warned[key] = true
	return true
}

// ClearWarned снимает отметку "уже предупреждали"
func (d *Diagnostics) ClearWarned(key string) {
	d.mu.Lock()
	delete(d.warned, key)
	d.mu.Unlock()
}

// Snapshot - копия счетчиков для API и тестов
type Snapshot struct {
	CollisionProblems bool  `json:"collision_problems"`
	DTimeClamped      int64 `json:"dtime_clamped"`
	LoopLimitExceeded int64 `json:"loop_limit_exceeded"`
	ContentCacheDrops int64 `json:"content_cache_drops"`
	ABMBudgetExceeded int64 `json:"abm_budget_exceeded"`
	CorruptBlocks     int64 `json:"corrupt_blocks"`
}

// Snapshot возвращает текущие значения
func (d *Diagnostics) Snapshot() Snapshot {
	return Snapshot{
		CollisionProblems: d.collisionProblems.Load(),
		DTimeClamped:      d.dtimeClamped.Load(),
		LoopLimitExceeded: d.loopLimitExceeded.Load(),
		ContentCacheDrops: d.contentCacheDrops.Load(),
		ABMBudgetExceeded: d.abmBudgetExceeded.Load(),
		CorruptBlocks:     d.corruptBlocks.Load(),
	}
}

// Reset обнуляет все флаги и счетчики
func (d *Diagnostics) Reset() {
	d.collisionProblems.Store(false)
	d.dtimeClamped.Store(0)
	d.loopLimitExceeded.Store(0)
	d.contentCacheDrops.Store(0)
	d.abmBudgetExceeded.Store(0)
	d.corruptBlocks.Store(0)
	d.mu.Lock()
	d.warned = make(map[string]bool)
	d.mu.Unlock()
}
