package worldgen

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/freeminer/freeminer-sub007/internal/logging"
	"github.com/freeminer/freeminer-sub007/internal/storage"
	"github.com/freeminer/freeminer-sub007/internal/vec"
	"github.com/freeminer/freeminer-sub007/internal/voxel"
)

// EmergerStats содержит счетчики загрузки блоков
type EmergerStats struct {
	Loaded    int64 `json:"loaded"`
	Generated int64 `json:"generated"`
	Failed    int64 `json:"failed"`
	Queued    int   `json:"queued"`
}

// Emerger загружает блоки из хранилища или генерирует их на воркерах
type Emerger struct {
	m     *voxel.Map
	store storage.BlockStore
	gen   *Generator

	logger *logging.Logger

	workerCount  int
	queue        chan vec.Vec3
	shutdownChan chan struct{}
	wg           sync.WaitGroup
	stopOnce     sync.Once

	pendingMu sync.Mutex
	pending   map[vec.Vec3]struct{}

	loaded    atomic.Int64
	generated atomic.Int64
	failed    atomic.Int64
}

// NewEmerger создает загрузчик. store может быть nil: тогда блоки только генерируются.
func NewEmerger(m *voxel.Map, store storage.BlockStore, gen *Generator, workerCount int) *Emerger {
	if workerCount <= 0 {
		workerCount = 1
	}
	return &Emerger{
		m:            m,
		store:        store,
		gen:          gen,
		logger:       logging.GetEmergeLogger(),
		workerCount:  workerCount,
		queue:        make(chan vec.Vec3, workerCount*64),
		shutdownChan: make(chan struct{}),
		pending:      make(map[vec.Vec3]struct{}),
	}
}

// Start запускает воркеров
func (e *Emerger) Start(ctx context.Context) {
	for i := 0; i < e.workerCount; i++ {
		e.wg.Add(1)
		go e.worker(ctx, i)
	}
	e.logger.Info("Emerge started with %d workers", e.workerCount)
}

// Stop останавливает воркеров и ждет их завершения
func (e *Emerger) Stop() {
	e.stopOnce.Do(func() {
		close(e.shutdownChan)
	})
	e.wg.Wait()
}

// GetBlockOrEmerge возвращает загруженный блок или ставит его в очередь и возвращает nil
func (e *Emerger) GetBlockOrEmerge(p vec.Vec3) *voxel.Block {
	if b := e.m.GetBlock(p); b != nil {
		return b
	}
	e.enqueue(p)
	return nil
}

// EmergeBlock синхронно загружает блок из хранилища.
// createBlank создает пустой блок, если его нет ни в памяти, ни на диске.
func (e *Emerger) EmergeBlock(p vec.Vec3, createBlank bool) *voxel.Block {
	if b := e.m.GetBlock(p); b != nil {
		return b
	}
	if b, err := e.load(context.Background(), p); err == nil {
		return b
	} else if !errors.Is(err, storage.ErrNotFound) {
		e.logger.Warn("emerge %s: %v", p, err)
	}
	if !createBlank {
		return nil
	}
	return e.m.CreateBlock(p)
}

// Stats возвращает снимок счетчиков
func (e *Emerger) Stats() EmergerStats {
	e.pendingMu.Lock()
	queued := len(e.pending)
	e.pendingMu.Unlock()
	return EmergerStats{
		Loaded:    e.loaded.Load(),
		Generated: e.generated.Load(),
		Failed:    e.failed.Load(),
		Queued:    queued,
	}
}

// enqueue ставит позицию в очередь один раз; при переполнении запрос отбрасывается
func (e *Emerger) enqueue(p vec.Vec3) {
	e.pendingMu.Lock()
	if _, ok := e.pending[p]; ok {
		e.pendingMu.Unlock()
		return
	}
	e.pending[p] = struct{}{}
	e.pendingMu.Unlock()

	select {
	case e.queue <- p:
	default:
		// Блок будет запрошен снова на следующем цикле списка активных блоков
		e.done(p)
	}
}

func (e *Emerger) done(p vec.Vec3) {
	e.pendingMu.Lock()
	delete(e.pending, p)
	e.pendingMu.Unlock()
}

func (e *Emerger) worker(ctx context.Context, id int) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.shutdownChan:
			return
		case p := <-e.queue:
			if _, err := e.emerge(ctx, p); err != nil {
				e.failed.Add(1)
				e.logger.Error("worker %d: emerge %s: %v", id, p, err)
			}
			e.done(p)
		}
	}
}

// emerge загружает блок или генерирует новый и освещает его
func (e *Emerger) emerge(ctx context.Context, p vec.Vec3) (*voxel.Block, error) {
	if b := e.m.GetBlock(p); b != nil {
		return b, nil
	}
	b, err := e.load(ctx, p)
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	return e.generate(p), nil
}

func (e *Emerger) load(ctx context.Context, p vec.Vec3) (*voxel.Block, error) {
	if e.store == nil {
		return nil, storage.ErrNotFound
	}
	b, err := storage.LoadMapBlock(ctx, e.store, p)
	if err != nil {
		return nil, err
	}
	if !e.m.InsertBlock(b) {
		// Блок успел появиться из другого источника
		return e.m.GetBlock(p), nil
	}
	e.loaded.Add(1)
	return b, nil
}

func (e *Emerger) generate(p vec.Vec3) *voxel.Block {
	b := voxel.NewBlock(p)
	if e.gen != nil {
		e.gen.Generate(b)
	}
	b.RaiseModified(voxel.ModStateWriteNeeded)
	if !e.m.InsertBlock(b) {
		return e.m.GetBlock(p)
	}
	origin := vec.BlockOrigin(p)
	voxel.PropagateLight(e.m, origin, origin.Add(vec.Vec3{X: vec.BlockSize - 1, Y: vec.BlockSize - 1, Z: vec.BlockSize - 1}))
	e.generated.Add(1)
	return b
}
