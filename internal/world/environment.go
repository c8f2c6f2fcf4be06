package world

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/freeminer/freeminer-sub007/internal/config"
	"github.com/freeminer/freeminer-sub007/internal/diagnostics"
	"github.com/freeminer/freeminer-sub007/internal/eventbus"
	"github.com/freeminer/freeminer-sub007/internal/logging"
	"github.com/freeminer/freeminer-sub007/internal/metrics"
	"github.com/freeminer/freeminer-sub007/internal/storage"
	"github.com/freeminer/freeminer-sub007/internal/vec"
	"github.com/freeminer/freeminer-sub007/internal/voxel"
	"github.com/freeminer/freeminer-sub007/internal/world/modifier"
	"github.com/freeminer/freeminer-sub007/internal/world/object"
)

const (
	// objectManagementInterval - период удаления ушедших объектов, с
	objectManagementInterval = 0.5
	// ActiveObjectResaveDistanceSq - квадрат смещения в блоках, после которого
	// статические данные объекта переносятся в новый блок
	ActiveObjectResaveDistanceSq = 3 * 3
)

var tracer = otel.Tracer("github.com/freeminer/freeminer-sub007/internal/world")

// Emerger загружает и генерирует блоки для окружения
type Emerger interface {
	// GetBlockOrEmerge возвращает загруженный блок или ставит его в очередь и возвращает nil
	GetBlockOrEmerge(p vec.Vec3) *voxel.Block
	// EmergeBlock синхронно загружает блок из хранилища.
	// createBlank - создать пустой блок, если его нет ни в памяти, ни на диске.
	EmergeBlock(p vec.Vec3, createBlank bool) *voxel.Block
}

// mapEmerger работает только с уже загруженными блоками
type mapEmerger struct {
	m *voxel.Map
}

func (e mapEmerger) GetBlockOrEmerge(p vec.Vec3) *voxel.Block { return e.m.GetBlock(p) }

func (e mapEmerger) EmergeBlock(p vec.Vec3, createBlank bool) *voxel.Block {
	if b := e.m.GetBlock(p); b != nil || !createBlank {
		return b
	}
	return e.m.CreateBlock(p)
}

// intervalLimiter срабатывает раз в wanted секунд накопленного dtime
type intervalLimiter struct {
	acc float64
}

func (l *intervalLimiter) step(dtime, wanted float64) bool {
	l.acc += dtime
	if l.acc < wanted {
		return false
	}
	l.acc -= wanted
	return true
}

// Options - зависимости окружения. Нулевые поля заменяются значениями по умолчанию.
type Options struct {
	Simulation config.SimulationConfig
	// ServerStep - рекомендуемый интервал отправки обновлений объектов, с
	ServerStep  float64
	Map         *voxel.Map
	Store       storage.BlockStore
	Emerger     Emerger
	Bus         eventbus.EventBus
	Metrics     *metrics.EnvMetrics
	Diagnostics *diagnostics.Diagnostics
	Registry    *object.Registry
	Seed        int64
}

// Stats - снимок состояния окружения для API
type Stats struct {
	GameTime        uint32        `json:"game_time"`
	ActiveBlocks    int           `json:"active_blocks"`
	ActiveObjects   int           `json:"active_objects"`
	LoadedBlocks    int           `json:"loaded_blocks"`
	Players         int           `json:"players"`
	LastStep        time.Duration `json:"last_step_ns"`
	BlocksScanned   int           `json:"abm_blocks_scanned"`
	BlocksCached    int           `json:"abm_blocks_cached"`
	ABMsRun         int           `json:"abms_run"`
	ABMCursor       int           `json:"abm_cursor"`
	ABMQueueLen     int           `json:"abm_queue"`
	BlocksActivated uint64        `json:"blocks_activated"`
}

// Environment - серверное окружение: активные блоки, модификаторы и объекты.
// Step вызывается только из одной горутины; снимки (Stats, ActiveBlocks) безопасны из любой.
type Environment struct {
	cfg        config.SimulationConfig
	serverStep float64

	m        *voxel.Map
	store    storage.BlockStore
	emerger  Emerger
	bus      eventbus.EventBus
	metrics  *metrics.EnvMetrics
	diag     *diagnostics.Diagnostics
	registry *object.Registry
	objects  *object.Manager
	rnd      *rand.Rand
	logger   *logging.Logger
	slowLog  *logging.RateLimited

	activeBlocks *ActiveBlockList
	abms         []*modifier.ABMWithState
	lbms         *modifier.LBMManager

	gameTime         atomic.Uint32
	gameTimeFraction float64
	metaLoaded       bool

	mgmtInterval       intervalLimiter
	nodeTimerInterval  intervalLimiter
	abmInterval        intervalLimiter
	objectMgmtInterval intervalLimiter
	sendTimer          float64
	addedObjects       int

	// Очередь прохода ABM; при нехватке времени следующий цикл продолжает с abmCursor
	abmQueue  []vec.Vec3
	abmCursor int

	playersMu sync.Mutex
	players   map[string]*Player

	outbound []*eventbus.Envelope

	statsMu         sync.RWMutex
	stats           Stats
	activeSnapshot  []vec.Vec3
	blocksActivated uint64
}

// NewEnvironment создает окружение
func NewEnvironment(opts Options) *Environment {
	if opts.Map == nil {
		opts.Map = voxel.NewMap(voxel.NewNodeDefManager())
	}
	if opts.Emerger == nil {
		opts.Emerger = mapEmerger{m: opts.Map}
	}
	if opts.Diagnostics == nil {
		opts.Diagnostics = diagnostics.Process()
	}
	if opts.Registry == nil {
		opts.Registry = object.NewRegistry()
	}
	if opts.ServerStep <= 0 {
		opts.ServerStep = 0.1
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	logger := logging.GetEnvLogger()
	return &Environment{
		cfg:          opts.Simulation,
		serverStep:   opts.ServerStep,
		m:            opts.Map,
		store:        opts.Store,
		emerger:      opts.Emerger,
		bus:          opts.Bus,
		metrics:      opts.Metrics,
		diag:         opts.Diagnostics,
		registry:     opts.Registry,
		objects:      object.NewManager(),
		rnd:          rand.New(rand.NewSource(seed)),
		logger:       logger,
		slowLog:      logging.NewRateLimited(logger, 10*time.Second, 1),
		activeBlocks: NewActiveBlockList(ParseBlockShape(opts.Simulation.ActiveBlockShape)),
		lbms:         modifier.NewLBMManager(opts.Map.NodeDefs()),
		players:      make(map[string]*Player),
	}
}

func (e *Environment) Map() *voxel.Map                       { return e.m }
func (e *Environment) ObjectManager() *object.Manager        { return e.objects }
func (e *Environment) Diagnostics() *diagnostics.Diagnostics { return e.diag }
func (e *Environment) Rand() *rand.Rand                      { return e.rnd }
func (e *Environment) Registry() *object.Registry            { return e.registry }
func (e *Environment) LBMManager() *modifier.LBMManager      { return e.lbms }
func (e *Environment) ActiveBlockList() *ActiveBlockList     { return e.activeBlocks }
func (e *Environment) GameTime() uint32                      { return e.gameTime.Load() }
func (e *Environment) SetGameTime(t uint32)                  { e.gameTime.Store(t) }

// AddedObjects - число объектов, добавленных с последнего сброса (для пересчета в ABM)
func (e *Environment) AddedObjects() int { return e.addedObjects }

// ResetAddedObjects сбрасывает счетчик добавленных объектов
func (e *Environment) ResetAddedObjects() { e.addedObjects = 0 }

// AddABM регистрирует правило ABM со случайным начальным таймером
func (e *Environment) AddABM(abm modifier.ABM) {
	e.abms = append(e.abms, modifier.NewABMWithState(abm, e.rnd))
}

// AddLBM регистрирует правило LBM; допустимо только до LoadMeta
func (e *Environment) AddLBM(def *modifier.LBMDef) error {
	return e.lbms.AddLBMDef(def)
}

// Step продвигает симуляцию на dtime секунд
func (e *Environment) Step(ctx context.Context, dtime float64) {
	ctx, span := tracer.Start(ctx, "Environment.Step", trace.WithAttributes(attribute.Float64("dtime", dtime)))
	defer span.End()
	start := time.Now()

	e.gameTimeFraction += dtime
	inc := uint32(e.gameTimeFraction)
	e.gameTime.Add(inc)
	e.gameTimeFraction -= float64(inc)

	if e.mgmtInterval.step(dtime, e.cfg.ActiveBlockMgmtInterval) {
		e.manageActiveBlocks(ctx)
	}

	if e.nodeTimerInterval.step(dtime, e.cfg.NodeTimerInterval) {
		e.refreshActiveBlocks()
	}

	var abmStats modifier.Stats
	if e.cfg.EnableABMs && e.abmInterval.step(dtime, e.cfg.ABMInterval) {
		abmStats = e.runABMs(ctx)
	}

	objectCount := e.stepObjects(dtime)

	if e.objectMgmtInterval.step(dtime, objectManagementInterval) {
		e.removeRemovedObjects()
	}

	e.updateObjectVisibility()
	e.flushOutbound(ctx)

	elapsed := time.Since(start)
	if e.metrics != nil {
		e.metrics.StepTime.Add(float64(elapsed.Microseconds()))
		e.metrics.ActiveObjects.Set(float64(objectCount))
		e.metrics.LoadedBlocks.Set(float64(e.m.BlockCount()))
		e.metrics.GameTime.Set(float64(e.GameTime()))
	}
	e.updateStats(elapsed, objectCount, abmStats)
}

// manageActiveBlocks пересчитывает активные блоки и активирует новые
func (e *Environment) manageActiveBlocks(ctx context.Context) {
	_, span := tracer.Start(ctx, "Environment.manageActiveBlocks")
	defer span.End()

	removed, added, extraAdded := e.activeBlocks.Update(e.activePlayers(),
		e.cfg.ActiveBlockRange, e.cfg.ActiveObjectSendRangeBlocks)

	// Объекты вне активных блоков становятся статическими
	e.DeactivateFarObjects(false)

	now := e.GameTime()
	for p := range removed {
		if b := e.m.GetBlock(p); b != nil {
			b.SetTimestamp(now)
		}
	}

	for _, p := range added.Sorted() {
		b := e.emerger.GetBlockOrEmerge(p)
		if b == nil {
			// Блок еще не готов; вернется в список на следующем цикле
			e.activeBlocks.Remove(p)
			continue
		}
		e.activateBlock(b)
	}

	// Блоки видимости объектов активируются, только если уже загружены
	for _, p := range extraAdded.Sorted() {
		b := e.m.GetBlock(p)
		if b == nil {
			e.activeBlocks.Remove(p)
			continue
		}
		e.activateBlock(b)
	}

	span.SetAttributes(
		attribute.Int("removed", len(removed)),
		attribute.Int("added", len(added)),
		attribute.Int("active", e.activeBlocks.Size()),
	)
	e.publishActiveGauge()
}

func (e *Environment) publishActiveGauge() {
	if e.metrics != nil {
		e.metrics.ActiveBlocks.Set(float64(e.activeBlocks.Size()))
	}
	snapshot := e.activeBlocks.List()
	e.statsMu.Lock()
	e.activeSnapshot = snapshot
	e.statsMu.Unlock()
}

// refreshActiveBlocks обновляет отметки времени активных блоков
func (e *Environment) refreshActiveBlocks() {
	now := e.GameTime()
	for _, p := range e.activeBlocks.List() {
		b := e.m.GetBlock(p)
		if b == nil {
			continue
		}
		b.ResetUsageTimer()
		b.SetTimestampNoChangedFlag(now)
		// Блок перезаписывается ради LBM, даже если данные не менялись
		if disk := b.DiskTimestamp(); disk == voxel.TimestampUndefined || now > disk+voxel.ResaveTimestampDiff {
			b.RaiseModified(voxel.ModStateWriteAtUnload)
		}
	}
}

// ForceActivateBlock делает блок активным вне цикла обновления списка
func (e *Environment) ForceActivateBlock(b *voxel.Block) {
	if e.activeBlocks.Add(b.Pos()) {
		e.activateBlock(b)
	}
	e.publishActiveGauge()
}

// ActivateBlock запускает активацию загруженного блока: объекты, затем LBM
func (e *Environment) ActivateBlock(b *voxel.Block) {
	e.activateBlock(b)
}

func (e *Environment) activateBlock(b *voxel.Block) {
	// Таймер сбрасывается сразу, иначе блок может выгрузиться в момент активации
	b.ResetUsageTimer()

	now := e.GameTime()
	var dtimeS uint32
	stamp := b.Timestamp()
	if stamp != voxel.TimestampUndefined && now > stamp {
		dtimeS = now - stamp
	}
	b.SetTimestampNoChangedFlag(now)

	e.statsMu.Lock()
	e.blocksActivated++
	e.statsMu.Unlock()
	if e.metrics != nil {
		e.metrics.BlocksActivated.Inc()
	}

	e.activateObjects(b, dtimeS)
	if b.IsOrphan() {
		return
	}

	if e.cfg.EnableLBMs {
		e.lbms.ApplyLBMs(e, b, stamp, float64(dtimeS))
		if b.IsOrphan() {
			return
		}
	}

	pos := b.Pos()
	e.queueEvent(EventBlockActivated, false, BlockActivatedEvent{X: pos.X, Y: pos.Y, Z: pos.Z, DTimeS: dtimeS})
}

// runABMs выполняет один цикл ABM в пределах бюджета времени
func (e *Environment) runABMs(ctx context.Context) modifier.Stats {
	_, span := tracer.Start(ctx, "Environment.runABMs")
	defer span.End()
	start := time.Now()

	var stats modifier.Stats

	// Перемешивание убирает устойчивые артефакты порядка
	e.rnd.Shuffle(len(e.abms), func(i, j int) { e.abms[i], e.abms[j] = e.abms[j], e.abms[i] })
	handler := modifier.NewABMHandler(e.abms, e.cfg.ABMInterval, e, true)

	if e.abmCursor >= len(e.abmQueue) {
		e.abmQueue = e.activeBlocks.ABMList()
		e.rnd.Shuffle(len(e.abmQueue), func(i, j int) {
			e.abmQueue[i], e.abmQueue[j] = e.abmQueue[j], e.abmQueue[i]
		})
		e.abmCursor = 0
	}

	budget := time.Duration(e.cfg.ABMInterval * 1000 * e.cfg.ABMTimeBudget * float64(time.Millisecond))
	now := e.GameTime()
	processed := 0
	for e.abmCursor < len(e.abmQueue) {
		p := e.abmQueue[e.abmCursor]
		e.abmCursor++

		if !e.activeBlocks.abmList.Contains(p) {
			continue
		}
		b := e.m.GetBlock(p)
		if b == nil {
			continue
		}
		processed++

		b.SetTimestampNoChangedFlag(now)
		handler.Apply(b, &stats)

		if elapsed := time.Since(start); elapsed > budget {
			e.slowLog.Warn("active block modifiers took %dms (processed %d of %d active blocks)",
				elapsed.Milliseconds(), e.abmCursor, len(e.abmQueue))
			e.diag.ABMBudgetExceeded()
			break
		}
	}

	if e.metrics != nil {
		e.metrics.ABMRuns.Add(float64(stats.ABMsRun))
		e.metrics.BlocksScanned.Add(float64(stats.BlocksScanned))
	}
	span.SetAttributes(
		attribute.Int("processed", processed),
		attribute.Int("abms_run", stats.ABMsRun),
		attribute.Int("scanned", stats.BlocksScanned),
	)
	return stats
}

// stepObjects шагает все активные объекты и собирает их сообщения
func (e *Environment) stepObjects(dtime float64) int {
	sendRecommended := false
	e.sendTimer += dtime
	if e.sendTimer > e.serverStep {
		e.sendTimer -= e.serverStep
		sendRecommended = true
	}

	count := 0
	e.objects.Step(dtime, func(obj object.ActiveObject) {
		if obj.IsGone() {
			return
		}
		count++
		obj.Step(dtime, sendRecommended)
		for _, msg := range obj.PopMessages() {
			e.queueEvent(EventObjectMessage, msg.Reliable, ObjectMessageEvent{
				ObjectID: msg.ID,
				Reliable: msg.Reliable,
				Data:     msg.Data,
			})
		}
	})
	return count
}

// queueEvent ставит событие в очередь до конца шага
func (e *Environment) queueEvent(eventType string, reliable bool, payload interface{}) {
	if e.bus == nil {
		return
	}
	ev, err := eventbus.NewEnvelope(eventSource, eventType, payload)
	if err != nil {
		e.logger.Error("%v", err)
		return
	}
	ev.Reliable = reliable
	if reliable {
		ev.Priority = 5
	}
	e.outbound = append(e.outbound, ev)
}

// flushOutbound публикует накопленные за шаг события
func (e *Environment) flushOutbound(ctx context.Context) {
	if len(e.outbound) == 0 {
		return
	}
	for _, ev := range e.outbound {
		if err := e.bus.Publish(ctx, ev); err != nil {
			e.slowLog.Warn("publish %s: %v", ev.EventType, err)
		}
	}
	e.outbound = e.outbound[:0]
}

func (e *Environment) updateStats(elapsed time.Duration, objectCount int, abm modifier.Stats) {
	players := e.PlayerCount()
	e.statsMu.Lock()
	e.stats.GameTime = e.GameTime()
	e.stats.ActiveBlocks = e.activeBlocks.Size()
	e.stats.ActiveObjects = objectCount
	e.stats.LoadedBlocks = e.m.BlockCount()
	e.stats.Players = players
	e.stats.LastStep = elapsed
	if abm != (modifier.Stats{}) {
		e.stats.BlocksScanned = abm.BlocksScanned
		e.stats.BlocksCached = abm.BlocksCached
		e.stats.ABMsRun = abm.ABMsRun
	}
	e.stats.ABMCursor = e.abmCursor
	e.stats.ABMQueueLen = len(e.abmQueue)
	e.stats.BlocksActivated = e.blocksActivated
	e.statsMu.Unlock()
}

// Stats возвращает снимок состояния после последнего шага
func (e *Environment) Stats() Stats {
	e.statsMu.RLock()
	defer e.statsMu.RUnlock()
	return e.stats
}

// ActiveBlocks возвращает снимок активных блоков после последнего обновления списка
func (e *Environment) ActiveBlocks() []vec.Vec3 {
	e.statsMu.RLock()
	defer e.statsMu.RUnlock()
	out := make([]vec.Vec3, len(e.activeSnapshot))
	copy(out, e.activeSnapshot)
	return out
}

// Run крутит Step с периодом ServerStep и периодически сохраняет блоки.
// При отмене ctx выполняет Shutdown.
func (e *Environment) Run(ctx context.Context, autosave time.Duration) error {
	step := time.Duration(e.serverStep * float64(time.Second))
	ticker := time.NewTicker(step)
	defer ticker.Stop()

	var saveC <-chan time.Time
	if autosave > 0 && e.store != nil {
		saveTicker := time.NewTicker(autosave)
		defer saveTicker.Stop()
		saveC = saveTicker.C
	}

	e.logger.Info("Environment loop started: step=%s, abms=%d", step, len(e.abms))
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return e.Shutdown(context.Background())
		case now := <-ticker.C:
			dtime := now.Sub(last).Seconds()
			last = now
			e.Step(ctx, dtime)
			e.UnloadUnusedBlocks(ctx, dtime)
		case <-saveC:
			if _, err := e.SaveModifiedBlocks(ctx, voxel.ModStateWriteNeeded); err != nil {
				e.logger.Error("autosave: %v", err)
			}
			if err := e.SaveMeta(ctx); err != nil {
				e.logger.Error("autosave meta: %v", err)
			}
		}
	}
}
