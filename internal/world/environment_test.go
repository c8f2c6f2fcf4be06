package world

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freeminer/freeminer-sub007/internal/config"
	"github.com/freeminer/freeminer-sub007/internal/diagnostics"
	"github.com/freeminer/freeminer-sub007/internal/eventbus"
	"github.com/freeminer/freeminer-sub007/internal/storage"
	"github.com/freeminer/freeminer-sub007/internal/vec"
	"github.com/freeminer/freeminer-sub007/internal/voxel"
	"github.com/freeminer/freeminer-sub007/internal/world/modifier"
	"github.com/freeminer/freeminer-sub007/internal/world/object"
)

type testEntity struct {
	object.BaseObject
	steps int
}

func newTestEntity(pos vec.V3f) *testEntity {
	o := &testEntity{}
	o.SetBasePosition(pos)
	return o
}

func (o *testEntity) Type() object.Type { return object.TypeEntity }

func (o *testEntity) Step(dtime float64, sendRecommended bool) {
	o.steps++
	if sendRecommended {
		o.PushMessage(object.Message{ID: o.ID(), Data: []byte("pos")})
	}
}

func (o *testEntity) GetStaticData() voxel.StaticObject {
	return voxel.StaticObject{Type: uint8(object.TypeEntity), Pos: o.BasePosition(), Data: []byte("entity")}
}

type testPlayer struct {
	object.BaseObject
	name string
}

func newTestPlayer(name string, pos vec.V3f) *testPlayer {
	p := &testPlayer{name: name}
	p.SetBasePosition(pos)
	return p
}

func (p *testPlayer) Type() object.Type                 { return object.TypePlayer }
func (p *testPlayer) Step(float64, bool)                {}
func (p *testPlayer) GetStaticData() voxel.StaticObject { return voxel.StaticObject{} }
func (p *testPlayer) PlayerName() string                { return p.name }
func (p *testPlayer) IsStaticAllowed() bool             { return false }
func (p *testPlayer) ShouldUnload() bool                { return false }

func testSimulation() config.SimulationConfig {
	return config.SimulationConfig{
		ActiveBlockRange:            1,
		ActiveObjectSendRangeBlocks: 1,
		ActiveBlockShape:            "cube",
		ActiveBlockMgmtInterval:     1,
		ABMInterval:                 1,
		ABMTimeBudget:               0.2,
		NodeTimerInterval:           0.2,
		UnloadUnusedDataTimeout:     29,
		EnableABMs:                  true,
		EnableLBMs:                  true,
		MaxObjectsPerBlock:          64,
	}
}

func newTestEnvironment(t *testing.T, opts Options) *Environment {
	t.Helper()
	if opts.Simulation == (config.SimulationConfig{}) {
		opts.Simulation = testSimulation()
	}
	if opts.Diagnostics == nil {
		opts.Diagnostics = diagnostics.New()
	}
	opts.Seed = 1
	return NewEnvironment(opts)
}

// loadCube создает блоки куба с центром c и радиусом r
func loadCube(m *voxel.Map, c vec.Vec3, r int) {
	for x := -r; x <= r; x++ {
		for y := -r; y <= r; y++ {
			for z := -r; z <= r; z++ {
				m.CreateBlock(c.Add(vec.New3(x, y, z)))
			}
		}
	}
}

// blockCenter - мировые координаты центра блока
func blockCenter(p vec.Vec3) vec.V3f {
	return vec.IntToFloat(vec.BlockOrigin(p).Add(vec.New3(8, 8, 8)), vec.BS)
}

func TestEnvironmentActivatesLoadedBlocksAroundPlayer(t *testing.T) {
	env := newTestEnvironment(t, Options{})
	loadCube(env.Map(), vec.New3(0, 0, 0), 1)
	env.Map().DeleteBlock(vec.New3(1, 1, 1))
	require.NoError(t, env.LoadMeta(context.Background()))

	_, err := env.AddPlayer(newTestPlayer("alice", blockCenter(vec.New3(0, 0, 0))), 8)
	require.NoError(t, err)

	env.Step(context.Background(), 1.0)

	assert.Equal(t, 26, env.Stats().ActiveBlocks, "незагруженный блок выпадает из списка до следующего цикла")
	assert.False(t, env.ActiveBlockList().Contains(vec.New3(1, 1, 1)))
	assert.Len(t, env.ActiveBlocks(), 26)
	assert.Equal(t, uint64(26), env.Stats().BlocksActivated)
	assert.Equal(t, uint32(1), env.GameTime())
}

func TestEnvironmentGameTimeAccumulatesFractions(t *testing.T) {
	env := newTestEnvironment(t, Options{})
	for i := 0; i < 3; i++ {
		env.Step(context.Background(), 0.4)
	}
	assert.Equal(t, uint32(1), env.GameTime(), "дробная часть переносится между шагами")
	env.Step(context.Background(), 0.9)
	assert.Equal(t, uint32(2), env.GameTime())
}

func TestActivateBlockRunsLBMsWithElapsedTime(t *testing.T) {
	env := newTestEnvironment(t, Options{})
	var gotDtime float64
	calls := 0
	require.NoError(t, env.AddLBM(&modifier.LBMDef{
		Name:            "test:every_load",
		TriggerContents: []string{"air"},
		RunAtEveryLoad:  true,
		Trigger: func(_ modifier.Environment, _ *voxel.Block, _ []vec.Vec3, dtimeS float64) {
			calls++
			gotDtime = dtimeS
		},
	}))
	require.NoError(t, env.LoadMeta(context.Background()))
	env.SetGameTime(50)

	b := env.Map().CreateBlock(vec.New3(3, 0, 0))
	b.SetTimestampNoChangedFlag(10)
	env.ForceActivateBlock(b)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 40.0, gotDtime)
	assert.Equal(t, uint32(50), b.Timestamp())
	assert.Equal(t, voxel.ModStateClean, b.ModState(), "активация не помечает блок к записи")

	env.ForceActivateBlock(b)
	assert.Equal(t, 1, calls, "повторная активация активного блока ничего не делает")
}

func TestStaticObjectsActivateAndDeactivate(t *testing.T) {
	env := newTestEnvironment(t, Options{})
	env.Registry().Register(object.TypeEntity, func(s voxel.StaticObject) (object.ActiveObject, error) {
		return newTestEntity(s.Pos), nil
	})
	loadCube(env.Map(), vec.New3(0, 0, 0), 1)
	require.NoError(t, env.LoadMeta(context.Background()))

	far := env.Map().CreateBlock(vec.New3(5, 0, 0))
	far.StaticObjects.PushStored(voxel.StaticObject{
		Type: uint8(object.TypeEntity),
		Pos:  blockCenter(vec.New3(5, 0, 0)),
		Data: []byte("entity"),
	})
	far.StaticObjects.PushStored(voxel.StaticObject{Type: 99})

	_, err := env.AddPlayer(newTestPlayer("alice", blockCenter(vec.New3(0, 0, 0))), 1)
	require.NoError(t, err)

	env.ForceActivateBlock(far)
	assert.Equal(t, 2, env.ObjectManager().Count(), "игрок и восстановленная сущность")
	assert.Equal(t, 1, far.StaticObjects.ActiveSize())
	assert.Equal(t, 1, far.StaticObjects.StoredSize(), "запись без фабрики остается ожидающей")

	// Блок вне радиуса игрока уходит из списка, сущность сохраняется обратно
	env.Step(context.Background(), 1.0)
	assert.False(t, env.ActiveBlockList().Contains(far.Pos()))
	assert.Equal(t, 1, env.ObjectManager().Count())
	assert.Equal(t, 0, far.StaticObjects.ActiveSize())
	assert.Equal(t, 2, far.StaticObjects.StoredSize())
}

func TestDeactivateFarObjectsResavesMovedObject(t *testing.T) {
	env := newTestEnvironment(t, Options{})
	a, b := vec.New3(0, 0, 0), vec.New3(4, 0, 0)
	env.Map().CreateBlock(a)
	env.Map().CreateBlock(b)
	env.ActiveBlockList().AddForced(a)
	env.ActiveBlockList().AddForced(b)
	env.Step(context.Background(), 1.0)
	require.True(t, env.ActiveBlockList().Contains(b))

	ent := newTestEntity(blockCenter(a))
	id := env.AddActiveObject(ent)
	require.NotZero(t, id)
	_, ok := env.Map().GetBlock(a).StaticObjects.GetActive(id)
	require.True(t, ok)

	ent.SetBasePosition(blockCenter(b))
	env.DeactivateFarObjects(false)

	_, ok = env.Map().GetBlock(a).StaticObjects.GetActive(id)
	assert.False(t, ok, "запись ушла из старого блока")
	_, ok = env.Map().GetBlock(b).StaticObjects.GetActive(id)
	assert.True(t, ok, "и появилась в блоке, где объект теперь находится")
	assert.NotNil(t, env.GetActiveObject(id), "объект в активном блоке остается активным")
	sb, exists := ent.StaticBlock()
	assert.True(t, exists)
	assert.Equal(t, b, sb)
}

func TestDeactivateKeepsObjectKnownByClient(t *testing.T) {
	env := newTestEnvironment(t, Options{})
	p := vec.New3(2, 0, 0)
	env.Map().CreateBlock(p)

	ent := newTestEntity(blockCenter(p))
	id := env.AddActiveObject(ent)
	require.NotZero(t, id)
	ent.AddKnownBy()

	env.DeactivateFarObjects(false)
	assert.NotNil(t, env.GetActiveObject(id), "известный клиенту объект удаляется позже")
	assert.True(t, ent.IsGone())
	_, ok := env.Map().GetBlock(p).StaticObjects.GetActive(id)
	assert.True(t, ok, "запись хранится под id до окончательного удаления")

	ent.RemoveKnownBy()
	env.removeRemovedObjects()
	assert.Nil(t, env.GetActiveObject(id))
	assert.Equal(t, 1, env.Map().GetBlock(p).StaticObjects.StoredSize(), "запись перешла в ожидающие")
}

func TestMaxObjectsPerBlock(t *testing.T) {
	sim := testSimulation()
	sim.MaxObjectsPerBlock = 1
	env := newTestEnvironment(t, Options{Simulation: sim})
	p := vec.New3(2, 0, 0)
	env.Map().CreateBlock(p)

	first := newTestEntity(blockCenter(p))
	second := newTestEntity(blockCenter(p))
	require.NotZero(t, env.AddActiveObject(first))
	require.NotZero(t, env.AddActiveObject(second))

	env.DeactivateFarObjects(false)
	assert.Equal(t, 1, env.Map().GetBlock(p).StaticObjects.StoredSize(), "лишний объект не сохраняется")
	assert.Equal(t, 0, env.ObjectManager().Count(), "но все равно удаляется")
}

type eventLog struct {
	mu     sync.Mutex
	events []*eventbus.Envelope
}

func (l *eventLog) handle(_ context.Context, ev *eventbus.Envelope) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) ofType(typ string) []*eventbus.Envelope {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*eventbus.Envelope
	for _, ev := range l.events {
		if ev.EventType == typ {
			out = append(out, ev)
		}
	}
	return out
}

func TestObjectVisibilityEvents(t *testing.T) {
	bus := eventbus.NewMemoryBus(64)
	log := &eventLog{}
	_, err := bus.Subscribe(context.Background(), eventbus.Filter{}, log.handle)
	require.NoError(t, err)

	env := newTestEnvironment(t, Options{Bus: bus, ServerStep: 0.1})
	env.Map().CreateBlock(vec.New3(0, 0, 0))

	player := newTestPlayer("alice", blockCenter(vec.New3(0, 0, 0)))
	_, err = env.AddPlayer(player, 1)
	require.NoError(t, err)
	ent := newTestEntity(blockCenter(vec.New3(0, 0, 0)).Add(vec.V3f{10, 0, 0}))
	id := env.AddActiveObject(ent)
	require.NotZero(t, id)

	env.Step(context.Background(), 0.05)
	assert.Equal(t, 1, ent.KnownByCount())
	assert.ElementsMatch(t, []uint16{player.ID(), id}, env.GetPlayer("alice").KnownObjects())

	env.Step(context.Background(), 0.2)
	ent.MarkForRemoval()
	env.Step(context.Background(), 0.05)
	assert.Equal(t, 0, ent.KnownByCount())
	env.Step(context.Background(), 0.5)
	assert.Nil(t, env.GetActiveObject(id), "забытый всеми объект удаляется")

	require.NoError(t, bus.Close())

	removeAdd := log.ofType(EventObjectRemoveAdd)
	require.Len(t, removeAdd, 2)
	var first ObjectRemoveAddEvent
	require.NoError(t, removeAdd[0].Decode(&first))
	assert.Equal(t, "alice", first.Player)
	assert.Len(t, first.Added, 2)
	assert.True(t, removeAdd[0].Reliable)

	var second ObjectRemoveAddEvent
	require.NoError(t, removeAdd[1].Decode(&second))
	assert.Equal(t, []RemovedObject{{ID: id, Gone: true}}, second.Removed)

	msgs := log.ofType(EventObjectMessage)
	require.NotEmpty(t, msgs, "сообщения объекта уходят при рекомендованной отправке")
	var msg ObjectMessageEvent
	require.NoError(t, msgs[0].Decode(&msg))
	assert.Equal(t, id, msg.ObjectID)
	assert.Equal(t, []byte("pos"), msg.Data)
}

func TestABMBudgetResumesCursor(t *testing.T) {
	sim := testSimulation()
	sim.ABMTimeBudget = 1e-9
	env := newTestEnvironment(t, Options{Simulation: sim})
	loadCube(env.Map(), vec.New3(0, 0, 0), 1)
	env.AddABM(&modifier.ABMDef{
		Name:      "test:air",
		Nodenames: []string{"air"},
		Interval:  1,
		Chance:    1,
		Action:    func(modifier.Environment, vec.Vec3, voxel.Node, int, int) {},
	})
	require.NoError(t, env.LoadMeta(context.Background()))
	_, err := env.AddPlayer(newTestPlayer("alice", blockCenter(vec.New3(0, 0, 0))), 1)
	require.NoError(t, err)

	env.Step(context.Background(), 1.0)
	st := env.Stats()
	assert.Equal(t, 27, st.ABMQueueLen)
	assert.Equal(t, 1, st.ABMCursor, "после превышения бюджета позиция сохраняется")
	assert.Equal(t, int64(1), env.Diagnostics().Snapshot().ABMBudgetExceeded)

	env.Step(context.Background(), 1.0)
	assert.Equal(t, 2, env.Stats().ABMCursor, "следующий цикл продолжает с сохраненной позиции")
}

func TestRefreshMarksDriftedBlocks(t *testing.T) {
	env := newTestEnvironment(t, Options{})
	b := env.Map().CreateBlock(vec.New3(0, 0, 0))
	b.SetTimestampNoChangedFlag(20)
	b.MarkSaved()
	env.ActiveBlockList().Add(b.Pos())

	env.SetGameTime(30)
	env.refreshActiveBlocks()
	assert.Equal(t, voxel.ModStateClean, b.ModState())

	env.SetGameTime(uint32(b.DiskTimestamp()) + voxel.ResaveTimestampDiff + 1)
	env.refreshActiveBlocks()
	assert.Equal(t, voxel.ModStateWriteAtUnload, b.ModState())
}

func TestEnvironmentMetaRoundTrip(t *testing.T) {
	store := storage.NewMemoryStore()
	lbm := &modifier.LBMDef{Name: "mod:fix", TriggerContents: []string{"air"},
		Trigger: func(modifier.Environment, *voxel.Block, []vec.Vec3, float64) {}}

	env := newTestEnvironment(t, Options{Store: store})
	require.NoError(t, env.AddLBM(lbm))
	require.NoError(t, env.LoadMeta(context.Background()))
	env.SetGameTime(1234)
	require.NoError(t, env.SaveMeta(context.Background()))

	again := newTestEnvironment(t, Options{Store: store})
	require.NoError(t, again.AddLBM(lbm))
	require.NoError(t, again.LoadMeta(context.Background()))
	assert.Equal(t, uint32(1234), again.GameTime())
	assert.Equal(t, "mod:fix~0;", again.LBMManager().CreateIntroductionTimesString(),
		"время появления правила берется из сохраненных метаданных")
	assert.Error(t, again.LoadMeta(context.Background()), "повторная загрузка запрещена")
}

func TestEnvironmentMetaWithoutGameTime(t *testing.T) {
	store := storage.NewMemoryStore()
	require.NoError(t, store.SaveMeta(context.Background(), envMetaKey, []byte("lbm_introduction_times_version: 1\n")))

	env := newTestEnvironment(t, Options{Store: store})
	assert.Error(t, env.LoadMeta(context.Background()))
}

func TestUnloadUnusedBlocksSavesModified(t *testing.T) {
	store := storage.NewMemoryStore()
	env := newTestEnvironment(t, Options{Store: store})
	active := env.Map().CreateBlock(vec.New3(0, 0, 0))
	env.ActiveBlockList().Add(active.Pos())
	idle := env.Map().CreateBlock(vec.New3(9, 0, 0))
	idle.RaiseModified(voxel.ModStateWriteNeeded)

	assert.Equal(t, 0, env.UnloadUnusedBlocks(context.Background(), 10))
	assert.Equal(t, 1, env.UnloadUnusedBlocks(context.Background(), 20))
	assert.True(t, idle.IsOrphan())
	assert.Nil(t, env.Map().GetBlock(idle.Pos()))
	assert.NotNil(t, env.Map().GetBlock(active.Pos()), "активный блок не выгружается")
	assert.Equal(t, 1, store.Count())
}

type lookingPlayer struct {
	*testPlayer
	view object.View
}

func (p *lookingPlayer) View() object.View { return p.view }

func TestActivePlayersCarryView(t *testing.T) {
	env := newTestEnvironment(t, Options{})
	pos := blockCenter(vec.New3(0, 0, 0))
	_, err := env.AddPlayer(newTestPlayer("alice", pos), 3)
	require.NoError(t, err)
	_, err = env.AddPlayer(&lookingPlayer{
		testPlayer: newTestPlayer("bob", pos),
		view:       object.View{Eye: pos, Yaw: 0, Fov: 1.2},
	}, 3)
	require.NoError(t, err)

	var withView int
	for _, ap := range env.activePlayers() {
		if ap.Fov == 0 {
			assert.Equal(t, vec.V3f{}, ap.Dir, "без направления конус не строится")
			continue
		}
		withView++
		assert.Equal(t, 1.2, ap.Fov)
		assert.InDelta(t, 1, ap.Dir.Z(), 1e-9, "взгляд по +Z")
		assert.Equal(t, pos, ap.Eye)
	}
	assert.Equal(t, 1, withView)
}
