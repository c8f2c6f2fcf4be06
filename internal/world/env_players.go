package world

import (
	"fmt"
	"sort"

	"github.com/freeminer/freeminer-sub007/internal/vec"
	"github.com/freeminer/freeminer-sub007/internal/world/object"
)

// Player - подключенный игрок и набор объектов, о которых знает его клиент
type Player struct {
	Name   string
	Object object.PlayerObject
	// WantedRange - запрошенная клиентом дальность видимости, в блоках
	WantedRange int

	known map[uint16]struct{}
}

// KnownObjects возвращает отсортированные id объектов, известных клиенту
func (p *Player) KnownObjects() []uint16 {
	ids := make([]uint16, 0, len(p.known))
	for id := range p.known {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// AddPlayer подключает игрока: его объект регистрируется в окружении
func (e *Environment) AddPlayer(obj object.PlayerObject, wantedRange int) (*Player, error) {
	name := obj.PlayerName()

	e.playersMu.Lock()
	defer e.playersMu.Unlock()
	if _, ok := e.players[name]; ok {
		return nil, fmt.Errorf("игрок %s уже подключен", name)
	}
	if e.AddActiveObject(obj) == 0 {
		return nil, fmt.Errorf("объект игрока %s не принят", name)
	}

	p := &Player{Name: name, Object: obj, WantedRange: wantedRange, known: make(map[uint16]struct{})}
	e.players[name] = p
	e.logger.Info("Player %s joined, object id=%d", name, obj.ID())
	return p, nil
}

// RemovePlayer отключает игрока и удаляет его объект
func (e *Environment) RemovePlayer(name string) bool {
	e.playersMu.Lock()
	p, ok := e.players[name]
	if ok {
		delete(e.players, name)
	}
	e.playersMu.Unlock()
	if !ok {
		return false
	}

	for id := range p.known {
		if obj := e.objects.GetActiveObject(id); obj != nil {
			obj.RemoveKnownBy()
		}
	}
	p.Object.MarkForRemoval()
	e.logger.Info("Player %s left", name)
	return true
}

// GetPlayer возвращает подключенного игрока
func (e *Environment) GetPlayer(name string) *Player {
	e.playersMu.Lock()
	defer e.playersMu.Unlock()
	return e.players[name]
}

// PlayerCount возвращает число подключенных игроков
func (e *Environment) PlayerCount() int {
	e.playersMu.Lock()
	defer e.playersMu.Unlock()
	return len(e.players)
}

func (e *Environment) playerList() []*Player {
	e.playersMu.Lock()
	defer e.playersMu.Unlock()
	out := make([]*Player, 0, len(e.players))
	for _, p := range e.players {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (e *Environment) activePlayers() []ActivePlayer {
	players := e.playerList()
	out := make([]ActivePlayer, 0, len(players))
	for _, p := range players {
		if p.Object.IsGone() {
			continue
		}
		ap := ActivePlayer{Pos: p.Object.BasePosition(), WantedRange: p.WantedRange}
		if v, ok := p.Object.(object.Viewer); ok {
			view := v.View()
			ap.Eye = view.Eye
			ap.Dir = CameraDir(view.Pitch, view.Yaw, view.Inverted)
			ap.Fov = view.Fov
		}
		out = append(out, ap)
	}
	return out
}

// updateObjectVisibility сообщает каждому игроку, какие объекты появились и исчезли
func (e *Environment) updateObjectVisibility() {
	radius := float64(e.cfg.ActiveObjectSendRangeBlocks*vec.BlockSize) * vec.BS
	playerRadius := float64(e.cfg.PlayerTransferDistance*vec.BlockSize) * vec.BS

	for _, p := range e.playerList() {
		if p.Object.IsGone() {
			continue
		}
		if !e.objects.IsEffectivelyObservedBy(p.Object, p.Name) {
			if e.diag.WarnOnce("self-observe:" + p.Name) {
				e.logger.Warn("player %s does not observe itself", p.Name)
			}
			continue
		}

		removed := e.removedObjectsFor(p, radius, playerRadius)
		added := e.objects.GetAddedActiveObjectsAroundPos(p.Object.BasePosition(), p.Name, radius, playerRadius, p.known)
		if len(removed) == 0 && len(added) == 0 {
			continue
		}

		ev := ObjectRemoveAddEvent{Player: p.Name}
		for _, r := range removed {
			delete(p.known, r.ID)
			if obj := e.objects.GetActiveObject(r.ID); obj != nil {
				obj.RemoveKnownBy()
			}
			ev.Removed = append(ev.Removed, r)
		}
		for _, id := range added {
			obj := e.objects.GetActiveObject(id)
			if obj == nil {
				continue
			}
			p.known[id] = struct{}{}
			obj.AddKnownBy()
			ev.Added = append(ev.Added, AddedObject{ID: id, Type: obj.Type()})
		}
		e.queueEvent(EventObjectRemoveAdd, true, ev)
	}
}

// removedObjectsFor находит известные клиенту объекты, которые он должен забыть
func (e *Environment) removedObjectsFor(p *Player, radius, playerRadius float64) []RemovedObject {
	pos := p.Object.BasePosition()
	var removed []RemovedObject
	for _, id := range p.KnownObjects() {
		obj := e.objects.GetActiveObject(id)
		if obj == nil {
			e.logger.Warn("found nil object id=%d in known objects of %s", id, p.Name)
			removed = append(removed, RemovedObject{ID: id, Gone: true})
			continue
		}
		if obj.IsGone() {
			removed = append(removed, RemovedObject{ID: id, Gone: true})
			continue
		}

		dist := obj.BasePosition().Sub(pos).Len()
		inRange := dist <= radius
		if obj.Type() == object.TypePlayer {
			inRange = playerRadius == 0 || dist <= playerRadius
		}
		if !inRange || !e.objects.IsEffectivelyObservedBy(obj, p.Name) {
			removed = append(removed, RemovedObject{ID: id})
		}
	}
	return removed
}
