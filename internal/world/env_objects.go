package world

import (
	"github.com/freeminer/freeminer-sub007/internal/logging"
	"github.com/freeminer/freeminer-sub007/internal/vec"
	"github.com/freeminer/freeminer-sub007/internal/voxel"
	"github.com/freeminer/freeminer-sub007/internal/world/object"
)

// AddActiveObject регистрирует новый объект и сохраняет его статические данные в блок.
// Возвращает id объекта или 0, если объект не принят.
func (e *Environment) AddActiveObject(obj object.ActiveObject) uint16 {
	e.addedObjects++
	return e.addActiveObjectRaw(obj, nil, 0)
}

// GetActiveObject возвращает объект по id или nil
func (e *Environment) GetActiveObject(id uint16) object.ActiveObject {
	return e.objects.GetActiveObject(id)
}

func (e *Environment) addActiveObjectRaw(obj object.ActiveObject, fromStatic *voxel.StaticObject, dtimeS uint32) uint16 {
	if !e.objects.RegisterObject(obj) {
		return 0
	}
	id := obj.ID()

	if lc, ok := obj.(object.Lifecycle); ok {
		lc.AddedToEnvironment(dtimeS)
	}

	if blockPos, exists := obj.StaticBlock(); exists && fromStatic != nil {
		// Объект активирован из статической записи: она переходит в активные
		if b := e.emerger.EmergeBlock(blockPos, true); b != nil {
			b.StaticObjects.Insert(id, *fromStatic)
		} else {
			e.logger.Warn("object id=%d was supposed to be in block %s, but this block disappeared", id, blockPos)
			obj.SetStaticBlock(blockPos, false)
		}
		return id
	}

	if !obj.IsStaticAllowed() {
		return id
	}

	pos := obj.BasePosition()
	blockPos := vec.ObjectBlockPos(pos)
	b := e.emerger.EmergeBlock(blockPos, true)
	if b == nil {
		e.logger.Error("could not emerge block %s for storing id=%d statically", blockPos, id)
		obj.MarkForRemoval()
		e.processActiveObjectRemove(obj)
		e.objects.RemoveObject(id)
		return 0
	}
	static := obj.GetStaticData()
	static.Pos = pos
	b.StaticObjects.Insert(id, static)
	obj.SetStaticBlock(blockPos, true)
	b.RaiseModified(voxel.ModStateWriteNeeded)
	return id
}

// activateObjects превращает ожидающие статические записи блока в активные объекты
func (e *Environment) activateObjects(b *voxel.Block, dtimeS uint32) {
	stored := b.StaticObjects.GetAllStored()
	if len(stored) == 0 {
		return
	}

	var failed []voxel.StaticObject
	for i := range stored {
		sobj := stored[i]
		obj, err := e.registry.Create(sobj)
		if err != nil {
			e.logger.Error("failed to create active object from static object in block %s: %v", b.Pos(), err)
			e.logger.Trace("static data:\n%s", logging.HexDump(sobj.Data))
			failed = append(failed, sobj)
			continue
		}
		obj.SetBasePosition(sobj.Pos)
		obj.SetStaticBlock(b.Pos(), true)

		if e.addActiveObjectRaw(obj, &sobj, dtimeS) != 0 {
			e.logger.Debug("activated static object pos=%v type=%s", sobj.Pos.Mul(1/vec.BS), obj.Type())
		}

		// Обработчики объектов могли выгрузить блок
		if b.IsOrphan() {
			return
		}
	}

	// Блок фактически не изменился: записи перешли из ожидающих в активные
	b.StaticObjects.ClearStored()
	for _, sobj := range failed {
		b.StaticObjects.PushStored(sobj)
	}
}

// DeactivateFarObjects переводит объекты вне активных блоков в статические записи.
// Объекты, известные клиентам, не удаляются до следующего прохода.
// force удаляет все объекты; используется при остановке.
func (e *Environment) DeactivateFarObjects(force bool) {
	e.objects.ClearIf(func(obj object.ActiveObject, id uint16) bool {
		if !force && !obj.ShouldUnload() {
			return false
		}
		// Ушедшими объектами занимается removeRemovedObjects
		if !force && obj.IsGone() {
			return false
		}

		pos := obj.BasePosition()
		blockPos := vec.ObjectBlockPos(pos)
		staticBlock, staticExists := obj.StaticBlock()

		// Объект в активном блоке, но его запись лежит в неактивном или далеком блоке: переносим
		if !force && obj.IsStaticAllowed() && staticExists && e.activeBlocks.Contains(blockPos) &&
			(!e.activeBlocks.Contains(staticBlock) ||
				blockPos.DistanceSq(staticBlock) >= ActiveObjectResaveDistanceSq) {

			e.deleteStaticFromBlock(obj, id, true)
			static := obj.GetStaticData()
			static.Pos = pos
			e.saveStaticToBlock(blockPos, id, obj, static, true)
			return false
		}

		stillActive := e.m.GetBlock(blockPos) != nil
		if obj.IsStaticAllowed() {
			stillActive = e.activeBlocks.Contains(blockPos)
		}
		if !force && stillActive {
			return false
		}

		pendingDelete := obj.KnownByCount() > 0 && !force
		e.logger.Debug("deactivating object id=%d on inactive block %s pending=%t", id, blockPos, pendingDelete)

		if obj.IsStaticAllowed() {
			static := obj.GetStaticData()
			static.Pos = pos

			staysInSameBlock := false
			dataChanged := true
			if staticExists {
				staysInSameBlock = staticBlock == blockPos
				if b := e.emerger.EmergeBlock(staticBlock, false); b != nil {
					if old, ok := b.StaticObjects.GetActive(id); ok {
						if string(old.Data) == string(static.Data) && old.Pos.Sub(pos).Len() < minimumSavedMovement(obj) {
							dataChanged = false
						}
					} else {
						e.logger.Warn("id=%d static_exists=true but static data doesn't actually exist in %s", id, staticBlock)
					}
				}
			}

			// Запись обновляется всегда, а блок помечается к записи только при изменениях
			markModified := !staysInSameBlock || dataChanged
			e.deleteStaticFromBlock(obj, id, markModified)

			var storeID uint16
			if pendingDelete {
				storeID = id
			}
			if !e.saveStaticToBlock(blockPos, storeID, obj, static, markModified) {
				force = true
			} else if e.metrics != nil {
				e.metrics.ObjectsSaved.Inc()
			}
		} else {
			e.deleteStaticFromBlock(obj, id, true)
		}

		obj.MarkForDeactivation()

		if pendingDelete && !force {
			return false
		}

		e.processActiveObjectRemove(obj)
		return true
	})
}

// minimumSavedMovement - смещение, меньше которого позиция не считается изменившейся
func minimumSavedMovement(obj object.ActiveObject) float64 {
	if m, ok := obj.(interface{ MinimumSavedMovement() float64 }); ok {
		return m.MinimumSavedMovement()
	}
	return 2.0 * vec.BS
}

// removeRemovedObjects удаляет ушедшие объекты, которые больше не известны клиентам
func (e *Environment) removeRemovedObjects() {
	e.objects.ClearIf(func(obj object.ActiveObject, id uint16) bool {
		if !obj.IsGone() {
			return false
		}

		removal := obj.PendingRemoval()
		if removal {
			e.deleteStaticFromBlock(obj, id, true)
		}

		// Пока клиенты знают об объекте, удаление откладывается
		if obj.KnownByCount() > 0 {
			return false
		}

		// Деактивированный объект: запись переходит из активных в ожидающие
		if staticBlock, exists := obj.StaticBlock(); !removal && exists {
			if b := e.emerger.EmergeBlock(staticBlock, false); b != nil {
				if b.StaticObjects.StoreActiveObject(id) {
					b.RaiseModified(voxel.ModStateWriteNeeded)
				} else {
					e.logger.Warn("id=%d static_exists=true but static data doesn't actually exist in %s", id, staticBlock)
				}
			} else {
				e.logger.Info("failed to emerge block from which an object to be deactivated was loaded from, id=%d", id)
			}
		}

		e.processActiveObjectRemove(obj)
		return true
	})
}

// deleteStaticFromBlock удаляет активную запись объекта из его блока
func (e *Environment) deleteStaticFromBlock(obj object.ActiveObject, id uint16, markModified bool) {
	staticBlock, exists := obj.StaticBlock()
	if !exists {
		return
	}
	b := e.emerger.EmergeBlock(staticBlock, false)
	if b == nil {
		e.logger.Error("failed to emerge block %s when deleting static data of object from it, id=%d", staticBlock, id)
		return
	}
	b.StaticObjects.Remove(id)
	if markModified {
		b.RaiseModified(voxel.ModStateWriteNeeded)
	}
	obj.SetStaticBlock(staticBlock, false)
}

// saveStaticToBlock сохраняет запись объекта в блок. storeID 0 - запись ждет активации.
func (e *Environment) saveStaticToBlock(blockPos vec.Vec3, storeID uint16, obj object.ActiveObject,
	static voxel.StaticObject, markModified bool) bool {

	b := e.emerger.EmergeBlock(blockPos, true)
	if b == nil {
		e.logger.Error("failed to emerge block %s when saving static data of object to it, id=%d", blockPos, storeID)
		return false
	}

	if limit := e.cfg.MaxObjectsPerBlock; limit > 0 && b.StaticObjects.StoredSize() >= limit {
		e.slowLog.Warn("trying to store id=%d statically but block %s already contains %d objects",
			storeID, blockPos, b.StaticObjects.StoredSize())
		return false
	}

	b.StaticObjects.Insert(storeID, static)
	if markModified {
		b.RaiseModified(voxel.ModStateWriteNeeded)
	}
	obj.SetStaticBlock(blockPos, true)
	return true
}

// processActiveObjectRemove уведомляет объект и игроков об удалении
func (e *Environment) processActiveObjectRemove(obj object.ActiveObject) {
	if lc, ok := obj.(object.Lifecycle); ok {
		lc.RemovingFromEnvironment()
	}
}

// ObjectInfo - краткие сведения об активном объекте для админки
type ObjectInfo struct {
	ID          uint16      `json:"id"`
	Type        object.Type `json:"type"`
	Pos         [3]float64  `json:"pos"`
	Block       vec.Vec3    `json:"block"`
	StaticBlock *vec.Vec3   `json:"static_block,omitempty"`
	KnownBy     int         `json:"known_by"`
	Gone        bool        `json:"gone"`
}

// Objects возвращает снимок активных объектов, отсортированный по id
func (e *Environment) Objects() []ObjectInfo {
	objs := e.objects.Snapshot()
	out := make([]ObjectInfo, 0, len(objs))
	for _, obj := range objs {
		pos := obj.BasePosition()
		info := ObjectInfo{
			ID:      obj.ID(),
			Type:    obj.Type(),
			Pos:     [3]float64{pos[0] / vec.BS, pos[1] / vec.BS, pos[2] / vec.BS},
			Block:   vec.ObjectBlockPos(pos),
			KnownBy: obj.KnownByCount(),
			Gone:    obj.IsGone(),
		}
		if sb, ok := obj.StaticBlock(); ok {
			info.StaticBlock = &sb
		}
		out = append(out, info)
	}
	return out
}
