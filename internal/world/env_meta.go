package world

import (
	"context"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/freeminer/freeminer-sub007/internal/storage"
	"github.com/freeminer/freeminer-sub007/internal/voxel"
)

const (
	// envMetaKey - ключ метаданных окружения в хранилище
	envMetaKey = "env_meta"
	// lbmIntroductionTimesVersion - поддерживаемая версия строки времен LBM
	lbmIntroductionTimesVersion = 1
)

// envMeta - сохраняемое состояние окружения
type envMeta struct {
	GameTime                    *uint32 `yaml:"game_time"`
	LBMIntroductionTimesVersion int     `yaml:"lbm_introduction_times_version"`
	LBMIntroductionTimes        string  `yaml:"lbm_introduction_times"`
}

// LoadMeta читает время игры и времена появления LBM.
// Для нового мира используются значения по умолчанию. После вызова регистрация LBM закрыта.
func (e *Environment) LoadMeta(ctx context.Context) error {
	if e.metaLoaded {
		return errors.New("метаданные окружения уже загружены")
	}
	e.metaLoaded = true
	e.logger.Info("%d ABMs are registered", len(e.abms))

	if e.store == nil {
		return e.loadDefaultMeta()
	}
	data, err := e.store.LoadMeta(ctx, envMetaKey)
	if errors.Is(err, storage.ErrNotFound) {
		return e.loadDefaultMeta()
	}
	if err != nil {
		return fmt.Errorf("загрузка метаданных окружения: %w", err)
	}

	var meta envMeta
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("разбор метаданных окружения: %w", err)
	}
	// Без времени игры отметки блоков бессмысленны
	if meta.GameTime == nil {
		return errors.New("в метаданных окружения нет game_time")
	}
	e.gameTime.Store(*meta.GameTime)

	times := ""
	if meta.LBMIntroductionTimesVersion == lbmIntroductionTimesVersion {
		times = meta.LBMIntroductionTimes
	} else if meta.LBMIntroductionTimesVersion != 0 {
		e.logger.Warn("unsupported LBM introduction time version %d", meta.LBMIntroductionTimesVersion)
	}
	if err := e.lbms.LoadIntroductionTimes(times, e.GameTime()); err != nil {
		return fmt.Errorf("времена появления LBM: %w", err)
	}
	e.logger.Info("Environment metadata loaded, game_time=%d", e.GameTime())
	return nil
}

func (e *Environment) loadDefaultMeta() error {
	e.logger.Info("Using default environment metadata")
	return e.lbms.LoadIntroductionTimes("", e.GameTime())
}

// SaveMeta сохраняет время игры и времена появления LBM
func (e *Environment) SaveMeta(ctx context.Context) error {
	if !e.metaLoaded || e.store == nil {
		return nil
	}
	gameTime := e.GameTime()
	data, err := yaml.Marshal(envMeta{
		GameTime:                    &gameTime,
		LBMIntroductionTimesVersion: lbmIntroductionTimesVersion,
		LBMIntroductionTimes:        e.lbms.CreateIntroductionTimesString(),
	})
	if err != nil {
		return fmt.Errorf("сериализация метаданных окружения: %w", err)
	}
	if err := e.store.SaveMeta(ctx, envMetaKey, data); err != nil {
		return fmt.Errorf("сохранение метаданных окружения: %w", err)
	}
	return nil
}

// SaveModifiedBlocks записывает блоки с состоянием изменений не ниже minState
func (e *Environment) SaveModifiedBlocks(ctx context.Context, minState voxel.ModState) (int, error) {
	if e.store == nil {
		return 0, nil
	}
	saved := 0
	for _, b := range e.m.Blocks() {
		if b.ModState() < minState {
			continue
		}
		if err := storage.SaveMapBlock(ctx, e.store, b); err != nil {
			return saved, err
		}
		saved++
	}
	if saved > 0 {
		e.logger.Debug("Saved %d modified blocks", saved)
	}
	return saved, nil
}

// UnloadUnusedBlocks выгружает неактивные блоки, не использовавшиеся дольше таймаута.
// Измененные блоки перед выгрузкой записываются; блок с ошибкой записи остается в памяти.
func (e *Environment) UnloadUnusedBlocks(ctx context.Context, dtime float64) int {
	timeout := e.cfg.UnloadUnusedDataTimeout
	unloaded := 0
	for _, b := range e.m.Blocks() {
		b.IncrementUsageTimer(dtime)
		if e.activeBlocks.Contains(b.Pos()) || b.UsageTimer() <= timeout {
			continue
		}
		if b.ModState() != voxel.ModStateClean && e.store != nil {
			if err := storage.SaveMapBlock(ctx, e.store, b); err != nil {
				e.slowLog.Warn("unload: %v", err)
				continue
			}
		}
		e.m.DeleteBlock(b.Pos())
		unloaded++
	}
	return unloaded
}

// Shutdown деактивирует все объекты, сохраняет блоки и метаданные
func (e *Environment) Shutdown(ctx context.Context) error {
	e.DeactivateFarObjects(true)
	e.flushOutbound(ctx)

	saved, err := e.SaveModifiedBlocks(ctx, voxel.ModStateWriteAtUnload)
	if err != nil {
		return fmt.Errorf("сохранение блоков при остановке: %w", err)
	}
	if err := e.SaveMeta(ctx); err != nil {
		return err
	}
	e.logger.Info("Environment stopped, %d blocks saved, game_time=%d", saved, e.GameTime())
	return nil
}
