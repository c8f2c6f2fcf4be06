package logging

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Подсистемы сервера, пишущие в общий журнал сессии
const (
	SubsystemEnv       = "env"
	SubsystemObjects   = "objects"
	SubsystemCollision = "collision"
	SubsystemModifiers = "modifiers"
	SubsystemStorage   = "storage"
	SubsystemEmerge    = "emerge"
	SubsystemEventBus  = "eventbus"
	SubsystemAPI       = "api"
)

// knownSubsystems - подсистемы, которым можно задать уровень в конфиге
var knownSubsystems = map[string]bool{
	SubsystemEnv:       true,
	SubsystemObjects:   true,
	SubsystemCollision: true,
	SubsystemModifiers: true,
	SubsystemStorage:   true,
	SubsystemEmerge:    true,
	SubsystemEventBus:  true,
	SubsystemAPI:       true,
}

// Registry хранит по одному логгеру на подсистему.
// Все логгеры пишут через глобальный sink, у каждого может быть свой порог.
type Registry struct {
	mu      sync.RWMutex
	loggers map[string]*Logger
}

var (
	registry     *Registry
	registryOnce sync.Once
)

// Loggers возвращает общий реестр логгеров подсистем
func Loggers() *Registry {
	registryOnce.Do(func() {
		registry = &Registry{loggers: make(map[string]*Logger)}
	})
	return registry
}

// Logger возвращает логгер подсистемы; пустое имя пишет как "unknown"
func (r *Registry) Logger(subsystem string) *Logger {
	if subsystem == "" {
		subsystem = "unknown"
	}

	r.mu.RLock()
	logger, ok := r.loggers[subsystem]
	r.mu.RUnlock()
	if ok {
		return logger
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if logger, ok := r.loggers[subsystem]; ok {
		return logger
	}
	logger = &Logger{component: subsystem}
	r.loggers[subsystem] = logger
	return logger
}

// Names возвращает имена подсистем, уже получивших логгер
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.loggers))
	for name := range r.loggers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ApplyLevels задает пороги подсистем из конфига (подсистема -> уровень).
// Порог действует и на консоль, и на файл. Вызывается до запуска симуляции.
// Неизвестные подсистемы пропускаются и перечисляются в ошибке.
func (r *Registry) ApplyLevels(levels map[string]string) error {
	var unknown []string
	for name, level := range levels {
		name = strings.ToLower(strings.TrimSpace(name))
		if !knownSubsystems[name] {
			unknown = append(unknown, name)
			continue
		}
		lvl := ParseLevel(level)
		logger := r.Logger(name)
		logger.minConsoleLevel = lvl
		logger.minFileLevel = lvl
		logger.levelsSet = true
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("неизвестные подсистемы логирования: %s", strings.Join(unknown, ", "))
	}
	return nil
}

// GetComponentLogger возвращает логгер подсистемы из общего реестра
func GetComponentLogger(subsystem string) *Logger {
	return Loggers().Logger(subsystem)
}

// Шаг окружения: активные блоки, таймеры, выгрузка
func GetEnvLogger() *Logger { return GetComponentLogger(SubsystemEnv) }

func GetObjectLogger() *Logger { return GetComponentLogger(SubsystemObjects) }

func GetCollisionLogger() *Logger { return GetComponentLogger(SubsystemCollision) }

// ABM и LBM
func GetModifierLogger() *Logger { return GetComponentLogger(SubsystemModifiers) }

func GetStorageLogger() *Logger { return GetComponentLogger(SubsystemStorage) }

func GetEmergeLogger() *Logger { return GetComponentLogger(SubsystemEmerge) }

func GetEventBusLogger() *Logger { return GetComponentLogger(SubsystemEventBus) }

func GetAPILogger() *Logger { return GetComponentLogger(SubsystemAPI) }
