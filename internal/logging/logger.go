package logging

import (
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// LogLevel определяет уровни логирования
type LogLevel int

const (
	TRACE LogLevel = iota
	DEBUG
	INFO
	WARN
	ERROR
)

// String возвращает строковое представление уровня логирования
func (l LogLevel) String() string {
	switch l {
	case TRACE:
		return "TRACE"
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel разбирает уровень из конфигурации; неизвестные значения дают INFO
func ParseLevel(s string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return TRACE
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// Logger представляет логгер компонента.
// Все компоненты пишут в общий файл сессии и в консоль.
type Logger struct {
	component       string
	consoleLogger   *log.Logger
	fileLogger      *log.Logger
	file            *os.File
	minConsoleLevel LogLevel
	minFileLevel    LogLevel
	levelsSet       bool
}

var (
	globalMu     sync.RWMutex
	globalLogger *Logger
	// defaultLogger используется, пока InitLogger не вызван (тесты, утилиты)
	defaultLogger = &Logger{
		consoleLogger:   log.New(io.Discard, "", log.LstdFlags),
		minConsoleLevel: ERROR + 1,
		minFileLevel:    ERROR + 1,
	}
)

// InitLogger инициализирует систему логирования.
// dir - каталог для файлов логов, consoleLevel - минимальный уровень консоли.
func InitLogger(dir string, consoleLevel LogLevel) error {
	if dir == "" {
		dir = "logs"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("ошибка создания директории %s: %w", dir, err)
	}

	// Создаем файл для логов с временной меткой
	timestamp := time.Now().Format("2006-01-02_15-04-05")
	filename := filepath.Join(dir, fmt.Sprintf("server_%s.log", timestamp))

	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return fmt.Errorf("ошибка создания файла логов: %w", err)
	}

	globalMu.Lock()
	globalLogger = &Logger{
		consoleLogger:   log.New(os.Stdout, "", log.LstdFlags),
		fileLogger:      log.New(file, "", log.LstdFlags),
		file:            file,
		minConsoleLevel: consoleLevel,
		minFileLevel:    TRACE,
	}
	globalMu.Unlock()

	return nil
}

// CloseLogger закрывает систему логирования
func CloseLogger() {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger != nil && globalLogger.file != nil {
		globalLogger.file.Close()
	}
	globalLogger = nil
}

// NewLogger создает логгер компонента поверх глобальных writer'ов.
// Writer'ы берутся в момент записи, поэтому логгер можно создать до InitLogger.
func NewLogger(component string) (*Logger, error) {
	if component == "" {
		return nil, fmt.Errorf("пустое имя компонента")
	}
	return &Logger{component: component}, nil
}

func current() *Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalLogger == nil {
		return defaultLogger
	}
	return globalLogger
}

// Close у логгера компонента ничего не закрывает: файлом владеет глобальный логгер
func (l *Logger) Close() error {
	return nil
}

// Trace логирует сообщение уровня TRACE
func (l *Logger) Trace(format string, args ...interface{}) { l.log(TRACE, format, args...) }

// Debug логирует сообщение уровня DEBUG
func (l *Logger) Debug(format string, args ...interface{}) { l.log(DEBUG, format, args...) }

// Info логирует сообщение уровня INFO
func (l *Logger) Info(format string, args ...interface{}) { l.log(INFO, format, args...) }

// Warn логирует сообщение уровня WARN
func (l *Logger) Warn(format string, args ...interface{}) { l.log(WARN, format, args...) }

// Error логирует сообщение уровня ERROR
func (l *Logger) Error(format string, args ...interface{}) { l.log(ERROR, format, args...) }

func (l *Logger) log(level LogLevel, format string, args ...interface{}) {
	sink := l
	if l.component != "" {
		sink = current()
	}
	minConsole, minFile := sink.minConsoleLevel, sink.minFileLevel
	if l.levelsSet {
		minConsole, minFile = l.minConsoleLevel, l.minFileLevel
	}
	if level < minConsole && level < minFile {
		return
	}

	message := fmt.Sprintf(format, args...)
	if l.component != "" {
		message = fmt.Sprintf("[%s] [%s] %s", level.String(), l.component, message)
	} else {
		message = fmt.Sprintf("[%s] %s", level.String(), message)
	}

	if sink.fileLogger != nil && level >= minFile {
		sink.fileLogger.Println(message)
	}
	if sink.consoleLogger != nil && level >= minConsole {
		sink.consoleLogger.Println(message)
	}
}

// LogTrace логирует сообщение уровня TRACE
func LogTrace(format string, args ...interface{}) {
	current().log(TRACE, format, args...)
}

// LogDebug логирует сообщение уровня DEBUG
func LogDebug(format string, args ...interface{}) {
	current().log(DEBUG, format, args...)
}

// LogInfo логирует сообщение уровня INFO
func LogInfo(format string, args ...interface{}) {
	current().log(INFO, format, args...)
}

// LogWarn логирует сообщение уровня WARN
func LogWarn(format string, args ...interface{}) {
	current().log(WARN, format, args...)
}

// LogError логирует сообщение уровня ERROR
func LogError(format string, args ...interface{}) {
	current().log(ERROR, format, args...)
}

// HexDump создает hex дамп данных
func HexDump(data []byte) string {
	if len(data) == 0 {
		return "No data"
	}

	// Ограничиваем размер дампа до 256 байт
	size := len(data)
	if size > 256 {
		size = 256
	}

	return hex.Dump(data[:size])
}

// LogCorruptData логирует поврежденные данные блока или статического объекта
func LogCorruptData(what string, err error, data []byte) {
	LogWarn("Corrupt %s: %v", what, err)
	if len(data) > 0 {
		LogDebug("Raw data (%d bytes):", len(data))
		LogDebug("%s", HexDump(data))
	}
}
