package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("debug"))
	assert.Equal(t, WARN, ParseLevel(" warning "))
	assert.Equal(t, INFO, ParseLevel("что-то"))
}

func TestComponentLoggerWritesFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, InitLogger(dir, ERROR))
	defer CloseLogger()

	logger, err := NewLogger("env")
	require.NoError(t, err)
	logger.Info("active blocks: %d", 27)

	files, err := filepath.Glob(filepath.Join(dir, "server_*.log"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "[INFO] [env] active blocks: 27"))
}

func TestRateLimitedSuppresses(t *testing.T) {
	rl := NewRateLimited(GetComponentLogger("test"), time.Hour, 1)

	assert.True(t, rl.Warn("first"))
	assert.False(t, rl.Warn("second"))
	assert.False(t, rl.Warn("third"))
	assert.Equal(t, int64(2), rl.Suppressed())
}

func TestRegistryApplyLevels(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, InitLogger(dir, ERROR))
	defer CloseLogger()

	r := &Registry{loggers: make(map[string]*Logger)}
	err := r.ApplyLevels(map[string]string{"Collision": "error", "weather": "debug"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "weather", "неизвестная подсистема попадает в ошибку")
	assert.Equal(t, []string{SubsystemCollision}, r.Names())

	collision := r.Logger(SubsystemCollision)
	collision.Warn("object stuck in node")
	collision.Error("too many collisions")
	r.Logger(SubsystemEnv).Warn("step took too long")

	files, err := filepath.Glob(filepath.Join(dir, "server_*.log"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	log := string(data)
	assert.NotContains(t, log, "object stuck", "порог подсистемы отсекает предупреждения")
	assert.Contains(t, log, "[ERROR] [collision] too many collisions")
	assert.Contains(t, log, "[WARN] [env] step took too long", "остальные подсистемы пишут по общему порогу")
	assert.Same(t, collision, r.Logger(SubsystemCollision))
}
