package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/freeminer/freeminer-sub007/internal/auth"
	"github.com/freeminer/freeminer-sub007/internal/middleware"
)

type loginRequest struct {
	User     string `json:"user" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// handleLogin выдает токен администратора
func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{Success: false, Message: err.Error()})
		return
	}
	token, exp, err := s.auth.Login(req.User, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		s.logger.Warn("Неудачный вход администратора %q с %s", req.User, c.ClientIP())
		c.JSON(http.StatusUnauthorized, GenericResponse{Success: false, Message: "неверные учетные данные"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, GenericResponse{Success: false, Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Data: gin.H{
		"token":      token,
		"expires_at": exp.Unix(),
	}})
}

// handleHealth проверка состояния сервера
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().Unix(),
	})
}

// handleStatus возвращает состояние симуляции, загрузки блоков, шины и процесса
func (s *Server) handleStatus(c *gin.Context) {
	status := make(map[string]interface{})

	if s.env != nil {
		stats := s.env.Stats()
		status["environment"] = stats
		status["last_step_ms"] = float64(stats.LastStep.Microseconds()) / 1000
	}
	if s.emerger != nil {
		status["emerge"] = s.emerger.Stats()
	}
	if s.bus != nil {
		status["eventbus"] = s.bus.Metrics()
	}
	if s.cache != nil {
		status["block_cache"] = s.cache.CacheMetrics()
	}

	memoryMB, _ := s.metrics.GetMemoryUsage()
	cpuPercent, _ := s.metrics.GetCPUUsage()
	status["server"] = map[string]interface{}{
		"uptime":      s.metrics.GetUptime(),
		"memory_mb":   fmt.Sprintf("%.2f", memoryMB),
		"cpu_percent": fmt.Sprintf("%.2f", cpuPercent),
		"server_time": time.Now().Unix(),
	}
	status["memory_details"] = s.metrics.GetDetailedMemoryStats()

	c.JSON(http.StatusOK, GenericResponse{Success: true, Data: status})
}

// handleActiveBlocks возвращает позиции активных блоков
func (s *Server) handleActiveBlocks(c *gin.Context) {
	if !s.requireEnv(c) {
		return
	}
	blocks := s.env.ActiveBlocks()
	middleware.SetResultCount(c, len(blocks))
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Data: gin.H{
			"blocks": blocks,
			"total":  len(blocks),
		},
	})
}

// handleObjects возвращает активные объекты
func (s *Server) handleObjects(c *gin.Context) {
	if !s.requireEnv(c) {
		return
	}
	objects := s.env.Objects()
	middleware.SetResultCount(c, len(objects))
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Data: gin.H{
			"objects": objects,
			"total":   len(objects),
		},
	})
}

// handleDiagnostics возвращает флаги и счетчики деградаций
func (s *Server) handleDiagnostics(c *gin.Context) {
	if !s.requireEnv(c) {
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Data: s.env.Diagnostics().Snapshot()})
}

func (s *Server) requireEnv(c *gin.Context) bool {
	if s.env != nil {
		return true
	}
	c.JSON(http.StatusServiceUnavailable, GenericResponse{Success: false, Message: "окружение не запущено"})
	return false
}
