// Package api - административный HTTP API сервера: состояние симуляции,
// метрики Prometheus и поток исходящих событий по websocket.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/freeminer/freeminer-sub007/internal/auth"
	"github.com/freeminer/freeminer-sub007/internal/cache"
	"github.com/freeminer/freeminer-sub007/internal/eventbus"
	"github.com/freeminer/freeminer-sub007/internal/logging"
	"github.com/freeminer/freeminer-sub007/internal/middleware"
	"github.com/freeminer/freeminer-sub007/internal/world"
	"github.com/freeminer/freeminer-sub007/internal/worldgen"
)

// EmergeStatsProvider отдает счетчики загрузки блоков
type EmergeStatsProvider interface {
	Stats() worldgen.EmergerStats
}

// CacheStatsProvider отдает метрики кэша блоков
type CacheStatsProvider interface {
	CacheMetrics() cache.Metrics
}

// Config содержит зависимости сервера
type Config struct {
	Addr     string                // адрес для запуска сервера
	Env      *world.Environment    // окружение симуляции
	Emerger  EmergeStatsProvider   // может быть nil
	Bus      eventbus.EventBus     // может быть nil, тогда /ws/events недоступен
	Registry *prometheus.Registry  // реестр метрик для /metrics
	Logger   *logging.Logger       // по умолчанию логгер компонента api
	Cache    CacheStatsProvider    // может быть nil
	// Auth включает проверку токенов на /api/v1 и /ws/events; nil - доступ открыт
	Auth *auth.Authenticator
}

// Server представляет административный HTTP сервер
type Server struct {
	router  *gin.Engine
	http    *http.Server
	env     *world.Environment
	emerger EmergeStatsProvider
	bus     eventbus.EventBus
	metrics *ServerMetrics
	logger  *logging.Logger
	auth    *auth.Authenticator
	cache   CacheStatsProvider
}

// GenericResponse - общий формат ответа API
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// NewServer создает сервер и настраивает маршруты
func NewServer(cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8088"
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.GetAPILogger()
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}

	// Устанавливаем режим релиза для gin
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()        // без стандартного logger/recovery
	router.Use(gin.Recovery()) // добавим только recovery

	// === Observability middleware ===
	router.Use(middleware.NewRequestLogger(cfg.Logger).Handler())
	router.Use(otelgin.Middleware("admin_api"))

	promMw := middleware.NewPrometheusMiddleware("admin_api", cfg.Registry, cfg.Registry)
	promMw.SkipDuration("/ws/events")
	router.Use(promMw.Handler())
	promMw.RegisterMetricsEndpoint(router)

	s := &Server{
		router:  router,
		env:     cfg.Env,
		emerger: cfg.Emerger,
		bus:     cfg.Bus,
		metrics: NewServerMetrics(),
		logger:  cfg.Logger,
		auth:    cfg.Auth,
		cache:   cfg.Cache,
	}
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.setupRoutes()
	return s
}

// Handler возвращает http.Handler сервера (для тестов и встраивания)
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	var protected []gin.HandlerFunc
	if s.auth != nil {
		s.router.POST("/api/v1/auth/token", s.handleLogin)
		protected = append(protected, middleware.RequireToken(s.auth.Tokens()))
	}

	v1 := s.router.Group("/api/v1", protected...)
	{
		v1.GET("/status", s.handleStatus)
		v1.GET("/blocks/active", s.handleActiveBlocks)
		v1.GET("/objects", s.handleObjects)
		v1.GET("/diagnostics", s.handleDiagnostics)
	}

	s.router.GET("/ws/events", append(protected, s.handleEvents)...)
}

// Start запускает сервер и блокируется до его остановки
func (s *Server) Start() error {
	s.logger.Info("Admin API listening on %s", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop плавно останавливает сервер
func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
