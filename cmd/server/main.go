package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/freeminer/freeminer-sub007/internal/api"
	"github.com/freeminer/freeminer-sub007/internal/auth"
	"github.com/freeminer/freeminer-sub007/internal/config"
	"github.com/freeminer/freeminer-sub007/internal/content"
	"github.com/freeminer/freeminer-sub007/internal/diagnostics"
	"github.com/freeminer/freeminer-sub007/internal/eventbus"
	"github.com/freeminer/freeminer-sub007/internal/logging"
	"github.com/freeminer/freeminer-sub007/internal/metrics"
	"github.com/freeminer/freeminer-sub007/internal/observability"
	"github.com/freeminer/freeminer-sub007/internal/storage"
	"github.com/freeminer/freeminer-sub007/internal/vec"
	"github.com/freeminer/freeminer-sub007/internal/voxel"
	"github.com/freeminer/freeminer-sub007/internal/world"
	"github.com/freeminer/freeminer-sub007/internal/worldgen"
)

func main() {
	configPath := flag.String("config", "", "путь к YAML конфигурации (по умолчанию FREEMINER_CONFIG)")
	demoPlayer := flag.String("demo-player", "", "подключить игрока с этим именем в точке появления")
	hashPassword := flag.String("hash-password", "", "вывести bcrypt-хэш пароля для server.auth.admin_password_hash и выйти")
	flag.Parse()

	if *hashPassword != "" {
		hash, err := auth.HashPassword(*hashPassword)
		if err != nil {
			log.Fatalf("Ошибка хэширования: %v", err)
		}
		fmt.Println(hash)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	// Инициализируем систему логирования
	if err := logging.InitLogger(cfg.Logging.Dir, logging.ParseLevel(cfg.Logging.Level)); err != nil {
		log.Fatalf("Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseLogger()
	if err := logging.Loggers().ApplyLevels(cfg.Logging.Levels); err != nil {
		logging.LogWarn("logging.levels: %v", err)
	}

	if err := run(cfg, *demoPlayer); err != nil {
		logging.LogError("Сервер остановлен с ошибкой: %v", err)
		logging.CloseLogger()
		os.Exit(1)
	}
	logging.LogInfo("Сервер успешно остановлен")
}

func run(cfg *config.Config, demoPlayer string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.LogInfo("Запуск сервера: storage=%s, eventbus=%s, step=%.3fs",
		cfg.Storage.Backend, cfg.EventBus.Backend, cfg.Server.DedicatedServerStep)
	voxel.SetLockDebugging(cfg.Debug.DetectDeadlocks)

	// === ТЕЛЕМЕТРИЯ ===
	shutdownTelemetry, err := observability.InitTelemetry(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("телеметрия: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logging.LogWarn("Остановка телеметрии: %v", err)
		}
	}()

	// === ХРАНИЛИЩЕ И ШИНА ===
	store, err := storage.Open(cfg.Storage)
	if err != nil {
		return fmt.Errorf("хранилище: %w", err)
	}
	defer store.Close()

	bus, err := eventbus.Open(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("шина событий: %w", err)
	}
	defer bus.Close()
	if sub, err := eventbus.StartLoggingListener(ctx, bus); err == nil {
		defer sub.Unsubscribe()
	}

	// === МЕТРИКИ ===
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	envMetrics := metrics.NewEnvMetrics(reg)
	busMetrics := eventbus.NewMetricsExporter(bus, reg)
	busMetrics.Start(5 * time.Second)
	defer busMetrics.Stop()

	// === КОНТЕНТ И КАРТА ===
	ndef := voxel.NewNodeDefManager()
	nodes, err := content.LoadNodes(ndef, cfg.Content.File)
	if err != nil {
		return fmt.Errorf("контент: %w", err)
	}
	logging.LogInfo("Загружено %d определений нод", nodes)
	m := voxel.NewMap(ndef)

	gen := worldgen.NewGenerator(cfg.WorldGen.Seed, cfg.WorldGen.WaterLevel, ndef)
	emerger := worldgen.NewEmerger(m, store, gen, cfg.WorldGen.Workers)
	emerger.Start(ctx)
	defer emerger.Stop()

	// === ОКРУЖЕНИЕ ===
	env := world.NewEnvironment(world.Options{
		Simulation:  cfg.Simulation,
		ServerStep:  cfg.Server.DedicatedServerStep,
		Map:         m,
		Store:       store,
		Emerger:     emerger,
		Bus:         bus,
		Metrics:     envMetrics,
		Diagnostics: diagnostics.Process(),
		Seed:        cfg.WorldGen.Seed,
	})
	content.RegisterObjects(env.Registry(), env)
	if err := content.RegisterRules(env); err != nil {
		return fmt.Errorf("правила: %w", err)
	}
	if err := env.LoadMeta(ctx); err != nil {
		return fmt.Errorf("метаданные окружения: %w", err)
	}

	if demoPlayer != "" {
		spawn := vec.IntToFloat(vec.Vec3{Y: gen.SurfaceHeight(0, 0) + 2}, vec.BS)
		if _, err := env.AddPlayer(content.NewPlayer(demoPlayer, spawn), cfg.Simulation.ActiveBlockRange); err != nil {
			return err
		}
	}

	// === HTTP ===
	apiCfg := api.Config{
		Addr:     fmt.Sprintf(":%d", cfg.Server.GetRESTPort()),
		Env:      env,
		Emerger:  emerger,
		Bus:      bus,
		Registry: reg,
	}
	if cs, ok := store.(*storage.CachedStore); ok {
		apiCfg.Cache = cs
	}
	if cfg.Server.Auth.Enabled {
		tokens, err := auth.NewTokenManager(cfg.Server.Auth.GetSecret(),
			time.Duration(cfg.Server.Auth.TokenTTLMinutes)*time.Minute)
		if err != nil {
			return fmt.Errorf("auth: %w", err)
		}
		if cfg.Server.Auth.GetSecret() == "" {
			logging.LogWarn("server.auth.secret не задан: токены перестанут действовать после перезапуска")
		}
		apiCfg.Auth = auth.NewAuthenticator(tokens, cfg.Server.Auth.AdminUser, cfg.Server.Auth.AdminPasswordHash)
	}
	apiServer := api.NewServer(apiCfg)
	metricsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.GetMetricsPort()),
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 3)
	wg.Add(3)
	go func() {
		defer wg.Done()
		if err := apiServer.Start(); err != nil {
			errCh <- fmt.Errorf("admin API: %w", err)
		}
	}()
	go func() {
		defer wg.Done()
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics: %w", err)
		}
	}()
	go func() {
		defer wg.Done()
		autosave := time.Duration(cfg.Storage.AutosaveSeconds) * time.Second
		if err := env.Run(ctx, autosave); err != nil {
			errCh <- fmt.Errorf("окружение: %w", err)
		}
	}()

	logging.LogInfo("Все сервисы запущены: API http://localhost:%d, metrics :%d",
		cfg.Server.GetRESTPort(), cfg.Server.GetMetricsPort())

	var runErr error
	select {
	case <-ctx.Done():
		logging.LogInfo("Получен сигнал завершения, остановка...")
	case runErr = <-errCh:
		stop()
	}

	// === GRACEFUL SHUTDOWN ===
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiServer.Stop(shutdownCtx); err != nil {
		logging.LogWarn("Остановка API: %v", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logging.LogWarn("Остановка metrics: %v", err)
	}
	wg.Wait()

	close(errCh)
	for err := range errCh {
		if runErr == nil {
			runErr = err
		}
	}
	return runErr
}
