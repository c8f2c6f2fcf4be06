// Package metrics объявляет Prometheus-метрики симуляции
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// EnvMetrics - метрики шага окружения
type EnvMetrics struct {
	StepTime        prometheus.Counter
	ActiveBlocks    prometheus.Gauge
	ActiveObjects   prometheus.Gauge
	LoadedBlocks    prometheus.Gauge
	ABMRuns         prometheus.Counter
	BlocksScanned   prometheus.Counter
	BlocksActivated prometheus.Counter
	ObjectsSaved    prometheus.Counter
	GameTime        prometheus.Gauge
}

// NewEnvMetrics создает метрики и регистрирует их в reg
func NewEnvMetrics(reg prometheus.Registerer) *EnvMetrics {
	m := &EnvMetrics{
		StepTime: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "freeminer",
			Subsystem: "env",
			Name:      "step_time_microseconds_total",
			Help:      "Время, проведенное в шаге окружения, мкс.",
		}),
		ActiveBlocks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "freeminer",
			Subsystem: "env",
			Name:      "active_blocks",
			Help:      "Число активных блоков.",
		}),
		ActiveObjects: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "freeminer",
			Subsystem: "env",
			Name:      "active_objects",
			Help:      "Число активных объектов.",
		}),
		LoadedBlocks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "freeminer",
			Subsystem: "env",
			Name:      "loaded_blocks",
			Help:      "Число блоков в памяти.",
		}),
		ABMRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "freeminer",
			Subsystem: "env",
			Name:      "abm_runs_total",
			Help:      "Срабатываний ABM.",
		}),
		BlocksScanned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "freeminer",
			Subsystem: "env",
			Name:      "abm_blocks_scanned_total",
			Help:      "Блоков, просмотренных проходом ABM.",
		}),
		BlocksActivated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "freeminer",
			Subsystem: "env",
			Name:      "blocks_activated_total",
			Help:      "Активаций блоков (с запуском LBM).",
		}),
		ObjectsSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "freeminer",
			Subsystem: "env",
			Name:      "objects_deactivated_total",
			Help:      "Объектов, сохраненных в статические данные блока.",
		}),
		GameTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "freeminer",
			Subsystem: "env",
			Name:      "game_time_seconds",
			Help:      "Игровое время мира.",
		}),
	}
	reg.MustRegister(m.StepTime, m.ActiveBlocks, m.ActiveObjects, m.LoadedBlocks,
		m.ABMRuns, m.BlocksScanned, m.BlocksActivated, m.ObjectsSaved, m.GameTime)
	return m
}
