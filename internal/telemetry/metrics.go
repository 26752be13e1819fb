// Package telemetry exposes the Prometheus metrics and OpenTelemetry spans
// recorded by the moderation modules.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MutesApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stakan_mutes_applied_total",
		Help: "Mutes applied, by source (command, escalation, roulette, self_ban)",
	}, []string{"source"})
	MutesLifted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stakan_mutes_lifted_total",
		Help: "Mutes lifted, by reason (manual, expired, bomb_release)",
	}, []string{"reason"})
	ActiveMutes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stakan_active_mutes",
		Help: "Mute records still pending after the last sweep",
	})
	SweepFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stakan_sweep_failures_total",
		Help: "Expired mute records the sweep could not release",
	})
	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stakan_sweep_duration_seconds",
		Help:    "Duration of one mute sweep",
		Buckets: prometheus.DefBuckets,
	})

	WarningsIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stakan_warnings_issued_total",
		Help: "Warnings recorded",
	})
	Escalations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stakan_warning_escalations_total",
		Help: "Warnings that escalated into a mute",
	})

	BombOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stakan_bomb_outcomes_total",
		Help: "Bomb plant attempts, by outcome (planted, declined, timeout, defused, exploded)",
	}, []string{"outcome"})
	BombMassMuted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stakan_bomb_mass_muted_total",
		Help: "Members muted by bomb explosions",
	})

	RouletteSpins = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stakan_roulette_spins_total",
		Help: "Self-mute games played, by game and result (click, bang)",
	}, []string{"game", "result"})

	SpamAlerts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stakan_spam_alerts_total",
		Help: "Spam alerts, by trigger and whether they were delivered or suppressed by the cooldown",
	}, []string{"trigger", "result"})

	Commands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stakan_commands_total",
		Help: "Slash commands handled, by command and result",
	}, []string{"command", "result"})
)

// ObserveSince records the elapsed time since start in obs.
func ObserveSince(obs prometheus.Observer, start time.Time) time.Duration {
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}
