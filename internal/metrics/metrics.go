// Package metrics содержит счётчики Prometheus сервиса доступа.
// Все метрики регистрируются в реестре по умолчанию и отдаются
// обработчиком promhttp на /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookUpdates — количество обновлений Bot API по типам.
	WebhookUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "telegram_webhook_updates_total",
		Help: "Number of Bot API updates received by the webhook, by update type.",
	}, []string{"type"})

	// JoinRequests — решения по заявкам на вступление.
	JoinRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "telegram_join_requests_total",
		Help: "Number of processed chat join requests, by outcome.",
	}, []string{"outcome"})

	// InvitesCreated — количество выпущенных инвайт-ссылок.
	InvitesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telegram_invites_created_total",
		Help: "Number of invite links created.",
	})

	// SchedulerPasses — количество проходов планировщика истечений.
	SchedulerPasses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "membership_scheduler_passes_total",
		Help: "Number of completed expiry scheduler passes.",
	})

	// SchedulerExpired — количество членств, закрытых планировщиком.
	SchedulerExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "membership_scheduler_expired_total",
		Help: "Number of memberships marked expired by the scheduler.",
	})

	// SchedulerBanFailures — количество неудачных банов при истечении.
	SchedulerBanFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "membership_scheduler_ban_failures_total",
		Help: "Number of ban attempts that failed during expiry processing.",
	})
)
