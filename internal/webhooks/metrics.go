package webhooks

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var deliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "auditanchor_webhook_deliveries_total",
	Help: "Webhook delivery attempts by outcome.",
}, []string{"result"})
