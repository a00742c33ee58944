package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry collects every metric exported by the service.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	Claims = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "csjudge",
		Subsystem: "queue",
		Name:      "claims_total",
		Help:      "Claim attempts by outcome (claimed, empty, lost_race, inactive).",
	}, []string{"outcome"})

	Reports = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "csjudge",
		Subsystem: "queue",
		Name:      "reports_total",
		Help:      "Judgehost reports by outcome (accepted, stale, rejected).",
	}, []string{"outcome"})

	JudgingsFinished = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "csjudge",
		Subsystem: "queue",
		Name:      "judgings_finished_total",
		Help:      "Finished judgings by verdict.",
	}, []string{"verdict"})

	Rejudges = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "csjudge",
		Subsystem: "queue",
		Name:      "rejudges_total",
		Help:      "Judgings superseded by a rejudge, by reason.",
	}, []string{"reason"})

	ScoreboardRefresh = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: "csjudge",
		Subsystem: "scoreboard",
		Name:      "refresh_seconds",
		Help:      "Duration of full scoreboard rebuilds.",
		Buckets:   prometheus.DefBuckets,
	})

	ScoreboardUpdates = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "csjudge",
		Subsystem: "scoreboard",
		Name:      "updates_total",
		Help:      "Scoreboard state publications by kind (refresh, cell).",
	}, []string{"kind"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler serves the registry in the Prometheus text format.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(Registry, promhttp.HandlerOpts{}))
}
