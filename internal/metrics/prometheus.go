package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "wheelbot"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

// Prometheus backs Metrics with counters in a private registry.
type Prometheus struct {
	Metrics *Metrics

	registry        *prometheus.Registry
	cycles          prometheus.Counter
	cycleErrors     prometheus.Counter
	dataUnavailable prometheus.Counter
	ordersPlaced    prometheus.Counter
	ordersFailed    prometheus.Counter
	ordersDryRun    prometheus.Counter
	profitTakes     prometheus.Counter
	rolls           prometheus.Counter
	legsOpened      prometheus.Counter
	spotQuotes      *prometheus.CounterVec
}

func newCounter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      name,
		Help:      help,
	})
}

// NewPrometheus registers every counter and wires them into Metrics.
func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	p := &Prometheus{
		registry:        registry,
		cycles:          newCounter("cycles_total", "Total number of symbol cycles run."),
		cycleErrors:     newCounter("cycle_errors_total", "Total number of cycles that ended in a fatal error."),
		dataUnavailable: newCounter("data_unavailable_total", "Total number of legs or cycles idled for missing market data."),
		ordersPlaced:    newCounter("orders_placed_total", "Total number of orders placed."),
		ordersFailed:    newCounter("orders_failed_total", "Total number of order placement failures."),
		ordersDryRun:    newCounter("orders_dry_run_total", "Total number of orders logged in dry-run mode."),
		profitTakes:     newCounter("profit_takes_total", "Total number of profit-taking closes."),
		rolls:           newCounter("rolls_total", "Total number of near-expiry closes."),
		legsOpened:      newCounter("legs_opened_total", "Total number of new short legs submitted."),
		spotQuotes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: promNamespace,
			Name:      "spot_quotes_total",
			Help:      "Spot price resolutions by the tier that produced them.",
		}, []string{"source"}),
	}
	registry.MustRegister(p.cycles, p.cycleErrors, p.dataUnavailable, p.ordersPlaced, p.ordersFailed,
		p.ordersDryRun, p.profitTakes, p.rolls, p.legsOpened, p.spotQuotes)

	p.Metrics = &Metrics{
		Cycles:          promCounter{p.cycles},
		CycleErrors:     promCounter{p.cycleErrors},
		DataUnavailable: promCounter{p.dataUnavailable},
		OrdersPlaced:    promCounter{p.ordersPlaced},
		OrdersFailed:    promCounter{p.ordersFailed},
		OrdersDryRun:    promCounter{p.ordersDryRun},
		ProfitTakes:     promCounter{p.profitTakes},
		Rolls:           promCounter{p.rolls},
		LegsOpened:      promCounter{p.legsOpened},
		SpotStreaming:   promCounter{p.spotQuotes.WithLabelValues("streaming")},
		SpotSnapshot:    promCounter{p.spotQuotes.WithLabelValues("snapshot")},
		SpotHistorical:  promCounter{p.spotQuotes.WithLabelValues("historical")},
		SpotFailed:      promCounter{p.spotQuotes.WithLabelValues("none")},
	}
	return p
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
