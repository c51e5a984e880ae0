package telemetry

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsOptions configures NewMetrics.
type MetricsOptions struct {
	// Namespace prefixes every metric name. Defaults to "groupmesh".
	Namespace string
	// ReplyBuckets overrides the reply duration histogram buckets (seconds).
	ReplyBuckets []float64
}

// Metrics holds the Prometheus collectors for conversations. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	rounds        *prometheus.CounterVec
	replies       *prometheus.CounterVec
	conversations *prometheus.CounterVec
	replyDuration *prometheus.HistogramVec
	stalls        prometheus.Counter
	replans       prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg. A nil
// registerer falls back to prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer, optFns ...func(o *MetricsOptions)) (*Metrics, error) {
	opts := MetricsOptions{
		Namespace:    "groupmesh",
		ReplyBuckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		rounds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: opts.Namespace,
				Name:      "rounds_total",
				Help:      "Total number of completed conversation rounds",
			},
			[]string{"kind"},
		),
		replies: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: opts.Namespace,
				Name:      "agent_replies_total",
				Help:      "Total number of agent reply attempts",
			},
			[]string{"agent", "outcome"},
		),
		conversations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: opts.Namespace,
				Name:      "conversations_total",
				Help:      "Total number of finished conversations",
			},
			[]string{"state", "reason"},
		),
		replyDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: opts.Namespace,
				Name:      "agent_reply_duration_seconds",
				Help:      "Agent reply latency in seconds",
				Buckets:   opts.ReplyBuckets,
			},
			[]string{"agent"},
		),
		stalls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: opts.Namespace,
			Name:      "orchestrator_stalls_total",
			Help:      "Total number of turns judged as not making progress",
		}),
		replans: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: opts.Namespace,
			Name:      "orchestrator_replans_total",
			Help:      "Total number of introspect and reset cycles",
		}),
	}

	var err error
	if m.rounds, err = register(reg, m.rounds); err != nil {
		return nil, err
	}
	if m.replies, err = register(reg, m.replies); err != nil {
		return nil, err
	}
	if m.conversations, err = register(reg, m.conversations); err != nil {
		return nil, err
	}
	if m.replyDuration, err = register(reg, m.replyDuration); err != nil {
		return nil, err
	}
	if m.stalls, err = register(reg, m.stalls); err != nil {
		return nil, err
	}
	if m.replans, err = register(reg, m.replans); err != nil {
		return nil, err
	}
	return m, nil
}

// register adds c to reg, reusing an identical collector registered earlier.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// ObserveRound counts one completed round of the given kind ("chat", "orchestrator").
func (m *Metrics) ObserveRound(kind string) {
	if m == nil {
		return
	}
	m.rounds.WithLabelValues(kind).Inc()
}

// ObserveReply records a reply attempt and its latency.
func (m *Metrics) ObserveReply(agent, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.replies.WithLabelValues(agent, outcome).Inc()
	m.replyDuration.WithLabelValues(agent).Observe(d.Seconds())
}

// ObserveConversation counts a finished conversation.
func (m *Metrics) ObserveConversation(state, reason string) {
	if m == nil {
		return
	}
	m.conversations.WithLabelValues(state, reason).Inc()
}

// ObserveStall counts a no-progress judgment.
func (m *Metrics) ObserveStall() {
	if m == nil {
		return
	}
	m.stalls.Inc()
}

// ObserveReplan counts an introspect and reset cycle.
func (m *Metrics) ObserveReplan() {
	if m == nil {
		return
	}
	m.replans.Inc()
}
