package api

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"docqueue/internal/queue"
)

const statsTimeout = 5 * time.Second

// queueCollector reads a Stats snapshot of every opened queue on each scrape.
type queueCollector struct {
	queues   *queue.Manager
	messages *prometheus.Desc
	total    *prometheus.Desc
}

func newQueueCollector(queues *queue.Manager) *queueCollector {
	return &queueCollector{
		queues: queues,
		messages: prometheus.NewDesc(
			"docqueue_messages",
			"Messages in a queue by lease state.",
			[]string{"queue", "state"}, nil,
		),
		total: prometheus.NewDesc(
			"docqueue_messages_total_records",
			"Records stored for a queue in any state.",
			[]string{"queue"}, nil,
		),
	}
}

func (c *queueCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.messages
	ch <- c.total
}

func (c *queueCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), statsTimeout)
	defer cancel()

	for _, name := range c.queues.List() {
		q, err := c.queues.Get(ctx, name)
		if err != nil {
			continue
		}
		st, err := q.Stats(ctx)
		if err != nil {
			log.Error().Err(err).Str("queue", name).Msg("metrics: stats failed")
			continue
		}
		for _, g := range []struct {
			state string
			v     int64
		}{
			{"available", st.Size},
			{"in_flight", st.InFlight},
			{"delayed", st.Delayed},
			{"done", st.Done},
		} {
			ch <- prometheus.MustNewConstMetric(c.messages, prometheus.GaugeValue, float64(g.v), name, g.state)
		}
		ch <- prometheus.MustNewConstMetric(c.total, prometheus.GaugeValue, float64(st.Total), name)
	}
}
