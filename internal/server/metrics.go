package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	requests *prometheus.CounterVec
	streams  *prometheus.CounterVec
	tokens   prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jarvis",
			Name:      "requests_total",
			Help:      "API requests by route and status code.",
		}, []string{"route", "code"}),
		streams: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jarvis",
			Name:      "streams_total",
			Help:      "Streaming replies by outcome (done, cancelled, failed).",
		}, []string{"outcome"}),
		tokens: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "jarvis",
			Name:      "stream_tokens_total",
			Help:      "Content records written to streaming replies.",
		}),
	}
	reg.MustRegister(m.requests, m.streams, m.tokens)
	return m
}
