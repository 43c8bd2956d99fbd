package resolver

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	boundariesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "procresolver_boundaries_total",
		Help: "Boundary markers attached to results, by kind",
	}, []string{"kind"})

	childrenPageCalls = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "procresolver_children_page_store_calls",
		Help:    "Children queries issued per resolved page",
		Buckets: prometheus.ExponentialBuckets(1, 2, 11),
	})

	ancestryDepth = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "procresolver_ancestry_generations",
		Help:    "Generations returned per ancestry walk",
		Buckets: prometheus.LinearBuckets(0, 5, 21),
	})
)

func observeBoundaries(bs []Boundary) {
	for _, b := range bs {
		boundariesTotal.WithLabelValues(string(b.Kind)).Inc()
	}
}
