package device

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	poolHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seqloom_tensor_pool_hits_total",
		Help: "Total number of tensor pool retrievals served from recycled storage",
	})

	poolMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seqloom_tensor_pool_misses_total",
		Help: "Total number of tensor pool retrievals that allocated new storage",
	})
)
