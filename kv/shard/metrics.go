package shard

import "github.com/prometheus/client_golang/prometheus"

var remoteReadCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "occkv",
		Subsystem: "shard",
		Name:      "remote_reads_total",
		Help:      "Counter of reads served by other shards.",
	}, []string{"kind", "result"})

func init() {
	prometheus.MustRegister(remoteReadCounter)
}
