package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collector exposes a CAS counter pair to Prometheus, labelled by the
// container it belongs to.
type Collector struct {
	cas     *CAS
	success *prometheus.Desc
	failure *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

func NewCollector(container string, cas *CAS) *Collector {
	labels := prometheus.Labels{"container": container}
	return &Collector{
		cas: cas,
		success: prometheus.NewDesc(
			"norn_cas_success_total",
			"CAS operations that linearized a container operation.",
			nil, labels,
		),
		failure: prometheus.NewDesc(
			"norn_cas_failure_total",
			"CAS attempts lost to contention and retried.",
			nil, labels,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.success
	ch <- c.failure
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.cas.Snapshot()
	ch <- prometheus.MustNewConstMetric(c.success, prometheus.CounterValue, float64(s.Success))
	ch <- prometheus.MustNewConstMetric(c.failure, prometheus.CounterValue, float64(s.Failure))
}
