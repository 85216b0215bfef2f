package modules

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	loaded      prometheus.Gauge
	resolutions *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		loaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pdbsym_modules_loaded",
			Help: "Number of modules currently registered",
		}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pdbsym_address_resolutions_total",
			Help: "Total number of absolute address resolutions by result",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.loaded, m.resolutions)
	}
	return m
}
