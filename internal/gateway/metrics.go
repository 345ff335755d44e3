package gateway

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metricsHandler exposes the shared Prometheus registry. It is nil when no
// metrics are configured.
func (g *Gateway) metricsHandler() http.Handler {
	gatherer := g.metrics.Gatherer()
	if gatherer == nil {
		return nil
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
