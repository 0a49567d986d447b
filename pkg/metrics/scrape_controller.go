package metrics

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AlazabDev/UberFix.shop-sub000/pkg/application"
)

const DefaultPath = "/debug/prometheus"

// ScrapeController exposes the maintenance, outbox and authz collectors.
// The ops guard decides who may reach it.
type ScrapeController struct {
	path     string
	gatherer prometheus.Gatherer
}

type Option func(*ScrapeController)

// WithGatherer replaces the default registry, mostly for tests.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(c *ScrapeController) {
		c.gatherer = g
	}
}

func NewScrapeController(path string, opts ...Option) application.Controller {
	c := &ScrapeController{path: path, gatherer: prometheus.DefaultGatherer}
	if c.path == "" {
		c.path = DefaultPath
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *ScrapeController) Key() string {
	return c.path
}

func (c *ScrapeController) Register(r *mux.Router) {
	handler := promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{
		ErrorHandling:     promhttp.ContinueOnError,
		EnableOpenMetrics: true,
	})
	r.Handle(c.path, handler).Methods(http.MethodGet, http.MethodHead)
}
