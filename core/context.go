package core

import (
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
)

// Context bundles the configuration snapshot, logger, metrics registry, and
// clock that every core component is constructed with. No component holds
// process-wide mutable state; everything flows through an explicit Context,
// per the Design Note replacing "global state and singleton context."
type Context struct {
	Config   *StoreConfig
	Log      *log.Logger
	Registry *prometheus.Registry
	Clock    Clock
}

// NewContext builds a Context from a parsed StoreConfig, wiring a fresh
// logrus.Logger and prometheus.Registry the way mainboilerplate.InitLog
// configures the package-level logrus logger, but scoped to this instance
// rather than global.
func NewContext(cfg *StoreConfig) *Context {
	var logger = log.New()
	switch cfg.Log.Format {
	case "json":
		logger.SetFormatter(&log.JSONFormatter{})
	case "color":
		logger.SetFormatter(&log.TextFormatter{ForceColors: true})
	default:
		logger.SetFormatter(&log.TextFormatter{})
	}
	if lvl, err := log.ParseLevel(cfg.Log.Level); err == nil {
		logger.SetLevel(lvl)
	} else {
		logger.SetLevel(log.InfoLevel)
	}

	return &Context{
		Config:   cfg,
		Log:      logger,
		Registry: prometheus.NewRegistry(),
		Clock:    SystemClock(),
	}
}

// WithClock returns a shallow copy of Context using the given Clock,
// principally for deterministic tests of the commit coordinator and
// watchdog timeout.
func (c *Context) WithClock(clock Clock) *Context {
	var next = *c
	next.Clock = clock
	return &next
}
