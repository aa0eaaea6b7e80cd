package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/toptalkers/internal/httpmw"
	"github.com/keithlinneman/toptalkers/internal/log"
	"github.com/keithlinneman/toptalkers/internal/probe"
)

type Options struct {
	Logger       log.Logger
	Port         int
	UseRecoverMW bool
	OnPanic      func() // Optional callback for recovered panics, e.g. to increment a prometheus counter
	MetricsMW    func(http.Handler) http.Handler
	TrackerMW    func(http.Handler) http.Handler
	RateLimitMW  func(http.Handler) http.Handler
	ClientIPOpts httpmw.ClientIPOptions
	Health       probe.Probe
	Readiness    probe.Probe
	APIRoutes    func(chi.Router)
}
