// Package statsvc implements the stats registry: Prometheus counter
// vectors for message outcomes by kind, vote classifications and
// election outcomes, exposed read-only over HTTP. The Direction type is
// not used as a label by any counter.
package statsvc

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/chratos-network/core/wire"
)

// Direction distinguishes an inbound event from an outbound one, as in
// the original stat::dir enum.
type Direction string

const (
	DirIn  Direction = "in"
	DirOut Direction = "out"
)

// Registry is the stats collaborator every wired component increments.
// It satisfies netcore.Stats.
type Registry struct {
	mu       sync.Mutex
	messages *prometheus.CounterVec
	votes    *prometheus.CounterVec
	elections *prometheus.CounterVec
}

// New creates a Registry and registers its collectors with reg.
func New(reg prometheus.Registerer) *Registry {
	r := &Registry{
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chratos_messages_total",
			Help: "Wire messages processed, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		votes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chratos_votes_total",
			Help: "Votes processed, by classification.",
		}, []string{"detail"}),
		elections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chratos_elections_total",
			Help: "Election lifecycle transitions, by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(r.messages, r.votes, r.elections)
	return r
}

// Inc implements netcore.Stats: counts one wire message by kind and
// outcome ("ok", "parse_error", "bad_signature", ...).
func (r *Registry) Inc(kind wire.Kind, outcome string) {
	r.messages.WithLabelValues(kind.String(), outcome).Inc()
}

// IncVote counts one vote classification ("valid", "replay", "invalid"),
// mirroring the original vote_valid/vote_replay/vote_invalid details.
func (r *Registry) IncVote(detail string) {
	r.votes.WithLabelValues(detail).Inc()
}

// IncElection counts one election lifecycle transition ("started",
// "confirmed", "aborted").
func (r *Registry) IncElection(outcome string) {
	r.elections.WithLabelValues(outcome).Inc()
}

// Server exposes a Registry's counters over HTTP, following the
// register-handlers-at-construction pattern used for this core's other
// service endpoints.
type Server struct {
	bindAddress string
	log         *logrus.Entry
	mux         *http.ServeMux
}

// NewServer creates a Server bound to bindAddress, exposing reg on
// /metrics via the standard Prometheus text exposition handler.
func NewServer(bindAddress string, reg *prometheus.Registry, log *logrus.Entry) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &Server{bindAddress: bindAddress, log: log, mux: mux}
}

// Serve blocks running an HTTP server on bindAddress.
func (s *Server) Serve() error {
	s.log.WithField("bind_address", s.bindAddress).Info("statsvc: serving metrics")
	return http.ListenAndServe(s.bindAddress, s.mux)
}
