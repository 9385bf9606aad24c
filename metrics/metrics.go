// Package metrics exposes Prometheus instrumentation for the recovery
// lifecycle and a standalone metrics endpoint.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vault_recovery"

var (
	checkIns = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "checkins_total",
		Help:      "Owner check-ins recorded.",
	})

	claimsOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "claims_opened_total",
		Help:      "Recovery claims filed, by reason.",
	}, []string{"reason"})

	claimsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "claims_resolved_total",
		Help:      "Recovery claims resolved, by outcome.",
	}, []string{"status"})

	votesCast = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "votes_cast_total",
		Help:      "Guardian votes cast, by decision.",
	}, []string{"decision"})

	sweeps = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sweeps_total",
		Help:      "Completed sweep passes.",
	})

	sweepClaimsFiled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sweep_claims_filed_total",
		Help:      "Inactivity claims auto-filed by the sweep.",
	})

	sweepClaimsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sweep_claims_expired_total",
		Help:      "Claims expired past their voting deadline.",
	})

	vaultsReleased = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "vaults_released_total",
		Help:      "Vaults released after the time lock expired.",
	})

	rotations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fragment_rotations_total",
		Help:      "Fragment set rotations performed.",
	})

	unrecoverableVaults = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "unrecoverable_vaults",
		Help:      "Vaults whose active guardians are below the threshold.",
	})
)

func IncCheckIns()                    { checkIns.Inc() }
func IncClaimsOpened(reason string)   { claimsOpened.WithLabelValues(reason).Inc() }
func IncClaimsResolved(status string) { claimsResolved.WithLabelValues(status).Inc() }
func IncVotesCast(decision string)    { votesCast.WithLabelValues(decision).Inc() }
func IncSweeps()                      { sweeps.Inc() }
func IncSweepClaimsFiled()            { sweepClaimsFiled.Inc() }
func IncSweepClaimsExpired()          { sweepClaimsExpired.Inc() }
func IncVaultsReleased()              { vaultsReleased.Inc() }
func IncRotations()                   { rotations.Inc() }
func SetUnrecoverableVaults(n int)    { unrecoverableVaults.Set(float64(n)) }

// Server serves the Prometheus scrape endpoint on its own listener, away
// from the public API.
type Server struct {
	srv *http.Server
}

// NewServer creates a metrics server bound to addr.
func NewServer(addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &Server{
		srv: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// ListenAndServe blocks serving scrapes until Shutdown.
func (s *Server) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

// Shutdown gracefully stops the metrics listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
