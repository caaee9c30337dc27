package environment

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"presence/internal/metrics"
)

// AddressResolver returns the public network address of this host.
type AddressResolver interface {
	Lookup(ctx context.Context) (string, error)
}

// Probe runs the geolocation and address resolutions concurrently.
type Probe struct {
	locator    Locator
	address    AddressResolver
	geoTimeout time.Duration
	log        zerolog.Logger
	now        func() time.Time
}

func NewProbe(locator Locator, address AddressResolver, geoTimeout time.Duration, logger zerolog.Logger) *Probe {
	if geoTimeout <= 0 {
		geoTimeout = 5 * time.Second
	}
	return &Probe{
		locator:    locator,
		address:    address,
		geoTimeout: geoTimeout,
		log:        logger.With().Str("component", "environment").Logger(),
		now:        time.Now,
	}
}

// Run resolves both fields once and returns when both have settled. It never fails:
// each unresolved field carries its fallback marker. The address lookup is bounded
// only by ctx.
func (p *Probe) Run(ctx context.Context) Snapshot {
	var snap Snapshot
	var g errgroup.Group

	g.Go(func() error {
		gctx, cancel := context.WithTimeout(ctx, p.geoTimeout)
		defer cancel()
		c, err := p.locator.Locate(gctx)
		if err != nil {
			p.log.Warn().Err(err).Msg("geolocation unavailable")
			metrics.ProbeFallbacks.WithLabelValues("location").Inc()
			snap.Location = LocationUnavailable
			return nil
		}
		snap.Location = c.String()
		return nil
	})

	g.Go(func() error {
		ip, err := p.address.Lookup(ctx)
		if err != nil {
			p.log.Warn().Err(err).Msg("public address unavailable")
			metrics.ProbeFallbacks.WithLabelValues("ip_address").Inc()
			snap.IPAddress = AddressUnavailable
			return nil
		}
		snap.IPAddress = ip
		return nil
	})

	_ = g.Wait()
	snap.ResolvedAt = p.now().UTC()
	p.log.Info().Str("location", snap.Location).Str("ip", snap.IPAddress).Bool("degraded", snap.Degraded()).Msg("environment resolved")
	return snap
}
