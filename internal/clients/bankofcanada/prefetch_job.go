package bankofcanada

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/mapleledger/mapleledger/internal/domain"
)

// PrefetchJob warms the exchange rate cache with the current USD/CAD rate
// so same-day transaction submissions never block on the network.
type PrefetchJob struct {
	client *Client
	log    zerolog.Logger
}

// NewPrefetchJob creates a new exchange rate prefetch job.
func NewPrefetchJob(client *Client, log zerolog.Logger) *PrefetchJob {
	return &PrefetchJob{
		client: client,
		log:    log.With().Str("job", "fx_prefetch").Logger(),
	}
}

// Name returns the job name for scheduler logging.
func (j *PrefetchJob) Name() string {
	return "fx_prefetch"
}

// Run fetches today's USD/CAD rate into the cache.
func (j *PrefetchJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rate, err := j.client.RateFor(ctx, domain.USD, domain.Today())
	if err != nil {
		j.log.Warn().Err(err).Msg("Exchange rate prefetch failed")
		return err
	}
	j.log.Debug().Str("rate", rate.String()).Msg("Exchange rate cache warmed")
	return nil
}
