package payment

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// ExpireWorker periodically expires checkouts that were never paid.
type ExpireWorker struct {
	svc      *Service
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func NewExpireWorker(svc *Service, interval time.Duration) *ExpireWorker {
	if interval == 0 {
		interval = 15 * time.Minute
	}
	return &ExpireWorker{
		svc:      svc,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the background worker
func (w *ExpireWorker) Start() {
	log.Info().Dur("interval", w.interval).Msg("Starting payment expire worker...")
	go w.loop()
}

// Stop stops the worker and waits for the current pass to finish.
func (w *ExpireWorker) Stop() {
	log.Info().Msg("Stopping payment expire worker...")
	close(w.stopCh)
	<-w.doneCh
}

func (w *ExpireWorker) loop() {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.expire()

	for {
		select {
		case <-ticker.C:
			w.expire()
		case <-w.stopCh:
			return
		}
	}
}

func (w *ExpireWorker) expire() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	count, err := w.svc.ExpireStale(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to expire pending transactions")
		return
	}
	if count > 0 {
		log.Info().Int64("count", count).Msg("Expired pending transactions")
	}
}
