package icy

import (
	"context"
	"errors"
	"fmt"

	"github.com/panjf2000/ants/v2"

	"radio-relay/work/cache"
	"radio-relay/work/logger"
	"radio-relay/work/metrics"
	"radio-relay/work/utils"
)

// Undefined is reported when a stream carries no title
const Undefined = "undefined"

// ErrBusy is returned when every harvest worker is occupied
var ErrBusy = errors.New("metadata workers busy")

// TitleSource reads the current title of one stream
type TitleSource interface {
	Harvest(ctx context.Context, rawURL string) (string, error)
}

// Extractor answers "now playing" lookups. Harvests run on a bounded worker
// pool and their results are kept briefly per stream URL.
type Extractor struct {
	source TitleSource
	titles *cache.NowPlayingCache
	pool   *ants.Pool
}

// New creates an Extractor running at most workers harvests at once
func New(source TitleSource, titles *cache.NowPlayingCache, workers int) (*Extractor, error) {
	pool, err := ants.NewPool(workers, ants.WithNonblocking(true))
	if err != nil {
		return nil, fmt.Errorf("failed to create metadata worker pool: %w", err)
	}

	return &Extractor{
		source: source,
		titles: titles,
		pool:   pool,
	}, nil
}

type harvestResult struct {
	title string
	err   error
}

// GetStreamInfo returns the current title of streamURL, Undefined when it has
// none, and "" for an empty URL without touching the network.
func (e *Extractor) GetStreamInfo(ctx context.Context, streamURL string) (string, error) {
	if streamURL == "" {
		return "", nil
	}

	if title, ok := e.titles.Get(streamURL); ok {
		metrics.MetadataHarvests.WithLabelValues("cached").Inc()
		return title, nil
	}

	done := make(chan harvestResult, 1)
	err := e.pool.Submit(func() {
		title, err := e.source.Harvest(ctx, streamURL)
		done <- harvestResult{title: title, err: err}
	})
	if errors.Is(err, ants.ErrPoolOverload) {
		return "", ErrBusy
	}
	if err != nil {
		return "", fmt.Errorf("failed to schedule harvest: %w", err)
	}

	var res harvestResult
	select {
	case res = <-done:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	switch {
	case errors.Is(res.err, ErrNoMetadata):
		logger.Debug("{icy/extractor - GetStreamInfo} no title for %s: %v", utils.LogURL(streamURL), res.err)
		metrics.MetadataHarvests.WithLabelValues("undefined").Inc()
		e.titles.Set(streamURL, Undefined)
		return Undefined, nil
	case res.err != nil:
		metrics.MetadataHarvests.WithLabelValues("error").Inc()
		return "", res.err
	}

	metrics.MetadataHarvests.WithLabelValues("title").Inc()
	e.titles.Set(streamURL, res.title)
	return res.title, nil
}

// Close releases the worker pool
func (e *Extractor) Close() {
	e.pool.Release()
}
