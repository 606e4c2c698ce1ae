package embedding

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/remembr/remembr/internal/storage"
	"github.com/remembr/remembr/internal/tenant"
)

// job is one enrichment unit: enrich episodeID (belonging to orgID) with an
// embedding of content.
type job struct {
	episodeID uuid.UUID
	orgID     uuid.UUID
	content   string
}

// Pool is a bounded worker pool replacing the original service's unbounded
// asyncio.create_task fire-and-forget dispatch (§9 redesign): a fixed number
// of goroutines drain a buffered channel, so a burst of writes degrades to
// queue backpressure (tracked via the metrics gauges) instead of unbounded
// goroutine growth.
type Pool struct {
	client  *Client
	db      *gorm.DB
	log     *zap.Logger
	queue   chan job
	workers int

	wg        sync.WaitGroup
	queueSize prometheusGauge
}

// prometheusGauge is the minimal surface Pool needs from a gauge metric,
// kept as an interface so tests can substitute a no-op.
type prometheusGauge interface {
	Set(float64)
}

type noopGauge struct{}

func (noopGauge) Set(float64) {}

// Option configures a Pool at construction.
type Option func(*Pool)

// WithQueueDepthGauge wires a prometheus gauge tracking current queue depth.
func WithQueueDepthGauge(g prometheusGauge) Option {
	return func(p *Pool) { p.queueSize = g }
}

// defaultQueueCapacity bounds how many pending enrichments may be buffered
// before Enqueue starts dropping jobs (logged, not fatal — the episode
// remains retrievable via filter_only paths per §4.5).
const defaultQueueCapacity = 256

// NewPool builds a Pool with the given worker count and starts its workers.
// Call Stop to drain and shut down cleanly.
func NewPool(ctx context.Context, client *Client, db *gorm.DB, log *zap.Logger, workers int, opts ...Option) *Pool {
	if workers <= 0 {
		workers = 4
	}
	p := &Pool{
		client:    client,
		db:        db,
		log:       log.Named("embedding_pool"),
		queue:     make(chan job, defaultQueueCapacity),
		workers:   workers,
		queueSize: noopGauge{},
	}
	for _, opt := range opts {
		opt(p)
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.run(ctx)
	}
	return p
}

// Enqueue submits an episode for embedding enrichment. Non-blocking: if the
// queue is full the job is dropped and logged, matching the bounded-pool
// backpressure contract in §9 — enrichment is best-effort, never a reason to
// block the caller of Log.
func (p *Pool) Enqueue(episodeID, orgID uuid.UUID, content string) {
	select {
	case p.queue <- job{episodeID: episodeID, orgID: orgID, content: content}:
		p.queueSize.Set(float64(len(p.queue)))
	default:
		p.log.Warn("embedding queue full, dropping enrichment job",
			zap.String("episode_id", episodeID.String()))
	}
}

// Stop closes the queue and waits for in-flight workers to finish.
func (p *Pool) Stop() {
	close(p.queue)
	p.wg.Wait()
}

func (p *Pool) run(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-p.queue:
			if !ok {
				return
			}
			p.queueSize.Set(float64(len(p.queue)))
			p.process(ctx, j)
		}
	}
}

func (p *Pool) process(ctx context.Context, j job) {
	vector, dimensions, err := p.client.Embed(ctx, j.content)
	if err != nil {
		p.log.Error("failed to generate episode embedding",
			zap.String("episode_id", j.episodeID.String()), zap.Error(err))
		return
	}

	vectorJSON, err := json.Marshal(vector)
	if err != nil {
		p.log.Error("failed to encode embedding vector",
			zap.String("episode_id", j.episodeID.String()), zap.Error(err))
		return
	}

	embedding := storage.Embedding{
		OrgID:      j.orgID,
		EpisodeID:  &j.episodeID,
		Content:    j.content,
		Model:      p.client.config.Model,
		Dimensions: dimensions,
		Vector:     string(vectorJSON),
	}

	// Re-verify the episode still exists before attaching the embedding —
	// it may have been deleted (forgetting service) while enrichment was
	// in flight.
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	scopedDB := tenant.Bind(p.db.WithContext(queryCtx), j.orgID)

	var exists int64
	if err := scopedDB.Model(&storage.Episode{}).
		Where("id = ?", j.episodeID).Count(&exists).Error; err != nil {
		p.log.Error("failed to check episode existence before persisting embedding",
			zap.String("episode_id", j.episodeID.String()), zap.Error(err))
		return
	}
	if exists == 0 {
		p.log.Warn("skipping embedding save: episode not found",
			zap.String("episode_id", j.episodeID.String()))
		return
	}

	if err := scopedDB.Create(&embedding).Error; err != nil {
		p.log.Error("failed to persist episode embedding",
			zap.String("episode_id", j.episodeID.String()), zap.Error(err))
		return
	}

	p.log.Debug("episode embedding stored",
		zap.String("episode_id", j.episodeID.String()), zap.Int("dimensions", dimensions))
}
