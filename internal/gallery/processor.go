package gallery

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/SorenWeile/comfyui-gallery/internal/logging"
	"github.com/SorenWeile/comfyui-gallery/internal/metrics"
)

const defaultQueueSize = 1000

// Processor pre-generates thumbnails in the background.
type Processor struct {
	thumbs  *Thumbnailer
	queue   chan string
	wg      sync.WaitGroup
	cancel  context.CancelFunc
	workers int

	mu      sync.Mutex
	stopped bool
}

// NewProcessor creates a processor with the given number of workers.
func NewProcessor(thumbs *Thumbnailer, workers int) *Processor {
	if workers <= 0 {
		workers = 2
	}
	return &Processor{
		thumbs:  thumbs,
		queue:   make(chan string, defaultQueueSize),
		workers: workers,
	}
}

// Start launches the worker goroutines.
func (p *Processor) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	logging.Info("thumbnail processor started", zap.Int("workers", p.workers))
}

// Stop signals workers to stop and waits for them to finish. Queued paths
// that were not started are discarded.
func (p *Processor) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.queue)
	p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	logging.Info("thumbnail processor stopped")
}

// Enqueue adds paths to the queue and returns how many were accepted. Paths
// are dropped when the queue is full.
func (p *Processor) Enqueue(paths ...string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return 0
	}

	accepted := 0
	for _, path := range paths {
		select {
		case p.queue <- path:
			accepted++
		default:
			metrics.RecordProcessorDrop()
			logging.Warn("thumbnail queue full, dropping", zap.String("path", path))
		}
	}
	return accepted
}

func (p *Processor) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case path, ok := <-p.queue:
			if !ok {
				return
			}
			if _, err := p.thumbs.Ensure(ctx, path); err != nil && !errors.Is(err, ErrNotThumbnailable) {
				logging.Debug("thumbnail pre-generation failed", zap.String("path", path), zap.Error(err))
			}
		}
	}
}
