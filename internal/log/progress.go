package log

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// InstrumentProgress reports completion of a download-history run across
// many concurrently-fetched instruments. It is safe for concurrent use by
// the orchestrator's fan-out goroutines.
type InstrumentProgress struct {
	mu        sync.Mutex
	logger    zerolog.Logger
	total     int
	completed int
	failed    int
	startedAt time.Time
}

// NewInstrumentProgress creates a progress tracker for total instruments.
func NewInstrumentProgress(logger zerolog.Logger, total int) *InstrumentProgress {
	return &InstrumentProgress{logger: logger, total: total, startedAt: time.Now()}
}

// InstrumentDone records that one instrument's fetch loop terminated,
// successfully or not, and logs a running tally.
func (p *InstrumentProgress) InstrumentDone(figi string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.completed++
	ev := p.logger.Info()
	if err != nil {
		p.failed++
		ev = p.logger.Warn().Err(err)
	}

	ev.Str("figi", figi).
		Int("completed", p.completed).
		Int("total", p.total).
		Int("failed", p.failed).
		Dur("elapsed", time.Since(p.startedAt)).
		Msg("instrument history fetch finished")
}

// Finish logs a final summary line.
func (p *InstrumentProgress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.logger.Info().
		Int("total", p.total).
		Int("failed", p.failed).
		Dur("duration", time.Since(p.startedAt)).
		Msg("download-history run complete")
}
