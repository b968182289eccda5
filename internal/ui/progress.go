package ui

import (
	"sync"
	"time"
)

// etaSmoothing weighs a fresh ETA estimate against the previous one.
const etaSmoothing = 0.3

// rateInterval is the minimum spacing of throughput samples.
const rateInterval = 500 * time.Millisecond

// ProgressTracker holds run progress for the TUI. Safe for concurrent use.
type ProgressTracker struct {
	mu       sync.Mutex
	stage    Stage
	current  int
	total    int
	docPath  string
	start    time.Time
	errors   int
	warnings int

	lastETA    time.Duration
	lastSample time.Time
	lastCount  int
	rate       float64 // documents per second, smoothed
}

// ProgressStats is a snapshot of a tracker.
type ProgressStats struct {
	Stage    Stage
	Current  int
	Total    int
	Fraction float64
	ETA      time.Duration
	DocPath  string
	Rate     float64
	Errors   int
	Warnings int
	Elapsed  time.Duration
}

// NewProgressTracker creates a tracker starting at StageListing.
func NewProgressTracker() *ProgressTracker {
	now := time.Now()
	return &ProgressTracker{stage: StageListing, start: now, lastSample: now}
}

// Update applies a progress event.
func (p *ProgressTracker) Update(ev ProgressEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stage = ev.Stage
	if ev.Total > 0 {
		p.total = ev.Total
	}
	if ev.Current > p.current {
		p.current = ev.Current
	}
	if ev.DocPath != "" {
		p.docPath = ev.DocPath
	}

	now := time.Now()
	if elapsed := now.Sub(p.lastSample); elapsed >= rateInterval {
		sample := float64(p.current-p.lastCount) / elapsed.Seconds()
		if p.rate == 0 {
			p.rate = sample
		} else {
			p.rate = 0.2*sample + 0.8*p.rate
		}
		p.lastSample, p.lastCount = now, p.current
	}
}

// AddError counts an error or warning.
func (p *ProgressTracker) AddError(ev ErrorEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ev.IsWarn {
		p.warnings++
	} else {
		p.errors++
	}
}

// Stats returns a snapshot.
func (p *ProgressTracker) Stats() ProgressStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	frac := 0.0
	if p.total > 0 {
		frac = min(float64(p.current)/float64(p.total), 1)
	}
	return ProgressStats{
		Stage:    p.stage,
		Current:  p.current,
		Total:    p.total,
		Fraction: frac,
		ETA:      p.eta(frac),
		DocPath:  p.docPath,
		Rate:     p.rate,
		Errors:   p.errors,
		Warnings: p.warnings,
		Elapsed:  time.Since(p.start),
	}
}

// eta extrapolates the remaining time from the elapsed time, smoothed so a
// slow document does not make the estimate jump. Requires p.mu.
func (p *ProgressTracker) eta(frac float64) time.Duration {
	if frac <= 0 || frac >= 1 {
		return 0
	}
	elapsed := time.Since(p.start)
	raw := time.Duration(float64(elapsed)/frac) - elapsed
	if raw < 0 {
		return 0
	}
	if p.lastETA == 0 {
		p.lastETA = raw
		return raw
	}
	p.lastETA = time.Duration(etaSmoothing*float64(raw) + (1-etaSmoothing)*float64(p.lastETA))
	return p.lastETA
}
