package service

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/sectormem/sectormem/internal/engine"
)

// DecayService periodically runs the salience decay and waypoint prune pass.
type DecayService struct {
	engine   *engine.Engine
	interval time.Duration
}

// NewDecayService creates a new decay service.
func NewDecayService(eng *engine.Engine, interval time.Duration) *DecayService {
	if interval <= 0 {
		interval = time.Hour
	}
	return &DecayService{engine: eng, interval: interval}
}

// Start begins the periodic decay loop. Returns when ctx is cancelled.
func (s *DecayService) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runPass(ctx)
		}
	}
}

func (s *DecayService) runPass(ctx context.Context) {
	start := time.Now()
	updated, err := s.engine.DecayPass(ctx)
	if err != nil {
		log.Error("Decay: pass failed", "err", err)
		return
	}
	if updated > 0 {
		log.Info("Decay: completed", "updated", updated, "took", time.Since(start))
	}
}
