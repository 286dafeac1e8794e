package rpc

import (
	"context"
	"time"
)

// runSweeper drives the coordinator's liveness pass until shutdown.
func (s *Server) runSweeper() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweepOnce()
		case <-s.shutdownChan:
			return
		}
	}
}

func (s *Server) sweepOnce() {
	report, err := s.coord.Sweep(context.Background())
	if err != nil {
		// State changed in memory; the next mutation retries the flush.
		s.logger.Error("sweep: persist failed", "error", err)
	}
	if report.Empty() {
		return
	}
	s.logger.Info("sweep",
		"marked_dead", report.MarkedDead,
		"expired_locks", report.ExpiredLocks,
		"reaped", report.Reaped)
}
