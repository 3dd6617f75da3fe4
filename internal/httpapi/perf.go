package httpapi

import (
	"net/http"
	"time"

	"github.com/ent0n29/voxcollect/internal/observability"
)

// handlePerfStages reports the rolling latency of the recording pipeline.
func (s *Server) handlePerfStages(w http.ResponseWriter, _ *http.Request) {
	if s.opts.Metrics == nil || s.opts.Metrics.Stages == nil {
		respondJSON(w, http.StatusOK, observability.StageSnapshot{
			GeneratedAt: time.Now().UTC(),
			Stages:      []observability.StageStats{},
		})
		return
	}
	respondJSON(w, http.StatusOK, s.opts.Metrics.Stages.Snapshot())
}
