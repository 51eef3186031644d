// file: internal/server/fingerprint_handlers.go
// version: 1.2.0
// guid: 0c2e4a6b-8d1f-4c3e-a5b7-9d1f3a5c7e9b

package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jdfalk/dj-tagger/internal/database"
	"github.com/jdfalk/dj-tagger/internal/duplicates"
	"github.com/jdfalk/dj-tagger/internal/fingerprint"
	"github.com/jdfalk/dj-tagger/internal/logger"
	"github.com/jdfalk/dj-tagger/internal/operations"
)

func (s *Server) getFingerprintStatus(c *gin.Context) {
	toolStatus := s.toolStatusSnapshot()
	resp := FingerprintStatusResponse{
		GenerationStatus: s.deps.Coordinator.Status(),
		ToolAvailable:    toolStatus == ToolStatusAvailable,
		ToolStatus:       toolStatus,
		ErrorCount:       len(s.deps.Coordinator.Errors()),
	}

	var err error
	if resp.TotalTracks, err = s.deps.Store.CountTracks(); err != nil {
		RespondWithInternalError(c, "failed to count tracks: "+err.Error())
		return
	}
	if resp.FingerprintedTracks, err = s.deps.Store.CountFingerprints(); err != nil {
		RespondWithInternalError(c, "failed to count fingerprints: "+err.Error())
		return
	}

	c.JSON(http.StatusOK, resp)
}

const toolStatusKey = "fpcalc"

// toolStatusSnapshot reports the last probe result without waiting on the tool.
// A missing or expired result schedules one background probe.
func (s *Server) toolStatusSnapshot() string {
	available, found, fresh := s.toolStatus.Peek(toolStatusKey)
	if !fresh {
		s.refreshToolStatus()
	}
	switch {
	case !found:
		return ToolStatusUnknown
	case available:
		return ToolStatusAvailable
	default:
		return ToolStatusUnavailable
	}
}

// refreshToolStatus probes fpcalc in the background, detached from any request.
// Only a definite answer from the tool is stored; an interrupted probe keeps the previous value.
func (s *Server) refreshToolStatus() <-chan struct{} {
	return s.toolStatus.Refresh(toolStatusKey, func() (bool, error) {
		ctx, cancel := context.WithTimeout(context.Background(), toolProbeTimeout)
		defer cancel()

		err := s.deps.Coordinator.ProbeTool(ctx)
		switch {
		case err == nil:
			return true, nil
		case fingerprint.KindOf(err) == fingerprint.KindCanceled:
			logger.Debug("fpcalc probe interrupted", logger.Err(err))
			return false, err
		default:
			return false, nil
		}
	})
}

func (s *Server) startFingerprintGeneration(c *gin.Context) {
	var req GenerateRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); HandleBindError(c, err) {
			return
		}
	}
	workers := s.deps.DefaultWorkers
	if req.WorkerCount != nil {
		workers = *req.WorkerCount
	}

	handle, err := s.deps.Coordinator.Start(c.Request.Context(), workers, req.Overwrite)
	if err != nil {
		var cfgErr *operations.ConfigError
		switch {
		case errors.As(err, &cfgErr):
			RespondWithValidationError(c, cfgErr.Field, cfgErr.Reason)
		case errors.Is(err, operations.ErrAlreadyRunning):
			RespondWithConflict(c, err.Error())
		case errors.Is(err, fingerprint.ErrToolUnavailable):
			s.toolStatus.Set(toolStatusKey, false)
			RespondWithServiceUnavailable(c, err.Error(), CodeToolUnavailable)
		default:
			RespondWithInternalError(c, err.Error())
		}
		return
	}

	s.toolStatus.Set(toolStatusKey, true)
	c.JSON(http.StatusAccepted, handle)
}

// generateTrackFingerprint fingerprints one track synchronously
func (s *Server) generateTrackFingerprint(c *gin.Context) {
	id, ok := ParseIDParam(c, "id")
	if !ok {
		return
	}

	rec, err := s.deps.Coordinator.GenerateTrack(c.Request.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, operations.ErrAlreadyRunning):
			RespondWithConflict(c, err.Error())
		case errors.Is(err, fingerprint.ErrToolUnavailable):
			s.toolStatus.Set(toolStatusKey, false)
			RespondWithServiceUnavailable(c, err.Error(), CodeToolUnavailable)
		case errors.Is(err, database.ErrTrackNotFound):
			RespondWithNotFound(c, "track", strconv.FormatInt(id, 10))
		case errors.Is(err, fingerprint.ErrTimeout):
			RespondWithError(c, http.StatusGatewayTimeout, err.Error(), CodeExtractionFailed)
		case fingerprint.KindOf(err) != "":
			RespondWithError(c, http.StatusUnprocessableEntity, err.Error(), CodeExtractionFailed)
		default:
			RespondWithInternalError(c, err.Error())
		}
		return
	}

	s.toolStatus.Set(toolStatusKey, true)
	c.JSON(http.StatusOK, TrackFingerprintResponse{
		TrackID:        rec.TrackID,
		Fingerprint:    rec.Fingerprint,
		FingerprintKey: duplicates.Key(rec.Fingerprint),
		Duration:       rec.Duration,
		GeneratedAt:    rec.GeneratedAt,
	})
}

// stopFingerprintGeneration always answers 200; stopping an idle coordinator is a no-op
func (s *Server) stopFingerprintGeneration(c *gin.Context) {
	requested := s.deps.Coordinator.RequestStop()
	message := "no generation running"
	if requested {
		message = "stop requested; in-flight tracks will finish"
	}
	c.JSON(http.StatusOK, gin.H{
		"stop_requested": requested,
		"message":        message,
		"status":         s.deps.Coordinator.Status(),
	})
}

func (s *Server) listFingerprintErrors(c *gin.Context) {
	items := s.deps.Coordinator.Errors()
	if items == nil {
		items = []operations.UnitError{}
	}
	c.JSON(http.StatusOK, UnitErrorsResponse{
		Items:   items,
		Count:   len(items),
		Dropped: s.deps.Coordinator.DroppedErrors(),
	})
}
