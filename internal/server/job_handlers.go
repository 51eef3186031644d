// file: internal/server/job_handlers.go
// version: 1.0.0
// guid: 3f5b7d9e-1a4c-4f6b-d8e0-2a4c6d8f0b2e

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/jdfalk/dj-tagger/internal/operations"
	"github.com/jdfalk/dj-tagger/internal/scanner"
)

const jobTypeImport = "library_import"

// startLibraryImport queues a walk of the music directory that registers new and changed files
func (s *Server) startLibraryImport(c *gin.Context) {
	if s.deps.Jobs == nil {
		RespondWithServiceUnavailable(c, "job queue not initialized", "")
		return
	}

	var req ImportRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); HandleBindError(c, err) {
			return
		}
	}
	root := req.Root
	if root == "" {
		root = s.deps.MusicDir
	}
	if root == "" {
		RespondWithValidationError(c, "root", "no root given and no music_dir configured")
		return
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		RespondWithValidationError(c, "root", "not a readable directory")
		return
	}
	workers := req.Workers
	if workers <= 0 {
		workers = s.deps.DefaultWorkers
	}

	store := s.deps.Store
	opts := scanner.Options{Extensions: s.deps.Extensions, Workers: workers}
	id, err := s.deps.Jobs.Enqueue(jobTypeImport, func(ctx context.Context, progress operations.ProgressReporter) (any, error) {
		opts.Progress = func(done, total int) {
			progress.UpdateProgress(done, total, fmt.Sprintf("imported %d of %d files", done, total))
		}
		res, err := scanner.ImportLibrary(ctx, store, root, opts)
		if res == nil {
			return nil, err
		}
		return res, err
	})
	if err != nil {
		if errors.Is(err, operations.ErrQueueFull) || errors.Is(err, operations.ErrQueueClosed) {
			RespondWithServiceUnavailable(c, err.Error(), "")
			return
		}
		RespondWithInternalError(c, err.Error())
		return
	}

	c.JSON(http.StatusAccepted, JobAcceptedResponse{JobID: id, Type: jobTypeImport})
}

func (s *Server) listJobs(c *gin.Context) {
	if s.deps.Jobs == nil {
		c.JSON(http.StatusOK, NewListResponse([]operations.Job{}, 0, 0, 0))
		return
	}
	jobs := s.deps.Jobs.List()
	c.JSON(http.StatusOK, NewListResponse(jobs, len(jobs), 0, len(jobs)))
}

func (s *Server) getJob(c *gin.Context) {
	if s.deps.Jobs == nil {
		RespondWithNotFound(c, "job", c.Param("id"))
		return
	}
	job, err := s.deps.Jobs.Get(c.Param("id"))
	if err != nil {
		RespondWithNotFound(c, "job", c.Param("id"))
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) cancelJob(c *gin.Context) {
	if s.deps.Jobs == nil {
		RespondWithNotFound(c, "job", c.Param("id"))
		return
	}
	if err := s.deps.Jobs.Cancel(c.Param("id")); err != nil {
		if errors.Is(err, operations.ErrJobNotFound) {
			RespondWithNotFound(c, "job", c.Param("id"))
			return
		}
		RespondWithInternalError(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, MessageResponse{Message: "cancel requested"})
}
