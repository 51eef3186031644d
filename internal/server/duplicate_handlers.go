// file: internal/server/duplicate_handlers.go
// version: 1.0.0
// guid: 1d3f5b7c-9e2a-4d4f-b6c8-0e2a4b6d8f0c

package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jdfalk/dj-tagger/internal/duplicates"
)

func (s *Server) listDuplicates(c *gin.Context) {
	groups, err := s.deps.Grouper.Groups()
	if err != nil {
		RespondWithInternalError(c, "failed to group duplicates: "+err.Error())
		return
	}
	if groups == nil {
		groups = []duplicates.Group{}
	}
	c.JSON(http.StatusOK, DuplicatesResponse{
		Groups:  groups,
		Summary: duplicates.Summarize(groups),
	})
}

func (s *Server) getDuplicateGroup(c *gin.Context) {
	key := c.Param("key")
	group, err := s.deps.Grouper.FindGroup(key)
	if err != nil {
		RespondWithInternalError(c, "failed to group duplicates: "+err.Error())
		return
	}
	if group == nil {
		RespondWithNotFound(c, "duplicate group", key)
		return
	}
	c.JSON(http.StatusOK, group)
}

// resolveDuplicateGroup deletes every file in the group except the kept track.
// Membership is taken from a fresh grouping, not from the client.
func (s *Server) resolveDuplicateGroup(c *gin.Context) {
	var req ResolveRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); HandleBindError(c, err) {
			return
		}
	}

	key := c.Param("key")
	group, err := s.deps.Grouper.FindGroup(key)
	if err != nil {
		RespondWithInternalError(c, "failed to group duplicates: "+err.Error())
		return
	}
	if group == nil {
		RespondWithNotFound(c, "duplicate group", key)
		return
	}

	keep := req.KeepTrackID
	if keep == 0 {
		keep = group.Canonical().ID
	}
	results, err := s.deps.Deleter.DeleteGroupExtras(*group, keep)
	if results == nil && err != nil {
		RespondWithValidationError(c, "keep_track_id", err.Error())
		return
	}

	status := http.StatusOK
	if err != nil {
		status = http.StatusMultiStatus
		_ = c.Error(err)
	}
	c.JSON(status, ResolveResponse{
		FingerprintKey: key,
		KeptTrackID:    keep,
		Results:        results,
	})
}
