// file: internal/server/track_handlers.go
// version: 1.1.0
// guid: 2e4a6c8d-0f3b-4e5a-c7d9-1f3b5c7e9a1d

package server

import (
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/hbollon/go-edlib"

	"github.com/jdfalk/dj-tagger/internal/database"
	"github.com/jdfalk/dj-tagger/internal/fileops"
)

// listTracks returns tracks ordered by id; ?search= filters on path, title, artist and album.
// Tags also match on a close spelling, so "daft pnuk" finds Daft Punk.
func (s *Server) listTracks(c *gin.Context) {
	params := ParsePaginationParams(c)

	tracks, err := s.deps.Store.GetAllTracks()
	if err != nil {
		RespondWithInternalError(c, "failed to list tracks: "+err.Error())
		return
	}

	if params.Search != "" {
		needle := strings.ToLower(params.Search)
		filtered := tracks[:0]
		for _, t := range tracks {
			if trackMatches(t, needle) {
				filtered = append(filtered, t)
			}
		}
		tracks = filtered
	}
	sort.Slice(tracks, func(i, j int) bool { return tracks[i].ID < tracks[j].ID })

	total := len(tracks)
	start := min(params.Offset, total)
	end := min(start+params.Limit, total)

	c.JSON(http.StatusOK, NewListResponse(tracks[start:end], params.Limit, params.Offset, total))
}

// Tag similarity at or above which a search term matches despite typos
const (
	searchSimilarity   = 0.9
	minFuzzySearchTerm = 4
)

func trackMatches(t database.Track, needle string) bool {
	if strings.Contains(strings.ToLower(t.FilePath), needle) {
		return true
	}
	for _, p := range []*string{t.Title, t.Artist, t.Album} {
		if p == nil {
			continue
		}
		tag := strings.ToLower(*p)
		if strings.Contains(tag, needle) {
			return true
		}
		if len(needle) < minFuzzySearchTerm {
			continue
		}
		if sim, err := edlib.StringsSimilarity(tag, needle, edlib.JaroWinkler); err == nil && sim >= searchSimilarity {
			return true
		}
	}
	return false
}

func (s *Server) getTrack(c *gin.Context) {
	id, ok := ParseIDParam(c, "id")
	if !ok {
		return
	}

	track, err := s.deps.Store.GetTrackByID(id)
	if err != nil {
		RespondWithInternalError(c, "failed to load track: "+err.Error())
		return
	}
	if track == nil {
		RespondWithNotFound(c, "track", strconv.FormatInt(id, 10))
		return
	}

	rec, err := s.deps.Store.GetFingerprint(id)
	if err != nil {
		RespondWithInternalError(c, "failed to load fingerprint: "+err.Error())
		return
	}

	c.JSON(http.StatusOK, TrackResponse{
		Track:       *track,
		Fingerprint: rec,
		Stale:       rec.IsStale(track),
	})
}

// deleteTrackFile removes the file and its records. Status codes follow the outcome:
// 200 deleted or already missing, 403 denied, 404 unknown id, 500 otherwise.
func (s *Server) deleteTrackFile(c *gin.Context) {
	id, ok := ParseIDParam(c, "id")
	if !ok {
		return
	}

	result, err := s.deps.Deleter.DeleteTrackFile(id)
	if err == nil {
		c.JSON(http.StatusOK, result)
		return
	}

	var reconcileErr *fileops.ReconcileError
	switch {
	case errors.As(err, &reconcileErr):
		RespondWithError(c, http.StatusInternalServerError, err.Error(), CodeReconcileRequired)
	case errors.Is(err, fileops.ErrTrackNotFound):
		RespondWithNotFound(c, "track", strconv.FormatInt(id, 10))
	case errors.Is(err, fileops.ErrPermissionDenied):
		RespondWithForbidden(c, err.Error())
	default:
		RespondWithInternalError(c, err.Error())
	}
}
