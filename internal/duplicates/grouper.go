// file: internal/duplicates/grouper.go
// version: 1.1.0
// guid: 7c9e1a3b-5d6f-4a8b-9c0d-2e4f6a8b0c2d

// Package duplicates clusters catalog tracks that share an acoustic fingerprint.
package duplicates

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/jdfalk/dj-tagger/internal/database"
	"github.com/jdfalk/dj-tagger/internal/fingerprint"
	"github.com/jdfalk/dj-tagger/internal/logger"
	"github.com/jdfalk/dj-tagger/internal/metrics"
)

// Near-match duration tolerance: within 5 seconds or 2 percent
const (
	durationToleranceSeconds = 5.0
	durationToleranceRatio   = 0.02
)

// Options tunes grouping
type Options struct {
	// SimilarityThreshold in (0,1] enables near-match merging; 0 means strict equality.
	// Similarity is one minus the bit error rate of the decoded subfingerprints.
	SimilarityThreshold float64
}

// GroupTrack is a catalog track annotated with its fingerprint
type GroupTrack struct {
	database.Track
	Fingerprint         string    `json:"fingerprint"`
	FingerprintDuration float64   `json:"fingerprint_duration"`
	FingerprintedAt     time.Time `json:"fingerprinted_at"`
	Stale               bool      `json:"stale"`
}

// Group is a set of two or more tracks considered the same recording.
// Tracks[0] is the canonical copy (largest file, lowest id on ties).
type Group struct {
	FingerprintKey string       `json:"fingerprint_key"`
	Tracks         []GroupTrack `json:"tracks"`
}

// Canonical returns the track kept by default when resolving the group
func (g Group) Canonical() GroupTrack {
	return g.Tracks[0]
}

// Extras returns every track except the canonical one
func (g Group) Extras() []GroupTrack {
	return g.Tracks[1:]
}

// Summary aggregates a grouping result
type Summary struct {
	Groups           int   `json:"groups"`
	Duplicates       int   `json:"duplicates"`
	ReclaimableBytes int64 `json:"reclaimable_bytes"`
	StaleTracks      int   `json:"stale_tracks"`
}

// Key derives the stable group key of a fingerprint
func Key(fingerprint string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(strings.TrimSpace(fingerprint)))
}

// Grouper reads the catalog and fingerprint store and computes duplicate groups.
// It holds no state between calls and is safe to use while generation runs.
type Grouper struct {
	store database.Store
	opts  Options
}

// NewGrouper creates a grouper
func NewGrouper(store database.Store, opts Options) *Grouper {
	if opts.SimilarityThreshold < 0 || opts.SimilarityThreshold > 1 {
		opts.SimilarityThreshold = 0
	}
	return &Grouper{store: store, opts: opts}
}

// Groups returns every duplicate group ordered by size descending, then key ascending
func (g *Grouper) Groups() ([]Group, error) {
	tracks, err := g.store.GetAllTracks()
	if err != nil {
		return nil, fmt.Errorf("list tracks: %w", err)
	}
	records, err := g.store.GetAllFingerprints()
	if err != nil {
		return nil, fmt.Errorf("list fingerprints: %w", err)
	}

	buckets := make(map[string][]GroupTrack)
	for _, track := range tracks {
		rec, ok := records[track.ID]
		if !ok {
			continue
		}
		norm := rec.Normalized()
		if norm == "" {
			continue
		}
		buckets[norm] = append(buckets[norm], GroupTrack{
			Track:               track,
			Fingerprint:         norm,
			FingerprintDuration: rec.Duration,
			FingerprintedAt:     rec.GeneratedAt,
			Stale:               rec.IsStale(&track),
		})
	}

	var clusters [][]GroupTrack
	if g.opts.SimilarityThreshold > 0 {
		clusters = mergeNear(buckets, g.opts.SimilarityThreshold)
	} else {
		for _, members := range buckets {
			clusters = append(clusters, members)
		}
	}

	groups := make([]Group, 0, len(clusters))
	for _, members := range clusters {
		if len(members) < 2 {
			continue
		}
		sortMembers(members)
		groups = append(groups, Group{
			FingerprintKey: Key(members[0].Fingerprint),
			Tracks:         members,
		})
	}

	sort.Slice(groups, func(i, j int) bool {
		if len(groups[i].Tracks) != len(groups[j].Tracks) {
			return len(groups[i].Tracks) > len(groups[j].Tracks)
		}
		return groups[i].FingerprintKey < groups[j].FingerprintKey
	})

	summary := Summarize(groups)
	metrics.SetDuplicateGroups(summary.Groups)
	metrics.SetReclaimableBytes(summary.ReclaimableBytes)
	logger.Debug("duplicate grouping complete",
		logger.Int("tracks", len(tracks)),
		logger.Int("fingerprinted", len(records)),
		logger.Int("groups", summary.Groups))

	return groups, nil
}

// FindGroup returns the group with the given key, or nil
func (g *Grouper) FindGroup(key string) (*Group, error) {
	groups, err := g.Groups()
	if err != nil {
		return nil, err
	}
	for i := range groups {
		if groups[i].FingerprintKey == key {
			return &groups[i], nil
		}
	}
	return nil, nil
}

// Summarize counts groups, extra copies and the bytes freed by removing the extras
func Summarize(groups []Group) Summary {
	var s Summary
	s.Groups = len(groups)
	for _, group := range groups {
		for i, t := range group.Tracks {
			if t.Stale {
				s.StaleTracks++
			}
			if i == 0 {
				continue
			}
			s.Duplicates++
			s.ReclaimableBytes += t.FileSize
		}
	}
	return s
}

// sortMembers orders by file size descending, ties by ascending id
func sortMembers(members []GroupTrack) {
	sort.Slice(members, func(i, j int) bool {
		if members[i].FileSize != members[j].FileSize {
			return members[i].FileSize > members[j].FileSize
		}
		return members[i].ID < members[j].ID
	})
}

type nearCandidate struct {
	key      string
	duration float64
	raw      []uint32
}

// mergeNear unions exact buckets whose durations agree and whose decoded
// subfingerprints reach the similarity threshold. Buckets are sorted by
// duration so each one is only compared against its duration window.
func mergeNear(buckets map[string][]GroupTrack, threshold float64) [][]GroupTrack {
	candidates := make([]nearCandidate, 0, len(buckets))
	var undecodable []string
	for k, members := range buckets {
		raw, err := fingerprint.DecodeRaw(k)
		if err != nil || len(raw) == 0 {
			undecodable = append(undecodable, k)
			continue
		}
		candidates = append(candidates, nearCandidate{key: k, duration: members[0].FingerprintDuration, raw: raw})
	}
	if len(undecodable) > 0 {
		logger.Debug("near-match skipped undecodable fingerprints", logger.Int("buckets", len(undecodable)))
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].duration != candidates[j].duration {
			return candidates[i].duration < candidates[j].duration
		}
		return candidates[i].key < candidates[j].key
	})

	maxErrorRate := 1 - threshold
	uf := newUnionFind(len(candidates))
	for i := range candidates {
		for j := i + 1; j < len(candidates); j++ {
			// durations ascend, so once one falls outside the window all later ones do
			if !durationsAgree(candidates[i].duration, candidates[j].duration) {
				break
			}
			if uf.find(i) == uf.find(j) {
				continue
			}
			if fingerprint.BitErrorRate(candidates[i].raw, candidates[j].raw) <= maxErrorRate {
				uf.union(i, j)
			}
		}
	}

	byRoot := make(map[int][]GroupTrack)
	for i, c := range candidates {
		root := uf.find(i)
		byRoot[root] = append(byRoot[root], buckets[c.key]...)
	}
	clusters := make([][]GroupTrack, 0, len(byRoot)+len(undecodable))
	for _, members := range byRoot {
		clusters = append(clusters, members)
	}
	for _, k := range undecodable {
		clusters = append(clusters, buckets[k])
	}
	return clusters
}

func durationsAgree(a, b float64) bool {
	diff := math.Abs(a - b)
	if diff <= durationToleranceSeconds {
		return true
	}
	return diff <= durationToleranceRatio*math.Max(a, b)
}

type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra != rb {
		u.parent[rb] = ra
	}
}
