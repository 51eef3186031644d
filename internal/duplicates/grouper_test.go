// file: internal/duplicates/grouper_test.go
// version: 1.1.0
// guid: 9e1a3c5d-7f8b-4c0d-a2e4-f6a8c0e2a4c6

package duplicates

import (
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdfalk/dj-tagger/internal/database"
)

var modTime = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

type catalog struct {
	tracks  []database.Track
	records map[int64]database.FingerprintRecord
}

func newCatalog() *catalog {
	return &catalog{records: map[int64]database.FingerprintRecord{}}
}

func (c *catalog) add(id, size int64, fp string, duration float64) {
	c.tracks = append(c.tracks, database.Track{
		ID: id, FilePath: "/music/" + string(rune('a'+id)) + ".mp3", FileSize: size, FileModTime: modTime,
	})
	if fp != "-" {
		c.records[id] = database.FingerprintRecord{
			TrackID: id, Fingerprint: fp, Duration: duration,
			GeneratedAt: modTime, FileSize: size, FileModTime: modTime,
		}
	}
}

func (c *catalog) store() *database.MockStore {
	return &database.MockStore{
		GetAllTracksFunc:       func() ([]database.Track, error) { return c.tracks, nil },
		GetAllFingerprintsFunc: func() (map[int64]database.FingerprintRecord, error) { return c.records, nil },
	}
}

func ids(g Group) []int64 {
	out := make([]int64, 0, len(g.Tracks))
	for _, t := range g.Tracks {
		out = append(out, t.ID)
	}
	return out
}

func TestGroups_ExactMatch(t *testing.T) {
	c := newCatalog()
	c.add(1, 5_000_000, "X", 200)
	c.add(2, 5_000_000, "X", 200)
	c.add(3, 4_000_000, "Y", 180)
	c.add(4, 9_000_000, "X", 200)
	c.add(5, 100, "-", 0)

	groups, err := NewGrouper(c.store(), Options{}).Groups()
	require.NoError(t, err)
	require.Len(t, groups, 1)

	assert.Equal(t, []int64{4, 1, 2}, ids(groups[0]))
	assert.Equal(t, Key("X"), groups[0].FingerprintKey)
	assert.Len(t, groups[0].FingerprintKey, 16)
	assert.Equal(t, int64(4), groups[0].Canonical().ID)
	assert.Len(t, groups[0].Extras(), 2)
}

func TestGroups_TieBreakByAscendingID(t *testing.T) {
	c := newCatalog()
	c.add(3, 1000, "Z", 100)
	c.add(1, 1000, "Z", 100)
	c.add(2, 1000, "Z", 100)

	groups, err := NewGrouper(c.store(), Options{}).Groups()
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, []int64{1, 2, 3}, ids(groups[0]))
}

func TestGroups_NoDuplicates(t *testing.T) {
	c := newCatalog()
	c.add(1, 10, "A", 1)
	c.add(2, 10, "B", 1)
	c.add(3, 10, "", 1)
	c.add(4, 10, "   ", 1)

	groups, err := NewGrouper(c.store(), Options{}).Groups()
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestGroups_WhitespaceNormalized(t *testing.T) {
	c := newCatalog()
	c.add(1, 10, "AQAB\n", 1)
	c.add(2, 20, "  AQAB", 1)

	groups, err := NewGrouper(c.store(), Options{}).Groups()
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, []int64{2, 1}, ids(groups[0]))
	assert.Equal(t, "AQAB", groups[0].Tracks[0].Fingerprint)
}

func TestGroups_OrderedByCountThenKey(t *testing.T) {
	c := newCatalog()
	c.add(1, 1, "P", 1)
	c.add(2, 1, "P", 1)
	c.add(3, 1, "Q", 1)
	c.add(4, 1, "Q", 1)
	c.add(5, 1, "Q", 1)
	c.add(6, 1, "R", 1)
	c.add(7, 1, "R", 1)

	groups, err := NewGrouper(c.store(), Options{}).Groups()
	require.NoError(t, err)
	require.Len(t, groups, 3)
	assert.Len(t, groups[0].Tracks, 3)
	assert.Less(t, groups[1].FingerprintKey, groups[2].FingerprintKey)
}

func TestGroups_FlagsStaleRecords(t *testing.T) {
	c := newCatalog()
	c.add(1, 10, "S", 1)
	c.add(2, 10, "S", 1)
	// file changed after fingerprinting
	c.tracks[1].FileSize = 99

	groups, err := NewGrouper(c.store(), Options{}).Groups()
	require.NoError(t, err)
	require.Len(t, groups, 1)

	var stale []int64
	for _, tr := range groups[0].Tracks {
		if tr.Stale {
			stale = append(stale, tr.ID)
		}
	}
	assert.Equal(t, []int64{2}, stale)
	assert.Equal(t, 1, Summarize(groups).StaleTracks)
}

func TestGroups_StoreError(t *testing.T) {
	store := &database.MockStore{
		GetAllTracksFunc: func() ([]database.Track, error) { return nil, errors.New("boom") },
	}
	_, err := NewGrouper(store, Options{}).Groups()
	assert.Error(t, err)
}

// encodeRaw produces the compressed fpcalc form of raw subfingerprints
func encodeRaw(raw []uint32) string {
	var normal, exceptional []int
	var prev uint32
	for i, v := range raw {
		x := v
		if i > 0 {
			x ^= prev
		}
		prev = v
		last := 0
		for bit := 1; x != 0; bit++ {
			if x&1 != 0 {
				if delta := bit - last; delta >= 7 {
					normal = append(normal, 7)
					exceptional = append(exceptional, delta-7)
				} else {
					normal = append(normal, delta)
				}
				last = bit
			}
			x >>= 1
		}
		normal = append(normal, 0)
	}
	out := []byte{1, byte(len(raw) >> 16), byte(len(raw) >> 8), byte(len(raw))}
	out = append(out, packBits(normal, 3)...)
	out = append(out, packBits(exceptional, 5)...)
	return base64.RawURLEncoding.EncodeToString(out)
}

func packBits(values []int, width int) []byte {
	buf := make([]byte, (len(values)*width+7)/8)
	for n, v := range values {
		for i := 0; i < width; i++ {
			if v&(1<<i) != 0 {
				pos := n*width + i
				buf[pos/8] |= 1 << (pos % 8)
			}
		}
	}
	return buf
}

// pseudoRaw returns n deterministic subfingerprints for seed
func pseudoRaw(seed uint32, n int) []uint32 {
	out := make([]uint32, n)
	x := seed*2654435761 + 1
	for i := range out {
		x ^= x << 13
		x ^= x >> 17
		x ^= x << 5
		out[i] = x
	}
	return out
}

// flipBits returns a copy of raw with the low k bits of the first m subfingerprints inverted
func flipBits(raw []uint32, m, k int) []uint32 {
	out := append([]uint32(nil), raw...)
	for i := 0; i < m; i++ {
		out[i] ^= 1<<k - 1
	}
	return out
}

func TestGroups_NearMatchOnlyWhenEnabled(t *testing.T) {
	base := pseudoRaw(7, 120)
	original := encodeRaw(base)
	reencoded := encodeRaw(flipBits(base, 40, 3)) // ~3% of bits differ
	remaster := encodeRaw(flipBits(base, 60, 2))
	unrelated := encodeRaw(pseudoRaw(99, 120))

	c := newCatalog()
	c.add(1, 100, original, 200)
	c.add(2, 300, reencoded, 201)
	c.add(3, 200, reencoded, 400) // exact copy of 2, grouped with it whatever the duration
	c.add(4, 50, unrelated, 200.5)
	c.add(5, 10, remaster, 204)
	c.add(6, 20, "not!base64", 200)
	c.add(7, 20, "not!base64", 200)

	strict, err := NewGrouper(c.store(), Options{}).Groups()
	require.NoError(t, err)
	require.Len(t, strict, 2)
	assert.ElementsMatch(t, [][]int64{{2, 3}, {6, 7}}, [][]int64{ids(strict[0]), ids(strict[1])})

	fuzzy, err := NewGrouper(c.store(), Options{SimilarityThreshold: 0.9}).Groups()
	require.NoError(t, err)
	require.Len(t, fuzzy, 2)
	assert.Equal(t, []int64{2, 3, 1, 5}, ids(fuzzy[0]))
	assert.Equal(t, Key(reencoded), fuzzy[0].FingerprintKey)
	assert.Equal(t, []int64{6, 7}, ids(fuzzy[1]), "undecodable fingerprints still group exactly")
}

func TestGroups_NearMatchScalesWithDurationWindow(t *testing.T) {
	c := newCatalog()
	const n = 2000
	for i := 0; i < n; i++ {
		c.add(int64(i+1), 100, encodeRaw(pseudoRaw(uint32(i+1), 120)), float64(60+i*10))
	}
	// one near copy of track 1000
	c.add(n+1, 50, encodeRaw(flipBits(pseudoRaw(1000, 120), 30, 2)), float64(60+999*10)+1)

	groups, err := NewGrouper(c.store(), Options{SimilarityThreshold: 0.85}).Groups()
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, []int64{1000, n + 1}, ids(groups[0]))
}

func TestMergeNear_ThresholdBoundary(t *testing.T) {
	base := pseudoRaw(3, 10)
	// 10 bits of 320 differ: similarity 0.96875
	variant := flipBits(base, 10, 1)
	buckets := map[string][]GroupTrack{
		encodeRaw(base):    {{Track: database.Track{ID: 1}, FingerprintDuration: 100}},
		encodeRaw(variant): {{Track: database.Track{ID: 2}, FingerprintDuration: 100}},
	}

	assert.Len(t, mergeNear(buckets, 0.96875), 1)
	assert.Len(t, mergeNear(buckets, 0.97), 2)
}

func TestFindGroup(t *testing.T) {
	c := newCatalog()
	c.add(1, 1, "K", 1)
	c.add(2, 1, "K", 1)
	g := NewGrouper(c.store(), Options{})

	group, err := g.FindGroup(Key("K"))
	require.NoError(t, err)
	require.NotNil(t, group)
	assert.Len(t, group.Tracks, 2)

	missing, err := g.FindGroup("0000000000000000")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSummarize(t *testing.T) {
	groups := []Group{
		{Tracks: []GroupTrack{
			{Track: database.Track{ID: 1, FileSize: 900}},
			{Track: database.Track{ID: 2, FileSize: 500}},
			{Track: database.Track{ID: 3, FileSize: 400}},
		}},
		{Tracks: []GroupTrack{
			{Track: database.Track{ID: 4, FileSize: 10}},
			{Track: database.Track{ID: 5, FileSize: 10}},
		}},
	}
	s := Summarize(groups)
	assert.Equal(t, 2, s.Groups)
	assert.Equal(t, 3, s.Duplicates)
	assert.Equal(t, int64(910), s.ReclaimableBytes)
}

func TestDurationsAgree(t *testing.T) {
	assert.True(t, durationsAgree(200, 204.9))
	assert.True(t, durationsAgree(600, 611))  // within 2%
	assert.False(t, durationsAgree(200, 210)) // beyond both
}
