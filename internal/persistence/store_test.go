package persistence

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open("file:" + filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertTrackmap_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	doc := TrackmapDocument{
		TrackName:        "Monza",
		Path:             [][2]float64{{0, 0}, {1, 1}},
		ArcVersion:       1,
		MeetingKeys:      []int{100},
		LatestSessionKey: 5,
	}
	require.NoError(t, s.UpsertTrackmap(doc, now))

	got, err := s.GetTrackmap("Monza")
	require.NoError(t, err)
	assert.Equal(t, "Monza", got.TrackName)
	assert.Equal(t, doc.Path, got.Path)
	assert.Equal(t, now, got.UpdatedAt)
	assert.Equal(t, now, got.CreatedAt)
}

func TestUpsertTrackmap_ArchivesOnYearRollover(t *testing.T) {
	s := openTestStore(t)
	y2025 := time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC)
	y2026 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	original := TrackmapDocument{
		TrackName: "Spa",
		Path:      [][2]float64{{0, 0}, {5, 5}},
	}
	require.NoError(t, s.UpsertTrackmap(original, y2025))

	updated := TrackmapDocument{
		TrackName: "Spa",
		Path:      [][2]float64{{0, 0}, {6, 6}},
	}
	require.NoError(t, s.UpsertTrackmap(updated, y2026))

	got, err := s.GetTrackmap("Spa")
	require.NoError(t, err)
	require.Len(t, got.History, 1, "the 2025 path must be archived before being overwritten")
	assert.Equal(t, 2025, got.History[0].Year)
	assert.Equal(t, original.Path, got.History[0].Path)
	assert.Equal(t, updated.Path, got.Path)
}

func TestUpsertTrackmap_NoArchiveWithinSameYear(t *testing.T) {
	s := openTestStore(t)
	t1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.UpsertTrackmap(TrackmapDocument{TrackName: "Imola", Path: [][2]float64{{0, 0}}}, t1))
	require.NoError(t, s.UpsertTrackmap(TrackmapDocument{TrackName: "Imola", Path: [][2]float64{{1, 1}}}, t2))

	got, err := s.GetTrackmap("Imola")
	require.NoError(t, err)
	assert.Empty(t, got.History, "updates within the same year never archive")
}

func TestGetTrackmap_NotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetTrackmap("Nowhere")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveSessionSnapshot_RoundTripAndPurge(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()

	require.NoError(t, s.SaveSessionSnapshot(7, map[string]any{"sessionKey": 7}, now))

	purged, err := s.PurgeExpiredSessions(now)
	require.NoError(t, err)
	assert.Equal(t, int64(0), purged, "fresh snapshot is not yet expired")

	purged, err = s.PurgeExpiredSessions(now.Add(SessionTTL + time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged, "snapshot past its 30-day TTL must be purged")
}

func TestSaveReplay_NamespacedAwayFromLiveSessions(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()

	doc := ReplayDocument{
		Messages:  []ReplayMessage{{Topic: "location", Data: "{}", TimestampMillis: 1}},
		TrackName: "Monza",
	}
	require.NoError(t, s.SaveReplay(3, doc, now))

	got, err := s.GetReplay(3)
	require.NoError(t, err)
	assert.Equal(t, "Monza", got.TrackName)
	assert.Len(t, got.Messages, 1)

	_, err = s.GetTrackmap("Monza-does-not-exist")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTrimToByteBudget_KeepsEarliestMessages(t *testing.T) {
	doc := ReplayDocument{TrackName: "Monza"}
	for i := 0; i < 1000; i++ {
		doc.Messages = append(doc.Messages, ReplayMessage{
			Topic:           "location",
			Data:            `{"x":1,"y":2,"padding":"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"}`,
			TimestampMillis: int64(i),
		})
	}

	trimmed := trimToByteBudget(doc, 4096)
	require.NotEmpty(t, trimmed.Messages)
	assert.Less(t, len(trimmed.Messages), len(doc.Messages))
	assert.Equal(t, int64(0), trimmed.Messages[0].TimestampMillis, "earliest messages are preserved")
}
