// Package persistence implements the Persistence Layer (spec §4.7): a
// document store over a single sqlite file with three logical
// collections (trackmap, session, replay), atomic upserts, and
// TTL/byte-budget driven eviction.
//
// The teacher has no storage layer at all. Grounded on the pack's
// other_examples sqlite usage (mattn/go-sqlite3, a single shared
// connection, JSON-serialized document bodies) generalized into
// INSERT ... ON CONFLICT ... DO UPDATE upserts standing in for the
// spec's storage-engine-agnostic "document store with atomic upserts"
// (storage engine choice is explicitly out of scope per spec §1 — sqlite
// is this module's concrete stand-in).
package persistence

import (
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS trackmap (
	track_name  TEXT PRIMARY KEY,
	body        TEXT NOT NULL,
	updated_at  TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS session_snapshot (
	session_key INTEGER PRIMARY KEY,
	body        TEXT NOT NULL,
	expires_at  TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS replay (
	replay_key  INTEGER PRIMARY KEY,
	body        TEXT NOT NULL,
	created_at  TIMESTAMP NOT NULL
);
`

// ReplayKeyOffset namespaces replay documents away from live session
// documents (spec §4.7).
const ReplayKeyOffset = 1_000_000

// SessionTTL is how long a progressive session snapshot is retained
// before eviction (spec §4.7).
const SessionTTL = 30 * 24 * time.Hour

// MaxReplayBytes bounds a single replay document's serialized size
// (spec §4.7).
const MaxReplayBytes = 6 * 1024 * 1024

// Store is the sqlite-backed document store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the sqlite database at uri and applies
// the schema. uri is a standard mattn/go-sqlite3 DSN, e.g. "file:./data.db".
func Open(uri string) (*Store, error) {
	db, err := sql.Open("sqlite3", uri)
	if err != nil {
		return nil, errors.Wrap(err, "persistence: opening database")
	}
	db.SetMaxOpenConns(1) // sqlite3 driver: a single writer avoids SQLITE_BUSY under our single-writer model

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "persistence: applying schema")
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// TrackmapDocument is the persisted record for one circuit (spec §6
// "Persisted state layout").
type TrackmapDocument struct {
	TrackName        string               `json:"trackName"`
	Path             [][2]float64         `json:"path"`
	ArcVersion       int                  `json:"arcVersion"`
	MultiviewerPath  [][2]float64         `json:"multiviewerPath,omitempty"`
	Corners          [][2]float64         `json:"corners,omitempty"`
	SectorBoundaries *SectorBoundariesDoc `json:"sectorBoundaries,omitempty"`
	PitLaneProfile   *PitLaneProfileDoc   `json:"pitLaneProfile,omitempty"`
	MeetingKeys      []int                `json:"meetingKeys"`
	LatestSessionKey int                  `json:"latestSessionKey"`
	RotationOverride *float64             `json:"rotationOverride,omitempty"`
	History          []TrackmapHistoryEntry `json:"history,omitempty"`
	CreatedAt        time.Time            `json:"createdAt"`
	UpdatedAt        time.Time            `json:"updatedAt"`
}

// TrackmapHistoryEntry is one archived per-year snapshot (spec §4.7).
type TrackmapHistoryEntry struct {
	Path               [][2]float64 `json:"path"`
	TotalLapsProcessed int          `json:"totalLapsProcessed"`
	Year               int          `json:"year"`
	ArchivedAt         time.Time    `json:"archivedAt"`
}

// SectorBoundariesDoc mirrors geometry.SectorBoundaries for storage.
type SectorBoundariesDoc struct {
	StartFinish float64 `json:"startFinish"`
	Sector1to2  float64 `json:"sector1to2"`
	Sector2to3  float64 `json:"sector2to3"`
}

// PitLaneProfileDoc mirrors geometry.PitLaneProfile for storage.
type PitLaneProfileDoc struct {
	EntryProgress     float64 `json:"entryProgress"`
	ExitProgress      float64 `json:"exitProgress"`
	PitSide           string  `json:"pitSide"`
	PitLaneSpeedLimit float64 `json:"pitLaneSpeedLimit"`
}

// UpsertTrackmap stores doc, archiving the previously stored document
// into its own History if its UpdatedAt year is earlier than the
// current year and it carries a non-empty path (spec §4.7: "keeps
// per-year snapshots").
func (s *Store) UpsertTrackmap(doc TrackmapDocument, now time.Time) error {
	existing, err := s.GetTrackmap(doc.TrackName)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if err == nil && existing.UpdatedAt.Year() < now.Year() && len(existing.Path) > 0 {
		doc.History = append(existing.History, TrackmapHistoryEntry{
			Path:       existing.Path,
			Year:       existing.UpdatedAt.Year(),
			ArchivedAt: now,
		})
	} else if err == nil {
		doc.History = existing.History
	}

	doc.CreatedAt = now
	if err == nil {
		doc.CreatedAt = existing.CreatedAt
	}
	doc.UpdatedAt = now

	body, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "persistence: marshaling trackmap document")
	}

	_, err = s.db.Exec(`
		INSERT INTO trackmap(track_name, body, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(track_name) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at
	`, doc.TrackName, string(body), now)
	if err != nil {
		return errors.Wrap(err, "persistence: upserting trackmap")
	}
	return nil
}

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("persistence: document not found")

// GetTrackmap retrieves the stored trackmap document for trackName.
func (s *Store) GetTrackmap(trackName string) (TrackmapDocument, error) {
	var body string
	err := s.db.QueryRow(`SELECT body FROM trackmap WHERE track_name = ?`, trackName).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return TrackmapDocument{}, ErrNotFound
	}
	if err != nil {
		return TrackmapDocument{}, errors.Wrap(err, "persistence: reading trackmap")
	}
	var doc TrackmapDocument
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return TrackmapDocument{}, errors.Wrap(err, "persistence: decoding trackmap")
	}
	return doc, nil
}

// SaveSessionSnapshot persists the full session record with a 30-day TTL
// (spec §4.7 "progressiveSave").
func (s *Store) SaveSessionSnapshot(sessionKey int, snapshot any, now time.Time) error {
	body, err := json.Marshal(snapshot)
	if err != nil {
		return errors.Wrap(err, "persistence: marshaling session snapshot")
	}
	_, err = s.db.Exec(`
		INSERT INTO session_snapshot(session_key, body, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(session_key) DO UPDATE SET body = excluded.body, expires_at = excluded.expires_at
	`, sessionKey, string(body), now.Add(SessionTTL))
	if err != nil {
		return errors.Wrap(err, "persistence: saving session snapshot")
	}
	return nil
}

// PurgeExpiredSessions deletes every session_snapshot row whose TTL has
// elapsed, returning the number of rows removed.
func (s *Store) PurgeExpiredSessions(now time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM session_snapshot WHERE expires_at < ?`, now)
	if err != nil {
		return 0, errors.Wrap(err, "persistence: purging expired sessions")
	}
	return res.RowsAffected()
}

// SaveReplay stores a replay document namespaced by sessionKey+ReplayKeyOffset,
// trimming from the end of the message window to stay under MaxReplayBytes
// (spec §4.7).
func (s *Store) SaveReplay(sessionKey int, doc ReplayDocument, now time.Time) error {
	trimmed := trimToByteBudget(doc, MaxReplayBytes)
	body, err := json.Marshal(trimmed)
	if err != nil {
		return errors.Wrap(err, "persistence: marshaling replay document")
	}
	_, err = s.db.Exec(`
		INSERT INTO replay(replay_key, body, created_at) VALUES (?, ?, ?)
		ON CONFLICT(replay_key) DO UPDATE SET body = excluded.body, created_at = excluded.created_at
	`, sessionKey+ReplayKeyOffset, string(body), now)
	if err != nil {
		return errors.Wrap(err, "persistence: saving replay")
	}
	return nil
}

// GetReplay retrieves a replay document by the original sessionKey (the
// ReplayKeyOffset is applied internally).
func (s *Store) GetReplay(sessionKey int) (ReplayDocument, error) {
	var body string
	err := s.db.QueryRow(`SELECT body FROM replay WHERE replay_key = ?`, sessionKey+ReplayKeyOffset).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return ReplayDocument{}, ErrNotFound
	}
	if err != nil {
		return ReplayDocument{}, errors.Wrap(err, "persistence: reading replay")
	}
	var doc ReplayDocument
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return ReplayDocument{}, errors.Wrap(err, "persistence: decoding replay")
	}
	return doc, nil
}

// ReplayMessage is one buffered raw upstream message (spec §4.7/§4.8).
type ReplayMessage struct {
	Topic         string `json:"topic"`
	Data          string `json:"data"`
	TimestampMillis int64 `json:"timestampMillis"`
}

// ReplayDocument is the persisted record for a recorded session
// (spec §6 "Persisted state layout").
type ReplayDocument struct {
	Messages     []ReplayMessage `json:"messages"`
	TrackName    string          `json:"trackName"`
	SessionName  string          `json:"sessionName"`
	SessionEndTs time.Time       `json:"sessionEndTs"`
	DriverCount  int             `json:"driverCount"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// trimToByteBudget drops messages from the end of the buffer until the
// serialized document fits under maxBytes, preserving the earliest
// messages so replay playback (which always starts from the beginning)
// loses only its tail rather than its preamble (spec §4.7: "window-
// trimmed from the end to stay under a configurable max-bytes budget").
func trimToByteBudget(doc ReplayDocument, maxBytes int) ReplayDocument {
	for {
		body, err := json.Marshal(doc)
		if err != nil || len(body) <= maxBytes || len(doc.Messages) == 0 {
			return doc
		}
		drop := len(doc.Messages) / 10
		if drop < 1 {
			drop = 1
		}
		doc.Messages = doc.Messages[:len(doc.Messages)-drop]
	}
}
