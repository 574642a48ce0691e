package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/trackside/telemetry-core/internal/session"
)

// SessionDiscoverer polls the REST upstream for the currently in-progress
// session, implementing session.Discoverer (spec §4.3: "Idle -> Active:
// ... OR on periodic poll (every 60s) finding one"). Grounded on the same
// snake_case wire convention as the rest of internal/events/internal/ingest,
// since OpenF1's sessions endpoint uses the identical vocabulary.
type SessionDiscoverer struct {
	client  *http.Client
	baseURL string
}

// NewSessionDiscoverer returns a discoverer hitting baseURL + "/sessions".
func NewSessionDiscoverer(baseURL string, timeout time.Duration) *SessionDiscoverer {
	return &SessionDiscoverer{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

type discoveredSession struct {
	SessionKey  int     `json:"session_key"`
	MeetingKey  int     `json:"meeting_key"`
	CircuitKey  int     `json:"circuit_key"`
	CircuitName string  `json:"circuit_short_name"`
	SessionType string  `json:"session_type"`
	SessionName string  `json:"session_name"`
	DateStart   string  `json:"date_start"`
	DateEnd     string  `json:"date_end"`
}

// Current fetches the latest known session and reports whether its window
// currently contains now. A fetch or decode failure is returned as an
// error; an empty result set or a session outside its window is reported
// as found=false, not an error.
func (d *SessionDiscoverer) Current(ctx context.Context) (session.SessionWindow, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/sessions?session_key=latest", nil)
	if err != nil {
		return session.SessionWindow{}, false, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return session.SessionWindow{}, false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return session.SessionWindow{}, false, nil
	}

	var rows []discoveredSession
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return session.SessionWindow{}, false, err
	}
	if len(rows) == 0 {
		return session.SessionWindow{}, false, nil
	}
	row := rows[len(rows)-1]

	start, err := time.Parse(time.RFC3339, row.DateStart)
	if err != nil {
		return session.SessionWindow{}, false, nil
	}
	end, err := time.Parse(time.RFC3339, row.DateEnd)
	if err != nil {
		return session.SessionWindow{}, false, nil
	}
	if !session.InWindow(time.Now(), start, end) {
		return session.SessionWindow{}, false, nil
	}

	return session.SessionWindow{
		SessionKey: row.SessionKey,
		MeetingKey: row.MeetingKey,
		CircuitKey: row.CircuitKey,
		TrackName:  row.CircuitName,
		Type:       sessionTypeFromUpstream(row.SessionType),
		Name:       row.SessionName,
		DateStart:  start,
		DateEnd:    end,
	}, true, nil
}

func sessionTypeFromUpstream(v string) session.Type {
	switch v {
	case "Race":
		return session.TypeRace
	case "Sprint":
		return session.TypeSprint
	case "Qualifying":
		return session.TypeQualifying
	case "Practice":
		return session.TypePractice
	default:
		return session.TypeDemo
	}
}
