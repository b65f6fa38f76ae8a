package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/garimto81/gfx-json/internal/domain"
)

func testStats(running bool) StatsFunc {
	return func() domain.AgentStats {
		return domain.AgentStats{
			InstanceID:      "test-instance",
			Running:         running,
			BatchPending:    3,
			QueuePending:    12,
			DeadLetterCount: 1,
			LastSyncAt:      time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
			WatchedSources:  []string{"GFX_PC_01", "GFX_PC_02"},
		}
	}
}

// fakeQueue stands in for the retry queue's operator surface.
type fakeQueue struct {
	letters     []domain.DeadLetterRecord
	requeuedIDs []int64
	requeueErr  error
	lastLimit   int
	nextQueueID int64
}

func (f *fakeQueue) DeadLetters(limit int) ([]domain.DeadLetterRecord, error) {
	f.lastLimit = limit
	if limit < len(f.letters) {
		return f.letters[:limit], nil
	}
	return f.letters, nil
}

func (f *fakeQueue) RequeueDeadLetter(id int64) (int64, error) {
	if f.requeueErr != nil {
		return 0, f.requeueErr
	}
	f.requeuedIDs = append(f.requeuedIDs, id)
	return f.nextQueueID, nil
}

func TestHealthAlwaysOK(t *testing.T) {
	s := NewServer(0, testStats(false), &fakeQueue{})

	rec := httptest.NewRecorder()
	s.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestReadyReflectsAgentState(t *testing.T) {
	tests := []struct {
		name     string
		running  bool
		wantCode int
	}{
		{"running", true, http.StatusOK},
		{"not running", false, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(0, testStats(tt.running), &fakeQueue{})

			rec := httptest.NewRecorder()
			s.handleReady(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
		})
	}
}

func TestStatsReturnsSnapshot(t *testing.T) {
	s := NewServer(0, testStats(true), &fakeQueue{})

	rec := httptest.NewRecorder()
	s.handleStats(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q", got)
	}

	var stats domain.AgentStats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.InstanceID != "test-instance" {
		t.Errorf("InstanceID = %q", stats.InstanceID)
	}
	if stats.QueuePending != 12 || stats.DeadLetterCount != 1 {
		t.Errorf("queue counts = %d/%d, want 12/1", stats.QueuePending, stats.DeadLetterCount)
	}
	if len(stats.WatchedSources) != 2 {
		t.Errorf("WatchedSources = %v", stats.WatchedSources)
	}
}

func TestDeadLettersListing(t *testing.T) {
	q := &fakeQueue{letters: []domain.DeadLetterRecord{
		{ID: 2, GfxPCID: "GFX_PC_02", FilePath: "/nas/GFX_PC_02/b.json", RetryCount: 3},
		{ID: 1, GfxPCID: "GFX_PC_01", FilePath: "/nas/GFX_PC_01/a.json", RetryCount: 3},
	}}
	s := NewServer(0, testStats(true), q)

	rec := httptest.NewRecorder()
	s.handleDeadLetters(rec, httptest.NewRequest(http.MethodGet, "/deadletters", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if q.lastLimit != 50 {
		t.Errorf("default limit = %d, want 50", q.lastLimit)
	}

	var rows []domain.DeadLetterRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &rows); err != nil {
		t.Fatalf("decode dead letters: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("listed %d records, want 2", len(rows))
	}
	if rows[0].ID != 2 {
		t.Errorf("first record ID = %d, want newest first", rows[0].ID)
	}
}

func TestDeadLettersLimitAndEmptyBody(t *testing.T) {
	q := &fakeQueue{letters: []domain.DeadLetterRecord{{ID: 1}, {ID: 2}}}
	s := NewServer(0, testStats(true), q)

	rec := httptest.NewRecorder()
	s.handleDeadLetters(rec, httptest.NewRequest(http.MethodGet, "/deadletters?limit=1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if q.lastLimit != 1 {
		t.Errorf("limit = %d, want 1", q.lastLimit)
	}

	rec = httptest.NewRecorder()
	s.handleDeadLetters(rec, httptest.NewRequest(http.MethodGet, "/deadletters?limit=0", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("limit=0 status = %d, want 400", rec.Code)
	}

	// No dead letters encodes as an empty array, not null.
	s = NewServer(0, testStats(true), &fakeQueue{})
	rec = httptest.NewRecorder()
	s.handleDeadLetters(rec, httptest.NewRequest(http.MethodGet, "/deadletters", nil))
	if got := rec.Body.String(); got != "[]\n" {
		t.Errorf("empty listing body = %q, want []", got)
	}
}

func TestRequeueDeadLetter(t *testing.T) {
	q := &fakeQueue{nextQueueID: 99}
	s := NewServer(0, testStats(true), q)

	rec := httptest.NewRecorder()
	s.handleRequeue(rec, httptest.NewRequest(http.MethodPost, "/deadletters/requeue?id=7", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(q.requeuedIDs) != 1 || q.requeuedIDs[0] != 7 {
		t.Errorf("requeued IDs = %v, want [7]", q.requeuedIDs)
	}

	var resp struct {
		QueueID int64 `json:"queue_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.QueueID != 99 {
		t.Errorf("queue_id = %d, want 99", resp.QueueID)
	}
}

func TestRequeueRejectsBadRequests(t *testing.T) {
	s := NewServer(0, testStats(true), &fakeQueue{requeueErr: gorm.ErrRecordNotFound})

	rec := httptest.NewRecorder()
	s.handleRequeue(rec, httptest.NewRequest(http.MethodGet, "/deadletters/requeue?id=7", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET status = %d, want 405", rec.Code)
	}

	rec = httptest.NewRecorder()
	s.handleRequeue(rec, httptest.NewRequest(http.MethodPost, "/deadletters/requeue", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing id status = %d, want 400", rec.Code)
	}

	rec = httptest.NewRecorder()
	s.handleRequeue(rec, httptest.NewRequest(http.MethodPost, "/deadletters/requeue?id=7", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown id status = %d, want 404", rec.Code)
	}
}
