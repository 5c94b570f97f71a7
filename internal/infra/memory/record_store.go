package memory

import (
	"context"
	"sort"
	"sync"

	"exam-session-service/internal/domain"
)

// RecordStore is an in-memory implementation of app.RecordStore.
type RecordStore struct {
	mu      sync.RWMutex
	records map[string]domain.PerformanceRecord
}

func NewRecordStore() *RecordStore {
	return &RecordStore{records: make(map[string]domain.PerformanceRecord)}
}

func (s *RecordStore) Insert(_ context.Context, rec domain.PerformanceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = rec
	return nil
}

func (s *RecordStore) Get(_ context.Context, recordID string) (domain.PerformanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[recordID]
	if !ok {
		return domain.PerformanceRecord{}, domain.ErrRecordNotFound
	}
	return rec, nil
}

func (s *RecordStore) AttachFeedback(_ context.Context, recordID string, fb domain.RecordFeedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[recordID]
	if !ok {
		return domain.ErrRecordNotFound
	}
	rec.Feedback = &fb
	s.records[recordID] = rec
	return nil
}

func (s *RecordStore) ListByUser(_ context.Context, userID string, limit int) ([]domain.PerformanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.PerformanceRecord, 0)
	for _, rec := range s.records {
		if rec.UserID == userID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *RecordStore) TopByTest(_ context.Context, testID string, limit int) ([]domain.PerformanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.PerformanceRecord, 0)
	for _, rec := range s.records {
		if rec.TestID == testID {
			out = append(out, rec)
		}
	}
	// Rank by weighted score; earlier finishers break ties.
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
