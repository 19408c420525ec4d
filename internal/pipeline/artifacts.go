package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/orderlens/orderlens-backend/internal/clients/gcs"
	"github.com/orderlens/orderlens-backend/internal/extract"
	"github.com/orderlens/orderlens-backend/internal/transcribe"
	"github.com/orderlens/orderlens-backend/internal/types"
)

func sessionKey(runID uuid.UUID, name string) string {
	return fmt.Sprintf("deriv/session=%s/%s", runID, name)
}

// segmentRecord is one segments.jsonl line.
type segmentRecord struct {
	ChunkIndex int     `json:"chunk_index"`
	StartSec   float64 `json:"start_sec"`
	EndSec     float64 `json:"end_sec"`
	Text       string  `json:"text"`
}

// transactionRecord is one transactions.jsonl line.
type transactionRecord struct {
	ID         uuid.UUID         `json:"id"`
	StartedAt  string            `json:"started_at"`
	EndedAt    string            `json:"ended_at"`
	Candidate  extract.Candidate `json:"candidate"`
	ChunkIndex int               `json:"chunk_index"`
}

// artifacts accumulates the session's jsonl payloads across concurrent
// workers and flushes them in a deterministic order, so identical inputs
// reproduce identical bytes.
type artifacts struct {
	mu           sync.Mutex
	segments     []segmentRecord
	transactions []transactionRecord
	grades       []*types.Grade
}

func (a *artifacts) addSegments(chunkIndex int, segs []transcribe.Segment) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range segs {
		a.segments = append(a.segments, segmentRecord{
			ChunkIndex: chunkIndex,
			StartSec:   s.StartSec,
			EndSec:     s.EndSec,
			Text:       s.Text,
		})
	}
}

func (a *artifacts) addTransaction(chunkIndex int, tx *types.Transaction, cand extract.Candidate) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.transactions = append(a.transactions, transactionRecord{
		ID:         tx.ID,
		StartedAt:  tx.StartedAt.UTC().Format("2006-01-02T15:04:05.000Z"),
		EndedAt:    tx.EndedAt.UTC().Format("2006-01-02T15:04:05.000Z"),
		Candidate:  cand,
		ChunkIndex: chunkIndex,
	})
}

func (a *artifacts) addGrade(g *types.Grade) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.grades = append(a.grades, g)
}

func (a *artifacts) flush(ctx context.Context, blob gcs.BlobStore, runID uuid.UUID) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	sort.Slice(a.segments, func(i, j int) bool {
		if a.segments[i].ChunkIndex != a.segments[j].ChunkIndex {
			return a.segments[i].ChunkIndex < a.segments[j].ChunkIndex
		}
		return a.segments[i].StartSec < a.segments[j].StartSec
	})
	sort.Slice(a.transactions, func(i, j int) bool {
		if a.transactions[i].StartedAt != a.transactions[j].StartedAt {
			return a.transactions[i].StartedAt < a.transactions[j].StartedAt
		}
		return a.transactions[i].ID.String() < a.transactions[j].ID.String()
	})
	sort.Slice(a.grades, func(i, j int) bool {
		return a.grades[i].TransactionID.String() < a.grades[j].TransactionID.String()
	})

	segs := make([]interface{}, len(a.segments))
	for i, s := range a.segments {
		segs[i] = s
	}
	if err := blob.PutJSONL(ctx, sessionKey(runID, "segments.jsonl"), segs); err != nil {
		return fmt.Errorf("write segments.jsonl: %w", err)
	}

	txs := make([]interface{}, len(a.transactions))
	for i, t := range a.transactions {
		txs[i] = t
	}
	if err := blob.PutJSONL(ctx, sessionKey(runID, "transactions.jsonl"), txs); err != nil {
		return fmt.Errorf("write transactions.jsonl: %w", err)
	}

	grades := make([]interface{}, len(a.grades))
	for i, g := range a.grades {
		grades[i] = g
	}
	if err := blob.PutJSONL(ctx, sessionKey(runID, "grades.jsonl"), grades); err != nil {
		return fmt.Errorf("write grades.jsonl: %w", err)
	}
	return nil
}
