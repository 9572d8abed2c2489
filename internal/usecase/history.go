package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/example/fruitscan/internal/label"
	"github.com/example/fruitscan/internal/logging"
	"github.com/example/fruitscan/internal/repository"
)

// ErrInvalidHistoryEntry is returned for entries failing validation.
var ErrInvalidHistoryEntry = errors.New("invalid history entry")

// HistoryStore defines the persistence operations needed for scan history.
type HistoryStore interface {
	AddHistory(ctx context.Context, entry *repository.HistoryEntry) error
	ListHistory(ctx context.Context, userID string) ([]*repository.HistoryEntry, error)
	DeleteHistory(ctx context.Context, userID, id string) (bool, error)
	AggregateHistory(ctx context.Context, userID string) ([]repository.LabelAggregate, error)
}

// NewHistoryEntry is the client-supplied part of a history entry.
type NewHistoryEntry struct {
	Fruit          string
	Label          string
	Score          float64
	PreviewDataURL string
}

// HistorySummary aggregates a user's saved scans.
type HistorySummary struct {
	TotalEntries int64            `json:"total_entries"`
	ByRipeness   map[string]int64 `json:"by_ripeness"`
	AverageScore float64          `json:"average_score"`
}

// HistoryUseCase manages per-user scan history.
type HistoryUseCase struct {
	store  HistoryStore
	logger *zap.Logger
}

// NewHistoryUseCase constructs a new use case instance.
func NewHistoryUseCase(store HistoryStore, logger *zap.Logger) *HistoryUseCase {
	return &HistoryUseCase{store: store, logger: logger.Named("history_usecase")}
}

// List returns userID's entries, newest first.
func (uc *HistoryUseCase) List(ctx context.Context, userID string) ([]*repository.HistoryEntry, error) {
	return uc.store.ListHistory(ctx, userID)
}

// Add validates and saves a new entry for userID.
func (uc *HistoryUseCase) Add(ctx context.Context, userID string, in NewHistoryEntry) (*repository.HistoryEntry, error) {
	fruit := strings.TrimSpace(in.Fruit)
	ripeness := strings.TrimSpace(in.Label)
	switch {
	case fruit == "":
		return nil, fmt.Errorf("%w: fruit is required", ErrInvalidHistoryEntry)
	case !label.IsRipeness(ripeness):
		return nil, fmt.Errorf("%w: label must be Unripe, Ripe or Rotten", ErrInvalidHistoryEntry)
	case math.IsNaN(in.Score) || in.Score < 0 || in.Score > 1:
		return nil, fmt.Errorf("%w: score must be within [0, 1]", ErrInvalidHistoryEntry)
	}

	entry := &repository.HistoryEntry{
		UserID:         userID,
		Fruit:          fruit,
		Label:          ripeness,
		Score:          math.Round(in.Score*100) / 100,
		PreviewDataURL: in.PreviewDataURL,
	}
	if err := uc.store.AddHistory(ctx, entry); err != nil {
		return nil, err
	}
	logging.WithOperation(uc.logger, "usecase.add_history", logging.RequestIDFromContext(ctx)).
		Debug("history entry saved", zap.String("entry_id", entry.ID), zap.String("user_id", userID))
	return entry, nil
}

// Delete removes one of userID's entries. It returns repository.ErrNotFound
// when no such entry exists for that user.
func (uc *HistoryUseCase) Delete(ctx context.Context, userID, id string) error {
	deleted, err := uc.store.DeleteHistory(ctx, userID, id)
	if err != nil {
		return err
	}
	if !deleted {
		return repository.ErrNotFound
	}
	return nil
}

// Summary aggregates userID's history by ripeness.
func (uc *HistoryUseCase) Summary(ctx context.Context, userID string) (*HistorySummary, error) {
	rows, err := uc.store.AggregateHistory(ctx, userID)
	if err != nil {
		return nil, err
	}

	summary := &HistorySummary{ByRipeness: make(map[string]int64, len(rows))}
	var weighted float64
	for _, row := range rows {
		summary.ByRipeness[row.Label] += row.Count
		summary.TotalEntries += row.Count
		weighted += row.AverageScore * float64(row.Count)
	}
	if summary.TotalEntries > 0 {
		summary.AverageScore = weighted / float64(summary.TotalEntries)
	}
	return summary, nil
}
