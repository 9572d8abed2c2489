package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/example/fruitscan/internal/logging"
)

// HistoryEntry is one saved scan.
type HistoryEntry struct {
	ID             string    `gorm:"primaryKey;type:uuid"`
	UserID         string    `gorm:"column:user_id;type:uuid;index;not null"`
	Fruit          string    `gorm:"column:fruit;size:100;not null"`
	Label          string    `gorm:"column:label;size:50;not null"`
	Score          float64   `gorm:"column:score;type:decimal(3,2);not null"`
	PreviewDataURL string    `gorm:"column:preview_data_url;type:text"`
	CreatedAt      time.Time `gorm:"column:created_at;index"`
	User           *User     `gorm:"constraint:OnDelete:CASCADE"`
}

// TableName overrides the default table name.
func (HistoryEntry) TableName() string {
	return "history_entries"
}

// LabelAggregate summarizes the entries sharing one label.
type LabelAggregate struct {
	Label        string
	Count        int64
	AverageScore float64
}

// AddHistory persists entry, assigning an id when it has none.
func (r *Repository) AddHistory(ctx context.Context, entry *HistoryEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	return r.executeWithRetry(ctx, "repository.add_history", logging.RequestIDFromContext(ctx), func() error {
		return r.db.WithContext(ctx).Omit("User").Create(entry).Error
	})
}

// ListHistory returns the entries owned by userID, newest first.
func (r *Repository) ListHistory(ctx context.Context, userID string) ([]*HistoryEntry, error) {
	var entries []*HistoryEntry
	err := r.executeWithRetry(ctx, "repository.list_history", logging.RequestIDFromContext(ctx), func() error {
		entries = entries[:0]
		return r.db.WithContext(ctx).
			Where("user_id = ?", userID).
			Order("created_at DESC").
			Find(&entries).Error
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// DeleteHistory removes entry id when it belongs to userID and reports
// whether a row was deleted.
func (r *Repository) DeleteHistory(ctx context.Context, userID, id string) (bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return false, nil
	}
	var affected int64
	err := r.executeWithRetry(ctx, "repository.delete_history", logging.RequestIDFromContext(ctx), func() error {
		res := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&HistoryEntry{})
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// AggregateHistory groups userID's entries by label.
func (r *Repository) AggregateHistory(ctx context.Context, userID string) ([]LabelAggregate, error) {
	var rows []LabelAggregate
	err := r.executeWithRetry(ctx, "repository.aggregate_history", logging.RequestIDFromContext(ctx), func() error {
		rows = rows[:0]
		return r.db.WithContext(ctx).
			Model(&HistoryEntry{}).
			Select("label, COUNT(*) AS count, COALESCE(AVG(score), 0) AS average_score").
			Where("user_id = ?", userID).
			Group("label").
			Order("label").
			Scan(&rows).Error
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}
