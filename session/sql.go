package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/hupe1980/groupmesh/core"
)

type conversationRow struct {
	ID        string `gorm:"primaryKey;size:64"`
	Records   int
	UpdatedAt time.Time
}

func (conversationRow) TableName() string { return "groupmesh_conversations" }

type recordRow struct {
	ConversationID string `gorm:"primaryKey;size:64"`
	Position       int    `gorm:"primaryKey"`
	Role           string `gorm:"size:16;not null"`
	Name           string `gorm:"size:128;not null"`
	Payload        string `gorm:"type:text;not null"`
}

func (recordRow) TableName() string { return "groupmesh_records" }

// SQLStore keeps archives in two tables: one row per conversation and one
// row per record, ordered by position.
type SQLStore struct {
	db *gorm.DB
}

// NewSQLStore migrates the schema and returns the store.
func NewSQLStore(db *gorm.DB) (*SQLStore, error) {
	if db == nil {
		return nil, core.NewConfigError("session", "gorm db is required")
	}
	if err := db.AutoMigrate(&conversationRow{}, &recordRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate transcript tables: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// Save implements Store.
func (s *SQLStore) Save(ctx context.Context, id string, records []core.Record) error {
	if err := validID(id); err != nil {
		return err
	}
	rows := make([]recordRow, len(records))
	for i, r := range records {
		payload, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
		rows[i] = recordRow{
			ConversationID: id,
			Position:       i,
			Role:           string(r.Role),
			Name:           r.Name,
			Payload:        string(payload),
		}
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		conv := conversationRow{ID: id, Records: len(records), UpdatedAt: time.Now().UTC()}
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&conv).Error; err != nil {
			return fmt.Errorf("failed to save transcript %s: %w", id, err)
		}
		if err := tx.Where("conversation_id = ?", id).Delete(&recordRow{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.CreateInBatches(rows, 100).Error
	})
}

// Load implements Store.
func (s *SQLStore) Load(ctx context.Context, id string) ([]core.Record, error) {
	db := s.db.WithContext(ctx)

	var conv conversationRow
	if err := db.First(&conv, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load transcript %s: %w", id, err)
	}

	var rows []recordRow
	if err := db.Where("conversation_id = ?", id).Order("position").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load transcript %s: %w", id, err)
	}
	out := make([]core.Record, len(rows))
	for i, row := range rows {
		if err := json.Unmarshal([]byte(row.Payload), &out[i]); err != nil {
			return nil, fmt.Errorf("record %d: %w", row.Position, err)
		}
	}
	return out, nil
}

// Delete implements Store.
func (s *SQLStore) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&conversationRow{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Where("conversation_id = ?", id).Delete(&recordRow{}).Error
	})
}

// List implements Store. IDs are sorted.
func (s *SQLStore) List(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.db.WithContext(ctx).Model(&conversationRow{}).Order("id").Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to list transcripts: %w", err)
	}
	return ids, nil
}
