package eventbuffer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// sqlEntry is the GORM model backing the SQL Event Buffer adapter.
type sqlEntry struct {
	Namespace  string `gorm:"primaryKey;column:namespace"`
	Key        string `gorm:"primaryKey;column:event_key"`
	Payload    string `gorm:"column:payload"` // JSON-encoded
	RecordedAt int64  `gorm:"column:recorded_at;index"`
	ExpiresAt  int64  `gorm:"column:expires_at;index"`
}

func (sqlEntry) TableName() string { return "event_buffer_entries" }

// SQLOpts configures the SQL-backed Event Buffer adapter.
type SQLOpts struct {
	DB        *gorm.DB
	Namespace string
	TTL       time.Duration
	Now       func() time.Time
}

// SQL is the GORM-backed Event Buffer adapter, a third pluggable backend for
// deployments that already run a SQL server for other state and would
// rather not add Redis. First-write-wins is enforced at the database layer
// via an upsert that does nothing on conflict, mirroring the teacher's
// SeedTracks/SeedConfig OnConflict pattern.
type SQL struct {
	db        *gorm.DB
	namespace string
	ttl       time.Duration
	now       func() time.Time
}

var _ Adapter = (*SQL)(nil)

// NewSQL creates a SQL adapter and migrates its table.
func NewSQL(opts SQLOpts) (*SQL, error) {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	if err := opts.DB.AutoMigrate(&sqlEntry{}); err != nil {
		return nil, fmt.Errorf("eventbuffer: sql: automigrate: %w", err)
	}
	return &SQL{db: opts.DB, namespace: opts.Namespace, ttl: ttl, now: now}, nil
}

func (s *SQL) Record(ctx context.Context, key string, payload any) (RecordResult, error) {
	if key == "" {
		return RecordOK, nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return RecordOK, fmt.Errorf("eventbuffer: sql: marshal payload for %q: %w", key, err)
	}

	now := s.now()
	row := sqlEntry{
		Namespace:  s.namespace,
		Key:        key,
		Payload:    string(raw),
		RecordedAt: now.UnixNano(),
		ExpiresAt:  now.Add(s.ttl).UnixNano(),
	}

	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "namespace"}, {Name: "event_key"}},
		DoNothing: true,
	}).Create(&row)
	if result.Error != nil {
		return RecordOK, fmt.Errorf("eventbuffer: sql: insert %q: %w", key, result.Error)
	}
	if result.RowsAffected == 1 {
		return RecordOK, nil
	}

	// Duplicate — refresh expiry, leave payload untouched.
	if err := s.db.WithContext(ctx).Model(&sqlEntry{}).
		Where("namespace = ? AND event_key = ?", s.namespace, key).
		Update("expires_at", now.Add(s.ttl).UnixNano()).Error; err != nil {
		return RecordDuplicate, fmt.Errorf("eventbuffer: sql: refresh ttl for %q: %w", key, err)
	}
	return RecordDuplicate, nil
}

func (s *SQL) Delete(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	if err := s.db.WithContext(ctx).
		Where("namespace = ? AND event_key = ?", s.namespace, key).
		Delete(&sqlEntry{}).Error; err != nil {
		return fmt.Errorf("eventbuffer: sql: delete %q: %w", key, err)
	}
	return nil
}

func (s *SQL) Seen(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, nil
	}
	var count int64
	err := s.db.WithContext(ctx).Model(&sqlEntry{}).
		Where("namespace = ? AND event_key = ? AND expires_at > ?", s.namespace, key, s.now().UnixNano()).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("eventbuffer: sql: seen %q: %w", key, err)
	}
	return count > 0, nil
}

func (s *SQL) Pending(ctx context.Context) ([]Entry, error) {
	now := s.now()
	// Out-of-window pruning on every Pending call.
	if err := s.db.WithContext(ctx).
		Where("namespace = ? AND expires_at <= ?", s.namespace, now.UnixNano()).
		Delete(&sqlEntry{}).Error; err != nil {
		return nil, fmt.Errorf("eventbuffer: sql: prune: %w", err)
	}

	var rows []sqlEntry
	if err := s.db.WithContext(ctx).
		Where("namespace = ?", s.namespace).
		Order("recorded_at ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("eventbuffer: sql: pending: %w", err)
	}

	out := make([]Entry, 0, len(rows))
	for _, row := range rows {
		var payload any
		if err := json.Unmarshal([]byte(row.Payload), &payload); err != nil {
			return nil, fmt.Errorf("eventbuffer: sql: unmarshal %q: %w", row.Key, err)
		}
		out = append(out, Entry{Key: row.Key, Payload: payload})
	}
	return out, nil
}

func (s *SQL) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return nil
	}
	return sqlDB.Close()
}
