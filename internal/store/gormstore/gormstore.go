package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/paywall/internal/monetization"
	"github.com/MarkoPoloResearchLab/paywall/pkg/ledger"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	pgSerializationFailureCode = "40001"
	sqliteBusyCode             = 5
	errorOperationStore        = "store"
	errorSubjectRecord         = "record"
	errorSubjectVideo          = "video"
	errorCodeGet               = "get"
	errorCodePut               = "put"
	errorCodeDelete            = "delete"
	errorCodeRegister          = "register"
	errorCodeLookup            = "lookup"
	errorCodeConflict          = "conflict"
)

// Store implements monetization.Store and monetization.VideoCatalog using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates or updates the tables the store needs.
func (store *Store) Migrate(ctx context.Context) error {
	return store.db.WithContext(ctx).AutoMigrate(Models()...)
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore monetization.Store) error) error {
	err := store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
	if isConflict(err) {
		return wrapStoreError(errorSubjectRecord, errorCodeConflict, err)
	}
	return err
}

// Get returns the JSON stored under key, locking the row inside a transaction.
func (store *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var record Record
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("record_key = ?", key).
		Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, monetization.ErrKeyNotFound
		}
		return nil, wrapStoreError(errorSubjectRecord, errorCodeGet, err)
	}
	return []byte(record.Value), nil
}

// Put inserts or replaces the JSON stored under key.
func (store *Store) Put(ctx context.Context, key string, value []byte) error {
	record := Record{Key: key, Value: datatypes.JSON(value), UpdatedAt: time.Now().UTC()}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "record_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&record).Error
	if err != nil {
		return wrapStoreError(errorSubjectRecord, errorCodePut, err)
	}
	return nil
}

// Delete removes key; deleting a missing key is not an error.
func (store *Store) Delete(ctx context.Context, key string) error {
	err := store.db.WithContext(ctx).Where("record_key = ?", key).Delete(&Record{}).Error
	if err != nil {
		return wrapStoreError(errorSubjectRecord, errorCodeDelete, err)
	}
	return nil
}

// LookupVideo resolves a catalog entry.
func (store *Store) LookupVideo(ctx context.Context, id monetization.VideoID) (monetization.Video, error) {
	var model Video
	err := store.db.WithContext(ctx).Where("video_id = ?", id.String()).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return monetization.Video{}, wrapStoreError(errorSubjectVideo, errorCodeLookup, monetization.ErrVideoNotFound)
		}
		return monetization.Video{}, wrapStoreError(errorSubjectVideo, errorCodeLookup, err)
	}
	return monetization.Video{
		ID:              monetization.VideoID(model.VideoID),
		ChannelID:       model.ChannelID,
		DurationSeconds: model.DurationSeconds,
	}, nil
}

// RegisterVideo inserts or updates a catalog entry.
func (store *Store) RegisterVideo(ctx context.Context, video monetization.Video) error {
	now := time.Now().UTC()
	model := Video{
		VideoID:         video.ID.String(),
		ChannelID:       video.ChannelID,
		DurationSeconds: video.DurationSeconds,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "video_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"channel_id", "duration_seconds", "updated_at"}),
		}).
		Create(&model).Error
	if err != nil {
		return wrapStoreError(errorSubjectVideo, errorCodeRegister, err)
	}
	return nil
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

func isConflict(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgSerializationFailureCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteBusyCode
	}
	return false
}
