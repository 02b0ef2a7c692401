package pgstore

import (
	"context"
	"errors"

	"github.com/MarkoPoloResearchLab/paywall/internal/monetization"
	"github.com/MarkoPoloResearchLab/paywall/pkg/ledger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgSerializationFailureCode = "40001"
	errorOperationStore        = "store"
	errorSubjectRecord         = "record"
	errorSubjectVideo          = "video"
	errorSubjectSchema         = "schema"
	errorSubjectTransaction    = "transaction"
	errorCodeBegin             = "begin"
	errorCodeCommit            = "commit"
	errorCodeConflict          = "conflict"
	errorCodeGet               = "get"
	errorCodePut               = "put"
	errorCodeDelete            = "delete"
	errorCodeLookup            = "lookup"
	errorCodeRegister          = "register"
	errorCodeEnsure            = "ensure"

	sqlEnsureSchema = `
		create table if not exists monetization_records (
			record_key text primary key,
			value jsonb not null,
			updated_at timestamptz not null default now()
		);
		create table if not exists videos (
			video_id text primary key,
			channel_id text not null,
			duration_seconds double precision not null,
			created_at timestamptz not null default now(),
			updated_at timestamptz not null default now()
		);
		create index if not exists idx_videos_channel on videos(channel_id);
	`

	sqlSelectRecord = `
		select value::text from monetization_records where record_key = $1
	`

	sqlSelectRecordForUpdate = `
		select value::text from monetization_records where record_key = $1
		for update
	`

	sqlUpsertRecord = `
		insert into monetization_records(record_key, value, updated_at) values($1, $2::jsonb, now())
		on conflict (record_key) do update set value = excluded.value, updated_at = excluded.updated_at
	`

	sqlDeleteRecord = `
		delete from monetization_records where record_key = $1
	`

	sqlSelectVideo = `
		select video_id, channel_id, duration_seconds from videos where video_id = $1
	`

	sqlUpsertVideo = `
		insert into videos(video_id, channel_id, duration_seconds) values($1, $2, $3)
		on conflict (video_id) do update set channel_id = excluded.channel_id, duration_seconds = excluded.duration_seconds, updated_at = now()
	`
)

// querier is the subset of pgx shared by pools and transactions.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements monetization.Store and monetization.VideoCatalog using a
// pgx connection pool (autocommit).
type Store struct {
	pool *pgxpool.Pool
}

// TxStore implements monetization.Store for an active transaction.
type TxStore struct {
	tx pgx.Tx
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// EnsureSchema creates the tables the store needs.
func (store *Store) EnsureSchema(ctx context.Context) error {
	if _, err := store.pool.Exec(ctx, sqlEnsureSchema); err != nil {
		return wrapStoreError(errorSubjectSchema, errorCodeEnsure, err)
	}
	return nil
}

func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore monetization.Store) error) error {
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeBegin, err)
	}
	if err := fn(ctx, &TxStore{tx: tx}); err != nil {
		_ = tx.Rollback(ctx)
		if isSerializationFailure(err) {
			return wrapStoreError(errorSubjectTransaction, errorCodeConflict, err)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return nil
}

func (store *Store) Get(ctx context.Context, key string) ([]byte, error) {
	return getRecord(ctx, store.pool, sqlSelectRecord, key)
}

func (store *Store) Put(ctx context.Context, key string, value []byte) error {
	return putRecord(ctx, store.pool, key, value)
}

func (store *Store) Delete(ctx context.Context, key string) error {
	return deleteRecord(ctx, store.pool, key)
}

func (store *Store) LookupVideo(ctx context.Context, id monetization.VideoID) (monetization.Video, error) {
	var (
		videoID   string
		channelID string
		duration  float64
	)
	err := store.pool.QueryRow(ctx, sqlSelectVideo, id.String()).Scan(&videoID, &channelID, &duration)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return monetization.Video{}, wrapStoreError(errorSubjectVideo, errorCodeLookup, monetization.ErrVideoNotFound)
		}
		return monetization.Video{}, wrapStoreError(errorSubjectVideo, errorCodeLookup, err)
	}
	return monetization.Video{ID: monetization.VideoID(videoID), ChannelID: channelID, DurationSeconds: duration}, nil
}

func (store *Store) RegisterVideo(ctx context.Context, video monetization.Video) error {
	if _, err := store.pool.Exec(ctx, sqlUpsertVideo, video.ID.String(), video.ChannelID, video.DurationSeconds); err != nil {
		return wrapStoreError(errorSubjectVideo, errorCodeRegister, err)
	}
	return nil
}

// WithTx on an active transaction runs fn in the same transaction.
func (store *TxStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore monetization.Store) error) error {
	return fn(ctx, store)
}

// Get locks the row until the transaction ends.
func (store *TxStore) Get(ctx context.Context, key string) ([]byte, error) {
	return getRecord(ctx, store.tx, sqlSelectRecordForUpdate, key)
}

func (store *TxStore) Put(ctx context.Context, key string, value []byte) error {
	return putRecord(ctx, store.tx, key, value)
}

func (store *TxStore) Delete(ctx context.Context, key string) error {
	return deleteRecord(ctx, store.tx, key)
}

func getRecord(ctx context.Context, db querier, query string, key string) ([]byte, error) {
	var value string
	if err := db.QueryRow(ctx, query, key).Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, monetization.ErrKeyNotFound
		}
		return nil, wrapStoreError(errorSubjectRecord, errorCodeGet, err)
	}
	return []byte(value), nil
}

func putRecord(ctx context.Context, db querier, key string, value []byte) error {
	if _, err := db.Exec(ctx, sqlUpsertRecord, key, string(value)); err != nil {
		return wrapStoreError(errorSubjectRecord, errorCodePut, err)
	}
	return nil
}

func deleteRecord(ctx context.Context, db querier, key string) error {
	if _, err := db.Exec(ctx, sqlDeleteRecord, key); err != nil {
		return wrapStoreError(errorSubjectRecord, errorCodeDelete, err)
	}
	return nil
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgSerializationFailureCode
	}
	return false
}
