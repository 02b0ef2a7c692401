package gormstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/MarkoPoloResearchLab/paywall/internal/monetization"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestStore(test *testing.T) *Store {
	test.Helper()
	path := filepath.Join(test.TempDir(), "paywall.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		test.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		test.Fatalf("sql db: %v", err)
	}
	test.Cleanup(func() { _ = sqlDB.Close() })
	store := New(db)
	if err := store.Migrate(context.Background()); err != nil {
		test.Fatalf("migrate: %v", err)
	}
	return store
}

func TestRecordLifecycle(test *testing.T) {
	test.Parallel()
	store := newTestStore(test)
	ctx := context.Background()
	key := monetization.HistogramKey("video-1")

	if _, err := store.Get(ctx, key); !errors.Is(err, monetization.ErrKeyNotFound) {
		test.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
	if err := store.Put(ctx, key, []byte(`{"parts":[1],"history":{}}`)); err != nil {
		test.Fatalf("put: %v", err)
	}
	if err := store.Put(ctx, key, []byte(`{"parts":[2],"history":{}}`)); err != nil {
		test.Fatalf("overwrite: %v", err)
	}
	value, err := store.Get(ctx, key)
	if err != nil {
		test.Fatalf("get: %v", err)
	}
	if string(value) != `{"parts":[2],"history":{}}` {
		test.Fatalf("unexpected value %s", value)
	}
	if err := store.Delete(ctx, key); err != nil {
		test.Fatalf("delete: %v", err)
	}
	if err := store.Delete(ctx, key); err != nil {
		test.Fatalf("delete of missing key: %v", err)
	}
	if _, err := store.Get(ctx, key); !errors.Is(err, monetization.ErrKeyNotFound) {
		test.Fatalf("expected ErrKeyNotFound after delete, got %v", err)
	}
}

func TestWithTxRollsBackOnError(test *testing.T) {
	test.Parallel()
	store := newTestStore(test)
	ctx := context.Background()
	failure := errors.New("abort")

	err := store.WithTx(ctx, func(ctx context.Context, txStore monetization.Store) error {
		if err := txStore.Put(ctx, "stats_user-u1", []byte(`{"optOut":true,"channels":{}}`)); err != nil {
			return err
		}
		return failure
	})
	if !errors.Is(err, failure) {
		test.Fatalf("expected abort error, got %v", err)
	}
	if _, err := store.Get(ctx, "stats_user-u1"); !errors.Is(err, monetization.ErrKeyNotFound) {
		test.Fatalf("expected rollback, got %v", err)
	}

	err = store.WithTx(ctx, func(ctx context.Context, txStore monetization.Store) error {
		return txStore.Put(ctx, "stats_user-u1", []byte(`{"optOut":false,"channels":{}}`))
	})
	if err != nil {
		test.Fatalf("commit: %v", err)
	}
	if _, err := store.Get(ctx, "stats_user-u1"); err != nil {
		test.Fatalf("expected committed value, got %v", err)
	}
}

func TestVideoCatalog(test *testing.T) {
	test.Parallel()
	store := newTestStore(test)
	ctx := context.Background()

	if _, err := store.LookupVideo(ctx, "missing"); !errors.Is(err, monetization.ErrVideoNotFound) {
		test.Fatalf("expected ErrVideoNotFound, got %v", err)
	}
	if err := store.RegisterVideo(ctx, monetization.Video{ID: "video-1", ChannelID: "c1", DurationSeconds: 90}); err != nil {
		test.Fatalf("register: %v", err)
	}
	if err := store.RegisterVideo(ctx, monetization.Video{ID: "video-1", ChannelID: "c2", DurationSeconds: 95}); err != nil {
		test.Fatalf("re-register: %v", err)
	}
	video, err := store.LookupVideo(ctx, "video-1")
	if err != nil {
		test.Fatalf("lookup: %v", err)
	}
	if video.ChannelID != "c2" || video.DurationSeconds != 95 {
		test.Fatalf("unexpected video %+v", video)
	}
}

func TestServiceOverSQLite(test *testing.T) {
	test.Parallel()
	store := newTestStore(test)
	ctx := context.Background()
	service, err := monetization.NewService(store, store, nil)
	if err != nil {
		test.Fatalf("service init: %v", err)
	}
	if err := service.RegisterVideo(ctx, monetization.Video{ID: "video-1", ChannelID: "c1", DurationSeconds: 90}); err != nil {
		test.Fatalf("register: %v", err)
	}
	viewCost := 1.5
	settings := monetization.Settings{PaymentPointer: "$wallet.example/creator", Currency: "xrp", ViewCost: &viewCost}
	if err := service.UpdateVideoSettings(ctx, "video-1", settings); err != nil {
		test.Fatalf("update settings: %v", err)
	}
	loaded, err := service.VideoSettings(ctx, "video-1")
	if err != nil {
		test.Fatalf("video settings: %v", err)
	}
	if loaded.PaymentPointer != settings.PaymentPointer || loaded.Currency != "xrp" || *loaded.ViewCost != viewCost {
		test.Fatalf("unexpected settings %+v", loaded)
	}
	statuses, err := service.MonetizationStatusBulk(ctx, nil, []string{"video-1"})
	if err != nil {
		test.Fatalf("status bulk: %v", err)
	}
	if statuses["video-1"].Monetization != monetization.StatusPayWall {
		test.Fatalf("unexpected status %+v", statuses["video-1"])
	}
}
