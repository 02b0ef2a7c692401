package pgstore

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/MarkoPoloResearchLab/paywall/internal/monetization"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

const testDatabaseURLEnv = "PAYWALL_TEST_DATABASE_URL"

func newTestStore(test *testing.T) *Store {
	test.Helper()
	databaseURL := os.Getenv(testDatabaseURLEnv)
	if databaseURL == "" {
		test.Skipf("%s not set", testDatabaseURLEnv)
	}
	pool, err := pgxpool.New(context.Background(), databaseURL)
	if err != nil {
		test.Fatalf("connect: %v", err)
	}
	test.Cleanup(pool.Close)
	store := New(pool)
	if err := store.EnsureSchema(context.Background()); err != nil {
		test.Fatalf("ensure schema: %v", err)
	}
	return store
}

func TestRecordRoundTripInTransaction(test *testing.T) {
	store := newTestStore(test)
	ctx := context.Background()
	key := monetization.UserStatsKey(monetization.UserID(uuid.NewString()))

	err := store.WithTx(ctx, func(ctx context.Context, txStore monetization.Store) error {
		if _, err := txStore.Get(ctx, key); !errors.Is(err, monetization.ErrKeyNotFound) {
			return err
		}
		return txStore.Put(ctx, key, []byte(`{"optOut":true,"channels":{}}`))
	})
	if err != nil {
		test.Fatalf("transaction: %v", err)
	}
	value, err := store.Get(ctx, key)
	if err != nil {
		test.Fatalf("get: %v", err)
	}
	if len(value) == 0 {
		test.Fatalf("expected stored value")
	}
	if err := store.Delete(ctx, key); err != nil {
		test.Fatalf("delete: %v", err)
	}
	if _, err := store.Get(ctx, key); !errors.Is(err, monetization.ErrKeyNotFound) {
		test.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestVideoCatalog(test *testing.T) {
	store := newTestStore(test)
	ctx := context.Background()
	videoID := monetization.VideoID(uuid.NewString())
	if _, err := store.LookupVideo(ctx, videoID); !errors.Is(err, monetization.ErrVideoNotFound) {
		test.Fatalf("expected ErrVideoNotFound, got %v", err)
	}
	if err := store.RegisterVideo(ctx, monetization.Video{ID: videoID, ChannelID: "c1", DurationSeconds: 42}); err != nil {
		test.Fatalf("register: %v", err)
	}
	video, err := store.LookupVideo(ctx, videoID)
	if err != nil || video.DurationSeconds != 42 {
		test.Fatalf("unexpected lookup %+v %v", video, err)
	}
}
