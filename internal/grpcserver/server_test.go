package grpcserver

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/paywall/internal/ledgerrpc"
	"github.com/MarkoPoloResearchLab/paywall/internal/monetization"
	"github.com/MarkoPoloResearchLab/paywall/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/paywall/pkg/ledger"
	"github.com/glebarez/sqlite"
	"github.com/jonboulle/clockwork"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const bufferSize = 1024 * 1024

func startLedgerClient(test *testing.T) *ledgerrpc.Client {
	test.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(test.TempDir(), "paywall.db")), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		test.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		test.Fatalf("sql db: %v", err)
	}
	test.Cleanup(func() { _ = sqlDB.Close() })
	store := gormstore.New(db)
	if err := store.Migrate(context.Background()); err != nil {
		test.Fatalf("migrate: %v", err)
	}
	clock := clockwork.NewFakeClockAt(time.Date(2024, time.March, 3, 12, 0, 0, 0, time.UTC))
	service, err := monetization.NewService(store, store, nil, monetization.WithClock(clock))
	if err != nil {
		test.Fatalf("service init: %v", err)
	}

	listener := bufconn.Listen(bufferSize)
	grpcServer := grpc.NewServer()
	ledgerrpc.RegisterLedgerServer(grpcServer, NewLedgerServer(service))
	go func() {
		_ = grpcServer.Serve(listener)
	}()
	test.Cleanup(grpcServer.Stop)

	dialer := func(ctx context.Context, _ string) (net.Conn, error) {
		return listener.DialContext(ctx)
	}
	conn, err := grpc.NewClient("passthrough:///bufnet", grpc.WithContextDialer(dialer), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		test.Fatalf("dial: %v", err)
	}
	test.Cleanup(func() { _ = conn.Close() })
	return ledgerrpc.NewClient(conn)
}

func requireCode(test *testing.T, err error, code codes.Code, message string) {
	test.Helper()
	if err == nil {
		test.Fatalf("expected %s error", code)
	}
	grpcStatus, ok := status.FromError(err)
	if !ok {
		test.Fatalf("expected grpc status, got %v", err)
	}
	if grpcStatus.Code() != code || grpcStatus.Message() != message {
		test.Fatalf("expected %s %q, got %s %q", code, message, grpcStatus.Code(), grpcStatus.Message())
	}
}

func TestLedgerServerCommitsViews(test *testing.T) {
	test.Parallel()
	client := startLedgerClient(test)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	video := monetization.Video{ID: "video-1", ChannelID: "channel-7", DurationSeconds: 120}
	if _, err := client.RegisterVideo(ctx, &ledgerrpc.RegisterVideoRequest{Video: video}); err != nil {
		test.Fatalf("register video: %v", err)
	}
	settings := monetization.Settings{PaymentPointer: "$wallet.example/creator", Currency: "xrp"}
	if _, err := client.UpdateVideoSettings(ctx, &ledgerrpc.UpdateVideoSettingsRequest{VideoID: "video-1", Settings: settings}); err != nil {
		test.Fatalf("update settings: %v", err)
	}

	videoPaid := ledger.NewVideoPaid()
	videoPaid.StartSpan(1)
	if err := videoPaid.Deposit(2, ledger.NewQuantity(1, -2), ledger.AssetXRP, nil); err != nil {
		test.Fatalf("deposit: %v", err)
	}
	changes := videoPaid.SerializeChanges(3)
	response, err := client.CommitView(ctx, &ledgerrpc.CommitViewRequest{
		UserID:  "user-1",
		VideoID: "video-1",
		Commit:  monetization.ViewCommit{Changes: changes, Subscribed: true},
	})
	if err != nil {
		test.Fatalf("commit view: %v", err)
	}
	if len(response.State.CurrentState.Spans) != 1 {
		test.Fatalf("expected one stored span, got %+v", response.State.CurrentState)
	}
	if response.State.CommittedChanges.Nonce == nil || *response.State.CommittedChanges.Nonce != *changes.Nonce {
		test.Fatalf("expected the change-set to be echoed")
	}

	histogram, err := client.GetHistogram(ctx, &ledgerrpc.GetHistogramRequest{VideoID: "video-1"})
	if err != nil {
		test.Fatalf("get histogram: %v", err)
	}
	if len(histogram.Histogram.Parts) == 0 || histogram.Histogram.Parts[0] <= 0 {
		test.Fatalf("expected histogram contribution, got %+v", histogram.Histogram)
	}

	channels, err := client.UserChannels(ctx, &ledgerrpc.UserChannelsRequest{UserID: "user-1"})
	if err != nil {
		test.Fatalf("user channels: %v", err)
	}
	if channels.Stats.Channels["channel-7"] <= 0 {
		test.Fatalf("expected channel contribution, got %+v", channels.Stats)
	}

	optOut := true
	optOutResponse, err := client.SetOptOut(ctx, &ledgerrpc.SetOptOutRequest{UserID: "user-1", OptOut: &optOut})
	if err != nil || !optOutResponse.OptOut {
		test.Fatalf("opt out: %+v %v", optOutResponse, err)
	}

	statuses, err := client.MonetizationStatusBulk(ctx, &ledgerrpc.MonetizationStatusBulkRequest{Videos: []string{"video-1", "missing"}})
	if err != nil {
		test.Fatalf("status bulk: %v", err)
	}
	if statuses.Statuses["video-1"].Monetization != monetization.StatusMonetized {
		test.Fatalf("unexpected status %+v", statuses.Statuses["video-1"])
	}
	if statuses.Statuses["missing"].Monetization != monetization.StatusUnknown {
		test.Fatalf("unexpected status for missing video %+v", statuses.Statuses["missing"])
	}
}

func TestLedgerServerMapsErrors(test *testing.T) {
	test.Parallel()
	client := startLedgerClient(test)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := client.CommitView(ctx, &ledgerrpc.CommitViewRequest{UserID: " ", VideoID: "video-1"})
	requireCode(test, err, codes.InvalidArgument, errorInvalidUserID)

	_, err = client.GetHistogram(ctx, &ledgerrpc.GetHistogramRequest{VideoID: "bad_id"})
	requireCode(test, err, codes.InvalidArgument, errorInvalidVideoID)

	_, err = client.GetHistogram(ctx, &ledgerrpc.GetHistogramRequest{VideoID: "unknown"})
	requireCode(test, err, codes.NotFound, errorVideoNotFound)

	if _, err := client.RegisterVideo(ctx, &ledgerrpc.RegisterVideoRequest{Video: monetization.Video{ID: "video-2", DurationSeconds: 60}}); err != nil {
		test.Fatalf("register video: %v", err)
	}
	negative := -1.0
	_, err = client.UpdateVideoSettings(ctx, &ledgerrpc.UpdateVideoSettingsRequest{
		VideoID:  "video-2",
		Settings: monetization.Settings{PaymentPointer: "$p", Currency: "xrp", ViewCost: &negative},
	})
	requireCode(test, err, codes.InvalidArgument, errorInvalidSettings)

	start := ledger.Timestamp(10)
	end := ledger.Timestamp(5)
	paid := ledger.NewRealAmount().Serialize()
	_, err = client.CommitView(ctx, &ledgerrpc.CommitViewRequest{
		UserID:  "user-1",
		VideoID: "video-2",
		Commit: monetization.ViewCommit{Changes: ledger.SerializedChanges{
			Spans: []ledger.SerializedChangeSpan{{Start: start, End: end, PaidUncommitted: paid}},
		}},
	})
	requireCode(test, err, codes.InvalidArgument, errorInvalidSpan)

	videos := make([]string, maxMonetizationBatchVideo+1)
	for index := range videos {
		videos[index] = "video-2"
	}
	_, err = client.MonetizationStatusBulk(ctx, &ledgerrpc.MonetizationStatusBulkRequest{Videos: videos})
	requireCode(test, err, codes.InvalidArgument, errorInvalidVideoBatch)
}
