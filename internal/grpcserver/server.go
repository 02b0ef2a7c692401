package grpcserver

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarkoPoloResearchLab/paywall/internal/ledgerrpc"
	"github.com/MarkoPoloResearchLab/paywall/internal/monetization"
	"github.com/MarkoPoloResearchLab/paywall/pkg/ledger"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	errorInvalidUserID        = "invalid_user_id"
	errorInvalidVideoID       = "invalid_video_id"
	errorInvalidSettings      = "invalid_settings"
	errorInvalidSpan          = "invalid_span"
	errorInvalidChanges       = "invalid_changes"
	errorInvalidReceipts      = "invalid_receipts"
	errorInvalidAmount        = "invalid_amount"
	errorInvalidState         = "invalid_state"
	errorInvalidHistogramBin  = "unknown_histogram_bin"
	errorInvalidVideoBatch    = "invalid_video_batch"
	errorNonceMismatch        = "nonce_mismatch"
	errorAmountOverflow       = "amount_overflow"
	errorOverdraft            = "overdraft"
	errorCommittedSpan        = "committed_span_mismatch"
	errorVideoNotFound        = "video_not_found"
	errorInvalidStoredValue   = "invalid_stored_value"
	errorConflict             = "conflict"
	errorCodeStoreConflict    = "conflict"
	maxMonetizationBatchVideo = 200
)

// LedgerServer exposes the monetization service over gRPC.
type LedgerServer struct {
	monetizationService *monetization.Service
}

var _ ledgerrpc.LedgerServer = (*LedgerServer)(nil)

// NewLedgerServer constructs a gRPC server for the monetization service.
func NewLedgerServer(monetizationService *monetization.Service) *LedgerServer {
	return &LedgerServer{monetizationService: monetizationService}
}

func (server *LedgerServer) CommitView(ctx context.Context, request *ledgerrpc.CommitViewRequest) (*ledgerrpc.CommitViewResponse, error) {
	userID, err := monetization.NewUserID(request.UserID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	videoID, err := monetization.NewVideoID(request.VideoID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	state, operationError := server.monetizationService.CommitView(ctx, userID, videoID, request.Commit)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return &ledgerrpc.CommitViewResponse{State: state}, nil
}

func (server *LedgerServer) UpdateHistogram(ctx context.Context, request *ledgerrpc.UpdateHistogramRequest) (*ledgerrpc.UpdateHistogramResponse, error) {
	videoID, err := monetization.NewVideoID(request.VideoID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	committed, operationError := server.monetizationService.UpdateHistogram(ctx, videoID, request.Update)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return &ledgerrpc.UpdateHistogramResponse{Committed: committed}, nil
}

func (server *LedgerServer) GetHistogram(ctx context.Context, request *ledgerrpc.GetHistogramRequest) (*ledgerrpc.GetHistogramResponse, error) {
	videoID, err := monetization.NewVideoID(request.VideoID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	histogram, operationError := server.monetizationService.GetHistogram(ctx, videoID)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return &ledgerrpc.GetHistogramResponse{Histogram: *histogram}, nil
}

func (server *LedgerServer) SetOptOut(ctx context.Context, request *ledgerrpc.SetOptOutRequest) (*ledgerrpc.SetOptOutResponse, error) {
	userID, err := monetization.NewUserID(request.UserID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	optOut, operationError := server.monetizationService.SetOptOut(ctx, userID, request.OptOut)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return &ledgerrpc.SetOptOutResponse{OptOut: optOut}, nil
}

func (server *LedgerServer) UserChannels(ctx context.Context, request *ledgerrpc.UserChannelsRequest) (*ledgerrpc.UserChannelsResponse, error) {
	userID, err := monetization.NewUserID(request.UserID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	stats, operationError := server.monetizationService.UserChannels(ctx, userID)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return &ledgerrpc.UserChannelsResponse{Stats: *stats}, nil
}

func (server *LedgerServer) MonetizationStatusBulk(ctx context.Context, request *ledgerrpc.MonetizationStatusBulkRequest) (*ledgerrpc.MonetizationStatusBulkResponse, error) {
	if err := validateVideoBatch(request.Videos); err != nil {
		return nil, status.Error(codes.InvalidArgument, errorInvalidVideoBatch)
	}
	var userID *monetization.UserID
	if request.UserID != "" {
		parsed, err := monetization.NewUserID(request.UserID)
		if err != nil {
			return nil, mapToGRPCError(err)
		}
		userID = &parsed
	}
	statuses, operationError := server.monetizationService.MonetizationStatusBulk(ctx, userID, request.Videos)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return &ledgerrpc.MonetizationStatusBulkResponse{Statuses: statuses}, nil
}

func (server *LedgerServer) GetVideoSettings(ctx context.Context, request *ledgerrpc.GetVideoSettingsRequest) (*ledgerrpc.GetVideoSettingsResponse, error) {
	videoID, err := monetization.NewVideoID(request.VideoID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	settings, operationError := server.monetizationService.VideoSettings(ctx, videoID)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return &ledgerrpc.GetVideoSettingsResponse{Settings: settings}, nil
}

func (server *LedgerServer) UpdateVideoSettings(ctx context.Context, request *ledgerrpc.UpdateVideoSettingsRequest) (*ledgerrpc.Empty, error) {
	videoID, err := monetization.NewVideoID(request.VideoID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	if operationError := server.monetizationService.UpdateVideoSettings(ctx, videoID, request.Settings); operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return &ledgerrpc.Empty{}, nil
}

func (server *LedgerServer) RegisterVideo(ctx context.Context, request *ledgerrpc.RegisterVideoRequest) (*ledgerrpc.Empty, error) {
	if operationError := server.monetizationService.RegisterVideo(ctx, request.Video); operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return &ledgerrpc.Empty{}, nil
}

func validateVideoBatch(videos []string) error {
	if len(videos) > maxMonetizationBatchVideo {
		return fmt.Errorf("batch exceeds maximum: %d > %d", len(videos), maxMonetizationBatchVideo)
	}
	return nil
}

func mapToGRPCError(source error) error {
	if errors.Is(source, monetization.ErrInvalidUserID) {
		return status.Error(codes.InvalidArgument, errorInvalidUserID)
	}
	if errors.Is(source, monetization.ErrInvalidVideoID) {
		return status.Error(codes.InvalidArgument, errorInvalidVideoID)
	}
	if errors.Is(source, monetization.ErrInvalidSettings) {
		return status.Error(codes.InvalidArgument, errorInvalidSettings)
	}
	if errors.Is(source, monetization.ErrVideoNotFound) {
		return status.Error(codes.NotFound, errorVideoNotFound)
	}
	if errors.Is(source, ledger.ErrInvalidSpan) {
		return status.Error(codes.InvalidArgument, errorInvalidSpan)
	}
	if errors.Is(source, ledger.ErrInvalidChanges) {
		return status.Error(codes.InvalidArgument, errorInvalidChanges)
	}
	if errors.Is(source, ledger.ErrInvalidReceipts) {
		return status.Error(codes.InvalidArgument, errorInvalidReceipts)
	}
	if errors.Is(source, ledger.ErrInvalidAmount) || errors.Is(source, ledger.ErrMissingAssetCode) {
		return status.Error(codes.InvalidArgument, errorInvalidAmount)
	}
	if errors.Is(source, ledger.ErrInvalidState) {
		return status.Error(codes.InvalidArgument, errorInvalidState)
	}
	if errors.Is(source, ledger.ErrUnknownHistogramBin) {
		return status.Error(codes.InvalidArgument, errorInvalidHistogramBin)
	}
	if errors.Is(source, ledger.ErrNonceMismatch) || errors.Is(source, ledger.ErrMissingNonce) {
		return status.Error(codes.InvalidArgument, errorNonceMismatch)
	}
	if errors.Is(source, ledger.ErrAmountOverflow) {
		return status.Error(codes.InvalidArgument, errorAmountOverflow)
	}
	if errors.Is(source, ledger.ErrOverdraft) || errors.Is(source, ledger.ErrOverdraftUnsupported) {
		return status.Error(codes.FailedPrecondition, errorOverdraft)
	}
	if errors.Is(source, ledger.ErrCommittedStartsBefore) || errors.Is(source, ledger.ErrCommittedEndsAfter) {
		return status.Error(codes.FailedPrecondition, errorCommittedSpan)
	}
	if errors.Is(source, monetization.ErrInvalidStoredValue) {
		return status.Error(codes.DataLoss, errorInvalidStoredValue)
	}
	var operationError ledger.OperationError
	if errors.As(source, &operationError) && operationError.Code() == errorCodeStoreConflict {
		return status.Error(codes.Aborted, errorConflict)
	}
	return status.Error(codes.Internal, source.Error())
}
