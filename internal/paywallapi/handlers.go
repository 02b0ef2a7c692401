package paywallapi

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/MarkoPoloResearchLab/paywall/internal/ledgerrpc"
	"github.com/MarkoPoloResearchLab/paywall/internal/monetization"
	"github.com/gin-gonic/gin"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type ledgerClient interface {
	CommitView(context.Context, *ledgerrpc.CommitViewRequest) (*ledgerrpc.CommitViewResponse, error)
	UpdateHistogram(context.Context, *ledgerrpc.UpdateHistogramRequest) (*ledgerrpc.UpdateHistogramResponse, error)
	GetHistogram(context.Context, *ledgerrpc.GetHistogramRequest) (*ledgerrpc.GetHistogramResponse, error)
	SetOptOut(context.Context, *ledgerrpc.SetOptOutRequest) (*ledgerrpc.SetOptOutResponse, error)
	UserChannels(context.Context, *ledgerrpc.UserChannelsRequest) (*ledgerrpc.UserChannelsResponse, error)
	MonetizationStatusBulk(context.Context, *ledgerrpc.MonetizationStatusBulkRequest) (*ledgerrpc.MonetizationStatusBulkResponse, error)
	GetVideoSettings(context.Context, *ledgerrpc.GetVideoSettingsRequest) (*ledgerrpc.GetVideoSettingsResponse, error)
	UpdateVideoSettings(context.Context, *ledgerrpc.UpdateVideoSettingsRequest) (*ledgerrpc.Empty, error)
	RegisterVideo(context.Context, *ledgerrpc.RegisterVideoRequest) (*ledgerrpc.Empty, error)
}

type httpHandler struct {
	logger       *zap.Logger
	ledgerClient ledgerClient
	cfg          Config
}

type optOutRequest struct {
	OptOut *bool `json:"optOut"`
}

type statusBulkRequest struct {
	Videos []string `json:"videos"`
}

func (handler *httpHandler) handleConfig(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"tauth_base_url": handler.cfg.TAuthBaseURL,
		"cookie_name":    handler.cfg.SessionCookieName,
	})
}

func (handler *httpHandler) handleGetHistogram(ctx *gin.Context) {
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.LedgerTimeout)
	defer cancel()
	response, err := handler.ledgerClient.GetHistogram(requestCtx, &ledgerrpc.GetHistogramRequest{VideoID: ctx.Param("video")})
	if err != nil {
		handler.respondLedgerError(ctx, "get histogram failed", err)
		return
	}
	ctx.JSON(http.StatusOK, response.Histogram)
}

func (handler *httpHandler) handleHistogramUpdate(ctx *gin.Context) {
	var update monetization.HistogramUpdate
	if err := ctx.ShouldBindJSON(&update); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.LedgerTimeout)
	defer cancel()
	response, err := handler.ledgerClient.UpdateHistogram(requestCtx, &ledgerrpc.UpdateHistogramRequest{
		VideoID: ctx.Param("video"),
		Update:  update,
	})
	if err != nil {
		handler.respondLedgerError(ctx, "histogram update failed", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"committed": response.Committed})
}

func (handler *httpHandler) handleStatusBulk(ctx *gin.Context) {
	var request statusBulkRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	if len(request.Videos) > maxStatusBatchVideos {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_video_batch", "too many videos"))
		return
	}
	userID := ""
	if claims := getClaims(ctx); claims != nil {
		userID = claims.GetUserID()
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.LedgerTimeout)
	defer cancel()
	response, err := handler.ledgerClient.MonetizationStatusBulk(requestCtx, &ledgerrpc.MonetizationStatusBulkRequest{
		UserID: userID,
		Videos: request.Videos,
	})
	if err != nil {
		handler.respondLedgerError(ctx, "monetization status failed", err)
		return
	}
	ctx.JSON(http.StatusOK, response.Statuses)
}

func (handler *httpHandler) handleCommitView(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	var commit monetization.ViewCommit
	if err := ctx.ShouldBindJSON(&commit); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.LedgerTimeout)
	defer cancel()
	response, err := handler.ledgerClient.CommitView(requestCtx, &ledgerrpc.CommitViewRequest{
		UserID:  claims.GetUserID(),
		VideoID: ctx.Param("video"),
		Commit:  commit,
	})
	if err != nil {
		handler.respondLedgerError(ctx, "commit view failed", err)
		return
	}
	ctx.JSON(http.StatusOK, response.State)
}

func (handler *httpHandler) handleOptOut(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	var request optOutRequest
	if err := ctx.ShouldBindJSON(&request); err != nil && !errors.Is(err, io.EOF) {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.LedgerTimeout)
	defer cancel()
	response, err := handler.ledgerClient.SetOptOut(requestCtx, &ledgerrpc.SetOptOutRequest{
		UserID: claims.GetUserID(),
		OptOut: request.OptOut,
	})
	if err != nil {
		handler.respondLedgerError(ctx, "opt out failed", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"optOut": response.OptOut})
}

func (handler *httpHandler) handleUserChannels(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.LedgerTimeout)
	defer cancel()
	response, err := handler.ledgerClient.UserChannels(requestCtx, &ledgerrpc.UserChannelsRequest{UserID: claims.GetUserID()})
	if err != nil {
		handler.respondLedgerError(ctx, "user channels failed", err)
		return
	}
	ctx.JSON(http.StatusOK, response.Stats)
}

func (handler *httpHandler) handleGetSettings(ctx *gin.Context) {
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.LedgerTimeout)
	defer cancel()
	response, err := handler.ledgerClient.GetVideoSettings(requestCtx, &ledgerrpc.GetVideoSettingsRequest{VideoID: ctx.Param("video")})
	if err != nil {
		handler.respondLedgerError(ctx, "video settings failed", err)
		return
	}
	ctx.JSON(http.StatusOK, response.Settings)
}

func (handler *httpHandler) handleUpdateSettings(ctx *gin.Context) {
	var settings monetization.Settings
	if err := ctx.ShouldBindJSON(&settings); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.LedgerTimeout)
	defer cancel()
	_, err := handler.ledgerClient.UpdateVideoSettings(requestCtx, &ledgerrpc.UpdateVideoSettingsRequest{
		VideoID:  ctx.Param("video"),
		Settings: settings,
	})
	if err != nil {
		handler.respondLedgerError(ctx, "update video settings failed", err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (handler *httpHandler) handleRegisterVideo(ctx *gin.Context) {
	var video monetization.Video
	if err := ctx.ShouldBindJSON(&video); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.LedgerTimeout)
	defer cancel()
	if _, err := handler.ledgerClient.RegisterVideo(requestCtx, &ledgerrpc.RegisterVideoRequest{Video: video}); err != nil {
		handler.respondLedgerError(ctx, "register video failed", err)
		return
	}
	ctx.JSON(http.StatusCreated, video)
}

func (handler *httpHandler) respondLedgerError(ctx *gin.Context, message string, err error) {
	statusInfo, ok := status.FromError(err)
	if !ok {
		handler.logger.Error(message, zap.Error(err))
		ctx.JSON(http.StatusBadGateway, errorResponse("ledger_error", message))
		return
	}
	switch statusInfo.Code() {
	case codes.InvalidArgument:
		ctx.JSON(http.StatusBadRequest, errorResponse(statusInfo.Message(), message))
	case codes.NotFound:
		ctx.JSON(http.StatusNotFound, errorResponse(statusInfo.Message(), message))
	case codes.FailedPrecondition, codes.Aborted:
		ctx.JSON(http.StatusConflict, errorResponse(statusInfo.Message(), message))
	default:
		handler.logger.Error(message, zap.Error(err))
		ctx.JSON(http.StatusBadGateway, errorResponse("ledger_error", message))
	}
}

func getClaims(ctx *gin.Context) *sessionvalidator.Claims {
	claimsValue, ok := ctx.Get(claimsContextKey)
	if !ok {
		return nil
	}
	claims, _ := claimsValue.(*sessionvalidator.Claims)
	return claims
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}
