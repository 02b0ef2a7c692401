package paywallapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/paywall/internal/ledgerrpc"
	"github.com/gin-gonic/gin"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var errTestLedger = errors.New("ledger unavailable")

type stubLedgerClient struct {
	ledgerClient
	commitErr     error
	statusRequest *ledgerrpc.MonetizationStatusBulkRequest
}

func (stub *stubLedgerClient) CommitView(context.Context, *ledgerrpc.CommitViewRequest) (*ledgerrpc.CommitViewResponse, error) {
	if stub.commitErr != nil {
		return nil, stub.commitErr
	}
	return &ledgerrpc.CommitViewResponse{}, nil
}

func (stub *stubLedgerClient) MonetizationStatusBulk(_ context.Context, request *ledgerrpc.MonetizationStatusBulkRequest) (*ledgerrpc.MonetizationStatusBulkResponse, error) {
	stub.statusRequest = request
	return &ledgerrpc.MonetizationStatusBulkResponse{}, nil
}

func newTestHandler(client ledgerClient) *httpHandler {
	return &httpHandler{
		logger:       zap.NewNop(),
		ledgerClient: client,
		cfg:          Config{LedgerTimeout: time.Second},
	}
}

func newTestContext(method string, path string, payload map[string]any) (*gin.Context, *httptest.ResponseRecorder) {
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	ctx.Request = httptest.NewRequest(method, path, payloadReader(payload))
	return ctx, recorder
}

func payloadReader(payload map[string]any) *bytes.Reader {
	if payload == nil {
		return bytes.NewReader(nil)
	}
	encoded, _ := json.Marshal(payload)
	return bytes.NewReader(encoded)
}

func TestHandlersRequireSession(test *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newTestHandler(&stubLedgerClient{})
	handlers := map[string]gin.HandlerFunc{
		"commit view":   handler.handleCommitView,
		"opt out":       handler.handleOptOut,
		"user channels": handler.handleUserChannels,
	}
	for name, handle := range handlers {
		ctx, recorder := newTestContext(http.MethodPost, "/api/stats", map[string]any{})
		handle(ctx)
		if recorder.Code != http.StatusUnauthorized {
			test.Fatalf("%s: expected 401, got %d", name, recorder.Code)
		}
	}
}

func TestHandleCommitViewMapsLedgerErrors(test *testing.T) {
	gin.SetMode(gin.TestMode)
	testCases := []struct {
		name         string
		err          error
		expectedCode int
		expectedErr  string
	}{
		{name: "conflict", err: status.Error(codes.Aborted, "conflict"), expectedCode: http.StatusConflict, expectedErr: "conflict"},
		{name: "committed span", err: status.Error(codes.FailedPrecondition, "committed_span_mismatch"), expectedCode: http.StatusConflict, expectedErr: "committed_span_mismatch"},
		{name: "internal", err: status.Error(codes.Internal, "boom"), expectedCode: http.StatusBadGateway, expectedErr: "ledger_error"},
		{name: "transport", err: errTestLedger, expectedCode: http.StatusBadGateway, expectedErr: "ledger_error"},
	}
	for _, testCase := range testCases {
		test.Run(testCase.name, func(test *testing.T) {
			handler := newTestHandler(&stubLedgerClient{commitErr: testCase.err})
			ctx, recorder := newTestContext(http.MethodPost, "/api/stats/view/video-1", map[string]any{"subscribed": true})
			ctx.Params = gin.Params{{Key: "video", Value: "video-1"}}
			ctx.Set(claimsContextKey, &sessionvalidator.Claims{UserID: "viewer-1"})

			handler.handleCommitView(ctx)

			if recorder.Code != testCase.expectedCode {
				test.Fatalf("expected %d, got %d", testCase.expectedCode, recorder.Code)
			}
			var envelope struct {
				Error struct {
					Code string `json:"code"`
				} `json:"error"`
			}
			if err := json.Unmarshal(recorder.Body.Bytes(), &envelope); err != nil {
				test.Fatalf("decode: %v", err)
			}
			if envelope.Error.Code != testCase.expectedErr {
				test.Fatalf("expected %q, got %q", testCase.expectedErr, envelope.Error.Code)
			}
		})
	}
}

func TestHandleStatusBulkUsesSessionViewer(test *testing.T) {
	gin.SetMode(gin.TestMode)
	stub := &stubLedgerClient{}
	handler := newTestHandler(stub)

	ctx, recorder := newTestContext(http.MethodPost, "/monetization_status_bulk", map[string]any{"videos": []string{"a"}})
	handler.handleStatusBulk(ctx)
	if recorder.Code != http.StatusOK || stub.statusRequest.UserID != "" {
		test.Fatalf("expected anonymous lookup, got %d %+v", recorder.Code, stub.statusRequest)
	}

	ctx, recorder = newTestContext(http.MethodPost, "/api/monetization_status_bulk", map[string]any{"videos": []string{"a"}})
	ctx.Set(claimsContextKey, &sessionvalidator.Claims{UserID: "viewer-1"})
	handler.handleStatusBulk(ctx)
	if recorder.Code != http.StatusOK || stub.statusRequest.UserID != "viewer-1" {
		test.Fatalf("expected viewer lookup, got %d %+v", recorder.Code, stub.statusRequest)
	}

	videos := make([]string, maxStatusBatchVideos+1)
	ctx, recorder = newTestContext(http.MethodPost, "/monetization_status_bulk", map[string]any{"videos": videos})
	handler.handleStatusBulk(ctx)
	if recorder.Code != http.StatusBadRequest {
		test.Fatalf("expected oversized batch to be rejected, got %d", recorder.Code)
	}
}
