package monetization

import (
	"context"

	"go.uber.org/zap"
)

const (
	operationCommitView       = "commit_view"
	operationUpdateHistogram  = "update_histogram"
	operationSetOptOut        = "set_opt_out"
	operationUpdateSettings   = "update_settings"
	operationRegisterVideo    = "register_video"
	operationStatusOK         = "ok"
	operationStatusError      = "error"
	operationStatusUnchanged  = "unchanged"
	operationStatusOptedOut   = "opted_out"
	operationStatusSkipped    = "skipped"
	operationStatusUnverified = "unverified"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing monetization operation.
type OperationLog struct {
	Operation string
	UserID    UserID
	VideoID   VideoID
	Spans     int
	Bins      int
	Status    string
	Error     error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.operationLogger = logger
	}
}

// ZapOperationLogger writes operation logs as structured zap entries.
type ZapOperationLogger struct {
	logger *zap.Logger
}

// NewZapOperationLogger wraps a zap logger.
func NewZapOperationLogger(logger *zap.Logger) *ZapOperationLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapOperationLogger{logger: logger}
}

// LogOperation emits one entry; failures are logged at error level.
func (operationLogger *ZapOperationLogger) LogOperation(_ context.Context, entry OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
	}
	if entry.UserID != "" {
		fields = append(fields, zap.String("user_id", entry.UserID.String()))
	}
	if entry.VideoID != "" {
		fields = append(fields, zap.String("video_id", entry.VideoID.String()))
	}
	if entry.Spans > 0 {
		fields = append(fields, zap.Int("spans", entry.Spans))
	}
	if entry.Bins > 0 {
		fields = append(fields, zap.Int("bins", entry.Bins))
	}
	if entry.Error != nil {
		operationLogger.logger.Error("monetization operation failed", append(fields, zap.Error(entry.Error))...)
		return
	}
	operationLogger.logger.Info("monetization operation", fields...)
}
