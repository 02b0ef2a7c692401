package monetization

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/MarkoPoloResearchLab/paywall/pkg/ledger"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Service stores committed payments and contribution statistics for viewers
// and videos.
type Service struct {
	store           Store
	catalog         VideoCatalog
	exchange        *ledger.Exchange
	verifier        ledger.Verifier
	clock           clockwork.Clock
	logger          *zap.Logger
	operationLogger OperationLogger
	metrics         *Metrics
}

// WithVerifier wires the receipt verifier used on incoming submissions.
func WithVerifier(verifier ledger.Verifier) ServiceOption {
	return func(service *Service) {
		service.verifier = verifier
	}
}

// WithClock overrides the clock used for daily history buckets.
func WithClock(clock clockwork.Clock) ServiceOption {
	return func(service *Service) {
		if clock != nil {
			service.clock = clock
		}
	}
}

// WithLogger sets the logger for recoverable failures.
func WithLogger(logger *zap.Logger) ServiceOption {
	return func(service *Service) {
		if logger != nil {
			service.logger = logger
		}
	}
}

// NewService wires a Service. A nil exchange only counts contributions made
// in the video currency.
func NewService(store Store, catalog VideoCatalog, exchange *ledger.Exchange, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if catalog == nil {
		return nil, fmt.Errorf("%w: video catalog dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{
		store:    store,
		catalog:  catalog,
		exchange: exchange,
		clock:    clockwork.NewRealClock(),
		logger:   zap.NewNop(),
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// CommitView merges a viewer's change-set into their stored payments for the
// video and adds the histogram part to the video statistics unless the viewer
// opted out. The reply echoes the change-set so the client can retire it.
func (service *Service) CommitView(ctx context.Context, userID UserID, videoID VideoID, commit ViewCommit) (ledger.SerializedState, error) {
	video, err := service.catalog.LookupVideo(ctx, videoID)
	if err != nil {
		return ledger.SerializedState{}, err
	}
	changes, err := ledger.DeserializeChanges(commit.Changes)
	if err != nil {
		return ledger.SerializedState{}, err
	}
	if err := service.verifyReceipts(ctx, commit.Receipts); err != nil {
		return ledger.SerializedState{}, err
	}

	var state ledger.SerializedState
	status := ""
	operationError := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		storage, err := loadVideoPaidStorage(ctx, txStore, ViewKey(videoID, userID))
		if err != nil {
			return err
		}
		stats, err := loadUserStats(ctx, txStore, userID)
		if err != nil {
			return err
		}
		changed, err := storage.CommitChanges(changes)
		if err != nil {
			return err
		}
		serialized := storage.Serialize()
		if changed {
			if err := putJSON(ctx, txStore, ViewKey(videoID, userID), serialized); err != nil {
				return err
			}
		} else {
			status = operationStatusUnchanged
		}

		if stats.OptOut {
			status = operationStatusOptedOut
		} else {
			histogramChanged, err := service.commitHistogram(ctx, txStore, video, changes.Histogram, commit.Subscribed, stats)
			if err != nil {
				return err
			}
			if histogramChanged {
				if err := putJSON(ctx, txStore, UserStatsKey(userID), stats); err != nil {
					return err
				}
			}
		}

		state = ledger.SerializedState{
			CurrentState:     serialized,
			CommittedChanges: commit.Changes,
			OptOut:           stats.OptOut,
		}
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationCommitView,
		UserID:    userID,
		VideoID:   videoID,
		Spans:     len(changes.Spans),
		Bins:      len(changes.Histogram),
		Status:    status,
		Error:     operationError,
	})
	if operationError != nil {
		return ledger.SerializedState{}, operationError
	}
	return state, nil
}

// UpdateHistogram adds an anonymous viewer's histogram bins to the video
// statistics and returns the bins it accepted.
func (service *Service) UpdateHistogram(ctx context.Context, videoID VideoID, update HistogramUpdate) ([]ledger.SerializedHistogramChange, error) {
	committed := update.Histogram
	if committed == nil {
		committed = []ledger.SerializedHistogramChange{}
	}
	if len(update.Histogram) == 0 {
		return committed, nil
	}
	video, err := service.catalog.LookupVideo(ctx, videoID)
	if err != nil {
		return nil, err
	}
	bins, err := ledger.DeserializeHistogramChanges(update.Histogram)
	if err != nil {
		return nil, err
	}
	if err := service.verifyReceipts(ctx, update.Receipts); err != nil {
		return nil, err
	}
	status := ""
	operationError := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		changed, err := service.commitHistogram(ctx, txStore, video, bins, update.Subscribed, nil)
		if err != nil {
			return err
		}
		if !changed {
			status = operationStatusUnchanged
		}
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationUpdateHistogram,
		VideoID:   videoID,
		Bins:      len(bins),
		Status:    status,
		Error:     operationError,
	})
	if operationError != nil {
		return nil, operationError
	}
	return committed, nil
}

// GetHistogram returns the contribution aggregate of a video.
func (service *Service) GetHistogram(ctx context.Context, videoID VideoID) (*ledger.Histogram, error) {
	if _, err := service.catalog.LookupVideo(ctx, videoID); err != nil {
		return nil, err
	}
	return loadHistogram(ctx, service.store, videoID)
}

// SetOptOut changes the viewer's statistics preference. Opting out forgets the
// per-channel totals; a nil value leaves the preference unchanged.
func (service *Service) SetOptOut(ctx context.Context, userID UserID, optOut *bool) (bool, error) {
	var result bool
	operationError := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		stats, err := loadUserStats(ctx, txStore, userID)
		if err != nil {
			return err
		}
		if optOut != nil {
			if *optOut {
				stats = &ledger.UserStats{OptOut: true, Channels: map[string]float64{}}
			} else {
				stats.OptOut = false
			}
		}
		result = stats.OptOut
		return putJSON(ctx, txStore, UserStatsKey(userID), stats)
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationSetOptOut,
		UserID:    userID,
		Error:     operationError,
	})
	return result, operationError
}

// UserChannels returns what the viewer contributed per channel.
func (service *Service) UserChannels(ctx context.Context, userID UserID) (*ledger.UserStats, error) {
	return loadUserStats(ctx, service.store, userID)
}

// MonetizationStatusBulk reports the monetization of each requested video. The
// paid total is included for pay-wall videos when a viewer is given.
func (service *Service) MonetizationStatusBulk(ctx context.Context, userID *UserID, videoIDs []string) (map[string]Status, error) {
	statuses := make(map[string]Status, len(videoIDs))
	for _, rawID := range videoIDs {
		status, err := service.monetizationStatus(ctx, userID, rawID)
		if err != nil {
			service.logger.Warn("monetization status lookup failed", zap.String("video_id", rawID), zap.Error(err))
			status = Status{Monetization: StatusUnknown}
		}
		statuses[rawID] = status
	}
	return statuses, nil
}

func (service *Service) monetizationStatus(ctx context.Context, userID *UserID, rawID string) (Status, error) {
	videoID, err := NewVideoID(rawID)
	if err != nil {
		return Status{}, err
	}
	video, err := service.catalog.LookupVideo(ctx, videoID)
	if err != nil {
		return Status{}, err
	}
	settings, err := loadSettings(ctx, service.store, videoID)
	if err != nil {
		return Status{}, err
	}
	if !settings.Monetized() {
		return Status{Monetization: StatusUnmonetized}, nil
	}
	status := Status{Monetization: StatusMonetized}
	if positive(settings.AdSkipCost) {
		status = Status{Monetization: StatusAdSkip}
	}
	if !positive(settings.ViewCost) {
		return status, nil
	}
	duration := video.DurationSeconds
	status = Status{
		Monetization: StatusPayWall,
		Currency:     settings.Currency,
		ViewCost:     settings.ViewCost,
		Duration:     &duration,
	}
	if userID == nil {
		return status, nil
	}
	var stored ledger.SerializedVideoPaid
	found, err := getJSON(ctx, service.store, ViewKey(videoID, *userID), &stored)
	if err != nil {
		service.logger.Warn("paid total lookup failed",
			zap.String("video_id", videoID.String()),
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return status, nil
	}
	if found {
		status.Paid = &stored.Total
	}
	return status, nil
}

// VideoSettings returns the monetization configuration of a video.
func (service *Service) VideoSettings(ctx context.Context, videoID VideoID) (Settings, error) {
	if _, err := service.catalog.LookupVideo(ctx, videoID); err != nil {
		return Settings{}, err
	}
	return loadSettings(ctx, service.store, videoID)
}

// UpdateVideoSettings replaces the monetization configuration of a video. A
// blank payment pointer removes every setting.
func (service *Service) UpdateVideoSettings(ctx context.Context, videoID VideoID, settings Settings) error {
	operationError := service.updateVideoSettings(ctx, videoID, settings)
	service.logOperation(ctx, OperationLog{
		Operation: operationUpdateSettings,
		VideoID:   videoID,
		Error:     operationError,
	})
	return operationError
}

func (service *Service) updateVideoSettings(ctx context.Context, videoID VideoID, settings Settings) error {
	if _, err := service.catalog.LookupVideo(ctx, videoID); err != nil {
		return err
	}
	keys := keysForSettings(videoID)
	if !settings.Monetized() {
		return service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
			for _, key := range keys.all() {
				if err := txStore.Delete(ctx, key); err != nil {
					return err
				}
			}
			return nil
		})
	}
	normalized, err := normalizeSettings(settings)
	if err != nil {
		return err
	}
	return service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		if err := putJSON(ctx, txStore, keys.paymentPointer, normalized.PaymentPointer); err != nil {
			return err
		}
		if err := putJSON(ctx, txStore, keys.receiptService, normalized.ReceiptService); err != nil {
			return err
		}
		if err := putOrDelete(ctx, txStore, keys.currency, normalized.Currency, normalized.Currency != ""); err != nil {
			return err
		}
		if err := putOrDelete(ctx, txStore, keys.viewCost, normalized.ViewCost, normalized.ViewCost != nil); err != nil {
			return err
		}
		return putOrDelete(ctx, txStore, keys.adSkipCost, normalized.AdSkipCost, normalized.AdSkipCost != nil)
	})
}

// RegisterVideo adds or updates a catalog entry.
func (service *Service) RegisterVideo(ctx context.Context, video Video) error {
	operationError := service.registerVideo(ctx, video)
	service.logOperation(ctx, OperationLog{
		Operation: operationRegisterVideo,
		VideoID:   video.ID,
		Error:     operationError,
	})
	return operationError
}

func (service *Service) registerVideo(ctx context.Context, video Video) error {
	videoID, err := NewVideoID(video.ID.String())
	if err != nil {
		return err
	}
	if video.DurationSeconds < 0 || math.IsNaN(video.DurationSeconds) || math.IsInf(video.DurationSeconds, 0) {
		return fmt.Errorf("%w: duration %v", ErrInvalidSettings, video.DurationSeconds)
	}
	video.ID = videoID
	video.ChannelID = strings.TrimSpace(video.ChannelID)
	return service.catalog.RegisterVideo(ctx, video)
}

// CurrencyOf resolves the configured currency of a video.
func (service *Service) CurrencyOf(ctx context.Context, videoID VideoID) (ledger.Currency, bool, error) {
	var code string
	found, err := getJSON(ctx, service.store, keysForSettings(videoID).currency, &code)
	if err != nil || !found {
		return ledger.Currency{}, false, err
	}
	currency, ok := ledger.LookupCurrency(code)
	return currency, ok, nil
}

func (service *Service) commitHistogram(ctx context.Context, txStore Store, video Video, bins []ledger.HistogramChange, subscribed bool, stats *ledger.UserStats) (bool, error) {
	if len(bins) == 0 {
		return false, nil
	}
	var code string
	found, err := getJSON(ctx, txStore, keysForSettings(video.ID).currency, &code)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	currency, ok := ledger.LookupCurrency(code)
	if !ok {
		service.logger.Warn("video currency is not supported",
			zap.String("video_id", video.ID.String()),
			zap.String("currency", code))
		return false, nil
	}
	histogram, err := loadHistogram(ctx, txStore, video.ID)
	if err != nil {
		return false, err
	}
	before := sumParts(histogram.Parts)
	info := ledger.VideoInfo{
		ID:              video.ID.String(),
		ChannelID:       video.ChannelID,
		DurationSeconds: video.DurationSeconds,
		Currency:        currency,
	}
	changed := histogram.CommitHistogramChanges(ctx, service.exchange, service.clock.Now(), info, bins, subscribed, stats)
	if !changed {
		return false, nil
	}
	if err := putJSON(ctx, txStore, HistogramKey(video.ID), histogram); err != nil {
		return false, err
	}
	service.metrics.observeContribution(currency.Code, sumParts(histogram.Parts)-before)
	return true, nil
}

func (service *Service) verifyReceipts(ctx context.Context, serialized ledger.SerializedReceipts) error {
	if len(serialized.Unverified) == 0 {
		return nil
	}
	serialized.Verified = nil
	receipts, err := ledger.DeserializeReceipts(serialized, service.logger)
	if err != nil {
		return err
	}
	if service.verifier == nil {
		service.logger.Debug("receipt verifier not configured", zap.Int("receipts", len(serialized.Unverified)))
		return nil
	}
	receipts.VerifyReceipts(ctx, service.verifier)
	for _, verified := range receipts.Serialize().Verified {
		service.metrics.observeReceipt(verified.Verified)
		if !verified.Verified {
			service.logger.Info("receipt not verified", zap.Int64("seq", int64(verified.Seq)))
		}
	}
	return nil
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if entry.Error != nil {
		entry.Status = operationStatusError
	} else if entry.Status == "" {
		entry.Status = operationStatusOK
	}
	service.metrics.observeOperation(entry.Operation, entry.Status)
	if service.operationLogger == nil {
		return
	}
	service.operationLogger.LogOperation(ctx, entry)
}

func loadVideoPaidStorage(ctx context.Context, store Store, key string) (*ledger.VideoPaidStorage, error) {
	var serialized ledger.SerializedVideoPaid
	found, err := getJSON(ctx, store, key, &serialized)
	if err != nil {
		return nil, err
	}
	if !found {
		return ledger.NewVideoPaidStorage(), nil
	}
	storage, err := ledger.DeserializeVideoPaidStorage(serialized)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidStoredValue, key, err)
	}
	return storage, nil
}

func loadHistogram(ctx context.Context, store Store, videoID VideoID) (*ledger.Histogram, error) {
	histogram := &ledger.Histogram{}
	found, err := getJSON(ctx, store, HistogramKey(videoID), histogram)
	if err != nil {
		return nil, err
	}
	if !found {
		return ledger.NewHistogram(), nil
	}
	if err := histogram.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidStoredValue, HistogramKey(videoID), err)
	}
	return histogram, nil
}

func loadUserStats(ctx context.Context, store Store, userID UserID) (*ledger.UserStats, error) {
	stats := ledger.NewUserStats()
	if _, err := getJSON(ctx, store, UserStatsKey(userID), stats); err != nil {
		return nil, err
	}
	if stats.Channels == nil {
		stats.Channels = map[string]float64{}
	}
	return stats, nil
}

func loadSettings(ctx context.Context, store Store, videoID VideoID) (Settings, error) {
	keys := keysForSettings(videoID)
	var settings Settings
	if _, err := getJSON(ctx, store, keys.paymentPointer, &settings.PaymentPointer); err != nil {
		return Settings{}, err
	}
	if !settings.Monetized() {
		return Settings{}, nil
	}
	if _, err := getJSON(ctx, store, keys.receiptService, &settings.ReceiptService); err != nil {
		return Settings{}, err
	}
	if _, err := getJSON(ctx, store, keys.currency, &settings.Currency); err != nil {
		return Settings{}, err
	}
	var viewCost, adSkipCost float64
	found, err := getJSON(ctx, store, keys.viewCost, &viewCost)
	if err != nil {
		return Settings{}, err
	}
	if found {
		settings.ViewCost = &viewCost
	}
	found, err = getJSON(ctx, store, keys.adSkipCost, &adSkipCost)
	if err != nil {
		return Settings{}, err
	}
	if found {
		settings.AdSkipCost = &adSkipCost
	}
	return settings, nil
}

func normalizeSettings(settings Settings) (Settings, error) {
	settings.PaymentPointer = strings.TrimSpace(settings.PaymentPointer)
	settings.Currency = strings.TrimSpace(settings.Currency)
	if settings.Currency != "" {
		if _, ok := ledger.LookupCurrency(settings.Currency); !ok {
			return Settings{}, fmt.Errorf("%w: unsupported currency %q", ErrInvalidSettings, settings.Currency)
		}
	}
	for _, cost := range []*float64{settings.ViewCost, settings.AdSkipCost} {
		if cost == nil {
			continue
		}
		if *cost < 0 || math.IsNaN(*cost) || math.IsInf(*cost, 0) {
			return Settings{}, fmt.Errorf("%w: cost %v", ErrInvalidSettings, *cost)
		}
	}
	if (positive(settings.ViewCost) || positive(settings.AdSkipCost)) && settings.Currency == "" {
		return Settings{}, fmt.Errorf("%w: currency required with a cost", ErrInvalidSettings)
	}
	return settings, nil
}

// getJSON decodes the value under key into target. A missing key or a stored
// JSON null reports false.
func getJSON(ctx context.Context, store Store, key string, target any) (bool, error) {
	raw, err := store.Get(ctx, key)
	if errors.Is(err, ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if strings.TrimSpace(string(raw)) == "null" {
		return false, nil
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return false, fmt.Errorf("%w: %s: %w", ErrInvalidStoredValue, key, err)
	}
	return true, nil
}

func putJSON(ctx context.Context, store Store, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return store.Put(ctx, key, raw)
}

func putOrDelete(ctx context.Context, store Store, key string, value any, present bool) error {
	if !present {
		return store.Delete(ctx, key)
	}
	return putJSON(ctx, store, key, value)
}

func positive(value *float64) bool {
	return value != nil && !math.IsNaN(*value) && *value > 0
}

func sumParts(parts []float64) float64 {
	var sum float64
	for _, part := range parts {
		sum += part
	}
	return sum
}
