package monetization

import (
	"fmt"
	"strings"

	"github.com/MarkoPoloResearchLab/paywall/pkg/ledger"
)

// Monetization states reported per video.
const (
	StatusUnmonetized = "unmonetized"
	StatusMonetized   = "monetized"
	StatusAdSkip      = "ad-skip"
	StatusPayWall     = "pay-wall"
	StatusUnknown     = "unknown"
)

// UserID identifies an authenticated viewer.
type UserID string

// NewUserID validates and trims a viewer id.
func NewUserID(raw string) (UserID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	return UserID(trimmed), nil
}

func (id UserID) String() string {
	return string(id)
}

// VideoID identifies a video.
type VideoID string

// NewVideoID validates and trims a video id.
func NewVideoID(raw string) (VideoID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidVideoID)
	}
	if strings.ContainsAny(trimmed, "/_ ") {
		return "", fmt.Errorf("%w: %q", ErrInvalidVideoID, trimmed)
	}
	return VideoID(trimmed), nil
}

func (id VideoID) String() string {
	return string(id)
}

// Video is a catalog entry.
type Video struct {
	ID              VideoID `json:"id"`
	ChannelID       string  `json:"channelId"`
	DurationSeconds float64 `json:"duration"`
}

// Settings is the per-video monetization configuration.
type Settings struct {
	PaymentPointer string   `json:"paymentPointer"`
	ReceiptService bool     `json:"receiptService"`
	Currency       string   `json:"currency,omitempty"`
	ViewCost       *float64 `json:"viewCost,omitempty"`
	AdSkipCost     *float64 `json:"adSkipCost,omitempty"`
}

// Monetized reports whether a payment pointer is configured.
func (settings Settings) Monetized() bool {
	return strings.TrimSpace(settings.PaymentPointer) != ""
}

// ViewCommit is what a viewer submits for one video.
type ViewCommit struct {
	Receipts   ledger.SerializedReceipts `json:"receipts"`
	Changes    ledger.SerializedChanges  `json:"changes"`
	Subscribed bool                      `json:"subscribed"`
}

// HistogramUpdate is what an anonymous viewer submits for one video.
type HistogramUpdate struct {
	Receipts   ledger.SerializedReceipts          `json:"receipts"`
	Histogram  []ledger.SerializedHistogramChange `json:"histogram"`
	Subscribed bool                               `json:"subscribed"`
}

// Status describes the monetization of one video for one viewer.
type Status struct {
	Monetization string                   `json:"monetization"`
	Currency     string                   `json:"currency,omitempty"`
	ViewCost     *float64                 `json:"viewCost,omitempty"`
	Duration     *float64                 `json:"duration,omitempty"`
	Paid         *ledger.SerializedAmount `json:"paid,omitempty"`
}
