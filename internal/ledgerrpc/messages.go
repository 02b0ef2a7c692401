package ledgerrpc

import (
	"github.com/MarkoPoloResearchLab/paywall/internal/monetization"
	"github.com/MarkoPoloResearchLab/paywall/pkg/ledger"
)

// Empty is the reply of operations that return nothing.
type Empty struct{}

type CommitViewRequest struct {
	UserID  string                  `json:"userId"`
	VideoID string                  `json:"videoId"`
	Commit  monetization.ViewCommit `json:"commit"`
}

type CommitViewResponse struct {
	State ledger.SerializedState `json:"state"`
}

type UpdateHistogramRequest struct {
	VideoID string                       `json:"videoId"`
	Update  monetization.HistogramUpdate `json:"update"`
}

type UpdateHistogramResponse struct {
	Committed []ledger.SerializedHistogramChange `json:"committed"`
}

type GetHistogramRequest struct {
	VideoID string `json:"videoId"`
}

type GetHistogramResponse struct {
	Histogram ledger.Histogram `json:"histogram"`
}

type SetOptOutRequest struct {
	UserID string `json:"userId"`
	OptOut *bool  `json:"optOut"`
}

type SetOptOutResponse struct {
	OptOut bool `json:"optOut"`
}

type UserChannelsRequest struct {
	UserID string `json:"userId"`
}

type UserChannelsResponse struct {
	Stats ledger.UserStats `json:"stats"`
}

// MonetizationStatusBulkRequest leaves UserID empty for anonymous viewers.
type MonetizationStatusBulkRequest struct {
	UserID string   `json:"userId,omitempty"`
	Videos []string `json:"videos"`
}

type MonetizationStatusBulkResponse struct {
	Statuses map[string]monetization.Status `json:"statuses"`
}

type GetVideoSettingsRequest struct {
	VideoID string `json:"videoId"`
}

type GetVideoSettingsResponse struct {
	Settings monetization.Settings `json:"settings"`
}

type UpdateVideoSettingsRequest struct {
	VideoID  string                `json:"videoId"`
	Settings monetization.Settings `json:"settings"`
}

type RegisterVideoRequest struct {
	Video monetization.Video `json:"video"`
}
