package ledger

import (
	"context"
	"math"
	"strconv"
	"time"
)

const millisecondsPerDay = 86400000

// HistoryDay splits one day of contributions by viewer kind.
type HistoryDay struct {
	Unknown    float64 `json:"unknown"`
	Subscribed float64 `json:"subscribed"`
}

// Histogram aggregates contributions to a video in its configured currency.
// Parts is indexed by histogram bin and History by days since the Unix epoch.
type Histogram struct {
	Parts   []float64             `json:"parts"`
	History map[string]HistoryDay `json:"history"`
}

// NewHistogram returns an empty aggregate.
func NewHistogram() *Histogram {
	return &Histogram{Parts: []float64{}, History: map[string]HistoryDay{}}
}

// UserStats is what one viewer contributed per channel.
type UserStats struct {
	OptOut   bool               `json:"optOut"`
	Channels map[string]float64 `json:"channels"`
}

// NewUserStats returns stats for a viewer who has not opted out.
func NewUserStats() *UserStats {
	return &UserStats{Channels: map[string]float64{}}
}

// VideoInfo is what the aggregate needs to know about a video.
type VideoInfo struct {
	ID              string
	ChannelID       string
	DurationSeconds float64
	Currency        Currency
}

// LastHistogramBin is the highest bin a video of this duration can have.
func (video VideoInfo) LastHistogramBin() int {
	return int(math.Floor(video.DurationSeconds / HistogramBinSeconds))
}

// CommitHistogramChanges adds each bin, converted to the video currency, to the
// aggregate and to stats when given. A bin past the end of the video stops the
// batch. It reports whether anything was added.
func (histogram *Histogram) CommitHistogramChanges(ctx context.Context, exchange *Exchange, now time.Time, video VideoInfo, changes []HistogramChange, subscribed bool, stats *UserStats) bool {
	if histogram.History == nil {
		histogram.History = map[string]HistoryDay{}
	}
	lastBin := video.LastHistogramBin()
	dayKey := strconv.FormatInt(now.UnixMilli()/millisecondsPerDay, 10)
	changed := false
	for _, change := range changes {
		if change.Bin < 0 || change.Bin > lastBin {
			break
		}
		for len(histogram.Parts) <= change.Bin {
			histogram.Parts = append(histogram.Parts, 0)
		}
		converted := exchange.Convert(ctx, change.Uncommitted, video.Currency)
		sum := sumInCurrency(converted, video.Currency.Code)

		histogram.Parts[change.Bin] += sum
		day := histogram.History[dayKey]
		if subscribed {
			day.Subscribed += sum
		} else {
			day.Unknown += sum
		}
		histogram.History[dayKey] = day

		if stats != nil {
			if stats.Channels == nil {
				stats.Channels = map[string]float64{}
			}
			stats.Channels[video.ChannelID] += sum
		}
		if sum != 0 {
			changed = true
		}
	}
	return changed
}

func sumInCurrency(amount *ReferenceAmount, code string) float64 {
	var sum float64
	if quantity, ok := amount.state.verified[code]; ok {
		sum += quantity.Float64()
	}
	if quantity, ok := amount.state.unverified[code]; ok {
		sum += quantity.Float64()
	}
	return sum
}

// Validate rejects an aggregate missing either of its fields.
func (histogram *Histogram) Validate() error {
	if histogram.Parts == nil || histogram.History == nil {
		return ErrInvalidState
	}
	return nil
}
