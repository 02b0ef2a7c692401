package ledger

import (
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

func (amount *RealAmount) Display() string { return displayBalances(&amount.state, 0) }

func (amount *RealAmount) DisplayRate(durationSeconds float64) string {
	return displayBalances(&amount.state, durationSeconds)
}

func (amount *ReferenceAmount) Display() string { return displayBalances(&amount.state, 0) }

func (amount *ReferenceAmount) DisplayRate(durationSeconds float64) string {
	return displayBalances(&amount.state, durationSeconds)
}

// displayBalances renders every asset with verified and unverified funds
// merged. A positive duration renders a rate per ten minutes.
func displayBalances(holdings *balances, durationSeconds float64) string {
	merged := make(map[string]decimal.Decimal)
	for assetCode, quantity := range holdings.unverified {
		merged[assetCode] = merged[assetCode].Add(quantity.Decimal())
	}
	for assetCode, quantity := range holdings.verified {
		merged[assetCode] = merged[assetCode].Add(quantity.Decimal())
	}
	parts := make([]string, 0, len(merged))
	for _, assetCode := range sortedDecimalAssets(merged) {
		value := merged[assetCode]
		if value.IsZero() {
			continue
		}
		if durationSeconds > 0 {
			value = value.Mul(decimal.NewFromInt(ratePeriodSeconds)).Div(decimal.NewFromFloat(durationSeconds))
		}
		rendered := formatDecimal(value)
		if currency, ok := LookupCurrency(assetCode); ok && currency.Symbol != "" {
			rendered = currency.Symbol + rendered
		} else {
			rendered = rendered + " " + assetCode
		}
		if durationSeconds > 0 {
			rendered += "/10m"
		}
		parts = append(parts, rendered)
	}
	if len(parts) == 0 {
		return "0"
	}
	return strings.Join(parts, " + ")
}

func formatDecimal(value decimal.Decimal) string {
	if value.Abs().GreaterThan(decimal.NewFromFloat(displayThreshold)) {
		return value.Round(displayPrecision).String()
	}
	return strconv.FormatFloat(value.InexactFloat64(), 'e', 3, 64)
}

func sortedDecimalAssets(source map[string]decimal.Decimal) []string {
	assets := make([]string, 0, len(source))
	for assetCode := range source {
		assets = append(assets, assetCode)
	}
	sort.Strings(assets)
	return assets
}

// hms renders seconds as h:mm:ss for debug listings.
func hms(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	whole := int64(seconds)
	hours := whole / 3600
	minutes := (whole % 3600) / 60
	remainder := seconds - float64(hours*3600+minutes*60)
	var builder strings.Builder
	if hours > 0 {
		builder.WriteString(strconv.FormatInt(hours, 10))
		builder.WriteString(":")
		if minutes < 10 {
			builder.WriteString("0")
		}
	}
	builder.WriteString(strconv.FormatInt(minutes, 10))
	builder.WriteString(":")
	if remainder < 10 {
		builder.WriteString("0")
	}
	builder.WriteString(strconv.FormatFloat(remainder, 'f', 3, 64))
	return builder.String()
}
