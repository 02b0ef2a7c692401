package ledger

import "time"

const (
	// HistogramBinSeconds is the width of one histogram bucket on the video timeline.
	HistogramBinSeconds = 15

	// AssetXRP is the asset code used for fast pay-wall comparisons.
	AssetXRP = "XRP"

	spanMergeEpsilon     = 0.001
	spanMatchEpsilon     = 0.01
	spanMergeLoopLimit   = 10000
	overdraftTolerance   = 0.999
	referenceReceiptCap  = 1000
	pendingReceiptCap    = 1000
	verifiedReceiptLimit = 1000
	firstReceiptSeq      = 100
	displayThreshold     = 0.01
	displayPrecision     = 8
	ratePeriodSeconds    = 600
	conversionMaxDigits  = 30

	defaultRateTTL = 4 * time.Hour
)
