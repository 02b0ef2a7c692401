package monetization

const (
	keyPrefixView           = "stats_view_v-"
	keyInfixUser            = "_user-"
	keyPrefixHistogram      = "stats_histogram_v-"
	keyPrefixUserStats      = "stats_user-"
	keyPrefixPaymentPointer = "web-monetization-payment-pointer_v-"
	keyPrefixReceiptService = "web-monetization-receipt-service_v-"
	keyPrefixCurrency       = "web-monetization-currency_v-"
	keyPrefixViewCost       = "web-monetization-view-cost_v-"
	keyPrefixAdSkipCost     = "web-monetization-ad-skip-cost_v-"
)

// ViewKey stores the committed VideoPaidStorage of one viewer for one video.
func ViewKey(video VideoID, user UserID) string {
	return keyPrefixView + video.String() + keyInfixUser + user.String()
}

// HistogramKey stores the contribution aggregate of a video.
func HistogramKey(video VideoID) string {
	return keyPrefixHistogram + video.String()
}

// UserStatsKey stores the opt-out flag and channel totals of a viewer.
func UserStatsKey(user UserID) string {
	return keyPrefixUserStats + user.String()
}

type settingsKeys struct {
	paymentPointer string
	receiptService string
	currency       string
	viewCost       string
	adSkipCost     string
}

func keysForSettings(video VideoID) settingsKeys {
	return settingsKeys{
		paymentPointer: keyPrefixPaymentPointer + video.String(),
		receiptService: keyPrefixReceiptService + video.String(),
		currency:       keyPrefixCurrency + video.String(),
		viewCost:       keyPrefixViewCost + video.String(),
		adSkipCost:     keyPrefixAdSkipCost + video.String(),
	}
}

func (keys settingsKeys) all() []string {
	return []string{keys.paymentPointer, keys.receiptService, keys.currency, keys.viewCost, keys.adSkipCost}
}
