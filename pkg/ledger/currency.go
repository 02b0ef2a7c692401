package ledger

import "strings"

// Currency describes an asset the price source can quote.
// An empty CoinGeckoID means the price source cannot use it as a base.
type Currency struct {
	CoinGeckoQuote string
	CoinGeckoID    string
	Network        string
	NameSingular   string
	NamePlural     string
	Code           string
	Symbol         string
}

// Quotable reports whether the currency can be the base of a price request.
func (currency Currency) Quotable() bool {
	return currency.CoinGeckoID != ""
}

var quoteCurrencies = map[string]Currency{
	"btc":  {CoinGeckoQuote: "btc", CoinGeckoID: "bitcoin", Network: "Bitcoin", NameSingular: "bitcoin", NamePlural: "bitcoins", Code: "BTC", Symbol: "₿"},
	"eth":  {CoinGeckoQuote: "eth", CoinGeckoID: "ethereum", Network: "Ethereum", NameSingular: "ether", NamePlural: "ether", Code: "ETH", Symbol: "Ξ"},
	"ltc":  {CoinGeckoQuote: "ltc", CoinGeckoID: "litecoin", Network: "Litecoin", NameSingular: "litecoin", NamePlural: "litecoins", Code: "LTC"},
	"bch":  {CoinGeckoQuote: "bch", CoinGeckoID: "bitcoin-cash", Network: "Bitcoin Cash", NameSingular: "bitcoin cash", NamePlural: "bitcoin cash", Code: "BCH"},
	"bnb":  {CoinGeckoQuote: "bnb", Network: "Binance coin", NameSingular: "Binance coin", NamePlural: "Binance coins", Code: "BNB"},
	"eos":  {CoinGeckoQuote: "eos", CoinGeckoID: "eos", Network: "EOS", NameSingular: "EOS", NamePlural: "EOS", Code: "EOS"},
	"xrp":  {CoinGeckoQuote: "xrp", CoinGeckoID: "ripple", Network: "RippleNet", NameSingular: "XRP", NamePlural: "XRP", Code: "XRP"},
	"xlm":  {CoinGeckoQuote: "xlm", CoinGeckoID: "stellar", Network: "Stellar", NameSingular: "lumen", NamePlural: "lumens", Code: "XLM"},
	"link": {CoinGeckoQuote: "link", CoinGeckoID: "chainlink", Network: "Chainlink", NameSingular: "Chainlink token", NamePlural: "Chainlink tokens", Code: "LINK"},
	"dot":  {CoinGeckoQuote: "dot", CoinGeckoID: "polkadot", Network: "Polkadot", NameSingular: "DOT", NamePlural: "DOT", Code: "DOT"},
	"yfi":  {CoinGeckoQuote: "yfi", CoinGeckoID: "yearn-finance", Network: "yearn.finance", NameSingular: "YFI", NamePlural: "YFI", Code: "YFI"},
	"usd":  {CoinGeckoQuote: "usd", CoinGeckoID: "usd-coin", Network: "US dollar", NameSingular: "dollar", NamePlural: "dollars", Code: "USD", Symbol: "$"},
	"aed":  {CoinGeckoQuote: "aed", Network: "Emirati dirham", NameSingular: "dirham", NamePlural: "dirhams", Code: "AED", Symbol: "د.إ"},
	"ars":  {CoinGeckoQuote: "ars", Network: "Argentine peso", NameSingular: "peso", NamePlural: "pesos", Code: "ARS", Symbol: "$m/n"},
	"aud":  {CoinGeckoQuote: "aud", Network: "Australian dollar", NameSingular: "dollar", NamePlural: "dollars", Code: "AUD", Symbol: "AU$"},
	"bdt":  {CoinGeckoQuote: "bdt", Network: "Bangladeshi taka", NameSingular: "taka", NamePlural: "takas", Code: "BDT", Symbol: "৳"},
	"bhd":  {CoinGeckoQuote: "bhd", Network: "Bahraini dinar", NameSingular: "dinar", NamePlural: "dinars", Code: "BHD", Symbol: "BD "},
	"bmd":  {CoinGeckoQuote: "bmd", Network: "Bermudan dollar", NameSingular: "dollar", NamePlural: "dollars", Code: "BMD", Symbol: "BD$"},
	"brl":  {CoinGeckoQuote: "brl", Network: "Brazilian real", NameSingular: "real", NamePlural: "reals", Code: "BRL", Symbol: "R$"},
	"cad":  {CoinGeckoQuote: "cad", Network: "Canadian dollar", NameSingular: "dollar", NamePlural: "dollars", Code: "CAD", Symbol: "CA$"},
	"chf":  {CoinGeckoQuote: "chf", Network: "Swiss Franc", NameSingular: "franc", NamePlural: "francs", Code: "CHF", Symbol: "CHF "},
	"clp":  {CoinGeckoQuote: "clp", Network: "Chilean peso", NameSingular: "peso", NamePlural: "pesos", Code: "CLP", Symbol: "CLP$"},
	"cny":  {CoinGeckoQuote: "cny", Network: "Renminbi", NameSingular: "yuan", NamePlural: "yuan", Code: "CNY", Symbol: "CN¥"},
	"czk":  {CoinGeckoQuote: "czk", Network: "Czech koruna", NameSingular: "koruna", NamePlural: "korunas", Code: "CZK", Symbol: "Kč "},
	"dkk":  {CoinGeckoQuote: "dkk", Network: "Danish krone", NameSingular: "krone", NamePlural: "kroner", Code: "DKK", Symbol: "kr."},
	"eur":  {CoinGeckoQuote: "eur", Network: "Euro", NameSingular: "Euro", NamePlural: "Euros", Code: "EUR", Symbol: "€"},
	"gbp":  {CoinGeckoQuote: "gbp", Network: "British Pound", NameSingular: "Pound", NamePlural: "Pounds", Code: "GBP", Symbol: "£"},
	"hkd":  {CoinGeckoQuote: "hkd", Network: "Hong Kong dollar", NameSingular: "dollar", NamePlural: "dollars", Code: "HKD", Symbol: "HK$"},
	"sats": {CoinGeckoQuote: "sats", Network: "Satoshi", NameSingular: "Satoshi", NamePlural: "Satoshis", Code: "sat"},
}

// Only these asset codes have been seen on interledger payments.
var interledgerCurrencies = map[string]string{
	"xrp": "xrp",
	"btc": "btc",
	"eth": "eth",
	"usd": "usd",
}

// LookupCurrency finds a quote currency by code, case-insensitively.
func LookupCurrency(code string) (Currency, bool) {
	currency, ok := quoteCurrencies[strings.ToLower(strings.TrimSpace(code))]
	return currency, ok
}

// CurrencyFromInterledgerCode maps a payment asset code to a quotable currency.
func CurrencyFromInterledgerCode(assetCode string) (Currency, bool) {
	key, ok := interledgerCurrencies[strings.ToLower(assetCode)]
	if !ok {
		return Currency{}, false
	}
	return LookupCurrency(key)
}
