package pricefeed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MarkoPoloResearchLab/paywall/pkg/ledger"
)

func mustCurrency(test *testing.T, code string) ledger.Currency {
	test.Helper()
	currency, ok := ledger.LookupCurrency(code)
	if !ok {
		test.Fatalf("unknown currency %s", code)
	}
	return currency
}

func TestFetchPrice(test *testing.T) {
	test.Parallel()
	var query string
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Path != "/api/v3/simple/price" {
			http.NotFound(writer, request)
			return
		}
		query = request.URL.RawQuery
		writer.Header().Set("Content-Type", "application/json")
		_, _ = writer.Write([]byte(`{"ripple":{"usd":0.52}}`))
	}))
	defer server.Close()

	client, err := NewClient(server.URL + "/api/")
	if err != nil {
		test.Fatalf("new client: %v", err)
	}
	price, err := client.FetchPrice(context.Background(), mustCurrency(test, "xrp"), mustCurrency(test, "usd"))
	if err != nil {
		test.Fatalf("fetch price: %v", err)
	}
	if price != 0.52 {
		test.Fatalf("expected 0.52, got %v", price)
	}
	if query != "ids=ripple&vs_currencies=usd" {
		test.Fatalf("unexpected query %q", query)
	}
}

func TestFetchPriceErrors(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name     string
		status   int
		body     string
		base     string
		quote    string
		expected error
	}{
		{name: "missing field", status: http.StatusOK, body: `{"ripple":{}}`, base: "xrp", quote: "eur", expected: ErrMissingPrice},
		{name: "server error", status: http.StatusTooManyRequests, body: `{}`, base: "xrp", quote: "usd", expected: ErrUnexpectedStatus},
		{name: "base without id", status: http.StatusOK, body: `{}`, base: "eur", quote: "usd", expected: ErrNotQuotable},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
				writer.WriteHeader(testCase.status)
				_, _ = writer.Write([]byte(testCase.body))
			}))
			defer server.Close()
			client, err := NewClient(server.URL)
			if err != nil {
				test.Fatalf("new client: %v", err)
			}
			_, err = client.FetchPrice(context.Background(), mustCurrency(test, testCase.base), mustCurrency(test, testCase.quote))
			if !errors.Is(err, testCase.expected) {
				test.Fatalf("expected %v, got %v", testCase.expected, err)
			}
		})
	}
}

func TestClientDrivesExchange(test *testing.T) {
	test.Parallel()
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
		calls++
		_, _ = writer.Write([]byte(`{"ripple":{"usd":2}}`))
	}))
	defer server.Close()
	client, err := NewClient(server.URL)
	if err != nil {
		test.Fatalf("new client: %v", err)
	}
	exchange, err := ledger.NewExchange(client)
	if err != nil {
		test.Fatalf("new exchange: %v", err)
	}
	usd := mustCurrency(test, "usd")
	xrp := mustCurrency(test, "xrp")
	for index := 0; index < 3; index++ {
		price, err := exchange.GetPrice(context.Background(), xrp, usd)
		if err != nil || price != 2 {
			test.Fatalf("unexpected price %v %v", price, err)
		}
	}
	if calls != 1 {
		test.Fatalf("expected one upstream call, got %d", calls)
	}
}
