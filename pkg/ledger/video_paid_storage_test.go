package ledger

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

type storedSpanExpectation struct {
	start Timestamp
	end   Timestamp
	paid  float64
}

func usdSpan(test *testing.T, start Timestamp, end Timestamp, dollars int64) ChangeSpan {
	test.Helper()
	return ChangeSpan{Start: start, End: end, PaidUncommitted: mustRealAmount(test, dollars, 0, assetUSD)}
}

func mustCommit(test *testing.T, storage *VideoPaidStorage, spans ...ChangeSpan) bool {
	test.Helper()
	changed, err := storage.CommitChanges(&ChangeSet{Spans: spans})
	if err != nil {
		test.Fatalf("commit: %v", err)
	}
	return changed
}

func usdValue(amount Amount) float64 {
	quantity, ok := amount.Unverified()[assetUSD]
	if !ok {
		return 0
	}
	return quantity.Float64()
}

func assertStoredSpans(test *testing.T, storage *VideoPaidStorage, expected []storedSpanExpectation) {
	test.Helper()
	spans := storage.Spans()
	if len(spans) != len(expected) {
		test.Fatalf("expected %d spans, got %+v", len(expected), spans)
	}
	for index, span := range spans {
		if span.Start != expected[index].start || span.End != expected[index].end || usdValue(span.Paid) != expected[index].paid {
			test.Fatalf("span %d: expected %+v, got %v-%v paid %v", index, expected[index], span.Start, span.End, usdValue(span.Paid))
		}
	}
}

func TestCommitChangesExtendsOverlappingSpan(test *testing.T) {
	test.Parallel()
	storage := NewVideoPaidStorage()
	mustCommit(test, storage, usdSpan(test, 0, 10, 1))

	if !mustCommit(test, storage, usdSpan(test, 8, 15, 2)) {
		test.Fatalf("expected change reported")
	}
	assertStoredSpans(test, storage, []storedSpanExpectation{{start: 0, end: 15, paid: 3}})
	if got := usdValue(storage.Total()); got != 3 {
		test.Fatalf("expected total 3 after adding 2, got %v", got)
	}
}

func TestCommitChangesPlacement(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name     string
		incoming ChangeSpan
		expected []storedSpanExpectation
	}{
		{name: "disjoint before", incoming: ChangeSpan{Start: 0, End: 5}, expected: []storedSpanExpectation{{0, 5, 2}, {10, 20, 1}}},
		{name: "overlapping start", incoming: ChangeSpan{Start: 5, End: 12}, expected: []storedSpanExpectation{{5, 20, 3}}},
		{name: "covering", incoming: ChangeSpan{Start: 5, End: 25}, expected: []storedSpanExpectation{{5, 25, 3}}},
		{name: "inside", incoming: ChangeSpan{Start: 12, End: 18}, expected: []storedSpanExpectation{{10, 20, 3}}},
		{name: "overlapping end", incoming: ChangeSpan{Start: 15, End: 30}, expected: []storedSpanExpectation{{10, 30, 3}}},
		{name: "touching end", incoming: ChangeSpan{Start: 20, End: 30}, expected: []storedSpanExpectation{{10, 30, 3}}},
		{name: "disjoint after", incoming: ChangeSpan{Start: 25, End: 30}, expected: []storedSpanExpectation{{10, 20, 1}, {25, 30, 2}}},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			storage := NewVideoPaidStorage()
			mustCommit(test, storage, usdSpan(test, 10, 20, 1))
			incoming := testCase.incoming
			incoming.PaidUncommitted = mustRealAmount(test, 2, 0, assetUSD)
			mustCommit(test, storage, incoming)
			assertStoredSpans(test, storage, testCase.expected)
			if got := usdValue(storage.Total()); got != 3 {
				test.Fatalf("expected total 3, got %v", got)
			}
		})
	}
}

func TestCommitChangesCascadesWithoutRecounting(test *testing.T) {
	test.Parallel()
	storage := NewVideoPaidStorage()
	mustCommit(test, storage, usdSpan(test, 0, 5, 1), usdSpan(test, 6, 10, 1), usdSpan(test, 11, 15, 1))
	assertStoredSpans(test, storage, []storedSpanExpectation{{0, 5, 1}, {6, 10, 1}, {11, 15, 1}})

	mustCommit(test, storage, usdSpan(test, 4, 12, 1))

	assertStoredSpans(test, storage, []storedSpanExpectation{{0, 15, 4}})
	if got := usdValue(storage.Total()); got != 4 {
		test.Fatalf("expected total 4, got %v", got)
	}
}

func TestCommitChangesCascadesFromEarlierStart(test *testing.T) {
	test.Parallel()
	storage := NewVideoPaidStorage()
	mustCommit(test, storage, usdSpan(test, 10, 12, 1), usdSpan(test, 14, 16, 1))

	mustCommit(test, storage, usdSpan(test, 5, 15, 1))

	assertStoredSpans(test, storage, []storedSpanExpectation{{5, 16, 3}})
	if got := usdValue(storage.Total()); got != 3 {
		test.Fatalf("expected total 3, got %v", got)
	}
}

func TestCommitChangesTotalsEveryDistinctPayment(test *testing.T) {
	test.Parallel()
	storage := NewVideoPaidStorage()
	batches := [][]ChangeSpan{
		{usdSpan(test, 30, 40, 1)},
		{usdSpan(test, 0, 10, 2), usdSpan(test, 50, 60, 3)},
		{usdSpan(test, 9, 31, 4)},
		{usdSpan(test, 35, 55, 5), usdSpan(test, 70, 70, 6)},
		{usdSpan(test, 65, 75, 7)},
	}
	var expected float64
	for _, batch := range batches {
		for _, span := range batch {
			expected += usdValue(span.PaidUncommitted)
		}
		mustCommit(test, storage, batch...)
	}
	if got := usdValue(storage.Total()); got != expected {
		test.Fatalf("expected total %v, got %v", expected, got)
	}
	var spanSum float64
	spans := storage.Spans()
	for index, span := range spans {
		spanSum += usdValue(span.Paid)
		if index > 0 && span.Start <= spans[index-1].End {
			test.Fatalf("spans overlap: %+v", spans)
		}
	}
	if spanSum != expected {
		test.Fatalf("expected spans to hold %v, got %v", expected, spanSum)
	}
}

func TestCommitChangesSkipsEmptySpans(test *testing.T) {
	test.Parallel()
	storage := NewVideoPaidStorage()
	if mustCommit(test, storage, ChangeSpan{Start: 7, End: 7, PaidUncommitted: NewRealAmount()}) {
		test.Fatalf("expected empty span to be ignored")
	}
	if len(storage.Spans()) != 0 {
		test.Fatalf("expected no spans")
	}
}

func TestCommitChangesValidatesBeforeMerging(test *testing.T) {
	test.Parallel()
	storage := NewVideoPaidStorage()
	_, err := storage.CommitChanges(&ChangeSet{Spans: []ChangeSpan{
		usdSpan(test, 0, 10, 1),
		usdSpan(test, 20, 15, 1),
	}})
	if !errors.Is(err, ErrInvalidSpan) {
		test.Fatalf("expected invalid span, got %v", err)
	}
	if len(storage.Spans()) != 0 || !storage.Total().IsEmpty() {
		test.Fatalf("expected storage untouched")
	}
}

func TestCommitChangesDoesNotMutateInput(test *testing.T) {
	test.Parallel()
	storage := NewVideoPaidStorage()
	incoming := usdSpan(test, 0, 10, 2)
	mustCommit(test, storage, incoming)
	if usdValue(incoming.PaidUncommitted) != 2 {
		test.Fatalf("commit drained the caller's amount")
	}
}

func TestVideoPaidStorageSerializationRoundTrip(test *testing.T) {
	test.Parallel()
	storage := NewVideoPaidStorage()
	mustCommit(test, storage, usdSpan(test, 0, 10, 1), usdSpan(test, 20, 30, 2))

	encoded, err := json.Marshal(storage.Serialize())
	if err != nil {
		test.Fatalf("marshal: %v", err)
	}
	var decoded SerializedVideoPaid
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		test.Fatalf("unmarshal: %v", err)
	}
	restored, err := DeserializeVideoPaidStorage(decoded)
	if err != nil {
		test.Fatalf("deserialize: %v", err)
	}
	if !reflect.DeepEqual(restored.Serialize(), storage.Serialize()) {
		test.Fatalf("round trip mismatch")
	}

	decoded.Spans[1].Start = 5
	if _, err := DeserializeVideoPaidStorage(decoded); !errors.Is(err, ErrInvalidState) {
		test.Fatalf("expected overlapping spans rejected, got %v", err)
	}
}
