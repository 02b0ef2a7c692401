package ledger

import "math"

// Timestamp is a position on the video timeline in seconds.
type Timestamp float64

// SpanEnd is the end of a span, either still growing or fixed.
type SpanEnd struct {
	at   Timestamp
	open bool
}

// OpenAt returns the end of a span that is still playing, last recorded at instant.
func OpenAt(instant Timestamp) SpanEnd {
	return SpanEnd{at: instant, open: true}
}

// ClosedAt returns a fixed span end.
func ClosedAt(instant Timestamp) SpanEnd {
	return SpanEnd{at: instant}
}

// At returns the recorded end position.
func (end SpanEnd) At() Timestamp {
	return end.at
}

// IsOpen reports whether the span is still playing.
func (end SpanEnd) IsOpen() bool {
	return end.open
}

func (end SpanEnd) extended(instant Timestamp) SpanEnd {
	return SpanEnd{at: maxTimestamp(end.at, instant), open: end.open}
}

func (end SpanEnd) closed() SpanEnd {
	return SpanEnd{at: end.at}
}

// Span is a contiguous stretch of playback and what was paid during it.
// Change marks spans the server has not acknowledged yet.
type Span struct {
	Start           Timestamp
	End             SpanEnd
	Paid            *RealAmount
	PaidUncommitted *RealAmount
	Change          bool
}

func newChangeSpan(instant Timestamp, end SpanEnd) *Span {
	return &Span{
		Start:           instant,
		End:             end,
		Paid:            NewRealAmount(),
		PaidUncommitted: NewRealAmount(),
		Change:          true,
	}
}

// Duration is the length of the span up to its recorded end.
func (span *Span) Duration() float64 {
	return float64(span.End.At() - span.Start)
}

func (span *Span) clone() Span {
	return Span{
		Start:           span.Start,
		End:             span.End,
		Paid:            span.Paid.Clone(),
		PaidUncommitted: span.PaidUncommitted.Clone(),
		Change:          span.Change,
	}
}

// HistogramBin holds money received during one fixed-width slice of the timeline.
type HistogramBin struct {
	Committed   *RealAmount
	Uncommitted *RealAmount
}

// HistogramBinIndex returns the bin covering instant.
func HistogramBinIndex(instant Timestamp) int {
	if instant < 0 {
		return 0
	}
	return int(math.Floor(float64(instant) / HistogramBinSeconds))
}

func maxTimestamp(left Timestamp, right Timestamp) Timestamp {
	if left > right {
		return left
	}
	return right
}

func withinEpsilon(left Timestamp, right Timestamp, epsilon float64) bool {
	return math.Abs(float64(left-right)) < epsilon
}
