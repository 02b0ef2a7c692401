package ledger

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SpanStart describes where playback resumed. When Unpaid is false the
// position is already paid for until PaidEnds. When Unpaid is true NextPaid is
// the start of the next span, or nil when there is none.
type SpanStart struct {
	Unpaid   bool
	NextPaid *Timestamp
	PaidEnds Timestamp
}

// VideoPaidOption configures a VideoPaid instance.
type VideoPaidOption func(*VideoPaid)

// WithVideoPaidLogger wires a zap logger for caller misuse warnings.
func WithVideoPaidLogger(logger *zap.Logger) VideoPaidOption {
	return func(videoPaid *VideoPaid) {
		if logger != nil {
			videoPaid.logger = logger
		}
	}
}

// WithNonceGenerator overrides how session nonces are produced.
func WithNonceGenerator(generate func() string) VideoPaidOption {
	return func(videoPaid *VideoPaid) {
		if generate != nil {
			videoPaid.generateNonce = generate
		}
	}
}

// VideoPaid is the ledger of one viewing session. Spans are sorted by start
// and never overlap another span with the same Change value.
type VideoPaid struct {
	nonce         string
	total         *ReferenceAmount
	sessionTime   float64
	sessionTotal  *ReferenceAmount
	current       *Span
	spans         []*Span
	histogram     []HistogramBin
	logger        *zap.Logger
	generateNonce func() string
}

// NewVideoPaid returns an empty session ledger with a fresh nonce.
func NewVideoPaid(options ...VideoPaidOption) *VideoPaid {
	videoPaid := &VideoPaid{
		total:         NewReferenceAmount(),
		sessionTotal:  NewReferenceAmount(),
		logger:        zap.NewNop(),
		generateNonce: uuid.NewString,
	}
	for _, option := range options {
		option(videoPaid)
	}
	videoPaid.nonce = videoPaid.generateNonce()
	return videoPaid
}

// Nonce returns the token of the change cycle in progress.
func (videoPaid *VideoPaid) Nonce() string {
	return videoPaid.nonce
}

// Total returns the money received over the whole viewing history known locally.
func (videoPaid *VideoPaid) Total() *ReferenceAmount {
	return videoPaid.total.Clone()
}

// SessionTotal returns the money received since the session began.
func (videoPaid *VideoPaid) SessionTotal() *ReferenceAmount {
	return videoPaid.sessionTotal.Clone()
}

// Spans returns copies of the current spans in order.
func (videoPaid *VideoPaid) Spans() []Span {
	copies := make([]Span, 0, len(videoPaid.spans))
	for _, span := range videoPaid.spans {
		copies = append(copies, span.clone())
	}
	return copies
}

// Histogram returns copies of the local histogram bins.
func (videoPaid *VideoPaid) Histogram() []HistogramBin {
	copies := make([]HistogramBin, 0, len(videoPaid.histogram))
	for _, bin := range videoPaid.histogram {
		copies = append(copies, HistogramBin{Committed: bin.Committed.Clone(), Uncommitted: bin.Uncommitted.Clone()})
	}
	return copies
}

// Playing reports whether a span is open.
func (videoPaid *VideoPaid) Playing() bool {
	return videoPaid.current != nil
}

func (videoPaid *VideoPaid) indexOf(target *Span) int {
	for index, span := range videoPaid.spans {
		if span == target {
			return index
		}
	}
	return -1
}

func (videoPaid *VideoPaid) insertSpan(index int, span *Span) {
	videoPaid.spans = append(videoPaid.spans, nil)
	copy(videoPaid.spans[index+1:], videoPaid.spans[index:])
	videoPaid.spans[index] = span
}

func (videoPaid *VideoPaid) removeSpan(index int) {
	videoPaid.spans = append(videoPaid.spans[:index], videoPaid.spans[index+1:]...)
}

// StartSpan opens the span covering instant, creating one when none does.
func (videoPaid *VideoPaid) StartSpan(instant Timestamp) SpanStart {
	if videoPaid.current != nil {
		videoPaid.logger.Warn("span started before previous span ended",
			zap.Float64("instant", float64(instant)),
			zap.Float64("open_start", float64(videoPaid.current.Start)))
		videoPaid.current.End = videoPaid.current.End.closed()
		videoPaid.current = nil
	}

	var next *Span
	for index, span := range videoPaid.spans {
		if instant < span.Start {
			created := newChangeSpan(instant, OpenAt(instant))
			videoPaid.insertSpan(index, created)
			videoPaid.current = created
			next = videoPaid.spans[index+1]
			break
		}
		if instant <= span.End.At() {
			span.End = OpenAt(span.End.At())
			videoPaid.current = span
			if index+1 < len(videoPaid.spans) {
				next = videoPaid.spans[index+1]
			}
			break
		}
	}
	if videoPaid.current == nil {
		created := newChangeSpan(instant, OpenAt(instant))
		videoPaid.spans = append(videoPaid.spans, created)
		videoPaid.current = created
	}

	if videoPaid.current.End.At() == instant {
		result := SpanStart{Unpaid: true}
		if next != nil {
			nextStart := next.Start
			result.NextPaid = &nextStart
		}
		return result
	}
	return SpanStart{PaidEnds: videoPaid.current.End.At()}
}

// EndSpan closes the open span at its recorded end.
func (videoPaid *VideoPaid) EndSpan() {
	if videoPaid.current == nil {
		videoPaid.logger.Warn("span ended before it was started")
		return
	}
	videoPaid.closeCurrent()
}

// EndSpanAt closes the open span, extending it to instant. The end never moves backwards.
func (videoPaid *VideoPaid) EndSpanAt(instant Timestamp) {
	current := videoPaid.current
	if current == nil {
		videoPaid.logger.Warn("span ended before it was started",
			zap.Float64("instant", float64(instant)))
		return
	}
	if instant < current.Start {
		videoPaid.logger.Warn("span ended before its start, ignoring end",
			zap.String("instant", hms(float64(instant))),
			zap.String("start", hms(float64(current.Start))))
	}
	if current.End.At() < instant {
		videoPaid.sessionTime += float64(instant - current.End.At())
	}
	current.End = current.End.extended(instant)
	videoPaid.closeCurrent()
}

func (videoPaid *VideoPaid) closeCurrent() {
	current := videoPaid.current
	current.End = ClosedAt(maxTimestamp(current.End.At(), current.Start))
	videoPaid.current = nil

	index := videoPaid.indexOf(current)
	if index < 0 {
		return
	}
	for previousIndex := index - 1; previousIndex >= 0; previousIndex-- {
		previous := videoPaid.spans[previousIndex]
		if previous.Change != current.Change {
			continue
		}
		if float64(previous.End.At())+spanMergeEpsilon >= float64(current.Start) {
			if err := mergeSpanInto(previous, current); err != nil {
				videoPaid.logger.Error("span merge failed", zap.Error(err))
				return
			}
			videoPaid.removeSpan(index)
			current = previous
			index = previousIndex
		}
		break
	}
	nextIndex := index + 1
	for iteration := 0; nextIndex < len(videoPaid.spans); iteration++ {
		if iteration > spanMergeLoopLimit {
			videoPaid.logger.Error("span merge loop limit reached",
				zap.Int("spans", len(videoPaid.spans)))
			break
		}
		next := videoPaid.spans[nextIndex]
		if float64(next.Start) > float64(current.End.At())+spanMergeEpsilon {
			break
		}
		if next.Change != current.Change {
			nextIndex++
			continue
		}
		if err := mergeSpanInto(current, next); err != nil {
			videoPaid.logger.Error("span merge failed", zap.Error(err))
			break
		}
		videoPaid.removeSpan(nextIndex)
	}
}

// mergeSpanInto moves everything in source into destination and widens its end.
func mergeSpanInto(destination *Span, source *Span) error {
	if err := destination.Paid.MoveFrom(source.Paid); err != nil {
		return err
	}
	if err := destination.PaidUncommitted.MoveFrom(source.PaidUncommitted); err != nil {
		return err
	}
	destination.End = ClosedAt(maxTimestamp(destination.End.At(), source.End.At()))
	return nil
}

// Deposit records money received at instant. Zero deposits are ignored.
func (videoPaid *VideoPaid) Deposit(instant Timestamp, quantity Quantity, assetCode string, receipt *ReceiptSeq) error {
	if quantity.IsZero() {
		return nil
	}
	if assetCode == "" {
		return ErrMissingAssetCode
	}
	if err := videoPaid.total.DepositReference(quantity, assetCode, false); err != nil {
		return err
	}
	if err := videoPaid.sessionTotal.DepositReference(quantity, assetCode, false); err != nil {
		return err
	}
	if current := videoPaid.current; current == nil {
		videoPaid.logger.Warn("deposit without an open span",
			zap.Float64("instant", float64(instant)),
			zap.String("asset", assetCode))
	} else {
		if err := current.PaidUncommitted.Deposit(quantity, assetCode, false, receipt); err != nil {
			return err
		}
		current.Change = true
		if current.End.At() < instant {
			videoPaid.sessionTime += float64(instant - current.End.At())
		}
		current.End = current.End.extended(instant)
	}

	bin := HistogramBinIndex(instant)
	for len(videoPaid.histogram) <= bin {
		videoPaid.histogram = append(videoPaid.histogram, HistogramBin{
			Committed:   NewRealAmount(),
			Uncommitted: NewRealAmount(),
		})
	}
	return videoPaid.histogram[bin].Uncommitted.Deposit(quantity, assetCode, false, nil)
}

// TotalTime is the playback time covered by spans, including the open span up to instant.
func (videoPaid *VideoPaid) TotalTime(instant Timestamp) float64 {
	var sum float64
	for _, span := range videoPaid.spans {
		sum += span.Duration()
	}
	if current := videoPaid.current; current != nil && current.End.At() < instant {
		sum += float64(instant - current.End.At())
	}
	return sum
}

// SessionTime is the playback time since the session began, including the open span up to instant.
func (videoPaid *VideoPaid) SessionTime(instant Timestamp) float64 {
	if current := videoPaid.current; current != nil && current.End.At() < instant {
		return videoPaid.sessionTime + float64(instant-current.End.At())
	}
	return videoPaid.sessionTime
}

// ChangesEmpty reports whether there is nothing worth submitting.
func (videoPaid *VideoPaid) ChangesEmpty(instant Timestamp) bool {
	for _, span := range videoPaid.spans {
		if !span.Change || span.Start == span.End.At() {
			continue
		}
		if !span.End.IsOpen() || span.Start != instant {
			return false
		}
	}
	for _, bin := range videoPaid.histogram {
		if !bin.Uncommitted.IsEmpty() {
			return false
		}
	}
	return true
}

// DisplayTotal renders the lifetime total.
func (videoPaid *VideoPaid) DisplayTotal() string {
	return videoPaid.total.Display()
}

// Display lists every span for debugging.
func (videoPaid *VideoPaid) Display() string {
	if len(videoPaid.spans) == 0 {
		return "No spans"
	}
	var builder strings.Builder
	for _, span := range videoPaid.spans {
		arrow := " ---> "
		if span.Change {
			arrow = " +++> "
		}
		builder.WriteString(hms(float64(span.Start)))
		builder.WriteString(arrow)
		if span.End.IsOpen() {
			builder.WriteString("playing...")
		} else {
			builder.WriteString(hms(float64(span.End.At())))
		}
		builder.WriteString("    ")
		builder.WriteString(span.Paid.Display())
		if !span.PaidUncommitted.IsEmpty() {
			builder.WriteString(" + ")
			builder.WriteString(span.PaidUncommitted.Display())
		}
		if !span.End.IsOpen() && span.Duration() > 0 {
			fmt.Fprintf(&builder, " (%s)", span.Paid.DisplayRate(span.Duration()))
		}
		builder.WriteString("\n")
	}
	return builder.String()
}

// SerializeChanges extends the open span to instant and returns every
// unacknowledged span and histogram bin. Repeating it without
// RemoveCommittedChanges resends the same money.
func (videoPaid *VideoPaid) SerializeChanges(instant Timestamp) SerializedChanges {
	if current := videoPaid.current; current != nil && current.End.At() < instant {
		videoPaid.sessionTime += float64(instant - current.End.At())
		current.End = current.End.extended(instant)
		current.Change = true
	}
	nonce := videoPaid.nonce
	changes := SerializedChanges{
		Nonce:     &nonce,
		Spans:     []SerializedChangeSpan{},
		Histogram: []SerializedHistogramChange{},
	}
	for _, span := range videoPaid.spans {
		if !span.Change {
			continue
		}
		changes.Spans = append(changes.Spans, SerializedChangeSpan{
			Start:           span.Start,
			End:             span.End.At(),
			PaidUncommitted: span.PaidUncommitted.Serialize(),
		})
	}
	for index, bin := range videoPaid.histogram {
		if bin.Uncommitted.IsEmpty() {
			continue
		}
		changes.Histogram = append(changes.Histogram, SerializedHistogramChange{
			Bin:         index,
			Uncommitted: bin.Uncommitted.Serialize(),
		})
	}
	return changes
}

// RemoveCommittedChanges retires the money the server acknowledged and
// rotates the nonce. A nil nonce acknowledges histogram bins only.
func (videoPaid *VideoPaid) RemoveCommittedChanges(committed *ChangeSet) error {
	if committed == nil {
		return fmt.Errorf("%w: nil change set", ErrInvalidChanges)
	}
	if committed.Nonce != nil && *committed.Nonce != videoPaid.nonce {
		return fmt.Errorf("%w: committed %s, local %s", ErrNonceMismatch, *committed.Nonce, videoPaid.nonce)
	}
	videoPaid.nonce = videoPaid.generateNonce()

	for _, committedSpan := range committed.Spans {
		for index := 0; index < len(videoPaid.spans); index++ {
			local := videoPaid.spans[index]
			if !local.Change || !overlapsCommitted(local, committedSpan) {
				continue
			}
			if err := videoPaid.retireSpan(index, committedSpan); err != nil {
				return err
			}
			break
		}
	}

	for _, bin := range committed.Histogram {
		if bin.Bin < 0 || bin.Bin >= len(videoPaid.histogram) {
			return fmt.Errorf("%w: %d", ErrUnknownHistogramBin, bin.Bin)
		}
		local := videoPaid.histogram[bin.Bin]
		if err := local.Uncommitted.Subtract(bin.Uncommitted); err != nil {
			return err
		}
		if err := local.Committed.MoveFrom(bin.Uncommitted.Clone()); err != nil {
			return err
		}
	}
	return nil
}

func overlapsCommitted(local *Span, committed ChangeSpan) bool {
	end := local.End.At()
	startInside := local.Start <= committed.Start && committed.Start <= end
	endInside := local.Start <= committed.End && committed.End <= end
	return startInside || endInside
}

func (videoPaid *VideoPaid) retireSpan(index int, committed ChangeSpan) error {
	local := videoPaid.spans[index]
	localEnd := local.End.At()
	sameStart := withinEpsilon(committed.Start, local.Start, spanMatchEpsilon)
	sameEnd := withinEpsilon(committed.End, localEnd, spanMatchEpsilon)

	switch {
	case !sameStart && committed.Start < local.Start:
		return fmt.Errorf("%w: committed %v, local %v", ErrCommittedStartsBefore, committed.Start, local.Start)
	case !sameEnd && committed.End > localEnd:
		return fmt.Errorf("%w: committed %v, local %v", ErrCommittedEndsAfter, committed.End, localEnd)
	}

	if err := local.PaidUncommitted.Subtract(committed.PaidUncommitted); err != nil {
		return err
	}

	switch {
	case sameStart && sameEnd:
		if !local.PaidUncommitted.IsEmpty() {
			return nil
		}
		if local == videoPaid.current {
			local.Start = localEnd
			return nil
		}
		videoPaid.removeSpan(index)
	case sameStart:
		local.Start = committed.End
	case sameEnd:
		local.End = SpanEnd{at: committed.Start, open: local.End.IsOpen()}
	default:
		// Committed range lies strictly inside; the local span keeps both sides.
	}
	return nil
}

// UpdateState replaces the acknowledged spans with the server's canonical
// spans. Unacknowledged spans are kept.
func (videoPaid *VideoPaid) UpdateState(state *VideoPaidStorage) {
	if state == nil {
		return
	}
	kept := videoPaid.spans[:0]
	for _, span := range videoPaid.spans {
		if span.Change {
			kept = append(kept, span)
		}
	}
	videoPaid.spans = kept

	if current := videoPaid.current; current != nil && !current.Change {
		resumed := newChangeSpan(current.End.At(), OpenAt(current.End.At()))
		videoPaid.insertSpan(videoPaid.insertionIndex(resumed.Start), resumed)
		videoPaid.current = resumed
	}

	for _, stored := range state.spans {
		videoPaid.insertSpan(videoPaid.insertionIndex(stored.Start), &Span{
			Start:           stored.Start,
			End:             ClosedAt(stored.End),
			Paid:            stored.Paid.Clone(),
			PaidUncommitted: NewRealAmount(),
		})
	}
}

func (videoPaid *VideoPaid) insertionIndex(start Timestamp) int {
	for index, span := range videoPaid.spans {
		if start < span.Start {
			return index
		}
	}
	return len(videoPaid.spans)
}
