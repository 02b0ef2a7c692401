package ledger

import (
	"encoding/json"
	"fmt"
)

// SerializedChangeSpan is one locally accrued span sent to the server.
type SerializedChangeSpan struct {
	Start           Timestamp        `json:"start"`
	End             Timestamp        `json:"end"`
	PaidUncommitted SerializedAmount `json:"paidUncommitted"`
}

// UnmarshalJSON requires every field to be present.
func (span *SerializedChangeSpan) UnmarshalJSON(data []byte) error {
	var raw struct {
		Start           *Timestamp        `json:"start"`
		End             *Timestamp        `json:"end"`
		PaidUncommitted *SerializedAmount `json:"paidUncommitted"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: span: %v", ErrInvalidChanges, err)
	}
	if raw.Start == nil || raw.End == nil || raw.PaidUncommitted == nil {
		return fmt.Errorf("%w: span requires start, end and paidUncommitted", ErrInvalidChanges)
	}
	span.Start = *raw.Start
	span.End = *raw.End
	span.PaidUncommitted = *raw.PaidUncommitted
	return nil
}

// SerializedHistogramChange is the uncommitted money of one histogram bin.
type SerializedHistogramChange struct {
	Bin         int              `json:"bin"`
	Uncommitted SerializedAmount `json:"uncommitted"`
}

// UnmarshalJSON requires every field to be present.
func (change *SerializedHistogramChange) UnmarshalJSON(data []byte) error {
	var raw struct {
		Bin         *int              `json:"bin"`
		Uncommitted *SerializedAmount `json:"uncommitted"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: histogram bin: %v", ErrInvalidChanges, err)
	}
	if raw.Bin == nil || raw.Uncommitted == nil {
		return fmt.Errorf("%w: histogram bin requires bin and uncommitted", ErrInvalidChanges)
	}
	change.Bin = *raw.Bin
	change.Uncommitted = *raw.Uncommitted
	return nil
}

// SerializedChanges is one submission from a viewing session. A nil nonce
// marks a histogram-only submission.
type SerializedChanges struct {
	Nonce     *string                     `json:"nonce"`
	Spans     []SerializedChangeSpan      `json:"spans"`
	Histogram []SerializedHistogramChange `json:"histogram"`
}

// SerializedStoredSpan is one durable span.
type SerializedStoredSpan struct {
	Start Timestamp        `json:"start"`
	End   Timestamp        `json:"end"`
	Paid  SerializedAmount `json:"paid"`
}

// UnmarshalJSON requires every field to be present.
func (span *SerializedStoredSpan) UnmarshalJSON(data []byte) error {
	var raw struct {
		Start *Timestamp        `json:"start"`
		End   *Timestamp        `json:"end"`
		Paid  *SerializedAmount `json:"paid"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: span: %v", ErrInvalidState, err)
	}
	if raw.Start == nil || raw.End == nil || raw.Paid == nil {
		return fmt.Errorf("%w: span requires start, end and paid", ErrInvalidState)
	}
	span.Start = *raw.Start
	span.End = *raw.End
	span.Paid = *raw.Paid
	return nil
}

// SerializedVideoPaid is the durable per-user per-video record.
type SerializedVideoPaid struct {
	Total SerializedAmount       `json:"total"`
	Spans []SerializedStoredSpan `json:"spans"`
}

// SerializedState is the server acknowledgment of a submission.
type SerializedState struct {
	CurrentState     SerializedVideoPaid `json:"currentState"`
	CommittedChanges SerializedChanges   `json:"committedChanges"`
	OptOut           bool                `json:"optOut"`
}

// ChangeSpan is a validated incoming span.
type ChangeSpan struct {
	Start           Timestamp
	End             Timestamp
	PaidUncommitted *RealAmount
}

// HistogramChange is a validated incoming histogram bin.
type HistogramChange struct {
	Bin         int
	Uncommitted *RealAmount
}

// ChangeSet is a validated SerializedChanges.
type ChangeSet struct {
	Nonce     *string
	Spans     []ChangeSpan
	Histogram []HistogramChange
}

// DeserializeChanges validates a submission. Spans must not end before they
// start and bins must not be negative.
func DeserializeChanges(serialized SerializedChanges) (*ChangeSet, error) {
	changes := &ChangeSet{Nonce: serialized.Nonce}
	for index, span := range serialized.Spans {
		if span.End < span.Start {
			return nil, fmt.Errorf("%w: span %d ends at %v before start %v", ErrInvalidSpan, index, span.End, span.Start)
		}
		paid, err := DeserializeRealAmount(span.PaidUncommitted)
		if err != nil {
			return nil, fmt.Errorf("%w: span %d: %w", ErrInvalidChanges, index, err)
		}
		changes.Spans = append(changes.Spans, ChangeSpan{Start: span.Start, End: span.End, PaidUncommitted: paid})
	}
	histogram, err := DeserializeHistogramChanges(serialized.Histogram)
	if err != nil {
		return nil, err
	}
	changes.Histogram = histogram
	return changes, nil
}

// DeserializeHistogramChanges validates the histogram part of a submission.
func DeserializeHistogramChanges(serialized []SerializedHistogramChange) ([]HistogramChange, error) {
	var histogram []HistogramChange
	for index, bin := range serialized {
		if bin.Bin < 0 {
			return nil, fmt.Errorf("%w: histogram entry %d has negative bin %d", ErrInvalidChanges, index, bin.Bin)
		}
		uncommitted, err := DeserializeRealAmount(bin.Uncommitted)
		if err != nil {
			return nil, fmt.Errorf("%w: histogram entry %d: %w", ErrInvalidChanges, index, err)
		}
		histogram = append(histogram, HistogramChange{Bin: bin.Bin, Uncommitted: uncommitted})
	}
	return histogram, nil
}

// Serialize returns the wire form of a change set.
func (changes *ChangeSet) Serialize() SerializedChanges {
	serialized := SerializedChanges{
		Nonce:     changes.Nonce,
		Spans:     []SerializedChangeSpan{},
		Histogram: []SerializedHistogramChange{},
	}
	for _, span := range changes.Spans {
		serialized.Spans = append(serialized.Spans, SerializedChangeSpan{
			Start:           span.Start,
			End:             span.End,
			PaidUncommitted: span.PaidUncommitted.Serialize(),
		})
	}
	for _, bin := range changes.Histogram {
		serialized.Histogram = append(serialized.Histogram, SerializedHistogramChange{
			Bin:         bin.Bin,
			Uncommitted: bin.Uncommitted.Serialize(),
		})
	}
	return serialized
}
