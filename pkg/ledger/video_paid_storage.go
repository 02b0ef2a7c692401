package ledger

import "fmt"

// StoredSpan is a durable span. Its money has already been counted in the
// storage total.
type StoredSpan struct {
	Start Timestamp
	End   Timestamp
	Paid  *RealAmount
}

// VideoPaidStorage is the authoritative per-user per-video record. Spans are
// sorted by start and never overlap.
type VideoPaidStorage struct {
	total *ReferenceAmount
	spans []*StoredSpan
}

// NewVideoPaidStorage returns an empty record.
func NewVideoPaidStorage() *VideoPaidStorage {
	return &VideoPaidStorage{total: NewReferenceAmount()}
}

// Total returns the sum of every payment ever committed.
func (storage *VideoPaidStorage) Total() *ReferenceAmount {
	return storage.total.Clone()
}

// Spans returns copies of the durable spans in order.
func (storage *VideoPaidStorage) Spans() []StoredSpan {
	copies := make([]StoredSpan, 0, len(storage.spans))
	for _, span := range storage.spans {
		copies = append(copies, StoredSpan{Start: span.Start, End: span.End, Paid: span.Paid.Clone()})
	}
	return copies
}

// CommitChanges merges a submission and reports whether anything changed.
// Every incoming payment is added to the total exactly once. The change set is
// validated before any span is touched.
func (storage *VideoPaidStorage) CommitChanges(changes *ChangeSet) (bool, error) {
	if changes == nil {
		return false, nil
	}
	for index, span := range changes.Spans {
		if span.End < span.Start {
			return false, fmt.Errorf("%w: span %d ends at %v before start %v", ErrInvalidSpan, index, span.End, span.Start)
		}
		if span.PaidUncommitted == nil {
			return false, fmt.Errorf("%w: span %d has no payment", ErrInvalidChanges, index)
		}
	}

	next := storage.clone()
	changed := false
	for _, incoming := range changes.Spans {
		paid := incoming.PaidUncommitted.Clone()
		if incoming.Start == incoming.End && paid.IsEmpty() {
			continue
		}
		if err := next.mergeSpan(incoming.Start, incoming.End, paid); err != nil {
			return false, err
		}
		changed = true
	}
	if changed {
		*storage = *next
	}
	return changed, nil
}

func (storage *VideoPaidStorage) mergeSpan(start Timestamp, end Timestamp, paid *RealAmount) error {
	for index, candidate := range storage.spans {
		if start < candidate.Start {
			if end < candidate.Start {
				if err := storage.total.AddFrom(paid); err != nil {
					return err
				}
				storage.insertSpan(index, &StoredSpan{Start: start, End: end, Paid: paid})
				return nil
			}
			candidate.Start = start
			candidate.End = maxTimestamp(candidate.End, end)
			if err := storage.absorb(candidate, paid); err != nil {
				return err
			}
			return storage.cascade(index)
		}
		if candidate.End < start {
			continue
		}
		candidate.End = maxTimestamp(candidate.End, end)
		if err := storage.absorb(candidate, paid); err != nil {
			return err
		}
		return storage.cascade(index)
	}
	if err := storage.total.AddFrom(paid); err != nil {
		return err
	}
	storage.spans = append(storage.spans, &StoredSpan{Start: start, End: end, Paid: paid})
	return nil
}

func (storage *VideoPaidStorage) absorb(candidate *StoredSpan, paid *RealAmount) error {
	moved, err := candidate.Paid.MoveFromMakeReference(paid)
	if err != nil {
		return err
	}
	return storage.total.AddFrom(moved)
}

// cascade folds the spans following index into it while they overlap. Their
// money is already part of the total.
func (storage *VideoPaidStorage) cascade(index int) error {
	merged := storage.spans[index]
	for index+1 < len(storage.spans) && storage.spans[index+1].Start <= merged.End {
		following := storage.spans[index+1]
		merged.End = maxTimestamp(merged.End, following.End)
		if err := merged.Paid.MoveFrom(following.Paid); err != nil {
			return err
		}
		storage.spans = append(storage.spans[:index+1], storage.spans[index+2:]...)
	}
	return nil
}

func (storage *VideoPaidStorage) insertSpan(index int, span *StoredSpan) {
	storage.spans = append(storage.spans, nil)
	copy(storage.spans[index+1:], storage.spans[index:])
	storage.spans[index] = span
}

func (storage *VideoPaidStorage) clone() *VideoPaidStorage {
	copied := &VideoPaidStorage{total: storage.total.Clone()}
	for _, span := range storage.spans {
		copied.spans = append(copied.spans, &StoredSpan{Start: span.Start, End: span.End, Paid: span.Paid.Clone()})
	}
	return copied
}

// Serialize returns the durable wire form.
func (storage *VideoPaidStorage) Serialize() SerializedVideoPaid {
	serialized := SerializedVideoPaid{
		Total: storage.total.Serialize(),
		Spans: []SerializedStoredSpan{},
	}
	for _, span := range storage.spans {
		serialized.Spans = append(serialized.Spans, SerializedStoredSpan{
			Start: span.Start,
			End:   span.End,
			Paid:  span.Paid.Serialize(),
		})
	}
	return serialized
}

// DeserializeVideoPaidStorage rebuilds a record, failing on a non-reference
// total or on spans that are unsorted, overlapping or inverted.
func DeserializeVideoPaidStorage(serialized SerializedVideoPaid) (*VideoPaidStorage, error) {
	total, err := DeserializeReferenceAmount(serialized.Total)
	if err != nil {
		return nil, fmt.Errorf("%w: total: %w", ErrInvalidState, err)
	}
	storage := &VideoPaidStorage{total: total}
	for index, span := range serialized.Spans {
		if span.End < span.Start {
			return nil, fmt.Errorf("%w: span %d ends before it starts", ErrInvalidState, index)
		}
		if index > 0 && span.Start <= serialized.Spans[index-1].End {
			return nil, fmt.Errorf("%w: span %d overlaps its predecessor", ErrInvalidState, index)
		}
		paid, err := DeserializeRealAmount(span.Paid)
		if err != nil {
			return nil, fmt.Errorf("%w: span %d: %w", ErrInvalidState, index, err)
		}
		storage.spans = append(storage.spans, &StoredSpan{Start: span.Start, End: span.End, Paid: paid})
	}
	return storage, nil
}
