package ledger

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// VerifyResponse is the outcome of one call to the receipt validator.
type VerifyResponse struct {
	StatusCode   int
	Status       string
	Amount       *string
	SPSPEndpoint string
}

// Verifier submits a receipt to an external validator. A returned error means
// the request never produced a response.
type Verifier interface {
	Verify(ctx context.Context, receipt string) (VerifyResponse, error)
}

// PendingReceipt is a receipt waiting for verification.
type PendingReceipt struct {
	Receipt string     `json:"receipt"`
	Seq     ReceiptSeq `json:"seq"`
}

// VerifiedReceipt is a receipt the validator has answered for.
type VerifiedReceipt struct {
	Receipt      string     `json:"receipt"`
	Seq          ReceiptSeq `json:"seq"`
	Verified     bool       `json:"verified"`
	Amount       string     `json:"amount,omitempty"`
	SPSPEndpoint string     `json:"spspEndpoint,omitempty"`
}

// SerializedReceipts is the wire form of Receipts.
type SerializedReceipts struct {
	Seq        *ReceiptSeq       `json:"seq"`
	Unverified []PendingReceipt  `json:"unverified"`
	Verified   []VerifiedReceipt `json:"verified"`
}

// Receipts is a FIFO of receipts awaiting verification plus a bounded log of answered ones.
type Receipts struct {
	seq             ReceiptSeq
	unverified      []PendingReceipt
	verified        []VerifiedReceipt
	discardedBefore ReceiptSeq
	logger          *zap.Logger
}

// NewReceipts returns an empty queue. A nil logger disables logging.
func NewReceipts(logger *zap.Logger) *Receipts {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Receipts{seq: firstReceiptSeq, discardedBefore: firstReceiptSeq, logger: logger}
}

// ToCheck enqueues a receipt and returns its sequence number.
func (receipts *Receipts) ToCheck(receipt string) ReceiptSeq {
	seq := receipts.seq
	receipts.unverified = append(receipts.unverified, PendingReceipt{Receipt: receipt, Seq: seq})
	receipts.seq++
	return seq
}

// Pending returns the receipts still waiting for verification, in order.
func (receipts *Receipts) Pending() []PendingReceipt {
	return append([]PendingReceipt(nil), receipts.unverified...)
}

// VerifyReceipts drains the pending queue in order. Receipts expire when
// verified out of order, so any stop leaves the remainder queued.
func (receipts *Receipts) VerifyReceipts(ctx context.Context, verifier Verifier) {
	if len(receipts.unverified) > pendingReceiptCap {
		receipts.logger.Error("too many pending receipts, discarding",
			zap.Int("pending", len(receipts.unverified)))
		receipts.unverified = nil
	}
	for len(receipts.unverified) > 0 {
		pending := receipts.unverified[0]
		receipts.unverified = receipts.unverified[1:]

		response, err := verifier.Verify(ctx, pending.Receipt)
		if err != nil {
			receipts.logger.Warn("receipt verification failed",
				zap.Int64("seq", int64(pending.Seq)),
				zap.Error(err))
			receipts.requeue(pending)
			return
		}
		if response.StatusCode != http.StatusOK {
			switch {
			case response.Status == "expired receipt":
				receipts.record(VerifiedReceipt{Receipt: pending.Receipt, Seq: pending.Seq})
				continue
			case response.StatusCode == http.StatusTooManyRequests:
				receipts.logger.Warn("receipt validator rate limited",
					zap.Int64("seq", int64(pending.Seq)))
				receipts.requeue(pending)
				return
			case response.StatusCode == http.StatusBadRequest:
				receipts.logger.Warn("receipt rejected",
					zap.Int64("seq", int64(pending.Seq)))
				receipts.record(VerifiedReceipt{Receipt: pending.Receipt, Seq: pending.Seq})
				continue
			default:
				receipts.logger.Error("receipt validator error",
					zap.Int64("seq", int64(pending.Seq)),
					zap.Int("status_code", response.StatusCode),
					zap.String("status", response.Status))
				receipts.record(VerifiedReceipt{Receipt: pending.Receipt, Seq: pending.Seq})
				return
			}
		}
		if response.Amount == nil {
			receipts.logger.Error("receipt validator response missing amount",
				zap.Int64("seq", int64(pending.Seq)))
			receipts.record(VerifiedReceipt{Receipt: pending.Receipt, Seq: pending.Seq})
			continue
		}
		receipts.record(VerifiedReceipt{
			Receipt:      pending.Receipt,
			Seq:          pending.Seq,
			Verified:     true,
			Amount:       *response.Amount,
			SPSPEndpoint: response.SPSPEndpoint,
		})
	}
}

func (receipts *Receipts) requeue(pending PendingReceipt) {
	receipts.unverified = append([]PendingReceipt{pending}, receipts.unverified...)
}

func (receipts *Receipts) record(outcome VerifiedReceipt) {
	receipts.verified = append(receipts.verified, outcome)
	if overflow := len(receipts.verified) - verifiedReceiptLimit; overflow > 0 {
		receipts.discardedBefore = receipts.verified[overflow].Seq
		receipts.verified = append([]VerifiedReceipt(nil), receipts.verified[overflow:]...)
	}
}

// Retrieve looks up an answered receipt. It returns nil when the sequence is
// valid but has not been answered yet.
func (receipts *Receipts) Retrieve(seq ReceiptSeq) (*VerifiedReceipt, error) {
	if seq < receipts.discardedBefore {
		return nil, fmt.Errorf("%w: %d is before %d", ErrReceiptDiscarded, seq, receipts.discardedBefore)
	}
	if seq >= receipts.seq {
		return nil, fmt.Errorf("%w: %d, next is %d", ErrReceiptNotAssigned, seq, receipts.seq)
	}
	for index := range receipts.verified {
		if receipts.verified[index].Seq == seq {
			found := receipts.verified[index]
			return &found, nil
		}
	}
	return nil, nil
}

// Serialize returns the wire form.
func (receipts *Receipts) Serialize() SerializedReceipts {
	seq := receipts.seq
	serialized := SerializedReceipts{
		Seq:        &seq,
		Unverified: append([]PendingReceipt{}, receipts.unverified...),
		Verified:   append([]VerifiedReceipt{}, receipts.verified...),
	}
	return serialized
}

// DeserializeReceipts rebuilds a queue, failing on a missing sequence counter
// or on entries numbered at or beyond it.
func DeserializeReceipts(serialized SerializedReceipts, logger *zap.Logger) (*Receipts, error) {
	if serialized.Seq == nil {
		return nil, fmt.Errorf("%w: missing seq", ErrInvalidReceipts)
	}
	receipts := NewReceipts(logger)
	receipts.seq = *serialized.Seq
	for _, pending := range serialized.Unverified {
		if pending.Seq >= receipts.seq {
			return nil, fmt.Errorf("%w: pending seq %d not below %d", ErrInvalidReceipts, pending.Seq, receipts.seq)
		}
	}
	for _, answered := range serialized.Verified {
		if answered.Seq >= receipts.seq {
			return nil, fmt.Errorf("%w: verified seq %d not below %d", ErrInvalidReceipts, answered.Seq, receipts.seq)
		}
	}
	if len(serialized.Unverified) > 0 {
		receipts.unverified = append([]PendingReceipt(nil), serialized.Unverified...)
	}
	if len(serialized.Verified) > 0 {
		receipts.verified = append([]VerifiedReceipt(nil), serialized.Verified...)
		receipts.discardedBefore = receipts.verified[0].Seq
	}
	return receipts, nil
}
