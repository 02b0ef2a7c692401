package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	submissionPendingWindow = 60 * time.Second
	payWallGraceSeconds     = 6
	payWallSoftGraceSeconds = 12
	payWallSoftGraceRatio   = 0.85
)

// SessionConfig is the monetization setup of the video being watched. Costs
// are per ten minutes of playback in Currency.
type SessionConfig struct {
	Currency   Currency
	ViewCost   decimal.Decimal
	AdSkipCost decimal.Decimal
	// Monetized reports whether the viewer can stream payments at all.
	Monetized bool
}

// SessionOption configures a Session instance.
type SessionOption func(*Session)

// WithSessionClock overrides the clock used for the submission lock.
func WithSessionClock(clock clockwork.Clock) SessionOption {
	return func(session *Session) {
		if clock != nil {
			session.clock = clock
		}
	}
}

// WithSessionLogger wires a zap logger shared with the session ledgers.
func WithSessionLogger(logger *zap.Logger) SessionOption {
	return func(session *Session) {
		if logger != nil {
			session.logger = logger
		}
	}
}

// Submission is what a session sends to the server.
type Submission struct {
	Changes  SerializedChanges
	Receipts SerializedReceipts
	// HistogramOnly is set for viewers without an account.
	HistogramOnly bool
}

// PayWallDecision is the outcome of one pay-wall check.
type PayWallDecision struct {
	Pause           bool
	Monetized       bool
	Paid            float64
	Required        float64
	SessionPaid     float64
	SessionRequired float64
	Cost            *ReferenceAmount
}

// Session owns the ledgers of one page view and the policy built on them.
type Session struct {
	config        SessionConfig
	exchange      *Exchange
	clock         clockwork.Clock
	logger        *zap.Logger
	paid          *VideoPaid
	receipts      *Receipts
	statsTracking bool

	pendingSince    *time.Time
	lastEnforcement *Timestamp
}

// NewSession starts a viewing session. A nil exchange compares raw XRP.
func NewSession(config SessionConfig, exchange *Exchange, options ...SessionOption) (*Session, error) {
	if config.ViewCost.IsNegative() || config.AdSkipCost.IsNegative() {
		return nil, fmt.Errorf("%w: negative cost", ErrInvalidConfig)
	}
	if config.Currency.Code == "" {
		config.Currency = quoteCurrencies["xrp"]
	}
	session := &Session{
		config:        config,
		exchange:      exchange,
		clock:         clockwork.NewRealClock(),
		logger:        zap.NewNop(),
		statsTracking: true,
	}
	for _, option := range options {
		option(session)
	}
	session.paid = NewVideoPaid(WithVideoPaidLogger(session.logger))
	session.receipts = NewReceipts(session.logger)
	return session, nil
}

// VideoPaid returns the session ledger driven by player events.
func (session *Session) VideoPaid() *VideoPaid {
	return session.paid
}

// Receipts returns the receipt queue fed by payment events.
func (session *Session) Receipts() *Receipts {
	return session.receipts
}

// StatsTracking reports whether the viewer allows contribution statistics.
func (session *Session) StatsTracking() bool {
	return session.statsTracking
}

// SetStatsTracking records the viewer's statistics preference.
func (session *Session) SetStatsTracking(enabled bool) {
	session.statsTracking = enabled
}

// Pay records a payment event, queueing its receipt for verification.
func (session *Session) Pay(instant Timestamp, quantity Quantity, assetCode string, receipt string) error {
	var seq *ReceiptSeq
	if receipt != "" {
		assigned := session.receipts.ToCheck(receipt)
		seq = &assigned
	}
	return session.paid.Deposit(instant, quantity, assetCode, seq)
}

// BeginSubmission returns the outstanding changes unless a previous
// submission is still pending. Anonymous viewers submit the histogram only,
// and nothing when they opted out of statistics.
func (session *Session) BeginSubmission(instant Timestamp, authenticated bool) (Submission, bool) {
	now := session.clock.Now()
	if session.pendingSince != nil && now.Sub(*session.pendingSince) < submissionPendingWindow {
		return Submission{}, false
	}
	if !authenticated && !session.statsTracking {
		return Submission{}, false
	}
	submission := Submission{
		Changes:       session.paid.SerializeChanges(instant),
		Receipts:      session.receipts.Serialize(),
		HistogramOnly: !authenticated,
	}
	session.pendingSince = &now
	return submission, true
}

// AbandonSubmission releases the lock after a failed request. The changes are
// resent by the next submission.
func (session *Session) AbandonSubmission() {
	session.pendingSince = nil
}

// CompleteSubmission applies the server acknowledgment of a full submission.
func (session *Session) CompleteSubmission(state SerializedState) error {
	storage, err := DeserializeVideoPaidStorage(state.CurrentState)
	if err != nil {
		return err
	}
	committed, err := DeserializeChanges(state.CommittedChanges)
	if err != nil {
		return err
	}
	if state.OptOut {
		session.statsTracking = false
	}
	if err := session.paid.RemoveCommittedChanges(committed); err != nil {
		return err
	}
	session.paid.UpdateState(storage)

	total := storage.Total()
	for _, span := range session.paid.spans {
		if !span.Change {
			continue
		}
		if err := total.AddFrom(span.PaidUncommitted); err != nil {
			return err
		}
	}
	session.paid.total = total
	session.pendingSince = nil
	return nil
}

// CompleteHistogramSubmission applies the acknowledgment of an anonymous submission.
func (session *Session) CompleteHistogramSubmission(committed []SerializedHistogramChange) error {
	histogram, err := DeserializeHistogramChanges(committed)
	if err != nil {
		return err
	}
	if err := session.paid.RemoveCommittedChanges(&ChangeSet{Histogram: histogram}); err != nil {
		return err
	}
	session.pendingSince = nil
	return nil
}

// EnforceViewCost decides whether playback must pause at instant. Payment
// that cannot be priced counts as insufficient. A pause is not repeated for
// the same instant.
func (session *Session) EnforceViewCost(ctx context.Context, instant Timestamp) PayWallDecision {
	perSecond := session.config.ViewCost.Div(decimal.NewFromInt(ratePeriodSeconds)).InexactFloat64()
	totalTime := session.paid.TotalTime(instant)
	sessionTime := session.paid.SessionTime(instant)

	decision := PayWallDecision{
		Monetized:       session.config.Monetized,
		Paid:            session.valueOf(ctx, session.paid.total),
		Required:        perSecond * totalTime,
		SessionPaid:     session.valueOf(ctx, session.paid.sessionTotal),
		SessionRequired: perSecond * sessionTime,
		Cost:            session.costAmount(),
	}

	inGrace := sessionTime < payWallGraceSeconds ||
		(sessionTime < payWallSoftGraceSeconds &&
			(payWallSoftGraceRatio*decision.Required < decision.Paid ||
				payWallSoftGraceRatio*decision.SessionRequired < decision.SessionPaid))
	if session.config.Monetized && inGrace {
		return decision
	}
	insufficient := decision.Paid < decision.Required && decision.SessionPaid < decision.SessionRequired
	if !insufficient && session.config.Monetized {
		return decision
	}
	if session.lastEnforcement != nil && *session.lastEnforcement == instant {
		return decision
	}
	enforcedAt := instant
	session.lastEnforcement = &enforcedAt
	decision.Pause = true
	return decision
}

// CanSkipSponsor reports whether enough has been paid to skip sponsor segments.
func (session *Session) CanSkipSponsor(instant Timestamp) bool {
	perSecond := session.config.AdSkipCost.Div(decimal.NewFromInt(ratePeriodSeconds)).InexactFloat64()
	return session.paid.total.XRP() >= perSecond*session.paid.TotalTime(instant)
}

func (session *Session) valueOf(ctx context.Context, amount *ReferenceAmount) float64 {
	code := session.config.Currency.Code
	if session.exchange == nil || code == AssetXRP {
		return amount.XRP()
	}
	converted := session.exchange.Convert(ctx, amount, session.config.Currency)
	for assetCode := range converted.state.unverified {
		if assetCode != code {
			return amount.XRP()
		}
	}
	for assetCode := range converted.state.verified {
		if assetCode != code {
			return amount.XRP()
		}
	}
	return sumInCurrency(converted, code)
}

func (session *Session) costAmount() *ReferenceAmount {
	cost := NewReferenceAmount()
	quantity, err := quantityFromDecimal(session.config.ViewCost)
	if err != nil {
		session.logger.Warn("view cost not representable", zap.Error(err))
		return cost
	}
	if err := cost.DepositReference(quantity, session.config.Currency.Code, true); err != nil {
		session.logger.Warn("view cost deposit failed", zap.Error(err))
	}
	return cost
}
