package ledger

import (
	"fmt"
	"sort"
)

// ReceiptSeq is the sequence number a Receipts queue assigned to a receipt.
type ReceiptSeq int64

// UnverifiedReceipt records the provenance of an unverified deposit.
type UnverifiedReceipt struct {
	Significand int64      `json:"significand"`
	Exponent    int        `json:"exponent"`
	AssetCode   string     `json:"assetCode"`
	Receipt     ReceiptSeq `json:"receipt"`
}

// Amount is the read-only view shared by real and reference amounts.
type Amount interface {
	IsReference() bool
	Verified() map[string]Quantity
	Unverified() map[string]Quantity
	UnverifiedReceipts() []UnverifiedReceipt
	XRP() float64
	IsEmpty() bool
	Display() string
	DisplayRate(durationSeconds float64) string
	Serialize() SerializedAmount

	holdings() *balances
}

// balances is the state common to both amount kinds. Each map keeps a single
// exponent per asset.
type balances struct {
	verified   map[string]Quantity
	unverified map[string]Quantity
	receipts   []UnverifiedReceipt
}

func (holdings *balances) tier(verified bool) map[string]Quantity {
	if verified {
		if holdings.verified == nil {
			holdings.verified = make(map[string]Quantity)
		}
		return holdings.verified
	}
	if holdings.unverified == nil {
		holdings.unverified = make(map[string]Quantity)
	}
	return holdings.unverified
}

func (holdings *balances) tierView(verified bool) map[string]Quantity {
	if verified {
		return holdings.verified
	}
	return holdings.unverified
}

func (holdings *balances) clone() balances {
	copied := balances{
		verified:   copyQuantities(holdings.verified),
		unverified: copyQuantities(holdings.unverified),
	}
	if len(holdings.receipts) > 0 {
		copied.receipts = append([]UnverifiedReceipt(nil), holdings.receipts...)
	}
	return copied
}

func (holdings *balances) depositUnchecked(quantity Quantity, assetCode string, verified bool, receipt *ReceiptSeq) error {
	if assetCode == "" {
		return ErrMissingAssetCode
	}
	destination := holdings.tier(verified)
	current, exists := destination[assetCode]
	if !exists {
		current = Quantity{Significand: 0, Exponent: quantity.Exponent}
	}
	if quantity.Exponent < current.Exponent {
		rescaled, err := current.rescaled(quantity.Exponent)
		if err != nil {
			return err
		}
		current = Quantity{Significand: rescaled, Exponent: quantity.Exponent}
	}
	addend, err := quantity.rescaled(current.Exponent)
	if err != nil {
		return err
	}
	sum, err := addSignificands(current.Significand, addend)
	if err != nil {
		return err
	}
	current.Significand = sum
	destination[assetCode] = current
	if !verified && receipt != nil {
		holdings.receipts = append(holdings.receipts, UnverifiedReceipt{
			Significand: quantity.Significand,
			Exponent:    quantity.Exponent,
			AssetCode:   assetCode,
			Receipt:     *receipt,
		})
	}
	return nil
}

func (holdings *balances) subtractUnchecked(quantity Quantity, assetCode string, verified bool, allowOverdraft bool) error {
	if allowOverdraft {
		return ErrOverdraftUnsupported
	}
	if quantity.IsZero() {
		return nil
	}
	current, exists := holdings.tierView(verified)[assetCode]
	if !exists {
		return fmt.Errorf("%w: no %s balance", ErrOverdraft, assetCode)
	}
	destination := holdings.tier(verified)
	if quantity.Exponent < current.Exponent {
		rescaled, err := current.rescaled(quantity.Exponent)
		if err != nil {
			return err
		}
		current = Quantity{Significand: rescaled, Exponent: quantity.Exponent}
	}
	subtrahend, err := quantity.rescaled(current.Exponent)
	if err != nil {
		return err
	}
	if float64(current.Significand) < float64(subtrahend)*overdraftTolerance {
		return fmt.Errorf("%w: %s balance %d below %d", ErrOverdraft, assetCode, current.Significand, subtrahend)
	}
	current.Significand -= subtrahend
	if current.Significand < 0 {
		current.Significand = 0
	}
	destination[assetCode] = current
	return nil
}

func (holdings *balances) addAll(other *balances) error {
	for _, assetCode := range sortedAssets(other.verified) {
		if err := holdings.depositUnchecked(other.verified[assetCode], assetCode, true, nil); err != nil {
			return err
		}
	}
	for _, assetCode := range sortedAssets(other.unverified) {
		if err := holdings.depositUnchecked(other.unverified[assetCode], assetCode, false, nil); err != nil {
			return err
		}
	}
	return nil
}

func (holdings *balances) subtract(other *balances) error {
	next := holdings.clone()
	for _, assetCode := range sortedAssets(other.verified) {
		if err := next.subtractUnchecked(other.verified[assetCode], assetCode, true, false); err != nil {
			return err
		}
	}
	for _, assetCode := range sortedAssets(other.unverified) {
		if err := next.subtractUnchecked(other.unverified[assetCode], assetCode, false, false); err != nil {
			return err
		}
	}
	for _, receipt := range other.receipts {
		removed := false
		for index := range next.receipts {
			if next.receipts[index].Receipt == receipt.Receipt {
				next.receipts = append(next.receipts[:index], next.receipts[index+1:]...)
				removed = true
				break
			}
		}
		if !removed {
			return fmt.Errorf("%w: receipt %d", ErrUnknownReceipt, receipt.Receipt)
		}
	}
	if len(next.receipts) == 0 {
		next.receipts = nil
	}
	*holdings = next
	return nil
}

func (holdings *balances) xrp() float64 {
	var total float64
	if quantity, ok := holdings.unverified[AssetXRP]; ok {
		total += quantity.Float64()
	}
	if quantity, ok := holdings.verified[AssetXRP]; ok {
		total += quantity.Float64()
	}
	return total
}

func (holdings *balances) isEmpty() bool {
	for _, quantity := range holdings.unverified {
		if !quantity.IsZero() {
			return false
		}
	}
	for _, quantity := range holdings.verified {
		if !quantity.IsZero() {
			return false
		}
	}
	for _, receipt := range holdings.receipts {
		if receipt.Significand != 0 {
			return false
		}
	}
	return true
}

// RealAmount holds funds that can be moved between accounts.
type RealAmount struct {
	state balances
}

// NewRealAmount returns an empty real amount.
func NewRealAmount() *RealAmount {
	return &RealAmount{}
}

// Deposit credits funds. Receipts are only recorded for unverified deposits.
func (amount *RealAmount) Deposit(quantity Quantity, assetCode string, verified bool, receipt *ReceiptSeq) error {
	return amount.state.depositUnchecked(quantity, assetCode, verified, receipt)
}

// SubtractUnchecked debits a single asset. allowOverdraft is reserved and always rejected.
func (amount *RealAmount) SubtractUnchecked(quantity Quantity, assetCode string, verified bool, allowOverdraft bool) error {
	return amount.state.subtractUnchecked(quantity, assetCode, verified, allowOverdraft)
}

// MoveFrom transfers every balance and pending receipt of other into amount, leaving other empty.
func (amount *RealAmount) MoveFrom(other *RealAmount) error {
	if other == nil {
		return nil
	}
	if other == amount {
		return fmt.Errorf("%w: cannot move an amount into itself", ErrInvalidAmount)
	}
	next := amount.state.clone()
	if err := next.addAll(&other.state); err != nil {
		return err
	}
	next.receipts = append(next.receipts, other.state.receipts...)
	amount.state = next
	other.state = balances{}
	return nil
}

// MoveFromMakeReference transfers other into amount like MoveFrom and returns
// a reference copy of what was moved. other no longer holds real funds.
func (amount *RealAmount) MoveFromMakeReference(other *RealAmount) (*ReferenceAmount, error) {
	if other == nil {
		return NewReferenceAmount(), nil
	}
	moved := &ReferenceAmount{state: other.state.clone()}
	if err := amount.MoveFrom(other); err != nil {
		return nil, err
	}
	return moved, nil
}

// Subtract removes every balance and receipt of other from amount.
func (amount *RealAmount) Subtract(other Amount) error {
	if other == nil {
		return nil
	}
	return amount.state.subtract(other.holdings())
}

// Clone returns an independent copy.
func (amount *RealAmount) Clone() *RealAmount {
	return &RealAmount{state: amount.state.clone()}
}

func (amount *RealAmount) IsReference() bool                       { return false }
func (amount *RealAmount) Verified() map[string]Quantity           { return copyQuantities(amount.state.verified) }
func (amount *RealAmount) Unverified() map[string]Quantity         { return copyQuantities(amount.state.unverified) }
func (amount *RealAmount) UnverifiedReceipts() []UnverifiedReceipt { return copyReceipts(amount.state.receipts) }
func (amount *RealAmount) XRP() float64                            { return amount.state.xrp() }
func (amount *RealAmount) IsEmpty() bool                           { return amount.state.isEmpty() }
func (amount *RealAmount) holdings() *balances                     { return &amount.state }

// ReferenceAmount is a derived sum that can only be added into.
type ReferenceAmount struct {
	state balances
}

// NewReferenceAmount returns an empty reference amount.
func NewReferenceAmount() *ReferenceAmount {
	return &ReferenceAmount{}
}

// DepositReference adds to a summary value without provenance.
func (amount *ReferenceAmount) DepositReference(quantity Quantity, assetCode string, verified bool) error {
	return amount.state.depositUnchecked(quantity, assetCode, verified, nil)
}

// AddFrom sums other into amount, leaving other untouched.
func (amount *ReferenceAmount) AddFrom(other Amount) error {
	if other == nil {
		return nil
	}
	source := other.holdings()
	next := amount.state.clone()
	if err := next.addAll(source); err != nil {
		return err
	}
	if len(source.receipts) < referenceReceiptCap {
		next.receipts = append(next.receipts, source.receipts...)
	}
	amount.state = next
	return nil
}

// Subtract removes every balance and receipt of other from amount.
func (amount *ReferenceAmount) Subtract(other Amount) error {
	if other == nil {
		return nil
	}
	return amount.state.subtract(other.holdings())
}

// Clone returns an independent copy.
func (amount *ReferenceAmount) Clone() *ReferenceAmount {
	return &ReferenceAmount{state: amount.state.clone()}
}

func (amount *ReferenceAmount) IsReference() bool                       { return true }
func (amount *ReferenceAmount) Verified() map[string]Quantity           { return copyQuantities(amount.state.verified) }
func (amount *ReferenceAmount) Unverified() map[string]Quantity         { return copyQuantities(amount.state.unverified) }
func (amount *ReferenceAmount) UnverifiedReceipts() []UnverifiedReceipt { return copyReceipts(amount.state.receipts) }
func (amount *ReferenceAmount) XRP() float64                            { return amount.state.xrp() }
func (amount *ReferenceAmount) IsEmpty() bool                           { return amount.state.isEmpty() }
func (amount *ReferenceAmount) holdings() *balances                     { return &amount.state }

func copyQuantities(source map[string]Quantity) map[string]Quantity {
	if len(source) == 0 {
		return nil
	}
	copied := make(map[string]Quantity, len(source))
	for assetCode, quantity := range source {
		copied[assetCode] = quantity
	}
	return copied
}

func copyReceipts(source []UnverifiedReceipt) []UnverifiedReceipt {
	if len(source) == 0 {
		return nil
	}
	return append([]UnverifiedReceipt(nil), source...)
}

func sortedAssets(source map[string]Quantity) []string {
	assets := make([]string, 0, len(source))
	for assetCode := range source {
		assets = append(assets, assetCode)
	}
	sort.Strings(assets)
	return assets
}
