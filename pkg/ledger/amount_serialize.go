package ledger

import (
	"encoding/json"
	"fmt"
)

// SerializedAmount is the wire form of an amount.
type SerializedAmount struct {
	IsReference        *bool               `json:"isReference"`
	Unverified         []AssetQuantity     `json:"unverified"`
	Verified           []AssetQuantity     `json:"verified"`
	UnverifiedReceipts []UnverifiedReceipt `json:"unverifiedReceipts"`
}

// AssetQuantity is one [assetCode, {significand, exponent}] pair.
type AssetQuantity struct {
	AssetCode string
	Quantity  Quantity
}

// MarshalJSON encodes the pair as a two element array.
func (entry AssetQuantity) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{entry.AssetCode, entry.Quantity})
}

// UnmarshalJSON decodes a two element array.
func (entry *AssetQuantity) UnmarshalJSON(data []byte) error {
	var tuple []json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return fmt.Errorf("%w: asset entry: %v", ErrInvalidAmount, err)
	}
	if len(tuple) != 2 {
		return fmt.Errorf("%w: asset entry has %d elements", ErrInvalidAmount, len(tuple))
	}
	if err := json.Unmarshal(tuple[0], &entry.AssetCode); err != nil {
		return fmt.Errorf("%w: asset code: %v", ErrInvalidAmount, err)
	}
	return json.Unmarshal(tuple[1], &entry.Quantity)
}

func (amount *RealAmount) Serialize() SerializedAmount {
	return serializeBalances(&amount.state, false)
}

func (amount *ReferenceAmount) Serialize() SerializedAmount {
	return serializeBalances(&amount.state, true)
}

func serializeBalances(holdings *balances, isReference bool) SerializedAmount {
	reference := isReference
	receipts := make([]UnverifiedReceipt, 0, len(holdings.receipts))
	receipts = append(receipts, holdings.receipts...)
	return SerializedAmount{
		IsReference:        &reference,
		Unverified:         serializeTier(holdings.unverified),
		Verified:           serializeTier(holdings.verified),
		UnverifiedReceipts: receipts,
	}
}

func serializeTier(tier map[string]Quantity) []AssetQuantity {
	entries := make([]AssetQuantity, 0, len(tier))
	for _, assetCode := range sortedAssets(tier) {
		entries = append(entries, AssetQuantity{AssetCode: assetCode, Quantity: tier[assetCode]})
	}
	return entries
}

// DeserializeAmount validates serialized and returns the amount kind it declares.
func DeserializeAmount(serialized SerializedAmount) (Amount, error) {
	holdings, isReference, err := deserializeBalances(serialized)
	if err != nil {
		return nil, err
	}
	if isReference {
		return &ReferenceAmount{state: holdings}, nil
	}
	return &RealAmount{state: holdings}, nil
}

// DeserializeRealAmount fails unless serialized declares a real amount.
func DeserializeRealAmount(serialized SerializedAmount) (*RealAmount, error) {
	holdings, isReference, err := deserializeBalances(serialized)
	if err != nil {
		return nil, err
	}
	if isReference {
		return nil, fmt.Errorf("%w: expected real amount", ErrReferenceAmount)
	}
	return &RealAmount{state: holdings}, nil
}

// DeserializeReferenceAmount fails unless serialized declares a reference amount.
func DeserializeReferenceAmount(serialized SerializedAmount) (*ReferenceAmount, error) {
	holdings, isReference, err := deserializeBalances(serialized)
	if err != nil {
		return nil, err
	}
	if !isReference {
		return nil, fmt.Errorf("%w: expected reference amount", ErrNotReferenceAmount)
	}
	return &ReferenceAmount{state: holdings}, nil
}

func deserializeBalances(serialized SerializedAmount) (balances, bool, error) {
	if serialized.IsReference == nil {
		return balances{}, false, fmt.Errorf("%w: isReference not true or false", ErrInvalidAmount)
	}
	if serialized.UnverifiedReceipts == nil {
		return balances{}, false, fmt.Errorf("%w: missing field unverifiedReceipts", ErrInvalidAmount)
	}
	if serialized.Unverified == nil {
		return balances{}, false, fmt.Errorf("%w: missing field unverified", ErrInvalidAmount)
	}
	if serialized.Verified == nil {
		return balances{}, false, fmt.Errorf("%w: missing field verified", ErrInvalidAmount)
	}
	unverified, err := deserializeTier(serialized.Unverified)
	if err != nil {
		return balances{}, false, err
	}
	verified, err := deserializeTier(serialized.Verified)
	if err != nil {
		return balances{}, false, err
	}
	for _, receipt := range serialized.UnverifiedReceipts {
		if receipt.AssetCode == "" {
			return balances{}, false, fmt.Errorf("%w: receipt %d missing asset code", ErrInvalidAmount, receipt.Receipt)
		}
	}
	return balances{
		verified:   verified,
		unverified: unverified,
		receipts:   copyReceipts(serialized.UnverifiedReceipts),
	}, *serialized.IsReference, nil
}

func deserializeTier(entries []AssetQuantity) (map[string]Quantity, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	tier := make(map[string]Quantity, len(entries))
	for _, entry := range entries {
		if entry.AssetCode == "" {
			return nil, fmt.Errorf("%w: empty asset code", ErrInvalidAmount)
		}
		if _, duplicate := tier[entry.AssetCode]; duplicate {
			return nil, fmt.Errorf("%w: duplicate asset %s", ErrInvalidAmount, entry.AssetCode)
		}
		tier[entry.AssetCode] = entry.Quantity
	}
	return tier, nil
}
