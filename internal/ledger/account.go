package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeTranche AccountScope = iota
	AccountScopeSystem
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// Tranche sub-types
	SubTypeSeniorValue AccountSubType = iota
	SubTypeJuniorValue
	SubTypeReserveValue

	// System sub-types
	SubTypeSystemMgmtFees
	SubTypeSystemPerfFees
	SubTypeSystemWithdrawalFees
	SubTypeSystemPenalties
	SubTypeSystemYieldSink
	SubTypeSystemShortfall

	// External sub-types
	SubTypeExternalCollateral
	SubTypeExternalYield
)

// AccountKey is the in-memory key for balance tracking. All accounts are
// denominated in the single unit of account, so there is no asset field.
type AccountKey struct {
	Scope    AccountScope
	EntityID [16]byte // UUID for depositor accounts, zero for system accounts
	SubType  AccountSubType
}

// NewTrancheAccountKey creates a key for one of the three tranche buckets.
func NewTrancheAccountKey(subType AccountSubType) AccountKey {
	return AccountKey{
		Scope:   AccountScopeTranche,
		SubType: subType,
	}
}

// NewSystemAccountKey creates a key for fee, penalty and sink accounts.
func NewSystemAccountKey(subType AccountSubType) AccountKey {
	return AccountKey{
		Scope:   AccountScopeSystem,
		SubType: subType,
	}
}

// NewExternalAccountKey creates a key for external boundary accounts.
func NewExternalAccountKey(subType AccountSubType) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: subType,
	}
}

// TrancheAccount maps a tranche name ("senior", "junior", "reserve") to
// its value account.
func TrancheAccount(tranche string) (AccountKey, bool) {
	switch tranche {
	case "senior":
		return NewTrancheAccountKey(SubTypeSeniorValue), true
	case "junior":
		return NewTrancheAccountKey(SubTypeJuniorValue), true
	case "reserve":
		return NewTrancheAccountKey(SubTypeReserveValue), true
	}
	return AccountKey{}, false
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	switch k.Scope {
	case AccountScopeTranche:
		return fmt.Sprintf("tranche:%s", k.subTypeName())
	case AccountScopeSystem:
		return fmt.Sprintf("system:%s", k.subTypeName())
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s", k.subTypeName())
	}
	uid := uuid.UUID(k.EntityID)
	return fmt.Sprintf("unknown:%s:%s", uid.String(), k.subTypeName())
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeSeniorValue:
		return "senior"
	case SubTypeJuniorValue:
		return "junior"
	case SubTypeReserveValue:
		return "reserve"
	case SubTypeSystemMgmtFees:
		return "mgmt_fees"
	case SubTypeSystemPerfFees:
		return "perf_fees"
	case SubTypeSystemWithdrawalFees:
		return "withdrawal_fees"
	case SubTypeSystemPenalties:
		return "penalties"
	case SubTypeSystemYieldSink:
		return "yield_sink"
	case SubTypeSystemShortfall:
		return "shortfall"
	case SubTypeExternalCollateral:
		return "collateral"
	case SubTypeExternalYield:
		return "yield"
	default:
		return "unknown"
	}
}
