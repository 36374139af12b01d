package models

import "errors"

type TransactionType string

const (
	TransactionTypeIncome  TransactionType = "income"
	TransactionTypeExpense TransactionType = "expense"
)

func (t TransactionType) Valid() bool {
	return t == TransactionTypeIncome || t == TransactionTypeExpense
}

func ParseTransactionType(s string) (TransactionType, error) {
	t := TransactionType(s)
	if !t.Valid() {
		return "", errors.New("transaction type must be 'income' or 'expense'")
	}
	return t, nil
}

type MoneyAccountType string

const (
	MoneyAccountTypeCash        MoneyAccountType = "cash"
	MoneyAccountTypeBank        MoneyAccountType = "bank"
	MoneyAccountTypeMobileMoney MoneyAccountType = "mobile_money"
	MoneyAccountTypeOther       MoneyAccountType = "other"
)

func (t MoneyAccountType) Valid() bool {
	switch t {
	case MoneyAccountTypeCash, MoneyAccountTypeBank, MoneyAccountTypeMobileMoney, MoneyAccountTypeOther:
		return true
	}
	return false
}

type FinancialYearStatus string

const (
	FinancialYearStatusOpen   FinancialYearStatus = "open"
	FinancialYearStatusClosed FinancialYearStatus = "closed"
)

// YearClosingAction is the kind of a YearClosingAudit record.
type YearClosingAction string

const (
	YearClosingActionClose       YearClosingAction = "close"
	YearClosingActionReopen      YearClosingAction = "reopen"
	YearClosingActionRecalculate YearClosingAction = "recalculate"
)
