package models

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestSignedAmount(t *testing.T) {
	amount := decimal.RequireFromString("123.45")

	income := &Transaction{TransactionType: TransactionTypeIncome, Amount: amount}
	if !income.SignedAmount().Equal(amount) {
		t.Fatalf("income must be positive, got %s", income.SignedAmount())
	}

	expense := &Transaction{TransactionType: TransactionTypeExpense, Amount: amount}
	if !expense.SignedAmount().Equal(amount.Neg()) {
		t.Fatalf("expense must be negative, got %s", expense.SignedAmount())
	}
}
