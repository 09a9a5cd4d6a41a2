package models

import "testing"

func TestPurchaseAttemptTableName(t *testing.T) {
	if got := (PurchaseAttempt{}).TableName(); got != "purchase_attempts" {
		t.Fatalf("unexpected PurchaseAttempt table name: %s", got)
	}
}
