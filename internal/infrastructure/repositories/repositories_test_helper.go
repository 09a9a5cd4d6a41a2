package repositories

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", t.Name(), time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err, "open sqlite")
	return db
}

func mustExec(t *testing.T, db *gorm.DB, q string, args ...interface{}) {
	t.Helper()
	require.NoError(t, db.Exec(q, args...).Error, "exec failed: query=%s", q)
}

func createPurchaseAttemptTable(t *testing.T, db *gorm.DB) {
	mustExec(t, db, `CREATE TABLE purchase_attempts (
		id TEXT PRIMARY KEY,
		product_id INTEGER NOT NULL,
		session_key TEXT NOT NULL,
		buyer_address TEXT NOT NULL,
		seller_address TEXT NOT NULL,
		amount TEXT NOT NULL,
		source_chain_id INTEGER,
		product_chain_id INTEGER NOT NULL,
		state TEXT NOT NULL,
		failure_code TEXT,
		failure_reason TEXT,
		approval_tx_hash TEXT,
		bridge_tx_hash TEXT,
		purchase_tx_hash TEXT,
		completed_at DATETIME,
		created_at DATETIME,
		updated_at DATETIME
	);`)
}
