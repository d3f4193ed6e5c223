package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Run status values.
const (
	RunStatusSucceeded = "SUCCEEDED"
	RunStatusFailed    = "FAILED"
)

// Checkpoint names used by the event collector.
const CheckpointEvents = "events"

// Contribution mirrors a settled purchase announced on the node's event
// feed. Sequence is the feed sequence number and doubles as the idempotency
// key across collector restarts. Amounts are decimal strings in the stable
// token's smallest unit.
type Contribution struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	Sequence     uint64    `gorm:"uniqueIndex"`
	Buyer        string    `gorm:"size:90;index"`
	StageID      uint64    `gorm:"index"`
	StableAmount string    `gorm:"size:80;not null"`
	Asset        string    `gorm:"size:42"`
	AmountIn     string    `gorm:"size:80"`
	RecordedAt   time.Time `gorm:"index"`
	CreatedAt    time.Time
}

// RewardCredit mirrors a referral reward accrual.
type RewardCredit struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Sequence   uint64    `gorm:"uniqueIndex"`
	Referrer   string    `gorm:"size:90;index"`
	Referred   string    `gorm:"size:90;index"`
	Level      int       `gorm:"not null"`
	Base       string    `gorm:"size:80"`
	Earned     string    `gorm:"size:80;not null"`
	RecordedAt time.Time `gorm:"index"`
	CreatedAt  time.Time
}

// RewardClaim mirrors a referral payout claim.
type RewardClaim struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Sequence   uint64    `gorm:"uniqueIndex"`
	Account    string    `gorm:"size:90;index"`
	Amount     string    `gorm:"size:80;not null"`
	RecordedAt time.Time `gorm:"index"`
	CreatedAt  time.Time
}

// Checkpoint tracks the last event sequence applied by a consumer so a
// restart resumes from the feed cursor instead of replaying history.
type Checkpoint struct {
	Name      string `gorm:"primaryKey;size:64"`
	Sequence  uint64
	UpdatedAt time.Time
}

// ReportRun records one export run for the admin API.
type ReportRun struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	WindowStart time.Time `gorm:"index"`
	WindowEnd   time.Time `gorm:"index"`
	Status      string    `gorm:"size:16;index"`
	Rows        int
	Files       string `gorm:"type:text"`
	Checksum    string `gorm:"size:64"`
	DryRun      bool
	Error       string    `gorm:"type:text"`
	StartedAt   time.Time `gorm:"index"`
	CompletedAt time.Time
}

// Anomaly is a discrepancy raised while cross-checking exports against the
// node's ledger snapshot.
type Anomaly struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	RunID     uuid.UUID `gorm:"type:uuid;index"`
	Kind      string    `gorm:"size:32;index"`
	Subject   string    `gorm:"size:90"`
	Details   string    `gorm:"type:text"`
	CreatedAt time.Time
}

// AutoMigrate performs all schema migrations for the service.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Contribution{},
		&RewardCredit{},
		&RewardClaim{},
		&Checkpoint{},
		&ReportRun{},
		&Anomaly{},
	)
}
