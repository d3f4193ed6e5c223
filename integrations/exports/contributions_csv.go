package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"strconv"
	"time"
)

// ContributionRecord is one contribution row bound for an export artefact.
// Amounts are decimal strings in the stable token's smallest unit.
type ContributionRecord struct {
	Sequence     uint64
	RecordedAt   time.Time
	Buyer        string
	StageID      uint64
	StableAmount string
	Asset        string
	AmountIn     string
}

// ReferralSummaryRecord aggregates a referrer's earnings for an export.
type ReferralSummaryRecord struct {
	Referrer     string
	Level1Earned string
	Level2Earned string
	TotalEarned  string
	Claimed      string
	Pending      string
}

// ContributionsCSV serialises contribution rows to CSV and returns the payload
// alongside a SHA-256 checksum of the bytes.
func ContributionsCSV(records []ContributionRecord) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	writer := csv.NewWriter(buffer)
	header := []string{"sequence", "recorded_at", "buyer", "stage_id", "stable_amount", "asset", "amount_in"}
	if err := writer.Write(header); err != nil {
		return nil, "", err
	}
	for _, record := range records {
		row := []string{
			strconv.FormatUint(record.Sequence, 10),
			record.RecordedAt.UTC().Format(time.RFC3339),
			record.Buyer,
			strconv.FormatUint(record.StageID, 10),
			orZeroAmount(record.StableAmount),
			record.Asset,
			orZeroAmount(record.AmountIn),
		}
		if err := writer.Write(row); err != nil {
			return nil, "", err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, "", err
	}
	return withChecksum(buffer.Bytes())
}

// ReferralSummaryCSV serialises referral summaries to CSV with a checksum.
func ReferralSummaryCSV(records []ReferralSummaryRecord) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	writer := csv.NewWriter(buffer)
	header := []string{"referrer", "level1_earned", "level2_earned", "total_earned", "claimed", "pending"}
	if err := writer.Write(header); err != nil {
		return nil, "", err
	}
	for _, record := range records {
		row := []string{
			record.Referrer,
			orZeroAmount(record.Level1Earned),
			orZeroAmount(record.Level2Earned),
			orZeroAmount(record.TotalEarned),
			orZeroAmount(record.Claimed),
			orZeroAmount(record.Pending),
		}
		if err := writer.Write(row); err != nil {
			return nil, "", err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, "", err
	}
	return withChecksum(buffer.Bytes())
}

func withChecksum(data []byte) ([]byte, string, error) {
	checksum := sha256.Sum256(data)
	return data, hex.EncodeToString(checksum[:]), nil
}

func orZeroAmount(amount string) string {
	if amount == "" {
		return "0"
	}
	return amount
}
