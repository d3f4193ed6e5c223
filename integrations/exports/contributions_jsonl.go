package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// ContributionsJSONL serialises contribution rows as JSON Lines and returns
// the payload alongside a SHA-256 checksum of the bytes.
func ContributionsJSONL(records []ContributionRecord) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	for _, record := range records {
		payload := map[string]interface{}{
			"sequence":      record.Sequence,
			"recorded_at":   record.RecordedAt.UTC().Format(time.RFC3339),
			"buyer":         record.Buyer,
			"stage_id":      record.StageID,
			"stable_amount": orZeroAmount(record.StableAmount),
			"asset":         record.Asset,
			"amount_in":     orZeroAmount(record.AmountIn),
		}
		if err := encoder.Encode(payload); err != nil {
			return nil, "", err
		}
	}
	data := buffer.Bytes()
	checksum := sha256.Sum256(data)
	return data, hex.EncodeToString(checksum[:]), nil
}
