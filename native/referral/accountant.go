package referral

import (
	"encoding/hex"
	"fmt"
	"math/big"
)

// Storage abstracts the subset of state manager functionality required by the
// referral accountant.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

var (
	configKey    = []byte("referral/config")
	linkPrefix   = []byte("referral/link/")
	ledgerPrefix = []byte("referral/ledger/")
)

// Accountant owns the referral links, the per-referrer earnings ledgers and
// the reward configuration. Referrer identities supplied with a purchase are
// self-reported by the caller; the accountant applies its skip rules but never
// cross-checks them against the stored link. It is not safe for concurrent
// use; the node serialises access.
type Accountant struct {
	store Storage
}

// NewAccountant constructs an accountant bound to the provided storage
// backend.
func NewAccountant(store Storage) *Accountant {
	return &Accountant{store: store}
}

// Config returns the stored reward configuration. An unset configuration
// reads as zero rates with claims disabled.
func (a *Accountant) Config() (Config, error) {
	if a == nil || a.store == nil {
		return Config{}, fmt.Errorf("referral: accountant not initialised")
	}
	var stored storedConfig
	if _, err := a.store.KVGet(configKey, &stored); err != nil {
		return Config{}, err
	}
	return Config{
		Level1Bps:     stored.Level1Bps,
		Level2Bps:     stored.Level2Bps,
		ClaimsEnabled: stored.ClaimsEnabled,
	}, nil
}

// SetRates updates both reward rates.
func (a *Accountant) SetRates(level1Bps, level2Bps uint32) error {
	cfg, err := a.Config()
	if err != nil {
		return err
	}
	cfg.Level1Bps = level1Bps
	cfg.Level2Bps = level2Bps
	if err := cfg.Validate(); err != nil {
		return err
	}
	return a.saveConfig(cfg)
}

// SetClaimsEnabled toggles the claim gate and reports whether the value
// changed.
func (a *Accountant) SetClaimsEnabled(enabled bool) (bool, error) {
	cfg, err := a.Config()
	if err != nil {
		return false, err
	}
	if cfg.ClaimsEnabled == enabled {
		return false, nil
	}
	cfg.ClaimsEnabled = enabled
	if err := a.saveConfig(cfg); err != nil {
		return false, err
	}
	return true, nil
}

// ApplyGenesis seeds the reward configuration on first boot. It is a no-op
// when a configuration has already been stored.
func (a *Accountant) ApplyGenesis(cfg Config) (bool, error) {
	if a == nil || a.store == nil {
		return false, fmt.Errorf("referral: accountant not initialised")
	}
	if err := cfg.Validate(); err != nil {
		return false, err
	}
	var existing storedConfig
	ok, err := a.store.KVGet(configKey, &existing)
	if err != nil {
		return false, err
	}
	if ok {
		return false, nil
	}
	return true, a.saveConfig(cfg)
}

func (a *Accountant) saveConfig(cfg Config) error {
	return a.store.KVPut(configKey, storedConfig{
		Level1Bps:     cfg.Level1Bps,
		Level2Bps:     cfg.Level2Bps,
		ClaimsEnabled: cfg.ClaimsEnabled,
	})
}

// MaybeLink binds user to the proposed referrer on the user's first
// contribution. The link is written at most once; a zero or self referrer, an
// existing link, or a prior contribution all make the call a silent no-op.
func (a *Accountant) MaybeLink(user, proposed [20]byte, priorContribution *big.Int) (bool, error) {
	if a == nil || a.store == nil {
		return false, fmt.Errorf("referral: accountant not initialised")
	}
	if proposed == ([20]byte{}) || proposed == user {
		return false, nil
	}
	if priorContribution != nil && priorContribution.Sign() > 0 {
		return false, nil
	}
	var existing storedLink
	ok, err := a.store.KVGet(linkKey(user), &existing)
	if err != nil {
		return false, err
	}
	if ok {
		return false, nil
	}
	if err := a.store.KVPut(linkKey(user), storedLink{Referrer: proposed}); err != nil {
		return false, err
	}
	return true, nil
}

// Referrer returns the stored referral link for a user.
func (a *Accountant) Referrer(user [20]byte) ([20]byte, bool, error) {
	if a == nil || a.store == nil {
		return [20]byte{}, false, fmt.Errorf("referral: accountant not initialised")
	}
	var stored storedLink
	ok, err := a.store.KVGet(linkKey(user), &stored)
	if err != nil {
		return [20]byte{}, false, err
	}
	if !ok {
		return [20]byte{}, false, nil
	}
	return stored.Referrer, true, nil
}

// CreditEarnings accrues the per-level rewards for a purchase of the supplied
// stable amount. Level one is skipped when the referrer is zero or the buyer
// themselves; level two additionally when it duplicates level one. Rewards
// truncate towards zero and zero rewards leave the ledger untouched. The
// returned credits list exactly the levels that earned.
func (a *Accountant) CreditEarnings(buyer [20]byte, amount *big.Int, level1, level2 [20]byte) ([]Credit, error) {
	if a == nil || a.store == nil {
		return nil, fmt.Errorf("referral: accountant not initialised")
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, nil
	}
	cfg, err := a.Config()
	if err != nil {
		return nil, err
	}

	credits := make([]Credit, 0, 2)
	if level1 != ([20]byte{}) && level1 != buyer {
		earned := rewardFor(amount, cfg.Level1Bps)
		if earned.Sign() > 0 {
			if err := a.accrue(level1, 1, earned); err != nil {
				return nil, err
			}
			credits = append(credits, Credit{Referrer: level1, Level: 1, Earned: earned})
		}
	}
	if level2 != ([20]byte{}) && level2 != buyer && level2 != level1 {
		earned := rewardFor(amount, cfg.Level2Bps)
		if earned.Sign() > 0 {
			if err := a.accrue(level2, 2, earned); err != nil {
				return nil, err
			}
			credits = append(credits, Credit{Referrer: level2, Level: 2, Earned: earned})
		}
	}
	return credits, nil
}

func (a *Accountant) accrue(referrer [20]byte, level uint8, earned *big.Int) error {
	ledger, err := a.LedgerOf(referrer)
	if err != nil {
		return err
	}
	ledger.TotalEarned = new(big.Int).Add(ledger.TotalEarned, earned)
	switch level {
	case 1:
		ledger.Level1Earned = new(big.Int).Add(ledger.Level1Earned, earned)
	case 2:
		ledger.Level2Earned = new(big.Int).Add(ledger.Level2Earned, earned)
	default:
		return fmt.Errorf("referral: unsupported level %d", level)
	}
	return a.store.KVPut(ledgerKey(referrer), toStoredLedger(ledger))
}

// LedgerOf returns the earnings ledger for a referrer. Unknown referrers read
// as all-zero ledgers.
func (a *Accountant) LedgerOf(referrer [20]byte) (*Ledger, error) {
	if a == nil || a.store == nil {
		return nil, fmt.Errorf("referral: accountant not initialised")
	}
	var stored storedLedger
	ok, err := a.store.KVGet(ledgerKey(referrer), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &Ledger{
			TotalEarned:  big.NewInt(0),
			Claimed:      big.NewInt(0),
			Level1Earned: big.NewInt(0),
			Level2Earned: big.NewInt(0),
		}, nil
	}
	return fromStoredLedger(&stored)
}

// Claim marks the referrer's full pending balance as claimed and returns the
// amount the caller must pay out. The claim gate applies before any balance
// check.
func (a *Accountant) Claim(user [20]byte) (*big.Int, error) {
	cfg, err := a.Config()
	if err != nil {
		return nil, err
	}
	if !cfg.ClaimsEnabled {
		return nil, ErrClaimsDisabled
	}
	ledger, err := a.LedgerOf(user)
	if err != nil {
		return nil, err
	}
	pending := ledger.Pending()
	if pending.Sign() <= 0 {
		return nil, ErrNothingToClaim
	}
	ledger.Claimed = new(big.Int).Set(ledger.TotalEarned)
	if err := a.store.KVPut(ledgerKey(user), toStoredLedger(ledger)); err != nil {
		return nil, err
	}
	return pending, nil
}

// RestorePending reverses a claim after the payout transfer failed, lowering
// the claimed marker so the amount becomes claimable again.
func (a *Accountant) RestorePending(user [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return nil
	}
	ledger, err := a.LedgerOf(user)
	if err != nil {
		return err
	}
	restored := new(big.Int).Sub(ledger.Claimed, amount)
	if restored.Sign() < 0 {
		restored = big.NewInt(0)
	}
	ledger.Claimed = restored
	return a.store.KVPut(ledgerKey(user), toStoredLedger(ledger))
}

func rewardFor(amount *big.Int, bps uint32) *big.Int {
	if amount == nil || amount.Sign() <= 0 || bps == 0 {
		return big.NewInt(0)
	}
	reward := new(big.Int).Mul(amount, new(big.Int).SetUint64(uint64(bps)))
	return reward.Quo(reward, big.NewInt(RateBpsDenominator))
}

func linkKey(user [20]byte) []byte {
	suffix := hex.EncodeToString(user[:])
	buf := make([]byte, len(linkPrefix)+len(suffix))
	copy(buf, linkPrefix)
	copy(buf[len(linkPrefix):], suffix)
	return buf
}

func ledgerKey(referrer [20]byte) []byte {
	suffix := hex.EncodeToString(referrer[:])
	buf := make([]byte, len(ledgerPrefix)+len(suffix))
	copy(buf, ledgerPrefix)
	copy(buf[len(ledgerPrefix):], suffix)
	return buf
}
