package referral

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/rlp"
)

type mockStorage struct {
	kv map[string][]byte
}

func newMockStorage() *mockStorage {
	return &mockStorage{kv: make(map[string][]byte)}
}

func (m *mockStorage) KVPut(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.kv[string(key)] = encoded
	return nil
}

func (m *mockStorage) KVGet(key []byte, out interface{}) (bool, error) {
	encoded, ok := m.kv[string(key)]
	if !ok {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(encoded, out); err != nil {
		return false, err
	}
	return true, nil
}

func newTestAccountant(t *testing.T, level1Bps, level2Bps uint32) *Accountant {
	t.Helper()
	acct := NewAccountant(newMockStorage())
	if err := acct.SetRates(level1Bps, level2Bps); err != nil {
		t.Fatalf("set rates: %v", err)
	}
	return acct
}

func TestCreditEarningsTwoLevels(t *testing.T) {
	acct := newTestAccountant(t, 1000, 300)
	buyer := [20]byte{0x01}
	level1 := [20]byte{0x02}
	level2 := [20]byte{0x03}

	credits, err := acct.CreditEarnings(buyer, big.NewInt(100), level1, level2)
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if len(credits) != 2 {
		t.Fatalf("expected 2 credits, got %d", len(credits))
	}
	if credits[0].Level != 1 || credits[0].Earned.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("unexpected level1 credit: %+v", credits[0])
	}
	if credits[1].Level != 2 || credits[1].Earned.Cmp(big.NewInt(3)) != 0 {
		t.Fatalf("unexpected level2 credit: %+v", credits[1])
	}

	ledger1, err := acct.LedgerOf(level1)
	if err != nil {
		t.Fatalf("ledger of level1: %v", err)
	}
	if ledger1.TotalEarned.Cmp(big.NewInt(10)) != 0 || ledger1.Level1Earned.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("unexpected level1 ledger: %+v", ledger1)
	}
	ledger2, err := acct.LedgerOf(level2)
	if err != nil {
		t.Fatalf("ledger of level2: %v", err)
	}
	if ledger2.TotalEarned.Cmp(big.NewInt(3)) != 0 || ledger2.Level2Earned.Cmp(big.NewInt(3)) != 0 {
		t.Fatalf("unexpected level2 ledger: %+v", ledger2)
	}
}

func TestCreditEarningsTruncates(t *testing.T) {
	acct := newTestAccountant(t, 1000, 300)
	credits, err := acct.CreditEarnings([20]byte{0x01}, big.NewInt(105), [20]byte{0x02}, [20]byte{0x03})
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	// 105 * 1000 / 10000 = 10.5 -> 10, 105 * 300 / 10000 = 3.15 -> 3
	if credits[0].Earned.Cmp(big.NewInt(10)) != 0 || credits[1].Earned.Cmp(big.NewInt(3)) != 0 {
		t.Fatalf("expected truncated rewards 10 and 3, got %s and %s", credits[0].Earned, credits[1].Earned)
	}
}

func TestCreditEarningsSkipsZeroReward(t *testing.T) {
	acct := newTestAccountant(t, 1, 1)
	credits, err := acct.CreditEarnings([20]byte{0x01}, big.NewInt(99), [20]byte{0x02}, [20]byte{0x03})
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if len(credits) != 0 {
		t.Fatalf("99 * 1bps truncates to zero, expected no credits, got %d", len(credits))
	}
	ledger, err := acct.LedgerOf([20]byte{0x02})
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	if ledger.TotalEarned.Sign() != 0 {
		t.Fatalf("zero rewards must not touch the ledger, got %s", ledger.TotalEarned)
	}
}

func TestCreditEarningsSkipRules(t *testing.T) {
	buyer := [20]byte{0x01}
	other := [20]byte{0x02}

	t.Run("zero level1", func(t *testing.T) {
		acct := newTestAccountant(t, 1000, 300)
		credits, err := acct.CreditEarnings(buyer, big.NewInt(100), [20]byte{}, other)
		if err != nil {
			t.Fatalf("credit: %v", err)
		}
		if len(credits) != 1 || credits[0].Level != 2 {
			t.Fatalf("expected only level2 credit, got %+v", credits)
		}
	})

	t.Run("self level1", func(t *testing.T) {
		acct := newTestAccountant(t, 1000, 300)
		credits, err := acct.CreditEarnings(buyer, big.NewInt(100), buyer, other)
		if err != nil {
			t.Fatalf("credit: %v", err)
		}
		if len(credits) != 1 || credits[0].Level != 2 {
			t.Fatalf("self referrer must be skipped, got %+v", credits)
		}
	})

	t.Run("duplicate levels", func(t *testing.T) {
		acct := newTestAccountant(t, 1000, 300)
		credits, err := acct.CreditEarnings(buyer, big.NewInt(100), other, other)
		if err != nil {
			t.Fatalf("credit: %v", err)
		}
		if len(credits) != 1 || credits[0].Level != 1 {
			t.Fatalf("duplicate referrer must earn only level1, got %+v", credits)
		}
		ledger, err := acct.LedgerOf(other)
		if err != nil {
			t.Fatalf("ledger: %v", err)
		}
		if ledger.TotalEarned.Cmp(big.NewInt(10)) != 0 {
			t.Fatalf("expected single level1 accrual of 10, got %s", ledger.TotalEarned)
		}
	})

	t.Run("self level2", func(t *testing.T) {
		acct := newTestAccountant(t, 1000, 300)
		credits, err := acct.CreditEarnings(buyer, big.NewInt(100), other, buyer)
		if err != nil {
			t.Fatalf("credit: %v", err)
		}
		if len(credits) != 1 || credits[0].Level != 1 {
			t.Fatalf("self level2 must be skipped, got %+v", credits)
		}
	})
}

func TestMaybeLinkFirstContributionOnly(t *testing.T) {
	acct := newTestAccountant(t, 1000, 300)
	user := [20]byte{0x01}
	referrer := [20]byte{0x02}
	replacement := [20]byte{0x03}

	linked, err := acct.MaybeLink(user, referrer, big.NewInt(0))
	if err != nil || !linked {
		t.Fatalf("first link: linked=%v err=%v", linked, err)
	}
	got, ok, err := acct.Referrer(user)
	if err != nil || !ok || got != referrer {
		t.Fatalf("referrer lookup: got=%x ok=%v err=%v", got, ok, err)
	}

	linked, err = acct.MaybeLink(user, replacement, big.NewInt(0))
	if err != nil || linked {
		t.Fatalf("second link must be a no-op: linked=%v err=%v", linked, err)
	}
	got, _, err = acct.Referrer(user)
	if err != nil || got != referrer {
		t.Fatalf("link must never be overwritten: got=%x err=%v", got, err)
	}
}

func TestMaybeLinkSkips(t *testing.T) {
	acct := newTestAccountant(t, 1000, 300)
	user := [20]byte{0x01}

	if linked, err := acct.MaybeLink(user, [20]byte{}, big.NewInt(0)); err != nil || linked {
		t.Fatalf("zero referrer must not link: linked=%v err=%v", linked, err)
	}
	if linked, err := acct.MaybeLink(user, user, big.NewInt(0)); err != nil || linked {
		t.Fatalf("self referrer must not link: linked=%v err=%v", linked, err)
	}
	if linked, err := acct.MaybeLink(user, [20]byte{0x02}, big.NewInt(50)); err != nil || linked {
		t.Fatalf("prior contribution must block linking: linked=%v err=%v", linked, err)
	}
	if _, ok, err := acct.Referrer(user); err != nil || ok {
		t.Fatalf("no link should exist: ok=%v err=%v", ok, err)
	}
}

func TestClaimLifecycle(t *testing.T) {
	acct := newTestAccountant(t, 1000, 0)
	referrer := [20]byte{0x02}

	if _, err := acct.CreditEarnings([20]byte{0x01}, big.NewInt(500), referrer, [20]byte{}); err != nil {
		t.Fatalf("credit: %v", err)
	}

	if _, err := acct.Claim(referrer); !errors.Is(err, ErrClaimsDisabled) {
		t.Fatalf("expected ErrClaimsDisabled, got %v", err)
	}
	ledger, err := acct.LedgerOf(referrer)
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	if ledger.Claimed.Sign() != 0 {
		t.Fatalf("gated claim must not mutate, claimed=%s", ledger.Claimed)
	}

	if _, err := acct.SetClaimsEnabled(true); err != nil {
		t.Fatalf("enable claims: %v", err)
	}
	amount, err := acct.Claim(referrer)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if amount.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("expected claim of 50, got %s", amount)
	}

	ledger, err = acct.LedgerOf(referrer)
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	if ledger.Pending().Sign() != 0 {
		t.Fatalf("pending must be zero after claim, got %s", ledger.Pending())
	}
	if ledger.Claimed.Cmp(ledger.TotalEarned) != 0 {
		t.Fatalf("claimed must equal total earned: %+v", ledger)
	}

	if _, err := acct.Claim(referrer); !errors.Is(err, ErrNothingToClaim) {
		t.Fatalf("expected ErrNothingToClaim, got %v", err)
	}
}

func TestClaimAccruesAfterClaim(t *testing.T) {
	acct := newTestAccountant(t, 1000, 0)
	referrer := [20]byte{0x02}

	if _, err := acct.SetClaimsEnabled(true); err != nil {
		t.Fatalf("enable claims: %v", err)
	}
	if _, err := acct.CreditEarnings([20]byte{0x01}, big.NewInt(100), referrer, [20]byte{}); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if _, err := acct.Claim(referrer); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := acct.CreditEarnings([20]byte{0x03}, big.NewInt(200), referrer, [20]byte{}); err != nil {
		t.Fatalf("credit after claim: %v", err)
	}

	ledger, err := acct.LedgerOf(referrer)
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	if ledger.TotalEarned.Cmp(big.NewInt(30)) != 0 {
		t.Fatalf("expected total earned 30, got %s", ledger.TotalEarned)
	}
	if ledger.Pending().Cmp(big.NewInt(20)) != 0 {
		t.Fatalf("pending must be total minus claimed, got %s", ledger.Pending())
	}
}

func TestRestorePending(t *testing.T) {
	acct := newTestAccountant(t, 1000, 0)
	referrer := [20]byte{0x02}

	if _, err := acct.SetClaimsEnabled(true); err != nil {
		t.Fatalf("enable claims: %v", err)
	}
	if _, err := acct.CreditEarnings([20]byte{0x01}, big.NewInt(300), referrer, [20]byte{}); err != nil {
		t.Fatalf("credit: %v", err)
	}
	amount, err := acct.Claim(referrer)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	if err := acct.RestorePending(referrer, amount); err != nil {
		t.Fatalf("restore: %v", err)
	}
	ledger, err := acct.LedgerOf(referrer)
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	if ledger.Pending().Cmp(amount) != 0 {
		t.Fatalf("expected pending restored to %s, got %s", amount, ledger.Pending())
	}
}

func TestSetRatesBounds(t *testing.T) {
	acct := NewAccountant(newMockStorage())

	if err := acct.SetRates(MaxRateBps, MaxRateBps); err != nil {
		t.Fatalf("rates at maximum: %v", err)
	}
	if err := acct.SetRates(MaxRateBps+1, 0); !errors.Is(err, ErrInvalidRate) {
		t.Fatalf("expected ErrInvalidRate for level1, got %v", err)
	}
	if err := acct.SetRates(0, MaxRateBps+1); !errors.Is(err, ErrInvalidRate) {
		t.Fatalf("expected ErrInvalidRate for level2, got %v", err)
	}

	cfg, err := acct.Config()
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if cfg.Level1Bps != MaxRateBps || cfg.Level2Bps != MaxRateBps {
		t.Fatalf("rejected updates must not persist: %+v", cfg)
	}
}

func TestReferralGenesisIdempotent(t *testing.T) {
	acct := NewAccountant(newMockStorage())

	applied, err := acct.ApplyGenesis(Config{Level1Bps: 500, Level2Bps: 200})
	if err != nil || !applied {
		t.Fatalf("genesis: applied=%v err=%v", applied, err)
	}
	applied, err = acct.ApplyGenesis(Config{Level1Bps: 900, Level2Bps: 900})
	if err != nil || applied {
		t.Fatalf("genesis replay must be a no-op: applied=%v err=%v", applied, err)
	}
	cfg, err := acct.Config()
	if err != nil || cfg.Level1Bps != 500 || cfg.Level2Bps != 200 {
		t.Fatalf("unexpected config after replay: %+v err=%v", cfg, err)
	}
}
