package core

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"launchpad/core/events"
	"launchpad/crypto"
	nativecommon "launchpad/native/common"
	"launchpad/native/market"
	"launchpad/native/referral"
	"launchpad/native/sale"
	"launchpad/observability"
)

// Custody moves token balances between participant accounts and the accounts
// the sale controls. Implementations settle on the external chain hosting the
// payment assets.
type Custody interface {
	// Pull draws amount of token from the payer into the destination account.
	Pull(ctx context.Context, token common.Address, payer, destination common.Address, amount *big.Int) error
	// Push sends amount of token from the source account to the recipient.
	Push(ctx context.Context, token common.Address, source, recipient common.Address, amount *big.Int) error
}

// Authorizer answers role checks for administrative operations.
type Authorizer interface {
	HasRole(role string, addr []byte) bool
}

// RoleAdmin extends Authorizer with membership mutation.
type RoleAdmin interface {
	Authorizer
	GrantRole(role string, addr []byte) error
	RevokeRole(role string, addr []byte) error
}

// PauseController exposes the pause switchboard behind the guard checks.
type PauseController interface {
	nativecommon.PauseView
	SetPaused(module string, paused bool) error
}

// Config carries the account wiring for the sale controller.
type Config struct {
	// StableToken is the ERC-20 the sale is denominated in.
	StableToken common.Address
	// Treasury receives stable proceeds and funds referral payouts.
	Treasury common.Address
	// CustodyAccount holds pulled tokens while a conversion is in flight.
	// Defaults to the treasury when unset.
	CustodyAccount common.Address
}

// Node is the central controller, wiring the sale, referral and market
// engines together behind a single serialization point. Every state-changing
// operation runs under stateMu; purchases and claims additionally hold a
// per-actor reservation so re-entrant submissions fail fast instead of
// queueing on the big lock.
type Node struct {
	cfg Config

	sale      *sale.Ledger
	referral  *referral.Accountant
	exchanger *market.Exchanger
	custody   Custody
	auth      Authorizer

	stateMu sync.Mutex

	inflightMu sync.Mutex
	inflight   map[[20]byte]struct{}

	pauses  PauseController
	intents *IntentStore
	emitter events.Emitter
	now     func() time.Time

	saleMetrics     *observability.SaleMetrics
	referralMetrics *observability.ReferralMetrics
}

// NewNode wires the controller with its engines and external ports. The
// exchanger may be nil, in which case only stable-token payments are accepted.
func NewNode(cfg Config, ledger *sale.Ledger, accountant *referral.Accountant, exchanger *market.Exchanger, custody Custody, auth Authorizer) (*Node, error) {
	if ledger == nil {
		return nil, fmt.Errorf("core: sale ledger required")
	}
	if accountant == nil {
		return nil, fmt.Errorf("core: referral accountant required")
	}
	if custody == nil {
		return nil, fmt.Errorf("core: custody port required")
	}
	if auth == nil {
		return nil, fmt.Errorf("core: authorizer required")
	}
	if cfg.StableToken == (common.Address{}) {
		return nil, fmt.Errorf("core: stable token address required")
	}
	if cfg.Treasury == (common.Address{}) {
		return nil, fmt.Errorf("core: treasury address required")
	}
	if cfg.CustodyAccount == (common.Address{}) {
		cfg.CustodyAccount = cfg.Treasury
	}
	return &Node{
		cfg:             cfg,
		sale:            ledger,
		referral:        accountant,
		exchanger:       exchanger,
		custody:         custody,
		auth:            auth,
		inflight:        make(map[[20]byte]struct{}),
		emitter:         events.NoopEmitter{},
		now:             time.Now,
		saleMetrics:     observability.Sale(),
		referralMetrics: observability.Referral(),
	}, nil
}

// SetEmitter installs the sink receiving domain events. Passing nil restores
// the discarding default.
func (n *Node) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	n.emitter = emitter
}

// SetPauses installs the pause switchboard consulted before state-changing
// operations.
func (n *Node) SetPauses(pauses PauseController) {
	n.pauses = pauses
}

// SetIntentStore installs the replay-protection store. Without one, purchase
// intent references are ignored.
func (n *Node) SetIntentStore(store *IntentStore) {
	n.intents = store
}

// SetNowFunc overrides the clock used for intent retention.
func (n *Node) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	n.now = now
}

func (n *Node) acquireActor(actor [20]byte) error {
	n.inflightMu.Lock()
	defer n.inflightMu.Unlock()
	if _, busy := n.inflight[actor]; busy {
		return ErrOperationInProgress
	}
	n.inflight[actor] = struct{}{}
	return nil
}

func (n *Node) releaseActor(actor [20]byte) {
	n.inflightMu.Lock()
	delete(n.inflight, actor)
	n.inflightMu.Unlock()
}

func accountKey(addr crypto.Address) ([20]byte, bool) {
	var out [20]byte
	if addr.IsZero() {
		return out, false
	}
	copy(out[:], addr.Bytes())
	return out, true
}

// --- Purchases ---

// PurchaseParams describes a contribution submitted to the sale.
type PurchaseParams struct {
	// IntentRef is an optional caller-chosen idempotency reference. Once a
	// purchase completes under a reference, replays of that reference are
	// rejected; failed attempts release it for retry.
	IntentRef string
	Buyer     crypto.Address
	// Token is the ERC-20 the buyer pays with. Paying the stable token
	// directly skips conversion.
	Token  common.Address
	Amount *big.Int
	// Referrer and ReferrerL2 are supplied by the buyer and credited as-is;
	// they are not checked against any previously stored link.
	Referrer   crypto.Address
	ReferrerL2 crypto.Address
}

// PurchaseReceipt reports the settled outcome of a purchase.
type PurchaseReceipt struct {
	StageID      uint64
	AmountIn     *big.Int
	StableAmount *big.Int
	Linked       bool
	Credits      []referral.Credit
}

// Purchase settles a contribution end to end: funds are pulled (and converted
// when the payment is not the stable token), then the sale and referral
// ledgers are written. If the ledger rejects the contribution after funds
// moved, the received value is returned to the buyer and the original error
// surfaces.
func (n *Node) Purchase(ctx context.Context, params PurchaseParams) (*PurchaseReceipt, error) {
	if n == nil || n.sale == nil {
		return nil, ErrNodeNotReady
	}
	buyer, ok := accountKey(params.Buyer)
	if !ok {
		return nil, ErrInvalidAddress
	}
	if params.Amount == nil || params.Amount.Sign() <= 0 {
		return nil, sale.ErrInvalidAmount
	}
	if params.Token == (common.Address{}) {
		return nil, ErrInvalidPaymentToken
	}
	ref := strings.TrimSpace(params.IntentRef)
	if len(ref) > maxIntentRefLen {
		return nil, ErrIntentRefInvalid
	}
	if err := n.acquireActor(buyer); err != nil {
		return nil, err
	}
	defer n.releaseActor(buyer)

	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	kind := "token"
	if params.Token == n.cfg.StableToken {
		kind = "stable"
	}
	start := n.now()
	receipt, err := n.purchaseLocked(ctx, buyer, params, ref)
	n.saleMetrics.ObservePurchase(kind, n.now().Sub(start), err)
	return receipt, err
}

func (n *Node) purchaseLocked(ctx context.Context, buyer [20]byte, params PurchaseParams, ref string) (*PurchaseReceipt, error) {
	if err := nativecommon.Guard(n.pauses, nativecommon.ModuleSale); err != nil {
		return nil, err
	}
	active, err := n.sale.SaleActive()
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, sale.ErrSaleNotActive
	}
	var intentHash [32]byte
	guarded := ref != "" && n.intents != nil
	if guarded {
		intentHash = IntentHash(buyer, ref)
		state, err := n.intents.Reserve(intentHash, n.now())
		if err != nil {
			return nil, err
		}
		switch state {
		case IntentStatePending:
			return nil, ErrOperationInProgress
		case IntentStateProcessed:
			return nil, ErrIntentConsumed
		}
	}
	receipt, err := n.settlePurchase(ctx, buyer, params)
	if guarded {
		if err != nil {
			_ = n.intents.Release(intentHash)
		} else {
			_ = n.intents.MarkProcessed(intentHash, n.now())
		}
	}
	return receipt, err
}

func (n *Node) settlePurchase(ctx context.Context, buyer [20]byte, params PurchaseParams) (*PurchaseReceipt, error) {
	amount := new(big.Int).Set(params.Amount)
	buyerAccount := common.BytesToAddress(buyer[:])

	if params.Token == n.cfg.StableToken {
		// Validate against the stage limits before any funds move.
		if _, err := n.sale.CheckRecord(buyer, amount); err != nil {
			return nil, err
		}
		if err := n.custody.Pull(ctx, params.Token, buyerAccount, n.cfg.Treasury, amount); err != nil {
			return nil, fmt.Errorf("core: pull payment: %w", err)
		}
		return n.recordWithRefund(ctx, buyer, params, amount, amount, "stable")
	}

	if n.exchanger == nil {
		return nil, ErrInvalidPaymentToken
	}
	if err := n.custody.Pull(ctx, params.Token, buyerAccount, n.cfg.CustodyAccount, amount); err != nil {
		return nil, fmt.Errorf("core: pull payment: %w", err)
	}
	stableOut, err := n.exchanger.Convert(ctx, params.Token, amount, n.cfg.Treasury)
	if err != nil {
		// The pulled tokens are still intact in custody; hand them back.
		if refundErr := n.custody.Push(ctx, params.Token, n.cfg.CustodyAccount, buyerAccount, amount); refundErr != nil {
			return nil, fmt.Errorf("core: refund after failed conversion: %v: %w", refundErr, err)
		}
		n.saleMetrics.RecordRefund("token", "conversion_failed")
		return nil, err
	}
	return n.recordWithRefund(ctx, buyer, params, amount, stableOut, "token")
}

// recordWithRefund commits the ledger writes and, should they fail, returns
// the received stable value from the treasury to the buyer.
func (n *Node) recordWithRefund(ctx context.Context, buyer [20]byte, params PurchaseParams, amountIn, stable *big.Int, kind string) (*PurchaseReceipt, error) {
	receipt, err := n.recordPurchase(buyer, params, amountIn, stable)
	if err == nil {
		return receipt, nil
	}
	buyerAccount := common.BytesToAddress(buyer[:])
	if refundErr := n.custody.Push(ctx, n.cfg.StableToken, n.cfg.Treasury, buyerAccount, stable); refundErr != nil {
		return nil, fmt.Errorf("core: refund after rejected purchase: %v: %w", refundErr, err)
	}
	n.saleMetrics.RecordRefund(kind, "ledger_rejected")
	return nil, err
}

func (n *Node) recordPurchase(buyer [20]byte, params PurchaseParams, amountIn, stable *big.Int) (*PurchaseReceipt, error) {
	// The first-contribution rule for linking is evaluated against the total
	// before this purchase lands.
	prior, err := n.sale.UserTotalContribution(buyer)
	if err != nil {
		return nil, err
	}
	if _, err := n.sale.CheckRecord(buyer, stable); err != nil {
		return nil, err
	}
	referrer, hasReferrer := accountKey(params.Referrer)
	referrerL2, _ := accountKey(params.ReferrerL2)
	linked := false
	if hasReferrer {
		linked, err = n.referral.MaybeLink(buyer, referrer, prior)
		if err != nil {
			return nil, err
		}
	}
	stageID, err := n.sale.Record(buyer, stable)
	if err != nil {
		return nil, err
	}
	credits, err := n.referral.CreditEarnings(buyer, stable, referrer, referrerL2)
	if err != nil {
		return nil, err
	}

	if linked {
		n.emitter.Emit(events.ReferralLinked{User: buyer, Referrer: referrer})
	}
	n.emitter.Emit(events.SaleContribution{
		Buyer:        buyer,
		StageID:      stageID,
		StableAmount: new(big.Int).Set(stable),
		Asset:        params.Token.Hex(),
		AmountIn:     new(big.Int).Set(amountIn),
	})
	for _, credit := range credits {
		n.emitter.Emit(events.ReferralCredited{
			Referrer: credit.Referrer,
			Referred: buyer,
			Level:    credit.Level,
			Base:     new(big.Int).Set(stable),
			Earned:   credit.Earned,
		})
		n.referralMetrics.RecordCredit(credit.Level, credit.Earned)
	}
	n.saleMetrics.RecordRaised(stable)
	return &PurchaseReceipt{
		StageID:      stageID,
		AmountIn:     new(big.Int).Set(amountIn),
		StableAmount: new(big.Int).Set(stable),
		Linked:       linked,
		Credits:      credits,
	}, nil
}

// --- Claims ---

// Claim releases the claimant's pending referral earnings and pays them out
// from the treasury. A failed payout restores the pending balance before the
// transfer error surfaces.
func (n *Node) Claim(ctx context.Context, claimant crypto.Address) (*big.Int, error) {
	if n == nil || n.referral == nil {
		return nil, ErrNodeNotReady
	}
	user, ok := accountKey(claimant)
	if !ok {
		return nil, ErrInvalidAddress
	}
	if err := n.acquireActor(user); err != nil {
		return nil, err
	}
	defer n.releaseActor(user)

	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	if err := nativecommon.Guard(n.pauses, nativecommon.ModuleReferral); err != nil {
		return nil, err
	}
	amount, err := n.referral.Claim(user)
	if err != nil {
		return nil, err
	}
	userAccount := common.BytesToAddress(user[:])
	if err := n.custody.Push(ctx, n.cfg.StableToken, n.cfg.Treasury, userAccount, amount); err != nil {
		if restoreErr := n.referral.RestorePending(user, amount); restoreErr != nil {
			return nil, fmt.Errorf("core: restore pending after failed payout: %v: %w", restoreErr, err)
		}
		n.referralMetrics.RecordRestore()
		return nil, fmt.Errorf("core: payout claim: %w", err)
	}
	n.emitter.Emit(events.ReferralClaimed{User: user, Amount: new(big.Int).Set(amount)})
	n.referralMetrics.RecordClaim(amount)
	return amount, nil
}

// --- Administrative operations ---

func (n *Node) requireRole(caller crypto.Address, role string) error {
	addr, ok := accountKey(caller)
	if !ok {
		return ErrInvalidAddress
	}
	if n.auth == nil || !n.auth.HasRole(role, addr[:]) {
		return ErrUnauthorized
	}
	return nil
}

// AddStage appends a stage to the sale schedule and returns its identifier.
func (n *Node) AddStage(caller crypto.Address, params sale.StageParams) (uint64, error) {
	if err := n.requireRole(caller, nativecommon.RoleSaleAdmin); err != nil {
		return 0, err
	}
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	id, err := n.sale.AddStage(params)
	if err != nil {
		return 0, err
	}
	n.emitter.Emit(events.SaleStageAdded{
		StageID:     id,
		Cap:         params.Cap,
		MinPurchase: params.MinPurchase,
		MaxPurchase: params.MaxPurchase,
	})
	return id, nil
}

// UpdateStage replaces the parameters of an existing stage.
func (n *Node) UpdateStage(caller crypto.Address, id uint64, params sale.StageParams) error {
	if err := n.requireRole(caller, nativecommon.RoleSaleAdmin); err != nil {
		return err
	}
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	if err := n.sale.UpdateStage(id, params); err != nil {
		return err
	}
	n.emitter.Emit(events.SaleStageUpdated{
		StageID:     id,
		Cap:         params.Cap,
		MinPurchase: params.MinPurchase,
		MaxPurchase: params.MaxPurchase,
	})
	return nil
}

// ActivateStage makes the supplied stage the active one, deactivating any
// predecessor.
func (n *Node) ActivateStage(caller crypto.Address, id uint64) error {
	if err := n.requireRole(caller, nativecommon.RoleSaleAdmin); err != nil {
		return err
	}
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	prev, hadPrev, err := n.sale.ActivateStage(id)
	if err != nil {
		return err
	}
	if hadPrev && prev != id {
		n.emitter.Emit(events.SaleStageDeactivated{StageID: prev})
	}
	n.emitter.Emit(events.SaleStageActivated{StageID: id})
	return nil
}

// DeactivateStage switches off the active stage. Calling it with no active
// stage is a no-op.
func (n *Node) DeactivateStage(caller crypto.Address) error {
	if err := n.requireRole(caller, nativecommon.RoleSaleAdmin); err != nil {
		return err
	}
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	prev, had, err := n.sale.DeactivateCurrent()
	if err != nil {
		return err
	}
	if had {
		n.emitter.Emit(events.SaleStageDeactivated{StageID: prev})
	}
	return nil
}

// SetSaleActive flips the global sale gate.
func (n *Node) SetSaleActive(caller crypto.Address, active bool) error {
	if err := n.requireRole(caller, nativecommon.RoleSaleAdmin); err != nil {
		return err
	}
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	changed, err := n.sale.SetSaleActive(active)
	if err != nil {
		return err
	}
	if changed {
		n.emitter.Emit(events.SaleStateChanged{Active: active})
	}
	return nil
}

// SetReferralRates replaces the per-level reward rates.
func (n *Node) SetReferralRates(caller crypto.Address, level1Bps, level2Bps uint32) error {
	if err := n.requireRole(caller, nativecommon.RoleReferralAdmin); err != nil {
		return err
	}
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	if err := n.referral.SetRates(level1Bps, level2Bps); err != nil {
		return err
	}
	n.emitter.Emit(events.ReferralRatesUpdated{Level1Bps: level1Bps, Level2Bps: level2Bps})
	return nil
}

// SetReferralClaimsEnabled toggles the claim gate.
func (n *Node) SetReferralClaimsEnabled(caller crypto.Address, enabled bool) error {
	if err := n.requireRole(caller, nativecommon.RoleReferralAdmin); err != nil {
		return err
	}
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	changed, err := n.referral.SetClaimsEnabled(enabled)
	if err != nil {
		return err
	}
	if changed {
		n.emitter.Emit(events.ReferralClaimsGate{Enabled: enabled})
	}
	return nil
}

// SetPaused toggles the pause flag for one of the modules.
func (n *Node) SetPaused(caller crypto.Address, module string, paused bool) error {
	if err := n.requireRole(caller, nativecommon.RolePauser); err != nil {
		return err
	}
	switch module {
	case nativecommon.ModuleSale, nativecommon.ModuleReferral, nativecommon.ModuleMarket:
	default:
		return fmt.Errorf("core: unknown module %q", module)
	}
	if n.pauses == nil {
		return ErrNodeNotReady
	}
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.pauses.SetPaused(module, paused)
}

// GrantRole adds the member to a role's allow list.
func (n *Node) GrantRole(caller crypto.Address, role string, member crypto.Address) error {
	if err := n.requireRole(caller, nativecommon.RoleSaleAdmin); err != nil {
		return err
	}
	admin, ok := n.auth.(RoleAdmin)
	if !ok {
		return ErrNodeNotReady
	}
	addr, ok := accountKey(member)
	if !ok {
		return ErrInvalidAddress
	}
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return admin.GrantRole(role, addr[:])
}

// RevokeRole removes the member from a role's allow list.
func (n *Node) RevokeRole(caller crypto.Address, role string, member crypto.Address) error {
	if err := n.requireRole(caller, nativecommon.RoleSaleAdmin); err != nil {
		return err
	}
	admin, ok := n.auth.(RoleAdmin)
	if !ok {
		return ErrNodeNotReady
	}
	addr, ok := accountKey(member)
	if !ok {
		return ErrInvalidAddress
	}
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return admin.RevokeRole(role, addr[:])
}

// --- Views ---

// SaleStatus summarises the sale gate, schedule size and active stage. Stage
// is nil while no stage is active.
type SaleStatus struct {
	Active     bool
	StageCount uint64
	Stage      *sale.Stage
}

// Status reports the current sale status.
func (n *Node) Status() (*SaleStatus, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	active, err := n.sale.SaleActive()
	if err != nil {
		return nil, err
	}
	count, err := n.sale.StageCount()
	if err != nil {
		return nil, err
	}
	stage, has, err := n.sale.ActiveStage()
	if err != nil {
		return nil, err
	}
	status := &SaleStatus{Active: active, StageCount: count}
	if has {
		status.Stage = stage
	}
	return status, nil
}

// Stages returns the full sale schedule.
func (n *Node) Stages() ([]*sale.Stage, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.sale.Stages()
}

// ContributionSummary reports a user's recorded totals. ByStage only carries
// stages with a non-zero contribution.
type ContributionSummary struct {
	Total   *big.Int
	ByStage map[uint64]*big.Int
}

// Contributions reports the cumulative totals recorded for a user.
func (n *Node) Contributions(user crypto.Address) (*ContributionSummary, error) {
	account, ok := accountKey(user)
	if !ok {
		return nil, ErrInvalidAddress
	}
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	total, err := n.sale.UserTotalContribution(account)
	if err != nil {
		return nil, err
	}
	count, err := n.sale.StageCount()
	if err != nil {
		return nil, err
	}
	byStage := make(map[uint64]*big.Int)
	for id := uint64(0); id < count; id++ {
		amount, err := n.sale.UserStageContribution(account, id)
		if err != nil {
			return nil, err
		}
		if amount.Sign() > 0 {
			byStage[id] = amount
		}
	}
	return &ContributionSummary{Total: total, ByStage: byStage}, nil
}

// ReferralSummary reports a referrer's earnings ledger and stored link.
type ReferralSummary struct {
	Ledger      *referral.Ledger
	Referrer    crypto.Address
	HasReferrer bool
}

// ReferralState reports the earnings ledger and link stored for a user.
func (n *Node) ReferralState(user crypto.Address) (*ReferralSummary, error) {
	account, ok := accountKey(user)
	if !ok {
		return nil, ErrInvalidAddress
	}
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	ledger, err := n.referral.LedgerOf(account)
	if err != nil {
		return nil, err
	}
	summary := &ReferralSummary{Ledger: ledger}
	link, has, err := n.referral.Referrer(account)
	if err != nil {
		return nil, err
	}
	if has {
		summary.Referrer = crypto.NewAddress(link[:])
		summary.HasReferrer = true
	}
	return summary, nil
}

// ReferralRates reports the configured reward rates and claim gate.
func (n *Node) ReferralRates() (referral.Config, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.referral.Config()
}

// StableToken reports the token contributions settle into.
func (n *Node) StableToken() common.Address {
	return n.cfg.StableToken
}

// MarketTiers reports the fee tiers probed for conversions. A stable-only
// deployment reports none.
func (n *Node) MarketTiers() []uint32 {
	if n.exchanger == nil {
		return nil
	}
	return n.exchanger.FeeTiers()
}

// MarketRoute previews the venue a payment in token would convert through.
// ok is false when no venue holds liquidity for the pair. Stable-only
// deployments report ErrInvalidPaymentToken for every token.
func (n *Node) MarketRoute(ctx context.Context, token common.Address) (*market.Route, bool, error) {
	if n.exchanger == nil {
		return nil, false, ErrInvalidPaymentToken
	}
	if token == (common.Address{}) || token == n.cfg.StableToken {
		return nil, false, ErrInvalidPaymentToken
	}
	return n.exchanger.BestRoute(ctx, token)
}

// ApplyGenesis seeds the sale schedule and referral configuration on first
// boot. Both applications are no-ops once state exists.
func (n *Node) ApplyGenesis(stages []sale.StageParams, cfg referral.Config) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	if _, err := n.sale.ApplyGenesis(stages); err != nil {
		return fmt.Errorf("core: genesis stages: %w", err)
	}
	if _, err := n.referral.ApplyGenesis(cfg); err != nil {
		return fmt.Errorf("core: genesis referral config: %w", err)
	}
	return nil
}
