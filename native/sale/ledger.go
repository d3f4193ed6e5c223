package sale

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
)

// Storage abstracts the subset of state manager functionality required by the
// stage ledger.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

var (
	saleStateKey       = []byte("sale/state")
	stageRecordPrefix  = []byte("sale/stage/")
	stageContribPrefix = []byte("sale/contrib/")
	userTotalPrefix    = []byte("sale/user/")
)

// Ledger persists the stage schedule and contribution records in the
// underlying key-value store. It is not safe for concurrent use; the node
// serialises access.
type Ledger struct {
	store Storage
}

// NewLedger constructs a ledger bound to the provided storage backend.
func NewLedger(store Storage) *Ledger {
	return &Ledger{store: store}
}

func (l *Ledger) loadState() (storedSaleState, error) {
	var state storedSaleState
	if l == nil || l.store == nil {
		return state, fmt.Errorf("sale: ledger not initialised")
	}
	if _, err := l.store.KVGet(saleStateKey, &state); err != nil {
		return state, err
	}
	return state, nil
}

func (l *Ledger) saveState(state storedSaleState) error {
	return l.store.KVPut(saleStateKey, state)
}

// SaleActive reports the global sale gate.
func (l *Ledger) SaleActive() (bool, error) {
	state, err := l.loadState()
	if err != nil {
		return false, err
	}
	return state.Active, nil
}

// SetSaleActive flips the global sale gate and reports whether the value
// changed.
func (l *Ledger) SetSaleActive(active bool) (bool, error) {
	state, err := l.loadState()
	if err != nil {
		return false, err
	}
	if state.Active == active {
		return false, nil
	}
	state.Active = active
	if err := l.saveState(state); err != nil {
		return false, err
	}
	return true, nil
}

// StageCount returns the number of stages appended so far.
func (l *Ledger) StageCount() (uint64, error) {
	state, err := l.loadState()
	if err != nil {
		return 0, err
	}
	return state.StageCount, nil
}

// AddStage appends a new inactive stage and returns its identifier.
func (l *Ledger) AddStage(params StageParams) (uint64, error) {
	if err := params.Validate(); err != nil {
		return 0, err
	}
	state, err := l.loadState()
	if err != nil {
		return 0, err
	}
	id := state.StageCount
	stage := &Stage{
		ID:          id,
		Cap:         params.Cap,
		MinPurchase: params.MinPurchase,
		MaxPurchase: params.MaxPurchase,
		TotalRaised: big.NewInt(0),
	}
	if err := l.store.KVPut(stageKey(id), toStoredStage(stage)); err != nil {
		return 0, err
	}
	state.StageCount = id + 1
	if err := l.saveState(state); err != nil {
		return 0, err
	}
	return id, nil
}

// UpdateStage replaces the configuration of an existing stage. The cap may
// not be lowered beneath the amount the stage has already raised.
func (l *Ledger) UpdateStage(id uint64, params StageParams) error {
	if err := params.Validate(); err != nil {
		return err
	}
	state, err := l.loadState()
	if err != nil {
		return err
	}
	if id >= state.StageCount {
		return ErrInvalidStage
	}
	stage, err := l.getStage(id, state)
	if err != nil {
		return err
	}
	if params.Cap.Cmp(stage.TotalRaised) < 0 {
		return ErrInvalidLimits
	}
	stage.Cap = params.Cap
	stage.MinPurchase = params.MinPurchase
	stage.MaxPurchase = params.MaxPurchase
	return l.store.KVPut(stageKey(id), toStoredStage(stage))
}

// ActivateStage makes the supplied stage the active one, deactivating any
// currently active stage. It returns the identifier of the previously active
// stage when there was one.
func (l *Ledger) ActivateStage(id uint64) (uint64, bool, error) {
	state, err := l.loadState()
	if err != nil {
		return 0, false, err
	}
	if id >= state.StageCount {
		return 0, false, ErrInvalidStage
	}
	previous := state.ActiveStage
	hadPrevious := state.HasActive
	state.ActiveStage = id
	state.HasActive = true
	if err := l.saveState(state); err != nil {
		return 0, false, err
	}
	return previous, hadPrevious, nil
}

// DeactivateCurrent switches off the active stage, leaving the sale with no
// stage accepting contributions. It reports which stage was deactivated.
func (l *Ledger) DeactivateCurrent() (uint64, bool, error) {
	state, err := l.loadState()
	if err != nil {
		return 0, false, err
	}
	if !state.HasActive {
		return 0, false, nil
	}
	previous := state.ActiveStage
	state.HasActive = false
	state.ActiveStage = 0
	if err := l.saveState(state); err != nil {
		return 0, false, err
	}
	return previous, true, nil
}

// GetStage retrieves a stage by identifier.
func (l *Ledger) GetStage(id uint64) (*Stage, error) {
	state, err := l.loadState()
	if err != nil {
		return nil, err
	}
	if id >= state.StageCount {
		return nil, ErrInvalidStage
	}
	return l.getStage(id, state)
}

// ActiveStage returns the currently active stage, if any.
func (l *Ledger) ActiveStage() (*Stage, bool, error) {
	state, err := l.loadState()
	if err != nil {
		return nil, false, err
	}
	if !state.HasActive {
		return nil, false, nil
	}
	stage, err := l.getStage(state.ActiveStage, state)
	if err != nil {
		return nil, false, err
	}
	return stage, true, nil
}

// Stages returns the full stage schedule in identifier order.
func (l *Ledger) Stages() ([]*Stage, error) {
	state, err := l.loadState()
	if err != nil {
		return nil, err
	}
	stages := make([]*Stage, 0, state.StageCount)
	for id := uint64(0); id < state.StageCount; id++ {
		stage, err := l.getStage(id, state)
		if err != nil {
			return nil, err
		}
		stages = append(stages, stage)
	}
	return stages, nil
}

func (l *Ledger) getStage(id uint64, state storedSaleState) (*Stage, error) {
	var stored storedStage
	ok, err := l.store.KVGet(stageKey(id), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("sale: stage %d missing from store", id)
	}
	stage, err := fromStoredStage(id, &stored)
	if err != nil {
		return nil, err
	}
	stage.Active = state.HasActive && state.ActiveStage == id
	return stage, nil
}

// CheckRecord validates a contribution against the active stage without
// mutating any state. It returns the stage that would absorb the amount.
func (l *Ledger) CheckRecord(user [20]byte, amount *big.Int) (uint64, error) {
	_, stageID, _, _, _, err := l.prepareRecord(user, amount)
	return stageID, err
}

// Record applies a contribution of the supplied stable amount against the
// active stage, updating the stage total and the buyer's per-stage and
// overall totals together. It returns the stage that absorbed the amount.
func (l *Ledger) Record(user [20]byte, amount *big.Int) (uint64, error) {
	stage, stageID, newRaised, newStageTotal, newUserTotal, err := l.prepareRecord(user, amount)
	if err != nil {
		return 0, err
	}
	stage.TotalRaised = newRaised
	if err := l.store.KVPut(stageKey(stageID), toStoredStage(stage)); err != nil {
		return 0, err
	}
	if err := l.store.KVPut(contribKey(stageID, user), storedAmount{Amount: newStageTotal.String()}); err != nil {
		return 0, err
	}
	if err := l.store.KVPut(userTotalKey(user), storedAmount{Amount: newUserTotal.String()}); err != nil {
		return 0, err
	}
	return stageID, nil
}

func (l *Ledger) prepareRecord(user [20]byte, amount *big.Int) (*Stage, uint64, *big.Int, *big.Int, *big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, 0, nil, nil, nil, ErrInvalidAmount
	}
	state, err := l.loadState()
	if err != nil {
		return nil, 0, nil, nil, nil, err
	}
	if !state.HasActive {
		return nil, 0, nil, nil, nil, ErrStageNotActive
	}
	stageID := state.ActiveStage
	stage, err := l.getStage(stageID, state)
	if err != nil {
		return nil, 0, nil, nil, nil, err
	}
	newRaised := new(big.Int).Add(stage.TotalRaised, amount)
	if newRaised.Cmp(stage.Cap) > 0 {
		return nil, 0, nil, nil, nil, ErrStageLimitExceeded
	}
	stageTotal, err := l.UserStageContribution(user, stageID)
	if err != nil {
		return nil, 0, nil, nil, nil, err
	}
	newStageTotal := new(big.Int).Add(stageTotal, amount)
	if stage.MinPurchase != nil && newStageTotal.Cmp(stage.MinPurchase) < 0 {
		return nil, 0, nil, nil, nil, ErrBelowMinimumPurchase
	}
	if stage.MaxPurchase != nil && newStageTotal.Cmp(stage.MaxPurchase) > 0 {
		return nil, 0, nil, nil, nil, ErrExceedsMaximumPurchase
	}
	userTotal, err := l.UserTotalContribution(user)
	if err != nil {
		return nil, 0, nil, nil, nil, err
	}
	newUserTotal := new(big.Int).Add(userTotal, amount)
	return stage, stageID, newRaised, newStageTotal, newUserTotal, nil
}

// UserStageContribution returns the buyer's cumulative contribution within a
// single stage.
func (l *Ledger) UserStageContribution(user [20]byte, stageID uint64) (*big.Int, error) {
	if l == nil || l.store == nil {
		return nil, fmt.Errorf("sale: ledger not initialised")
	}
	var stored storedAmount
	ok, err := l.store.KVGet(contribKey(stageID, user), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return amountFromString(stored.Amount)
}

// UserTotalContribution returns the buyer's cumulative contribution across
// all stages. The referral accountant uses a zero total as the
// first-contribution signal.
func (l *Ledger) UserTotalContribution(user [20]byte) (*big.Int, error) {
	if l == nil || l.store == nil {
		return nil, fmt.Errorf("sale: ledger not initialised")
	}
	var stored storedAmount
	ok, err := l.store.KVGet(userTotalKey(user), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return amountFromString(stored.Amount)
}

// ApplyGenesis seeds the stage schedule on first boot. It is a no-op when any
// stage already exists, so replaying the genesis configuration is safe.
func (l *Ledger) ApplyGenesis(stages []StageParams) (bool, error) {
	state, err := l.loadState()
	if err != nil {
		return false, err
	}
	if state.StageCount > 0 {
		return false, nil
	}
	for _, params := range stages {
		if _, err := l.AddStage(params); err != nil {
			return false, err
		}
	}
	return len(stages) > 0, nil
}

func stageKey(id uint64) []byte {
	suffix := strconv.FormatUint(id, 10)
	buf := make([]byte, len(stageRecordPrefix)+len(suffix))
	copy(buf, stageRecordPrefix)
	copy(buf[len(stageRecordPrefix):], suffix)
	return buf
}

func contribKey(stageID uint64, user [20]byte) []byte {
	suffix := strconv.FormatUint(stageID, 10) + "/" + hex.EncodeToString(user[:])
	buf := make([]byte, len(stageContribPrefix)+len(suffix))
	copy(buf, stageContribPrefix)
	copy(buf[len(stageContribPrefix):], suffix)
	return buf
}

func userTotalKey(user [20]byte) []byte {
	suffix := hex.EncodeToString(user[:])
	buf := make([]byte, len(userTotalPrefix)+len(suffix))
	copy(buf, userTotalPrefix)
	copy(buf[len(userTotalPrefix):], suffix)
	return buf
}
