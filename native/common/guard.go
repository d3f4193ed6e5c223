package common

import "errors"

var ErrModulePaused = errors.New("module paused")

// Module names accepted by the pause switchboard.
const (
	ModuleSale     = "sale"
	ModuleReferral = "referral"
	ModuleMarket   = "market"
)

// PauseView reports whether a module has been switched off operationally.
// Pausing is an emergency control distinct from the sale's own active gate.
type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}
