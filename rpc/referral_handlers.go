package rpc

import (
	"encoding/json"
	"errors"
	"net/http"

	"launchpad/core"
	nativecommon "launchpad/native/common"
	"launchpad/native/referral"
)

type referralRatesParams struct {
	Caller    string `json:"caller"`
	Level1Bps uint32 `json:"level1Bps"`
	Level2Bps uint32 `json:"level2Bps"`
}

type referralGateParams struct {
	Caller  string `json:"caller"`
	Enabled bool   `json:"enabled"`
}

func (s *Server) handleReferralClaim(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "exactly one parameter object expected", nil)
		return
	}
	var params callerParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	claimant, err := decodeBech32(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	paid, err := s.node.Claim(r.Context(), claimant)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrInvalidAddress),
			errors.Is(err, referral.ErrClaimsDisabled),
			errors.Is(err, referral.ErrNothingToClaim):
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		case errors.Is(err, core.ErrOperationInProgress):
			writeError(w, http.StatusConflict, req.ID, codeDuplicateIntent, err.Error(), nil)
		case errors.Is(err, nativecommon.ErrModulePaused):
			writeError(w, http.StatusServiceUnavailable, req.ID, codeServerError, err.Error(), nil)
		default:
			writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "claim failed", err.Error())
		}
		return
	}
	writeResult(w, req.ID, map[string]string{"claimed": bigString(paid)})
}

func (s *Server) handleReferralState(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "exactly one parameter object expected", nil)
		return
	}
	var params addressParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	user, err := decodeBech32(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return
	}
	summary, err := s.node.ReferralState(user)
	if err != nil {
		if errors.Is(err, core.ErrInvalidAddress) {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
			return
		}
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to load referral state", err.Error())
		return
	}
	result := &ReferralStateResult{
		Address:      user.String(),
		TotalEarned:  bigString(summary.Ledger.TotalEarned),
		Claimed:      bigString(summary.Ledger.Claimed),
		Pending:      bigString(summary.Ledger.Pending()),
		Level1Earned: bigString(summary.Ledger.Level1Earned),
		Level2Earned: bigString(summary.Ledger.Level2Earned),
		Linked:       summary.HasReferrer,
	}
	if summary.HasReferrer {
		result.Referrer = summary.Referrer.String()
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleReferralRates(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	cfg, err := s.node.ReferralRates()
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to load referral rates", err.Error())
		return
	}
	writeResult(w, req.ID, &RatesResult{
		Level1Bps:     cfg.Level1Bps,
		Level2Bps:     cfg.Level2Bps,
		ClaimsEnabled: cfg.ClaimsEnabled,
	})
}

func (s *Server) handleReferralSetRates(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "exactly one parameter object expected", nil)
		return
	}
	var params referralRatesParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	caller, err := decodeBech32(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	if err := s.node.SetReferralRates(caller, params.Level1Bps, params.Level2Bps); err != nil {
		switch {
		case errors.Is(err, core.ErrUnauthorized):
			writeError(w, http.StatusForbidden, req.ID, codeUnauthorized, err.Error(), nil)
		case errors.Is(err, referral.ErrInvalidRate):
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		default:
			writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to set referral rates", err.Error())
		}
		return
	}
	writeResult(w, req.ID, "ok")
}

func (s *Server) handleReferralSetClaimsEnabled(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "exactly one parameter object expected", nil)
		return
	}
	var params referralGateParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	caller, err := decodeBech32(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	if err := s.node.SetReferralClaimsEnabled(caller, params.Enabled); err != nil {
		switch {
		case errors.Is(err, core.ErrUnauthorized):
			writeError(w, http.StatusForbidden, req.ID, codeUnauthorized, err.Error(), nil)
		default:
			writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to set claims gate", err.Error())
		}
		return
	}
	writeResult(w, req.ID, "ok")
}
