package rpc

import (
	"encoding/json"
	"errors"
	"net/http"

	"launchpad/core"
	nativecommon "launchpad/native/common"
	"launchpad/native/market"
	"launchpad/native/sale"
)

type purchaseParams struct {
	IntentRef  string `json:"intentRef,omitempty"`
	Buyer      string `json:"buyer"`
	Token      string `json:"token"`
	Amount     string `json:"amount"`
	Referrer   string `json:"referrer,omitempty"`
	ReferrerL2 string `json:"referrerL2,omitempty"`
}

type stageCreateParams struct {
	Caller      string `json:"caller"`
	Cap         string `json:"cap"`
	MinPurchase string `json:"minPurchase,omitempty"`
	MaxPurchase string `json:"maxPurchase,omitempty"`
}

type stageUpdateParams struct {
	Caller      string `json:"caller"`
	ID          uint64 `json:"id"`
	Cap         string `json:"cap"`
	MinPurchase string `json:"minPurchase,omitempty"`
	MaxPurchase string `json:"maxPurchase,omitempty"`
}

type stageIDParams struct {
	Caller string `json:"caller"`
	ID     uint64 `json:"id"`
}

type callerParams struct {
	Caller string `json:"caller"`
}

type saleGateParams struct {
	Caller string `json:"caller"`
	Active bool   `json:"active"`
}

type addressParams struct {
	Address string `json:"address"`
}

func (s *Server) handleSalePurchase(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "exactly one parameter object expected", nil)
		return
	}
	var params purchaseParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	buyer, err := decodeBech32(params.Buyer)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid buyer address", err.Error())
		return
	}
	token, err := decodeToken(params.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid payment token", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	referrer, err := decodeOptionalBech32(params.Referrer)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid referrer address", err.Error())
		return
	}
	referrerL2, err := decodeOptionalBech32(params.ReferrerL2)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid level-2 referrer address", err.Error())
		return
	}

	receipt, err := s.node.Purchase(r.Context(), core.PurchaseParams{
		IntentRef:  params.IntentRef,
		Buyer:      buyer,
		Token:      token,
		Amount:     amount,
		Referrer:   referrer,
		ReferrerL2: referrerL2,
	})
	if err != nil {
		switch {
		case errors.Is(err, core.ErrInvalidAddress),
			errors.Is(err, core.ErrInvalidPaymentToken),
			errors.Is(err, core.ErrIntentRefInvalid),
			errors.Is(err, sale.ErrInvalidAmount),
			errors.Is(err, sale.ErrBelowMinimumPurchase),
			errors.Is(err, sale.ErrExceedsMaximumPurchase),
			errors.Is(err, sale.ErrStageLimitExceeded),
			errors.Is(err, sale.ErrSaleNotActive),
			errors.Is(err, sale.ErrStageNotActive),
			errors.Is(err, market.ErrNoLiquidityRoute):
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		case errors.Is(err, core.ErrOperationInProgress):
			writeError(w, http.StatusConflict, req.ID, codeDuplicateIntent, err.Error(), nil)
		case errors.Is(err, core.ErrIntentConsumed):
			writeError(w, http.StatusConflict, req.ID, codeDuplicateIntent, err.Error(), params.IntentRef)
		case errors.Is(err, nativecommon.ErrModulePaused):
			writeError(w, http.StatusServiceUnavailable, req.ID, codeServerError, err.Error(), nil)
		default:
			writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "purchase failed", err.Error())
		}
		return
	}
	writeResult(w, req.ID, formatReceipt(params.Token, receipt))
}

func formatReceipt(token string, receipt *core.PurchaseReceipt) *PurchaseResult {
	result := &PurchaseResult{
		StageID:      receipt.StageID,
		Token:        token,
		AmountIn:     bigString(receipt.AmountIn),
		StableAmount: bigString(receipt.StableAmount),
		Linked:       receipt.Linked,
		Credits:      make([]CreditResult, 0, len(receipt.Credits)),
	}
	for _, credit := range receipt.Credits {
		result.Credits = append(result.Credits, CreditResult{
			Referrer: formatAccount(credit.Referrer),
			Level:    credit.Level,
			Earned:   bigString(credit.Earned),
		})
	}
	return result
}

func (s *Server) handleSaleStatus(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	status, err := s.node.Status()
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to load sale status", err.Error())
		return
	}
	writeResult(w, req.ID, &StatusResult{
		Active:     status.Active,
		StageCount: status.StageCount,
		Stage:      formatStage(status.Stage),
	})
}

func (s *Server) handleSaleStages(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	stages, err := s.node.Stages()
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to load stages", err.Error())
		return
	}
	results := make([]*StageResult, 0, len(stages))
	for _, stage := range stages {
		results = append(results, formatStage(stage))
	}
	writeResult(w, req.ID, results)
}

func (s *Server) handleSaleContribution(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
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
	summary, err := s.node.Contributions(user)
	if err != nil {
		if errors.Is(err, core.ErrInvalidAddress) {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
			return
		}
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to load contributions", err.Error())
		return
	}
	result := &ContributionResult{
		Address: user.String(),
		Total:   bigString(summary.Total),
		ByStage: make(map[string]string, len(summary.ByStage)),
	}
	for id, amount := range summary.ByStage {
		result.ByStage[stageKey(id)] = bigString(amount)
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleSaleAddStage(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "exactly one parameter object expected", nil)
		return
	}
	var params stageCreateParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	caller, err := decodeBech32(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	stageParams, paramErr := stageParamsFrom(params.Cap, params.MinPurchase, params.MaxPurchase)
	if paramErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, paramErr.Error(), nil)
		return
	}
	id, err := s.node.AddStage(caller, stageParams)
	if err != nil {
		writeStageAdminError(w, req, err)
		return
	}
	writeResult(w, req.ID, map[string]uint64{"id": id})
}

func (s *Server) handleSaleUpdateStage(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "exactly one parameter object expected", nil)
		return
	}
	var params stageUpdateParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	caller, err := decodeBech32(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	stageParams, paramErr := stageParamsFrom(params.Cap, params.MinPurchase, params.MaxPurchase)
	if paramErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, paramErr.Error(), nil)
		return
	}
	if err := s.node.UpdateStage(caller, params.ID, stageParams); err != nil {
		writeStageAdminError(w, req, err)
		return
	}
	writeResult(w, req.ID, "ok")
}

func (s *Server) handleSaleActivateStage(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "exactly one parameter object expected", nil)
		return
	}
	var params stageIDParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	caller, err := decodeBech32(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	if err := s.node.ActivateStage(caller, params.ID); err != nil {
		writeStageAdminError(w, req, err)
		return
	}
	writeResult(w, req.ID, "ok")
}

func (s *Server) handleSaleDeactivateStage(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "exactly one parameter object expected", nil)
		return
	}
	var params callerParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	caller, err := decodeBech32(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	if err := s.node.DeactivateStage(caller); err != nil {
		writeStageAdminError(w, req, err)
		return
	}
	writeResult(w, req.ID, "ok")
}

func (s *Server) handleSaleSetActive(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "exactly one parameter object expected", nil)
		return
	}
	var params saleGateParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	caller, err := decodeBech32(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	if err := s.node.SetSaleActive(caller, params.Active); err != nil {
		writeStageAdminError(w, req, err)
		return
	}
	writeResult(w, req.ID, "ok")
}

func stageParamsFrom(cap, min, max string) (sale.StageParams, error) {
	capAmount, err := parseAmount(cap)
	if err != nil {
		return sale.StageParams{}, err
	}
	minAmount, err := parseBound(min)
	if err != nil {
		return sale.StageParams{}, err
	}
	maxAmount, err := parseBound(max)
	if err != nil {
		return sale.StageParams{}, err
	}
	return sale.StageParams{Cap: capAmount, MinPurchase: minAmount, MaxPurchase: maxAmount}, nil
}

func writeStageAdminError(w http.ResponseWriter, req *RPCRequest, err error) {
	switch {
	case errors.Is(err, core.ErrUnauthorized):
		writeError(w, http.StatusForbidden, req.ID, codeUnauthorized, err.Error(), nil)
	case errors.Is(err, core.ErrInvalidAddress), errors.Is(err, sale.ErrInvalidLimits):
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
	case errors.Is(err, sale.ErrInvalidStage):
		writeError(w, http.StatusNotFound, req.ID, codeInvalidParams, err.Error(), nil)
	default:
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "sale admin operation failed", err.Error())
	}
}
