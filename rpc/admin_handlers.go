package rpc

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"launchpad/core"
	"launchpad/crypto"
	nativecommon "launchpad/native/common"
)

type pauseParams struct {
	Caller string `json:"caller"`
	Module string `json:"module"`
	Paused bool   `json:"paused"`
}

type roleParams struct {
	Caller  string `json:"caller"`
	Role    string `json:"role"`
	Address string `json:"address"`
}

func (s *Server) handleSetPaused(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "exactly one parameter object expected", nil)
		return
	}
	var params pauseParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	caller, err := decodeBech32(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	switch params.Module {
	case nativecommon.ModuleSale, nativecommon.ModuleReferral, nativecommon.ModuleMarket:
	default:
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "unknown module", params.Module)
		return
	}
	if err := s.node.SetPaused(caller, params.Module, params.Paused); err != nil {
		writeAdminError(w, req, err)
		return
	}
	writeResult(w, req.ID, "ok")
}

func (s *Server) handleGrantRole(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	caller, role, member, ok := s.decodeRoleParams(w, req)
	if !ok {
		return
	}
	if err := s.node.GrantRole(caller, role, member); err != nil {
		writeAdminError(w, req, err)
		return
	}
	writeResult(w, req.ID, "ok")
}

func (s *Server) handleRevokeRole(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	caller, role, member, ok := s.decodeRoleParams(w, req)
	if !ok {
		return
	}
	if err := s.node.RevokeRole(caller, role, member); err != nil {
		writeAdminError(w, req, err)
		return
	}
	writeResult(w, req.ID, "ok")
}

func (s *Server) decodeRoleParams(w http.ResponseWriter, req *RPCRequest) (caller crypto.Address, role string, member crypto.Address, ok bool) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "exactly one parameter object expected", nil)
		return
	}
	var params roleParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	callerAddr, err := decodeBech32(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	memberAddr, err := decodeBech32(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid member address", err.Error())
		return
	}
	if strings.TrimSpace(params.Role) == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "role is required", nil)
		return
	}
	return callerAddr, strings.TrimSpace(params.Role), memberAddr, true
}

func writeAdminError(w http.ResponseWriter, req *RPCRequest, err error) {
	switch {
	case errors.Is(err, core.ErrUnauthorized):
		writeError(w, http.StatusForbidden, req.ID, codeUnauthorized, err.Error(), nil)
	case errors.Is(err, core.ErrInvalidAddress):
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
	case errors.Is(err, core.ErrNodeNotReady):
		writeError(w, http.StatusServiceUnavailable, req.ID, codeServerError, err.Error(), nil)
	default:
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "admin operation failed", err.Error())
	}
}
