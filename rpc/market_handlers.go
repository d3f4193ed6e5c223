package rpc

import (
	"encoding/json"
	"errors"
	"net/http"

	"launchpad/core"
)

type routeQueryParams struct {
	Token string `json:"token"`
}

func (s *Server) handleMarketTiers(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	tiers := s.node.MarketTiers()
	if tiers == nil {
		tiers = []uint32{}
	}
	writeResult(w, req.ID, tiers)
}

func (s *Server) handleMarketRoute(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "exactly one parameter object expected", nil)
		return
	}
	var params routeQueryParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	token, err := decodeToken(params.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid token address", err.Error())
		return
	}
	route, ok, err := s.node.MarketRoute(r.Context(), token)
	if err != nil {
		if errors.Is(err, core.ErrInvalidPaymentToken) {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
			return
		}
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to quote route", err.Error())
		return
	}
	if !ok {
		writeResult(w, req.ID, &RouteResult{TokenIn: token.Hex(), Found: false})
		return
	}
	depth := ""
	if route.Venue.Depth != nil {
		depth = route.Venue.Depth.Dec()
	}
	writeResult(w, req.ID, &RouteResult{
		TokenIn:  route.TokenIn.Hex(),
		TokenOut: route.TokenOut.Hex(),
		Venue:    route.Venue.Address.Hex(),
		FeeTier:  route.Venue.FeeTier,
		Depth:    depth,
		Found:    true,
	})
}
