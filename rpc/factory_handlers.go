package rpc

import (
	"log/slog"
	"net/http"

	"bookadot/crypto"
)

type deployParams struct {
	Caller      string   `json:"caller"`
	PropertyIDs []uint64 `json:"propertyIds"`
	Host        string   `json:"host"`
}

type getPropertyParams struct {
	PropertyID uint64 `json:"propertyId"`
}

type propertyJSON struct {
	ID      uint64 `json:"id"`
	Address string `json:"address"`
	Host    string `json:"host"`
	Total   int    `json:"totalBooking"`
}

func (s *Server) handleDeployProperty(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params deployParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := crypto.ParseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	host, err := crypto.ParseAddress(params.Host)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	addresses, err := s.factory.DeployProperty(caller, params.PropertyIDs, host)
	if err != nil {
		s.writeDomainError(w, req.ID, err)
		return
	}
	s.logger.Info("properties deployed",
		slog.Int("count", len(addresses)),
		slog.String("host", host.Hex()))
	out := make([]propertyJSON, len(addresses))
	for i, addr := range addresses {
		out[i] = propertyJSON{ID: params.PropertyIDs[i], Address: addr.Hex(), Host: host.Hex()}
	}
	writeResult(w, req.ID, out)
}

func (s *Server) handleGetProperty(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params getPropertyParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	instance, ok := s.propertyFor(w, req, params.PropertyID)
	if !ok {
		return
	}
	writeResult(w, req.ID, propertyJSON{
		ID:      instance.ID(),
		Address: instance.Address().Hex(),
		Host:    instance.Host().Hex(),
		Total:   instance.TotalBooking(),
	})
}
