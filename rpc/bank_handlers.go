package rpc

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"bookadot/crypto"
	"bookadot/native/bank"
)

type mintParams struct {
	Token  string `json:"token,omitempty"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type approveParams struct {
	Token   string `json:"token,omitempty"`
	Owner   string `json:"owner"`
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

type balanceParams struct {
	Token   string `json:"token,omitempty"`
	Address string `json:"address"`
}

type allowanceParams struct {
	Token   string `json:"token,omitempty"`
	Owner   string `json:"owner"`
	Spender string `json:"spender"`
}

// parseToken resolves the token field, defaulting to the native
// currency when empty.
func parseToken(raw string) (common.Address, error) {
	if raw == "" {
		return bank.NativeToken, nil
	}
	return crypto.ParseAddress(raw)
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params mintParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	token, err := parseToken(params.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	to, err := crypto.ParseAddress(params.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.ledger.Mint(token, to, amount); err != nil {
		s.writeDomainError(w, req.ID, err)
		return
	}
	balance, err := s.ledger.BalanceOf(token, to)
	if err != nil {
		s.writeDomainError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"balance": balance.String()})
}

func (s *Server) handleBankApprove(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params approveParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	token, err := parseToken(params.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	owner, err := crypto.ParseAddress(params.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	spender, err := crypto.ParseAddress(params.Spender)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.ledger.Approve(token, owner, spender, amount); err != nil {
		s.writeDomainError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handleBalanceOf(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params balanceParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	token, err := parseToken(params.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	addr, err := crypto.ParseAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	balance, err := s.ledger.BalanceOf(token, addr)
	if err != nil {
		s.writeDomainError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"balance": balance.String()})
}

func (s *Server) handleAllowance(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params allowanceParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	token, err := parseToken(params.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	owner, err := crypto.ParseAddress(params.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	spender, err := crypto.ParseAddress(params.Spender)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	allowance, err := s.ledger.Allowance(token, owner, spender)
	if err != nil {
		s.writeDomainError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"allowance": allowance.String()})
}
