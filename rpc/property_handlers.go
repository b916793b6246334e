package rpc

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"bookadot/crypto"
	"bookadot/native/property"
)

type cancellationPolicyJSON struct {
	ExpiryTime   int64  `json:"expiryTime"`
	RefundAmount string `json:"refundAmount"`
}

type bookingParamsJSON struct {
	Token                      string                   `json:"token"`
	BookingID                  string                   `json:"bookingId"`
	CheckInTimestamp           int64                    `json:"checkInTimestamp"`
	CheckOutTimestamp          int64                    `json:"checkOutTimestamp"`
	BookingExpirationTimestamp int64                    `json:"bookingExpirationTimestamp"`
	BookingAmount              string                   `json:"bookingAmount"`
	CancellationPolicies       []cancellationPolicyJSON `json:"cancellationPolicies"`
}

type bookParams struct {
	PropertyID uint64            `json:"propertyId"`
	Guest      string            `json:"guest"`
	Value      string            `json:"value,omitempty"`
	Params     bookingParamsJSON `json:"params"`
	Signature  string            `json:"signature"`
}

type bookingActionParams struct {
	PropertyID uint64 `json:"propertyId"`
	BookingID  string `json:"bookingId"`
	Caller     string `json:"caller,omitempty"`
}

type delegateParams struct {
	PropertyID uint64 `json:"propertyId"`
	Caller     string `json:"caller"`
	Delegate   string `json:"delegate"`
}

type historyParams struct {
	PropertyID uint64 `json:"propertyId"`
	Offset     int    `json:"offset"`
	Limit      int    `json:"limit"`
}

type bookingJSON struct {
	ID                   string                   `json:"id"`
	Token                string                   `json:"token"`
	Guest                string                   `json:"guest"`
	Amount               string                   `json:"amount"`
	Balance              string                   `json:"balance"`
	CheckInTimestamp     int64                    `json:"checkInTimestamp"`
	CheckOutTimestamp    int64                    `json:"checkOutTimestamp"`
	CancellationPolicies []cancellationPolicyJSON `json:"cancellationPolicies"`
	Status               uint8                    `json:"status"`
	StatusLabel          string                   `json:"statusLabel"`
	CreatedAt            int64                    `json:"createdAt"`
}

func bookingToJSON(b *property.Booking) bookingJSON {
	policies := make([]cancellationPolicyJSON, len(b.CancellationPolicies))
	for i, policy := range b.CancellationPolicies {
		policies[i] = cancellationPolicyJSON{
			ExpiryTime:   policy.ExpiryTime,
			RefundAmount: policy.RefundAmount.String(),
		}
	}
	return bookingJSON{
		ID:                   b.ID,
		Token:                b.Token.Hex(),
		Guest:                b.Guest.Hex(),
		Amount:               b.Amount.String(),
		Balance:              b.Balance.String(),
		CheckInTimestamp:     b.CheckInTimestamp,
		CheckOutTimestamp:    b.CheckOutTimestamp,
		CancellationPolicies: policies,
		Status:               uint8(b.Status),
		StatusLabel:          b.Status.String(),
		CreatedAt:            b.CreatedAt,
	}
}

func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) == 0 {
		return fmt.Errorf("params required")
	}
	return json.Unmarshal(req.Params, out)
}

func parseAmount(s string) (*big.Int, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return amount, nil
}

func parseSignature(s string) ([]byte, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	return hex.DecodeString(trimmed)
}

func (p bookingParamsJSON) toDomain() (*property.BookingParameters, error) {
	token, err := crypto.ParseAddress(p.Token)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount(p.BookingAmount)
	if err != nil {
		return nil, err
	}
	policies := make([]property.CancellationPolicy, len(p.CancellationPolicies))
	for i, policy := range p.CancellationPolicies {
		refund, err := parseAmount(policy.RefundAmount)
		if err != nil {
			return nil, err
		}
		policies[i] = property.CancellationPolicy{ExpiryTime: policy.ExpiryTime, RefundAmount: refund}
	}
	return &property.BookingParameters{
		Token:                      token,
		BookingID:                  p.BookingID,
		CheckInTimestamp:           p.CheckInTimestamp,
		CheckOutTimestamp:          p.CheckOutTimestamp,
		BookingExpirationTimestamp: p.BookingExpirationTimestamp,
		BookingAmount:              amount,
		CancellationPolicies:       policies,
	}, nil
}

func (s *Server) propertyFor(w http.ResponseWriter, req *RPCRequest, id uint64) (*property.Property, bool) {
	instance, ok := s.factory.Property(id)
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeNotFound, "factory: property not found", id)
		return nil, false
	}
	return instance, true
}

func (s *Server) handleBook(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params bookParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	instance, ok := s.propertyFor(w, req, params.PropertyID)
	if !ok {
		return
	}
	guest, err := crypto.ParseAddress(params.Guest)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	value, err := parseAmount(params.Value)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	domainParams, err := params.Params.toDomain()
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	signature, err := parseSignature(params.Signature)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid signature encoding", nil)
		return
	}
	if err := instance.Book(guest, value, domainParams, signature); err != nil {
		s.logger.Info("book rejected",
			slog.Uint64("property", params.PropertyID),
			slog.String("booking", domainParams.BookingID),
			slog.Any("error", err))
		s.writeDomainError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"bookingId": domainParams.BookingID})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	params, instance, caller, ok := s.decodeAction(w, req, true)
	if !ok {
		return
	}
	if err := instance.Cancel(caller, params.BookingID); err != nil {
		s.writeDomainError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"status": "cancelled_by_guest"})
}

func (s *Server) handleCancelByHost(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	params, instance, caller, ok := s.decodeAction(w, req, true)
	if !ok {
		return
	}
	if err := instance.CancelByHost(caller, params.BookingID); err != nil {
		s.writeDomainError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"status": "cancelled_by_host"})
}

func (s *Server) handlePayout(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	params, instance, _, ok := s.decodeAction(w, req, false)
	if !ok {
		return
	}
	if err := instance.Payout(params.BookingID); err != nil {
		s.writeDomainError(w, req.ID, err)
		return
	}
	booking, err := instance.GetBooking(params.BookingID)
	if err != nil {
		s.writeDomainError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, bookingToJSON(booking))
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleDelegation(w, req, true)
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleDelegation(w, req, false)
}

func (s *Server) handleDelegation(w http.ResponseWriter, req *RPCRequest, approve bool) {
	var params delegateParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	instance, ok := s.propertyFor(w, req, params.PropertyID)
	if !ok {
		return
	}
	caller, err := crypto.ParseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	delegate, err := crypto.ParseAddress(params.Delegate)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if approve {
		err = instance.Approve(caller, delegate)
	} else {
		err = instance.Revoke(caller, delegate)
	}
	if err != nil {
		s.writeDomainError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handleGetBooking(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	params, instance, _, ok := s.decodeAction(w, req, false)
	if !ok {
		return
	}
	booking, err := instance.GetBooking(params.BookingID)
	if err != nil {
		s.writeDomainError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, bookingToJSON(booking))
}

func (s *Server) handleGetBookingIndex(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	params, instance, _, ok := s.decodeAction(w, req, false)
	if !ok {
		return
	}
	index, err := instance.GetBookingIndex(params.BookingID)
	if err != nil {
		s.writeDomainError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]int{"index": index})
}

func (s *Server) handleTotalBooking(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params historyParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	instance, ok := s.propertyFor(w, req, params.PropertyID)
	if !ok {
		return
	}
	writeResult(w, req.ID, map[string]int{"total": instance.TotalBooking()})
}

func (s *Server) handleBookingHistory(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params historyParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	instance, ok := s.propertyFor(w, req, params.PropertyID)
	if !ok {
		return
	}
	history := instance.BookingHistory(params.Offset, params.Limit)
	out := make([]bookingJSON, len(history))
	for i, booking := range history {
		out[i] = bookingToJSON(booking)
	}
	writeResult(w, req.ID, out)
}

// decodeAction parses the common (propertyId, bookingId[, caller])
// triple and resolves the target instance.
func (s *Server) decodeAction(w http.ResponseWriter, req *RPCRequest, needCaller bool) (*bookingActionParams, *property.Property, common.Address, bool) {
	var params bookingActionParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return nil, nil, common.Address{}, false
	}
	instance, ok := s.propertyFor(w, req, params.PropertyID)
	if !ok {
		return nil, nil, common.Address{}, false
	}
	var caller common.Address
	if needCaller {
		parsed, err := crypto.ParseAddress(params.Caller)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
			return nil, nil, common.Address{}, false
		}
		caller = parsed
	}
	return &params, instance, caller, true
}
