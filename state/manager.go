// Package state persists the escrow core's records (token balances and
// allowances, per-property booking collections, delegates and the
// factory registry) on a storage.Database. It implements the narrow
// state interfaces each engine declares.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"bookadot/native/factory"
	"bookadot/native/property"
	"bookadot/storage"
)

type Manager struct {
	db storage.Database
}

func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func balanceKey(token, addr common.Address) []byte {
	return []byte("bank/balance/" + token.Hex() + "/" + addr.Hex())
}

func allowanceKey(token, owner, spender common.Address) []byte {
	return []byte("bank/allowance/" + token.Hex() + "/" + owner.Hex() + "/" + spender.Hex())
}

func bookingKey(propertyID uint64, bookingID string) []byte {
	return []byte("property/" + strconv.FormatUint(propertyID, 10) + "/booking/" + bookingID)
}

func bookingIndexKey(propertyID uint64) []byte {
	return []byte("property/" + strconv.FormatUint(propertyID, 10) + "/bookings")
}

func delegateKey(propertyID uint64, host common.Address) []byte {
	return []byte("property/" + strconv.FormatUint(propertyID, 10) + "/delegate/" + host.Hex())
}

func registryKey(propertyID uint64) []byte {
	return []byte("factory/property/" + strconv.FormatUint(propertyID, 10))
}

func registryByAddressKey(addr common.Address) []byte {
	return []byte("factory/instance/" + addr.Hex())
}

var registryIndexKey = []byte("factory/properties")

// --- bank ledger state ---

func (m *Manager) BalanceGet(token, addr common.Address) (*big.Int, error) {
	return m.amountGet(balanceKey(token, addr))
}

func (m *Manager) BalancePut(token, addr common.Address, amount *big.Int) error {
	return m.amountPut(balanceKey(token, addr), amount)
}

func (m *Manager) AllowanceGet(token, owner, spender common.Address) (*big.Int, error) {
	return m.amountGet(allowanceKey(token, owner, spender))
}

func (m *Manager) AllowancePut(token, owner, spender common.Address, amount *big.Int) error {
	return m.amountPut(allowanceKey(token, owner, spender), amount)
}

func (m *Manager) amountGet(key []byte) (*big.Int, error) {
	raw, err := m.db.Get(key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	amount, ok := new(big.Int).SetString(string(raw), 10)
	if !ok {
		return nil, fmt.Errorf("state: corrupt amount at %q", string(key))
	}
	return amount, nil
}

func (m *Manager) amountPut(key []byte, amount *big.Int) error {
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("state: negative amount at %q", string(key))
	}
	return m.db.Put(key, []byte(amount.String()))
}

// --- property state ---

// BookingPut stores the booking and appends its id to the insertion
// order index on first write.
func (m *Manager) BookingPut(propertyID uint64, booking *property.Booking) error {
	if booking == nil {
		return errors.New("state: nil booking")
	}
	exists, err := m.db.Has(bookingKey(propertyID, booking.ID))
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(booking)
	if err != nil {
		return fmt.Errorf("state: encode booking %s: %w", booking.ID, err)
	}
	if err := m.db.Put(bookingKey(propertyID, booking.ID), encoded); err != nil {
		return err
	}
	if exists {
		return nil
	}
	ids := m.BookingIDs(propertyID)
	ids = append(ids, booking.ID)
	return m.stringsPut(bookingIndexKey(propertyID), ids)
}

func (m *Manager) BookingGet(propertyID uint64, bookingID string) (*property.Booking, bool) {
	raw, err := m.db.Get(bookingKey(propertyID, bookingID))
	if err != nil {
		return nil, false
	}
	var booking property.Booking
	if err := json.Unmarshal(raw, &booking); err != nil {
		return nil, false
	}
	return &booking, true
}

func (m *Manager) BookingIDs(propertyID uint64) []string {
	ids, err := m.stringsGet(bookingIndexKey(propertyID))
	if err != nil {
		return nil
	}
	return ids
}

func (m *Manager) DelegatePut(propertyID uint64, host, delegate common.Address) error {
	return m.db.Put(delegateKey(propertyID, host), delegate.Bytes())
}

func (m *Manager) DelegateGet(propertyID uint64, host common.Address) (common.Address, bool) {
	raw, err := m.db.Get(delegateKey(propertyID, host))
	if err != nil || len(raw) != common.AddressLength {
		return common.Address{}, false
	}
	return common.BytesToAddress(raw), true
}

func (m *Manager) DelegateDelete(propertyID uint64, host common.Address) error {
	return m.db.Delete(delegateKey(propertyID, host))
}

// --- factory registry state ---

func (m *Manager) PropertyPut(record *factory.Record) error {
	if record == nil {
		return errors.New("state: nil registry record")
	}
	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("state: encode registry record %d: %w", record.ID, err)
	}
	exists, err := m.db.Has(registryKey(record.ID))
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("state: registry record %d already written", record.ID)
	}
	if err := m.db.Put(registryKey(record.ID), encoded); err != nil {
		return err
	}
	if err := m.db.Put(registryByAddressKey(record.Address), []byte(strconv.FormatUint(record.ID, 10))); err != nil {
		return err
	}
	ids := m.PropertyIDs()
	out := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		out = append(out, strconv.FormatUint(id, 10))
	}
	out = append(out, strconv.FormatUint(record.ID, 10))
	return m.stringsPut(registryIndexKey, out)
}

func (m *Manager) PropertyGet(id uint64) (*factory.Record, bool) {
	raw, err := m.db.Get(registryKey(id))
	if err != nil {
		return nil, false
	}
	var record factory.Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, false
	}
	return &record, true
}

func (m *Manager) PropertyIDByAddress(addr common.Address) (uint64, bool) {
	raw, err := m.db.Get(registryByAddressKey(addr))
	if err != nil {
		return 0, false
	}
	id, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func (m *Manager) PropertyIDs() []uint64 {
	encoded, err := m.stringsGet(registryIndexKey)
	if err != nil {
		return nil
	}
	ids := make([]uint64, 0, len(encoded))
	for _, s := range encoded {
		id, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// --- helpers ---

func (m *Manager) stringsGet(key []byte) ([]string, error) {
	raw, err := m.db.Get(key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("state: corrupt index at %q: %w", string(key), err)
	}
	return out, nil
}

func (m *Manager) stringsPut(key []byte, values []string) error {
	encoded, err := json.Marshal(values)
	if err != nil {
		return err
	}
	return m.db.Put(key, encoded)
}
