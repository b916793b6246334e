// Package factory creates property escrow instances, keeps the
// write-once property-id registry and re-emits every lifecycle event
// tagged with its property id as a single stream for indexers.
package factory

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"bookadot/core/events"
	"bookadot/crypto/deriver"
	"bookadot/native/platform"
	"bookadot/native/property"
)

var (
	ErrNotOwnerOrBackend  = errors.New("factory: caller is not the owner or backend")
	ErrPropertyNotFound   = errors.New("factory: property not found")
	ErrDuplicateProperty  = errors.New("factory: property already deployed")
	ErrNoPropertyIDs      = errors.New("factory: at least one property id required")
	ErrZeroHost           = errors.New("factory: host address required")
	errRegistryNotWritten = errors.New("factory: registry record missing after deploy")
)

// Record is one persisted registry entry.
type Record struct {
	ID      uint64         `json:"id"`
	Address common.Address `json:"address"`
	Host    common.Address `json:"host"`
}

// RegistryState persists the property registry. PropertyPut must be
// write-once per id; the factory checks before writing.
type RegistryState interface {
	PropertyPut(record *Record) error
	PropertyGet(id uint64) (*Record, bool)
	PropertyIDByAddress(addr common.Address) (uint64, bool)
	PropertyIDs() []uint64
}

// Factory deploys property escrow instances and forwards their events.
type Factory struct {
	address  common.Address
	config   *platform.Config
	registry RegistryState
	bookings property.State
	ledger   property.FundsLedger
	emitter  events.Emitter

	mu        sync.RWMutex
	instances map[uint64]*property.Property
}

// New wires a factory to its registry, booking state, funds ledger and
// event sink. Pass nil emitter to discard events.
func New(address common.Address, config *platform.Config, registry RegistryState, bookings property.State, ledger property.FundsLedger, emitter events.Emitter) *Factory {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	return &Factory{
		address:   address,
		config:    config,
		registry:  registry,
		bookings:  bookings,
		ledger:    ledger,
		emitter:   emitter,
		instances: make(map[uint64]*property.Property),
	}
}

func (f *Factory) Address() common.Address { return f.address }

// DeployProperty creates one escrow instance per id, each bound to the
// shared config, this factory and the host. The whole batch fails if any
// id is already registered. Only the platform owner or the authorized
// backend may deploy.
func (f *Factory) DeployProperty(caller common.Address, ids []uint64, host common.Address) ([]common.Address, error) {
	if !f.config.IsOwnerOrBackend(caller) {
		return nil, ErrNotOwnerOrBackend
	}
	if len(ids) == 0 {
		return nil, ErrNoPropertyIDs
	}
	if host == (common.Address{}) {
		return nil, ErrZeroHost
	}
	seen := make(map[uint64]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateProperty, id)
		}
		seen[id] = struct{}{}
		if _, exists := f.registry.PropertyGet(id); exists {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateProperty, id)
		}
	}

	addresses := make([]common.Address, 0, len(ids))
	created := make([]*property.Property, 0, len(ids))
	for _, id := range ids {
		addr := f.DeriveAddress(id, host)
		instance := property.NewProperty(id, addr, host, f.config, f.bookings, f.ledger, f)
		if err := f.registry.PropertyPut(&Record{ID: id, Address: addr, Host: host}); err != nil {
			return nil, err
		}
		addresses = append(addresses, addr)
		created = append(created, instance)
	}

	f.mu.Lock()
	for _, instance := range created {
		f.instances[instance.ID()] = instance
	}
	f.mu.Unlock()

	f.emitter.Emit(events.PropertyCreated{IDs: append([]uint64(nil), ids...), Properties: addresses, Host: host})
	return addresses, nil
}

// DeriveAddress predicts the address an instance for the given id and
// host will receive, before it exists. Callers use it to bind
// constructor arguments that reference the not-yet-created instance.
func (f *Factory) DeriveAddress(id uint64, host common.Address) common.Address {
	initCodeHash := deriver.InitCodeHash(id, f.config.Address(), f.address, host)
	return deriver.Derive(f.address, deriver.Salt(id), initCodeHash)
}

// Property returns the live engine for a registered property id.
func (f *Factory) Property(id uint64) (*property.Property, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	instance, ok := f.instances[id]
	return instance, ok
}

// Rehydrate reconstructs engines for every registered property, used by
// the daemon after a restart.
func (f *Factory) Rehydrate() error {
	for _, id := range f.registry.PropertyIDs() {
		record, ok := f.registry.PropertyGet(id)
		if !ok {
			return fmt.Errorf("%w: id %d", errRegistryNotWritten, id)
		}
		instance := property.NewProperty(record.ID, record.Address, record.Host, f.config, f.bookings, f.ledger, f)
		f.mu.Lock()
		f.instances[record.ID] = instance
		f.mu.Unlock()
	}
	return nil
}

func (f *Factory) propertyID(instance common.Address) (uint64, error) {
	id, ok := f.registry.PropertyIDByAddress(instance)
	if !ok {
		return 0, fmt.Errorf("%w: instance %s", ErrPropertyNotFound, instance.Hex())
	}
	return id, nil
}

// --- property.LifecycleForwarder ---

func (f *Factory) BookingCreated(instance common.Address, booking *property.Booking) error {
	id, err := f.propertyID(instance)
	if err != nil {
		return err
	}
	f.emitter.Emit(events.BookingCreated{
		PropertyID: id,
		BookingID:  booking.ID,
		Guest:      booking.Guest,
		Token:      booking.Token,
		Amount:     booking.Amount,
	})
	return nil
}

func (f *Factory) BookingCancelledByGuest(instance common.Address, bookingID string, guestAmount, hostAmount, treasuryAmount *big.Int, cancelledAt int64) error {
	id, err := f.propertyID(instance)
	if err != nil {
		return err
	}
	f.emitter.Emit(events.BookingCancelledByGuest{
		PropertyID:     id,
		BookingID:      bookingID,
		GuestAmount:    guestAmount,
		HostAmount:     hostAmount,
		TreasuryAmount: treasuryAmount,
		CancelledAt:    cancelledAt,
	})
	return nil
}

func (f *Factory) BookingCancelledByHost(instance common.Address, bookingID string, guestAmount *big.Int, cancelledAt int64) error {
	id, err := f.propertyID(instance)
	if err != nil {
		return err
	}
	f.emitter.Emit(events.BookingCancelledByHost{
		PropertyID:  id,
		BookingID:   bookingID,
		GuestAmount: guestAmount,
		CancelledAt: cancelledAt,
	})
	return nil
}

func (f *Factory) BookingPaidOut(instance common.Address, bookingID string, hostAmount, treasuryAmount *big.Int, paidAt int64, payoutType uint8) error {
	id, err := f.propertyID(instance)
	if err != nil {
		return err
	}
	f.emitter.Emit(events.BookingPayout{
		PropertyID:     id,
		BookingID:      bookingID,
		HostAmount:     hostAmount,
		TreasuryAmount: treasuryAmount,
		PaidAt:         paidAt,
		PayoutType:     payoutType,
	})
	return nil
}
