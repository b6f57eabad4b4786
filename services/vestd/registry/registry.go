// Package registry stores off-ledger counterparty records for the custody
// desk: who stands behind each on-ledger address and which commitments have
// been assigned to them over time.
package registry

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"vestvault/crypto"
)

// ErrNotFound is returned when a counterparty lookup misses.
var ErrNotFound = errors.New("registry: counterparty not found")

// Counterparty identifies an approved buyer.
type Counterparty struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name      string    `gorm:"uniqueIndex;size:128" json:"name"`
	Region    string    `gorm:"index;size:64" json:"region"`
	Address   string    `gorm:"uniqueIndex;size:90" json:"address"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CommitmentGrant records an entitlement assigned to a counterparty. The
// ledger remains authoritative; these rows exist for reporting.
type CommitmentGrant struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CounterpartyID uuid.UUID `gorm:"type:uuid;index" json:"counterparty_id"`
	Amount         string    `gorm:"size:80" json:"amount"`
	GrantedBy      string    `gorm:"size:90" json:"granted_by"`
	CreatedAt      time.Time `json:"created_at"`
}

// Registry wraps the gorm handle.
type Registry struct {
	db *gorm.DB
}

// Open connects to the configured backend and migrates the schema. Supported
// drivers are "sqlite" and "postgres".
func Open(driver, dsn string) (*Registry, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("registry: unknown driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("registry: open: %w", err)
	}
	if err := db.AutoMigrate(&Counterparty{}, &CommitmentGrant{}); err != nil {
		return nil, fmt.Errorf("registry: migrate: %w", err)
	}
	return &Registry{db: db}, nil
}

// Create registers a new counterparty.
func (r *Registry) Create(name, region, address string) (*Counterparty, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("registry: name required")
	}
	addr, err := crypto.DecodeAddress(strings.TrimSpace(address))
	if err != nil {
		return nil, fmt.Errorf("registry: address: %w", err)
	}
	cp := &Counterparty{
		ID:      uuid.New(),
		Name:    name,
		Region:  strings.TrimSpace(region),
		Address: addr.String(),
	}
	if err := r.db.Create(cp).Error; err != nil {
		return nil, err
	}
	return cp, nil
}

// Get fetches a counterparty by id.
func (r *Registry) Get(id uuid.UUID) (*Counterparty, error) {
	var cp Counterparty
	if err := r.db.First(&cp, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &cp, nil
}

// GetByAddress fetches a counterparty by its bech32 ledger address.
func (r *Registry) GetByAddress(address string) (*Counterparty, error) {
	var cp Counterparty
	if err := r.db.First(&cp, "address = ?", strings.TrimSpace(address)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &cp, nil
}

// List returns all counterparties ordered by name.
func (r *Registry) List() ([]Counterparty, error) {
	var out []Counterparty
	if err := r.db.Order("name asc").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// RecordGrant appends a commitment assignment to the counterparty's history.
func (r *Registry) RecordGrant(counterpartyID uuid.UUID, amount, grantedBy string) (*CommitmentGrant, error) {
	if _, err := r.Get(counterpartyID); err != nil {
		return nil, err
	}
	grant := &CommitmentGrant{
		ID:             uuid.New(),
		CounterpartyID: counterpartyID,
		Amount:         strings.TrimSpace(amount),
		GrantedBy:      strings.TrimSpace(grantedBy),
	}
	if err := r.db.Create(grant).Error; err != nil {
		return nil, err
	}
	return grant, nil
}

// Grants returns a counterparty's commitment history, newest first.
func (r *Registry) Grants(counterpartyID uuid.UUID) ([]CommitmentGrant, error) {
	var out []CommitmentGrant
	if err := r.db.Where("counterparty_id = ?", counterpartyID).Order("created_at desc").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
