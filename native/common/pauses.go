package common

import (
	"errors"
	"fmt"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"vestvault/storage"
)

var pausePrefix = []byte("common/pause/")

// Pauses persists per-module pause flags in the key-value store and satisfies
// PauseView. Writes go through whatever Database the caller binds, so a pause
// toggled inside an atomic engine call commits or rolls back with it.
type Pauses struct {
	db storage.Database
}

// NewPauses binds a pause registry to the provided database.
func NewPauses(db storage.Database) *Pauses {
	return &Pauses{db: db}
}

func pauseKey(module string) []byte {
	trimmed := strings.ToLower(strings.TrimSpace(module))
	buf := make([]byte, len(pausePrefix)+len(trimmed))
	copy(buf, pausePrefix)
	copy(buf[len(pausePrefix):], trimmed)
	return ethcrypto.Keccak256(buf)
}

// SetPaused records the pause flag for a module.
func (p *Pauses) SetPaused(module string, paused bool) error {
	if p == nil || p.db == nil {
		return fmt.Errorf("pauses: store not configured")
	}
	if strings.TrimSpace(module) == "" {
		return fmt.Errorf("pauses: module name required")
	}
	if !paused {
		return p.db.Delete(pauseKey(module))
	}
	return p.db.Put(pauseKey(module), []byte{1})
}

// IsPaused implements PauseView.
func (p *Pauses) IsPaused(module string) bool {
	if p == nil || p.db == nil {
		return false
	}
	value, err := p.db.Get(pauseKey(module))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false
		}
		// Unreadable state fails closed.
		return true
	}
	return len(value) == 1 && value[0] == 1
}
