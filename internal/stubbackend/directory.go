package stubbackend

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// InMemoryDirectory stores champions with bcrypt password hashes.
type InMemoryDirectory struct {
	mutex    sync.RWMutex
	byID     map[int64]*directoryEntry
	byEmail  map[string]int64
	hashCost int
}

type directoryEntry struct {
	champion     Champion
	passwordHash []byte
}

// NewInMemoryDirectory creates an empty directory. hashCost of zero selects bcrypt.DefaultCost.
func NewInMemoryDirectory(hashCost int) *InMemoryDirectory {
	if hashCost == 0 {
		hashCost = bcrypt.DefaultCost
	}
	return &InMemoryDirectory{
		byID:     make(map[int64]*directoryEntry),
		byEmail:  make(map[string]int64),
		hashCost: hashCost,
	}
}

// Register adds a champion with the given password.
func (directory *InMemoryDirectory) Register(champion Champion, password string) error {
	email := normalizeEmail(champion.Email)
	if champion.ID <= 0 || email == "" || password == "" {
		return fmt.Errorf("champion_directory.register: %w", ErrInvalidCredentials)
	}
	hash, hashErr := bcrypt.GenerateFromPassword([]byte(password), directory.hashCost)
	if hashErr != nil {
		return fmt.Errorf("champion_directory.register: %w", hashErr)
	}
	directory.mutex.Lock()
	defer directory.mutex.Unlock()
	if _, exists := directory.byID[champion.ID]; exists {
		return fmt.Errorf("champion_directory.register: %w", ErrDuplicateChampion)
	}
	if _, exists := directory.byEmail[email]; exists {
		return fmt.Errorf("champion_directory.register: %w", ErrDuplicateChampion)
	}
	champion.Email = email
	directory.byID[champion.ID] = &directoryEntry{champion: champion, passwordHash: hash}
	directory.byEmail[email] = champion.ID
	return nil
}

// Authenticate verifies the password for email.
func (directory *InMemoryDirectory) Authenticate(ctx context.Context, email string, password string) (Champion, error) {
	directory.mutex.RLock()
	championID, exists := directory.byEmail[normalizeEmail(email)]
	var entry *directoryEntry
	if exists {
		entry = directory.byID[championID]
	}
	directory.mutex.RUnlock()
	if entry == nil {
		return Champion{}, fmt.Errorf("champion_directory.authenticate: %w", ErrInvalidCredentials)
	}
	if bcrypt.CompareHashAndPassword(entry.passwordHash, []byte(password)) != nil {
		return Champion{}, fmt.Errorf("champion_directory.authenticate: %w", ErrInvalidCredentials)
	}
	return entry.champion, nil
}

// Lookup returns the champion registered under championID.
func (directory *InMemoryDirectory) Lookup(ctx context.Context, championID int64) (Champion, error) {
	directory.mutex.RLock()
	defer directory.mutex.RUnlock()
	entry := directory.byID[championID]
	if entry == nil {
		return Champion{}, fmt.Errorf("champion_directory.lookup: %w", ErrChampionNotFound)
	}
	return entry.champion, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
