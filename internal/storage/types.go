package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/utestwalter/Mila/internal/task/schedule"
	"github.com/utestwalter/Mila/internal/transport"
)

var (
	ErrDisabled  = errors.New("storage disabled")
	ErrCorrupt   = errors.New("corrupt task record")
	ErrInvalidID = errors.New("invalid task id")
)

// Config configures storage.
type Config struct {
	Driver      string
	Path        string        // file: task directory; sqlite: database file
	BusyTimeout time.Duration // sqlite only
	Redis       RedisConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// TaskDefinition is a registered task. An empty SearchQuery makes it a
// plain reminder; stores keep the query trimmed, so a whitespace-only query
// reads back as empty.
type TaskDefinition struct {
	ID           string
	Owner        string
	Instructions string
	SearchQuery  string
	Schedule     schedule.Spec
	Recipient    transport.ChatTarget
	CreatedAt    time.Time
}

func (d TaskDefinition) IsReminder() bool { return strings.TrimSpace(d.SearchQuery) == "" }

// Filter narrows List. Owner matches ids starting with "{owner}_".
type Filter struct {
	Owner string
}

func (f Filter) match(id string) bool {
	if f.Owner == "" {
		return true
	}
	return strings.HasPrefix(id, f.Owner+"_")
}

// CorruptRecord names a record excluded from listings.
type CorruptRecord struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// Listing is the result of List: valid ids sorted ascending, plus the
// records that failed validation and those that could not be read at all.
// One bad record never fails the whole listing.
type Listing struct {
	IDs        []string
	Corrupt    []CorruptRecord
	Unreadable []CorruptRecord
}

// TaskStore is the record store used by the registrar, the scheduler's
// recovery and the execution pipeline. Implementations are safe for
// concurrent use.
type TaskStore interface {
	// Put writes both artifacts or neither.
	Put(ctx context.Context, def TaskDefinition) error
	// Get returns found=false when no artifact exists, and an ErrCorrupt
	// error when only part of the record is present or it fails validation.
	Get(ctx context.Context, id string) (def TaskDefinition, found bool, err error)
	// Delete removes both artifacts and reports whether anything existed.
	Delete(ctx context.Context, id string) (existed bool, err error)
	List(ctx context.Context, f Filter) (Listing, error)
	// Exists reports whether any artifact for id exists, corrupt or not.
	Exists(ctx context.Context, id string) (bool, error)
}

// Store is a TaskStore plus the request audit log.
type Store interface {
	TaskStore
	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}

// AuditEntry records a user request or a task lifecycle action.
type AuditEntry struct {
	At       time.Time `json:"at"`
	UserID   int64     `json:"user_id,omitempty"`
	Username string    `json:"username,omitempty"`
	ChatID   int64     `json:"chat_id,omitempty"`
	Action   string    `json:"action"`
	TaskID   string    `json:"task_id,omitempty"`
	Text     string    `json:"text,omitempty"`
	OK       bool      `json:"ok"`
	Error    string    `json:"error,omitempty"`
}

// ValidateID rejects ids that are empty or could escape a storage namespace.
// Letters (any script), digits, '_' and '-' are allowed.
func ValidateID(id string) error {
	if id == "" || len(id) > 200 {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	for _, r := range id {
		if r == '_' || r == '-' || unicode.IsLetter(r) || unicode.IsDigit(r) {
			continue
		}
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

func corruptf(id, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrCorrupt, id, fmt.Sprintf(format, args...))
}
