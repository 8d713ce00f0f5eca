// Package ids derives task identifiers of the form {owner}_{slug} from the
// user's own description of the task.
package ids

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

const (
	slugMax      = 20
	fallbackSlug = "task"
)

// Checker reports whether any artifact exists for an id.
// storage.TaskStore satisfies it.
type Checker interface {
	Exists(ctx context.Context, id string) (bool, error)
}

// Slug lowercases text, collapses every run of non-word runes into a single
// '_' and keeps the first 20 runes. Word runes are letters, digits and '_'
// of any script. An empty result becomes "task".
func Slug(text string) string {
	var b strings.Builder
	n := 0
	inGap := false
	for _, r := range strings.ToLower(text) {
		if n >= slugMax {
			break
		}
		if r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			n++
			inGap = false
			continue
		}
		if !inGap {
			b.WriteByte('_')
			n++
			inGap = true
		}
	}
	if b.Len() == 0 {
		return fallbackSlug
	}
	return b.String()
}

// Owner is the id namespace of a user: the configured display name when
// there is one, otherwise "user_{id}".
func Owner(userID int64, names map[int64]string) string {
	if name := strings.TrimSpace(names[userID]); name != "" {
		if s := strings.Trim(Slug(name), "_"); s != "" {
			return s
		}
	}
	return "user_" + strconv.FormatInt(userID, 10)
}

// Allocate returns {owner}_{slug(text)}, or the first of {base}_1, {base}_2,
// ... that has no artifact in the store. The id is not reserved: callers
// that persist it must serialize allocation with the write.
func Allocate(ctx context.Context, store Checker, owner, text string) (string, error) {
	base := owner + "_" + Slug(text)
	id := base
	for i := 1; ; i++ {
		taken, err := store.Exists(ctx, id)
		if err != nil {
			return "", fmt.Errorf("check id %q: %w", id, err)
		}
		if !taken {
			return id, nil
		}
		id = base + "_" + strconv.Itoa(i)
	}
}
