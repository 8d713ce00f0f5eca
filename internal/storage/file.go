package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"

	"github.com/utestwalter/Mila/pkg/logx"
)

const (
	metaExt    = ".json"
	textExt    = ".txt"
	tmpPrefix  = ".tmp-"
	auditFile  = "audit.jsonl"
	defaultDir = "./tasks"
)

// fileStore keeps each task as <dir>/<id>.txt plus <dir>/<id>.json.
//
// Writes go through tmp+fsync+rename. The metadata file is written last and
// carries a checksum of the instructions, so it acts as the commit marker:
// a crash between the two renames leaves a record that fails validation.
type fileStore struct {
	dir string
	log logx.Logger

	mu        sync.RWMutex
	auditFile *os.File
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	dir := strings.TrimSpace(cfg.Path)
	if dir == "" {
		dir = defaultDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	af, err := os.OpenFile(filepath.Join(dir, auditFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	s := &fileStore{dir: dir, log: log, auditFile: af}
	s.sweepTemp()
	return s, nil
}

func (s *fileStore) textPath(id string) string { return filepath.Join(s.dir, id+textExt) }
func (s *fileStore) metaPath(id string) string { return filepath.Join(s.dir, id+metaExt) }

// sweepTemp removes leftovers of writes interrupted before their rename.
func (s *fileStore) sweepTemp() {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), tmpPrefix) {
			_ = os.Remove(filepath.Join(s.dir, e.Name()))
			s.log.Debug("removed stale temp file", logx.String("file", e.Name()))
		}
	}
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return nil
	}
	err := s.auditFile.Close()
	s.auditFile = nil
	return err
}

func (s *fileStore) Put(ctx context.Context, def TaskDefinition) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateID(def.ID); err != nil {
		return err
	}
	meta, err := encodeMetadata(def)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prevText, hadText := readOptional(s.textPath(def.ID))
	if err := writeAtomic(s.dir, s.textPath(def.ID), []byte(def.Instructions)); err != nil {
		return fmt.Errorf("write instructions: %w", err)
	}
	if err := writeAtomic(s.dir, s.metaPath(def.ID), meta); err != nil {
		// Put the instructions back the way they were so the old record (or
		// no record) stays consistent.
		if hadText {
			_ = writeAtomic(s.dir, s.textPath(def.ID), prevText)
		} else {
			_ = os.Remove(s.textPath(def.ID))
		}
		return fmt.Errorf("write metadata: %w", err)
	}
	syncDir(s.dir)
	return nil
}

func (s *fileStore) Get(ctx context.Context, id string) (TaskDefinition, bool, error) {
	if err := ctx.Err(); err != nil {
		return TaskDefinition{}, false, err
	}
	if err := ValidateID(id); err != nil {
		return TaskDefinition{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLocked(id)
}

func (s *fileStore) getLocked(id string) (TaskDefinition, bool, error) {
	text, textErr := os.ReadFile(s.textPath(id))
	meta, metaErr := os.ReadFile(s.metaPath(id))

	textMissing := errors.Is(textErr, fs.ErrNotExist)
	metaMissing := errors.Is(metaErr, fs.ErrNotExist)
	switch {
	case textMissing && metaMissing:
		return TaskDefinition{}, false, nil
	case textErr != nil && !textMissing:
		return TaskDefinition{}, false, textErr
	case metaErr != nil && !metaMissing:
		return TaskDefinition{}, false, metaErr
	case textMissing:
		return TaskDefinition{}, true, corruptf(id, "instructions file missing")
	case metaMissing:
		return TaskDefinition{}, true, corruptf(id, "metadata file missing")
	}

	def, err := decodeRecord(id, string(text), meta)
	if err != nil {
		return TaskDefinition{}, true, err
	}
	return def, true, nil
}

func (s *fileStore) Delete(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := ValidateID(id); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	// Metadata first: once it is gone the record is no longer valid, even if
	// removing the text fails below.
	existed := false
	for _, p := range []string{s.metaPath(id), s.textPath(id)} {
		err := os.Remove(p)
		switch {
		case err == nil:
			existed = true
		case errors.Is(err, fs.ErrNotExist):
		default:
			return existed, err
		}
	}
	if existed {
		syncDir(s.dir)
	}
	return existed, nil
}

func (s *fileStore) Exists(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := ValidateID(id); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range []string{s.textPath(id), s.metaPath(id)} {
		_, err := os.Lstat(p)
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return false, err
		}
	}
	return false, nil
}

func (s *fileStore) List(ctx context.Context, f Filter) (Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return Listing{}, err
	}
	ids := map[string]struct{}{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, tmpPrefix) {
			continue
		}
		ext := filepath.Ext(name)
		if ext != textExt && ext != metaExt {
			continue
		}
		id := strings.TrimSuffix(name, ext)
		if ValidateID(id) != nil || !f.match(id) {
			continue
		}
		ids[id] = struct{}{}
	}

	var out Listing
	for _, id := range sortedKeys(ids) {
		if err := ctx.Err(); err != nil {
			return Listing{}, err
		}
		_, _, err := s.getLocked(id)
		switch {
		case err != nil && errors.Is(err, ErrCorrupt):
			out.Corrupt = append(out.Corrupt, CorruptRecord{ID: id, Reason: err.Error()})
			continue
		case err != nil:
			s.log.Warn("task record unreadable", logx.String("task", id), logx.Err(err))
			out.Unreadable = append(out.Unreadable, CorruptRecord{ID: id, Reason: err.Error()})
			continue
		}
		out.IDs = append(out.IDs, id)
	}
	return out, nil
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b, err := sonic.Marshal(e)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return errors.New("audit file closed")
	}
	_, err = s.auditFile.Write(append(b, '\n'))
	return err
}

// writeAtomic replaces path with data via a synced temp file in dir.
func writeAtomic(dir, path string, data []byte) error {
	f, err := os.CreateTemp(dir, tmpPrefix+"*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	cleanup := func() { _ = os.Remove(tmp) }

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		cleanup()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		cleanup()
		return err
	}
	if err := f.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		cleanup()
		return err
	}
	return nil
}

func readOptional(path string) ([]byte, bool) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	return b, true
}

// syncDir flushes directory entries after renames. Not every platform
// supports it, so errors are ignored.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
