package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "wafleet/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.transitions.jsonl   (append-only JSON Lines)
//   - <prefix>.outcomes.jsonl      (append-only JSON Lines)
//   - <prefix>.dedup.snapshot.json (periodic snapshot)
//   - <prefix>.dedup.journal.jsonl (append-only journal)
//
// The journal is periodically compacted into the snapshot; the jsonl logs
// are rewritten in place by Prune.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	transitionsPath string
	transitionsFile *os.File
	outcomesPath    string
	outcomesFile    *os.File

	dedupSnapshotPath string
	dedupJournalFile  *os.File
	dedup             map[string]int64 // unix milli

	dedupWrites int
}

type dedupRecord struct {
	Key   string `json:"key"`
	Until int64  `json:"until"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	transitionsPath := prefix + ".transitions.jsonl"
	outcomesPath := prefix + ".outcomes.jsonl"
	snapPath := prefix + ".dedup.snapshot.json"
	journalPath := prefix + ".dedup.journal.jsonl"

	tf, err := os.OpenFile(transitionsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	of, err := os.OpenFile(outcomesPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		_ = tf.Close()
		return nil, err
	}

	// Load dedup from snapshot + journal.
	dedup := map[string]int64{}
	_ = loadDedupSnapshot(snapPath, dedup)
	_ = replayDedupJournal(journalPath, dedup)
	pruneExpiredDedup(dedup)

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = tf.Close()
		_ = of.Close()
		return nil, err
	}

	return &fileStore{
		log:               log,
		transitionsPath:   transitionsPath,
		transitionsFile:   tf,
		outcomesPath:      outcomesPath,
		outcomesFile:      of,
		dedupSnapshotPath: snapPath,
		dedupJournalFile:  jf,
		dedup:             dedup,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var first error
	for _, f := range []**os.File{&s.transitionsFile, &s.outcomesFile, &s.dedupJournalFile} {
		if *f == nil {
			continue
		}
		if err := (*f).Close(); err != nil && first == nil {
			first = err
		}
		*f = nil
	}
	return first
}

func (s *fileStore) AppendTransition(ctx context.Context, e TransitionEntry) error {
	_ = ctx
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transitionsFile == nil {
		return errors.New("transitions file closed")
	}
	return json.NewEncoder(s.transitionsFile).Encode(e)
}

func (s *fileStore) AppendOutcome(ctx context.Context, e OutcomeEntry) error {
	_ = ctx
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outcomesFile == nil {
		return errors.New("outcomes file closed")
	}
	return json.NewEncoder(s.outcomesFile).Encode(e)
}

func (s *fileStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	_ = ctx
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	ms := until.UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dedupJournalFile == nil {
		return errors.New("dedup journal closed")
	}
	if s.dedup == nil {
		s.dedup = map[string]int64{}
	}
	s.dedup[key] = ms

	if err := json.NewEncoder(s.dedupJournalFile).Encode(dedupRecord{Key: key, Until: ms}); err != nil {
		return err
	}
	s.dedupWrites++
	if s.dedupWrites%1000 == 0 {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("dedup compact failed", logx.Any("err", err))
		}
	}
	return nil
}

func (s *fileStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	_ = ctx
	key = strings.TrimSpace(key)
	if key == "" {
		return time.Time{}, false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.dedup[key]
	if !ok {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

// Prune rewrites both jsonl logs keeping only records at or after before.
// Lines that fail to parse are dropped.
func (s *fileStore) Prune(ctx context.Context, before time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transitionsFile == nil || s.outcomesFile == nil {
		return errors.New("store closed")
	}

	keepT := func(line []byte) bool {
		var e TransitionEntry
		return json.Unmarshal(line, &e) == nil && !e.At.Before(before)
	}
	if f, err := rewriteFiltered(s.transitionsPath, s.transitionsFile, keepT); err != nil {
		return err
	} else {
		s.transitionsFile = f
	}

	keepO := func(line []byte) bool {
		var e OutcomeEntry
		return json.Unmarshal(line, &e) == nil && !e.At.Before(before)
	}
	if f, err := rewriteFiltered(s.outcomesPath, s.outcomesFile, keepO); err != nil {
		return err
	} else {
		s.outcomesFile = f
	}

	pruneExpiredDedup(s.dedup)
	return ctx.Err()
}

// rewriteFiltered copies surviving lines into a temp file, swaps it into
// place, and returns a fresh append handle. The old handle is closed.
func rewriteFiltered(path string, old *os.File, keep func([]byte) bool) (*os.File, error) {
	in, err := os.Open(path)
	if err != nil {
		return old, err
	}

	tmp := path + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		_ = in.Close()
		return old, err
	}

	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	w := bufio.NewWriter(out)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 || !keep(line) {
			continue
		}
		_, _ = w.Write(line)
		_ = w.WriteByte('\n')
	}
	_ = in.Close()
	if err := sc.Err(); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return old, err
	}
	if err := w.Flush(); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return old, err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return old, err
	}

	_ = old.Close()
	if err := os.Rename(tmp, path); err != nil {
		// Reopen the original so the store stays usable.
		f, openErr := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if openErr != nil {
			return nil, openErr
		}
		return f, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
}

func (s *fileStore) compactLocked() error {
	if s.dedup == nil {
		return nil
	}
	pruneExpiredDedup(s.dedup)

	tmp := s.dedupSnapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.dedup); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.dedupSnapshotPath); err != nil {
		return err
	}
	// Truncate journal.
	if err := s.dedupJournalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.dedupJournalFile.Seek(0, 2)
	return err
}

func loadDedupSnapshot(path string, out map[string]int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]int64
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

func replayDedupJournal(path string, out map[string]int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	for s.Scan() {
		var r dedupRecord
		if err := json.Unmarshal(s.Bytes(), &r); err != nil {
			continue
		}
		if r.Key == "" {
			continue
		}
		out[r.Key] = r.Until
	}
	return s.Err()
}

func pruneExpiredDedup(m map[string]int64) {
	now := time.Now().UnixMilli()
	for k, v := range m {
		if v < now {
			delete(m, k)
		}
	}
}
