package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	logx "assignbot/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.errors.jsonl (append-only JSON Lines, rewritten on prune)
//   - <prefix>.links.json   (snapshot, rewritten atomically on change)
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	errorsPath string
	errorsFile *os.File

	linksPath string
	links     map[string]UserLink
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:        log,
		errorsPath: prefix + ".errors.jsonl",
		linksPath:  prefix + ".links.json",
		links:      map[string]UserLink{},
	}
	if err := s.loadLinks(); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(s.errorsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	s.errorsFile = f
	return s, nil
}

func (s *fileStore) loadLinks() error {
	b, err := os.ReadFile(s.linksPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(strings.TrimSpace(string(b))) == 0 {
		return nil
	}
	var list []UserLink
	if err := json.Unmarshal(b, &list); err != nil {
		return err
	}
	for _, l := range list {
		s.links[NormalizeEmail(l.Email)] = l
	}
	return nil
}

// saveLinksLocked writes the snapshot via temp file + rename.
func (s *fileStore) saveLinksLocked() error {
	list := make([]UserLink, 0, len(s.links))
	for _, l := range s.links {
		list = append(list, l)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Email < list[j].Email })
	b, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.linksPath + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.linksPath)
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errorsFile == nil {
		return nil
	}
	err := s.errorsFile.Close()
	s.errorsFile = nil
	return err
}

func (s *fileStore) AppendError(ctx context.Context, e ErrorEntry) error {
	e = prepareEntry(e)
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errorsFile == nil {
		return ErrDisabled
	}
	_, err = s.errorsFile.Write(append(b, '\n'))
	return err
}

// readErrorsLocked loads every entry; corrupt lines are skipped.
func (s *fileStore) readErrorsLocked() ([]ErrorEntry, error) {
	f, err := os.Open(s.errorsPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []ErrorEntry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var e ErrorEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			s.log.Debug("skipping corrupt error-log line", logx.Err(err))
			continue
		}
		out = append(out, e)
	}
	return out, sc.Err()
}

func (s *fileStore) ListErrors(ctx context.Context, limit int) ([]ErrorEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.Lock()
	all, err := s.readErrorsLocked()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	// Appends are chronological; newest first means reversed.
	out := make([]ErrorEntry, 0, min(limit, len(all)))
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (s *fileStore) PruneErrors(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errorsFile == nil {
		return 0, ErrDisabled
	}
	all, err := s.readErrorsLocked()
	if err != nil {
		return 0, err
	}
	keep := all[:0]
	for _, e := range all {
		if !e.At.Before(before) {
			keep = append(keep, e)
		}
	}
	removed := int64(len(all) - len(keep))
	if removed == 0 {
		return 0, nil
	}

	tmp := s.errorsPath + ".tmp"
	tf, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, err
	}
	w := bufio.NewWriter(tf)
	for _, e := range keep {
		b, err := json.Marshal(e)
		if err != nil {
			continue
		}
		_, _ = w.Write(append(b, '\n'))
	}
	if err := w.Flush(); err != nil {
		_ = tf.Close()
		return 0, err
	}
	if err := tf.Close(); err != nil {
		return 0, err
	}

	_ = s.errorsFile.Close()
	if err := os.Rename(tmp, s.errorsPath); err != nil {
		return 0, err
	}
	f, err := os.OpenFile(s.errorsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		s.errorsFile = nil
		return removed, err
	}
	s.errorsFile = f
	return removed, nil
}

func (s *fileStore) PutLink(ctx context.Context, l UserLink) error {
	l, err := prepareLink(l)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setLinkLocked(l)
}

func (s *fileStore) ClaimLink(ctx context.Context, l UserLink) (UserLink, bool, error) {
	l, err := prepareLink(l)
	if err != nil {
		return UserLink{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.links[l.Email]; ok && cur.ChatID != l.ChatID {
		return cur, false, nil
	}
	if err := s.setLinkLocked(l); err != nil {
		return UserLink{}, false, err
	}
	return l, true, nil
}

func (s *fileStore) GetLink(ctx context.Context, email string) (UserLink, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.links[NormalizeEmail(email)]
	return l, ok, nil
}

func (s *fileStore) DeleteLink(ctx context.Context, email string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := NormalizeEmail(email)
	prev, ok := s.links[key]
	if !ok {
		return false, nil
	}
	delete(s.links, key)
	if err := s.saveLinksLocked(); err != nil {
		s.links[key] = prev
		return false, err
	}
	return true, nil
}

// setLinkLocked stores l and rolls the map back if the snapshot write fails.
func (s *fileStore) setLinkLocked(l UserLink) error {
	prev, had := s.links[l.Email]
	s.links[l.Email] = l
	if err := s.saveLinksLocked(); err != nil {
		if had {
			s.links[l.Email] = prev
		} else {
			delete(s.links, l.Email)
		}
		return err
	}
	return nil
}
