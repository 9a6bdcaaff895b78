package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/ozturkozgurm/overorunder/internal/trial"
)

// Logical keys. Each key maps to its own file so that individual writes are
// atomic (tmp + rename); there is no transaction across keys.
const (
	keyFirstLaunch   = "firstLaunchTimestamp"
	keyPremiumFlag   = "isPremiumFlag"
	keyGlobalUnlocks = "globalUnlockedIds"
	keyPendingSignal = "pendingSignal"

	dateUnlockPrefix = "unlockedIds_"
)

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Store is a file-backed key-value store rooted at a data directory. Every
// logical key lives in its own JSON file; writes go through a temp file and
// rename so a crash never leaves a half-written key.
type Store struct {
	dir string
	mu  sync.RWMutex
}

// New creates the data directory if needed and returns a store over it.
func New(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("store: data directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("store: create data directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// PendingSignal is the deferred push payload written when a notification was
// tapped while the process was not running. Minute keeps its raw string form.
type PendingSignal struct {
	HomeTeam   string `json:"homeTeam"`
	AwayTeam   string `json:"awayTeam"`
	Prediction string `json:"prediction"`
	Minute     string `json:"minute"`
}

// FirstLaunch returns the recorded first-launch timestamp, or the sentinel
// when none has been written yet.
func (s *Store) FirstLaunch() (time.Time, error) {
	var unix int64
	ok, err := s.getJSON(keyFirstLaunch, &unix)
	if err != nil {
		return trial.SentinelFirstLaunch, err
	}
	if !ok {
		return trial.SentinelFirstLaunch, nil
	}
	return time.Unix(unix, 0), nil
}

// RecordFirstLaunch persists now as the first-launch timestamp if none is
// recorded yet. Subsequent calls are no-ops; the trial window must never move.
func (s *Store) RecordFirstLaunch(now time.Time) error {
	existing, err := s.FirstLaunch()
	if err != nil {
		return err
	}
	if trial.IsRealFirstLaunch(existing) {
		return nil
	}
	return s.putJSON(keyFirstLaunch, now.Unix())
}

// IsPremium returns the persisted premium flag, defaulting to false.
func (s *Store) IsPremium() (bool, error) {
	var premium bool
	ok, err := s.getJSON(keyPremiumFlag, &premium)
	if err != nil || !ok {
		return false, err
	}
	return premium, nil
}

// SetPremium persists the premium flag.
func (s *Store) SetPremium(premium bool) error {
	return s.putJSON(keyPremiumFlag, premium)
}

// UnlockedIDs returns the per-date unlock set for dateKey. A missing key
// yields an empty set.
func (s *Store) UnlockedIDs(dateKey string) (map[string]struct{}, error) {
	return s.getIDSet(dateUnlockPrefix + dateKey)
}

// SaveUnlockedIDs persists the per-date unlock set for dateKey.
func (s *Store) SaveUnlockedIDs(dateKey string, ids map[string]struct{}) error {
	return s.putIDSet(dateUnlockPrefix+dateKey, ids)
}

// GlobalUnlockedIDs returns the permanently unlocked identifier set.
func (s *Store) GlobalUnlockedIDs() (map[string]struct{}, error) {
	return s.getIDSet(keyGlobalUnlocks)
}

// AddGlobalUnlockedID adds id to the permanent unlock set.
func (s *Store) AddGlobalUnlockedID(id string) error {
	ids, err := s.getIDSet(keyGlobalUnlocks)
	if err != nil {
		return err
	}
	ids[id] = struct{}{}
	return s.putIDSet(keyGlobalUnlocks, ids)
}

// PendingSignal returns the deferred push payload, if one is stored.
func (s *Store) PendingSignal() (*PendingSignal, bool, error) {
	var pending PendingSignal
	ok, err := s.getJSON(keyPendingSignal, &pending)
	if err != nil || !ok {
		return nil, false, err
	}
	return &pending, true, nil
}

// SavePendingSignal stores a deferred push payload for recovery on next start.
func (s *Store) SavePendingSignal(pending PendingSignal) error {
	return s.putJSON(keyPendingSignal, pending)
}

// ClearPendingSignal removes the deferred push payload.
func (s *Store) ClearPendingSignal() error {
	return s.remove(keyPendingSignal)
}

func (s *Store) getIDSet(key string) (map[string]struct{}, error) {
	var list []string
	if _, err := s.getJSON(key, &list); err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(list))
	for _, id := range list {
		set[id] = struct{}{}
	}
	return set, nil
}

func (s *Store) putIDSet(key string, ids map[string]struct{}) error {
	list := make([]string, 0, len(ids))
	for id := range ids {
		list = append(list, id)
	}
	return s.putJSON(key, list)
}

func (s *Store) getJSON(key string, v any) (bool, error) {
	path, err := s.keyPath(key)
	if err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("store: read key %q: %w", key, err)
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("store: decode key %q: %w", key, err)
	}
	return true, nil
}

func (s *Store) putJSON(key string, v any) error {
	path, err := s.keyPath(key)
	if err != nil {
		return err
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: encode key %q: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("store: write key %q: %w", key, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("store: commit key %q: %w", key, err)
	}
	return nil
}

func (s *Store) remove(key string) error {
	path, err := s.keyPath(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("store: remove key %q: %w", key, err)
	}
	return nil
}

func (s *Store) keyPath(key string) (string, error) {
	if !keyPattern.MatchString(key) {
		return "", fmt.Errorf("store: invalid key %q", key)
	}
	return filepath.Join(s.dir, key+".json"), nil
}
