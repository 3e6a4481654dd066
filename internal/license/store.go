// Package license owns the license file of record: cached reads, exactly-once
// redemption and atomic whole-file writes.
package license

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/MacJediWizard/activator/internal/models"
	"github.com/rs/zerolog"
)

// DefaultCacheTTL is how long a full reload of the license file is served.
const DefaultCacheTTL = 60 * time.Second

// ReloadRecorder receives the outcome of every license file reload.
type ReloadRecorder interface {
	RecordStoreReload(result string)
}

// StoreConfig holds configuration for the license store.
type StoreConfig struct {
	// Path is the JSON file holding every license record.
	Path string
	// CacheTTL bounds how long a reload is served before the file is read again.
	CacheTTL time.Duration
	// Metrics is optional.
	Metrics ReloadRecorder
}

// RedeemRequest describes a redemption attempt.
type RedeemRequest struct {
	Key         string
	RequesterID int64
	Username    string
	Config      models.BoundConfig
}

// Store is the single source of truth for license records. Reads are served
// from a cache that expires CacheTTL after the last full reload; every write
// replaces the whole file and invalidates the cache.
type Store struct {
	path    string
	ttl     time.Duration
	metrics ReloadRecorder
	logger  zerolog.Logger
	nowFn   func() time.Time

	// createTemp is overridable for testing write failures.
	createTemp func(dir, pattern string) (*os.File, error)

	// writeMu serializes redemption, issuance and file reloads so a reload
	// that re-initializes a missing file can never clobber a concurrent write.
	writeMu sync.Mutex

	mu       sync.RWMutex
	cache    document
	loadedAt time.Time
}

// NewStore creates a license store backed by the file at cfg.Path.
func NewStore(cfg StoreConfig, logger zerolog.Logger) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("license store path is required")
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o700); err != nil {
		return nil, fmt.Errorf("%w: create store directory: %v", ErrPersistence, err)
	}

	return &Store{
		path:    cfg.Path,
		ttl:     cfg.CacheTTL,
		metrics: cfg.Metrics,
		logger:  logger.With().Str("component", "license_store").Logger(),
		nowFn:   time.Now,

		createTemp: os.CreateTemp,
	}, nil
}

// Path returns the location of the license file.
func (s *Store) Path() string {
	return s.path
}

// Get returns the record for key. Keys are case-insensitive.
func (s *Store) Get(ctx context.Context, key string) (models.LicenseRecord, error) {
	if err := ctx.Err(); err != nil {
		return models.LicenseRecord{}, err
	}
	key = models.NormalizeKey(key)

	doc, err := s.snapshot()
	if err != nil {
		return models.LicenseRecord{}, err
	}
	fr, ok := doc[key]
	if !ok {
		return models.LicenseRecord{}, ErrNotFound
	}
	return decodeRecord(key, fr)
}

// All returns every well-formed record, sorted by key.
func (s *Store) All(ctx context.Context) ([]models.LicenseRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc, err := s.snapshot()
	if err != nil {
		return nil, err
	}

	records := make([]models.LicenseRecord, 0, len(doc))
	for key, fr := range doc {
		rec, err := decodeRecord(key, fr)
		if err != nil {
			continue
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Key < records[j].Key })
	return records, nil
}

// ListByRequester returns the records redeemed by requesterID.
func (s *Store) ListByRequester(ctx context.Context, requesterID int64) ([]models.LicenseRecord, error) {
	all, err := s.All(ctx)
	if err != nil {
		return nil, err
	}
	var out []models.LicenseRecord
	for _, rec := range all {
		if rec.IsUsed() && rec.Redemption.ActivatedBy() == requesterID {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Redeem consumes a key for a requester. At most one caller ever succeeds for
// a given key; the rest get ErrAlreadyUsed. The redeemed record is persisted
// before the lock serializing redeemers is released. On a write failure the
// file and the cache are left untouched and an ErrPersistence error returned.
func (s *Store) Redeem(ctx context.Context, req RedeemRequest) (models.LicenseRecord, error) {
	if err := ctx.Err(); err != nil {
		return models.LicenseRecord{}, err
	}
	key := models.NormalizeKey(req.Key)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	doc, err := s.currentLocked()
	if err != nil {
		return models.LicenseRecord{}, err
	}

	fr, ok := doc[key]
	if !ok {
		return models.LicenseRecord{}, ErrNotFound
	}
	if fr.IsUsed {
		return models.LicenseRecord{}, ErrAlreadyUsed
	}
	rec, err := decodeRecord(key, fr)
	if err != nil {
		return models.LicenseRecord{}, err
	}

	redemption, err := models.NewRedemption(req.RequesterID, req.Username, req.Config, rec.DurationDays, s.nowFn())
	if err != nil {
		return models.LicenseRecord{}, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	redeemed, err := rec.Redeem(redemption)
	if err != nil {
		return models.LicenseRecord{}, err
	}

	next := doc.clone()
	next[key] = encodeRecord(redeemed)
	if err := s.writeFile(next); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("failed to persist redemption")
		return models.LicenseRecord{}, err
	}
	s.invalidate()

	s.logger.Info().
		Str("key", key).
		Int64("requester_id", req.RequesterID).
		Str("plan", redeemed.PlanName).
		Time("expires_at", redemption.ExpiresAt()).
		Msg("license redeemed")

	return redeemed, nil
}

// Issue adds fresh, unredeemed records. The batch is rejected as a whole if
// any key already exists.
func (s *Store) Issue(ctx context.Context, records ...models.LicenseRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	doc, err := s.currentLocked()
	if err != nil {
		return err
	}

	next := doc.clone()
	for _, rec := range records {
		if rec.IsUsed() {
			return fmt.Errorf("%w: %s is already redeemed", ErrInvalidRecord, rec.Key)
		}
		checked, err := models.NewLicenseRecord(rec.Key, rec.PlanName, rec.DurationDays)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
		}
		if _, exists := next[checked.Key]; exists {
			return fmt.Errorf("%w: %s", ErrKeyExists, checked.Key)
		}
		next[checked.Key] = encodeRecord(checked)
	}

	if err := s.writeFile(next); err != nil {
		return err
	}
	s.invalidate()

	s.logger.Info().Int("count", len(records)).Msg("license keys issued")
	return nil
}

// Ping checks that the license file is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := os.Stat(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

// snapshot returns the cached document, reloading it when stale.
func (s *Store) snapshot() (document, error) {
	if doc, ok := s.cached(); ok {
		return doc, nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.currentLocked()
}

// cached returns the cache if it is still within its TTL.
func (s *Store) cached() (document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cache == nil || s.nowFn().Sub(s.loadedAt) >= s.ttl {
		return nil, false
	}
	return s.cache, true
}

// currentLocked returns a fresh document. The caller must hold writeMu.
func (s *Store) currentLocked() (document, error) {
	if doc, ok := s.cached(); ok {
		return doc, nil
	}

	doc, err := s.load()
	if err != nil {
		s.recordReload("error")
		return nil, err
	}

	s.mu.Lock()
	s.cache = doc
	s.loadedAt = s.nowFn()
	s.mu.Unlock()

	s.recordReload("ok")
	return doc, nil
}

// invalidate drops the cache so the next read reloads the file.
func (s *Store) invalidate() {
	s.mu.Lock()
	s.cache = nil
	s.loadedAt = time.Time{}
	s.mu.Unlock()
}

// load reads the license file. A missing or undecodable file is treated as an
// empty store and re-initialized to an empty mapping.
func (s *Store) load() (document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn().Str("path", s.path).Msg("license file missing, initializing empty store")
			return s.reinitialize()
		}
		return nil, fmt.Errorf("%w: read %s: %v", ErrPersistence, s.path, err)
	}

	var raw document
	if err := json.Unmarshal(data, &raw); err != nil || raw == nil {
		s.logger.Warn().Err(err).Str("path", s.path).Msg("license file unreadable, re-initializing empty store")
		return s.reinitialize()
	}

	doc := make(document, len(raw))
	for key, fr := range raw {
		normalized := models.NormalizeKey(key)
		if _, dup := doc[normalized]; dup {
			s.logger.Warn().Str("key", normalized).Msg("duplicate license key in file, keeping first")
			continue
		}
		if _, err := decodeRecord(normalized, fr); err != nil {
			s.logger.Warn().Err(err).Str("key", normalized).Msg("inconsistent license record will not be served")
		}
		doc[normalized] = fr
	}
	return doc, nil
}

func (s *Store) reinitialize() (document, error) {
	empty := document{}
	if err := s.writeFile(empty); err != nil {
		return nil, err
	}
	return empty, nil
}

// writeFile replaces the license file with doc via a temp file and rename.
func (s *Store) writeFile(doc document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode licenses: %v", ErrPersistence, err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := s.createTemp(dir, ".licenses-*.json")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %v", ErrPersistence, err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: write temp file: %v", ErrPersistence, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: sync temp file: %v", ErrPersistence, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close temp file: %v", ErrPersistence, err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("%w: replace %s: %v", ErrPersistence, s.path, err)
	}

	success = true
	return nil
}

func (s *Store) recordReload(result string) {
	if s.metrics != nil {
		s.metrics.RecordStoreReload(result)
	}
}
