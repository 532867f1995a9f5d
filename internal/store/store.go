package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ppiankov/trustgate/internal/model"
)

// Sentinel errors callers branch on.
var (
	ErrNotFound        = errors.New("store: tenant not found")
	ErrVersionConflict = errors.New("store: version conflict")
)

// validTenantID rejects tenant ids that could escape the data directory.
var validTenantID = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// Store is the tenant policy store: versioned trust state, rules, limits,
// and metric config, all keyed by tenant id. The in-process maps are the
// read cache; the file system is the durable copy. Trust state writes are
// optimistic-concurrency-controlled.
type Store struct {
	dataDir   string // trust state snapshots; "" disables persistence
	policyDir string // tenant policy YAML documents; "" disables persistence
	defaults  WeightedMetricConfig

	mu       sync.RWMutex
	states   map[string]*model.TenantTrustState
	policies map[string]*policyEntry
}

type policyEntry struct {
	policy *TenantPolicy
	hash   string
	raw    []byte
}

// emptyPolicyHash is recorded for tenants running on global defaults.
func emptyPolicyHash() string {
	h := sha256.Sum256(nil)
	return "sha256:" + hex.EncodeToString(h[:])
}

// NewMemory creates a Store with no file persistence. For tests and
// single-shot CLI use.
func NewMemory() *Store {
	return &Store{
		defaults: DefaultMetricConfig(),
		states:   make(map[string]*model.TenantTrustState),
		policies: make(map[string]*policyEntry),
	}
}

// Open creates a Store backed by dataDir (trust state snapshots) and
// policyDir (tenant policy documents), loading everything found on disk.
// A tenant whose policy document fails validation is skipped with a log
// entry; it never blocks the rest of the fleet.
func Open(dataDir, policyDir string) (*Store, error) {
	s := NewMemory()
	s.dataDir = dataDir
	s.policyDir = policyDir

	if dataDir != "" {
		if err := os.MkdirAll(dataDir, 0700); err != nil {
			return nil, fmt.Errorf("store: create data directory: %w", err)
		}
		if err := s.loadStates(); err != nil {
			return nil, err
		}
	}
	if policyDir != "" {
		if err := os.MkdirAll(policyDir, 0700); err != nil {
			return nil, fmt.Errorf("store: create policy directory: %w", err)
		}
		s.loadPolicies()
	}
	return s, nil
}

func (s *Store) loadStates() error {
	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		return fmt.Errorf("store: read data directory: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".state.json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dataDir, e.Name()))
		if err != nil {
			return fmt.Errorf("store: read trust state %s: %w", e.Name(), err)
		}
		var st model.TenantTrustState
		if err := json.Unmarshal(data, &st); err != nil {
			return fmt.Errorf("store: parse trust state %s: %w", e.Name(), err)
		}
		s.states[st.TenantID] = &st
	}
	return nil
}

func (s *Store) loadPolicies() {
	entries, err := os.ReadDir(s.policyDir)
	if err != nil {
		slog.Warn("store: read policy directory", "dir", s.policyDir, "err", err)
		return
	}
	for _, e := range entries {
		if e.IsDir() || !isPolicyFile(e.Name()) {
			continue
		}
		path := filepath.Join(s.policyDir, e.Name())
		if err := s.reloadPolicyFile(path); err != nil {
			slog.Warn("store: skipping invalid tenant policy", "file", e.Name(), "err", err)
		}
	}
}

func isPolicyFile(name string) bool {
	return strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")
}

// reloadPolicyFile loads one tenant policy document from disk, replacing
// the cached entry for exactly that tenant.
func (s *Store) reloadPolicyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("store: read tenant policy: %w", err)
	}
	p, hash, err := ParsePolicy(data)
	if err != nil {
		return err
	}
	if p.TenantID == "" {
		base := filepath.Base(path)
		p.TenantID = strings.TrimSuffix(strings.TrimSuffix(base, ".yml"), ".yaml")
	}
	if !validTenantID.MatchString(p.TenantID) {
		return fmt.Errorf("store: invalid tenant id %q", p.TenantID)
	}

	s.mu.Lock()
	s.policies[p.TenantID] = &policyEntry{policy: p, hash: hash, raw: data}
	s.mu.Unlock()
	return nil
}

// GetTrustState returns a copy of the tenant's trust state.
func (s *Store) GetTrustState(tenantID string) (model.TenantTrustState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.states[tenantID]
	if !ok {
		return model.TenantTrustState{}, ErrNotFound
	}
	out := *st
	out.History = append([]model.TrustScoreSnapshot(nil), st.History...)
	return out, nil
}

// PutTrustState writes a new trust state iff the stored version still
// equals expectedVersion (0 for a tenant with no state yet). The winner
// gets version expectedVersion+1; the loser gets ErrVersionConflict and
// must re-read and retry.
func (s *Store) PutTrustState(tenantID string, state model.TenantTrustState, expectedVersion int64) (model.TenantTrustState, error) {
	if !validTenantID.MatchString(tenantID) {
		return model.TenantTrustState{}, fmt.Errorf("store: invalid tenant id %q", tenantID)
	}
	if state.Level < model.MinTrustLevel || state.Level > model.MaxTrustLevel {
		return model.TenantTrustState{}, fmt.Errorf("store: trust level %d out of range [%d,%d]",
			state.Level, model.MinTrustLevel, model.MaxTrustLevel)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var current int64
	if st, ok := s.states[tenantID]; ok {
		current = st.Version
	}
	if current != expectedVersion {
		return model.TenantTrustState{}, fmt.Errorf("%w: tenant %s expected version %d, have %d",
			ErrVersionConflict, tenantID, expectedVersion, current)
	}

	state.TenantID = tenantID
	state.Version = expectedVersion + 1
	if state.LevelEnteredAt.IsZero() {
		state.LevelEnteredAt = time.Now().UTC()
	}
	s.states[tenantID] = &state

	if s.dataDir != "" {
		if err := s.persistState(&state); err != nil {
			return model.TenantTrustState{}, err
		}
	}
	return state, nil
}

// persistState writes the snapshot via temp file + rename so a crash
// never leaves a torn state file. Caller holds s.mu.
func (s *Store) persistState(st *model.TenantTrustState) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal trust state: %w", err)
	}
	path := filepath.Join(s.dataDir, st.TenantID+".state.json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("store: write trust state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("store: commit trust state: %w", err)
	}
	return nil
}

// GetRules returns the tenant's action rules, empty when none configured.
func (s *Store) GetRules(tenantID string) []ActionRule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.policies[tenantID]; ok {
		return append([]ActionRule(nil), e.policy.Rules...)
	}
	return nil
}

// GetLimits returns the tenant's action limits, empty when none configured.
func (s *Store) GetLimits(tenantID string) []ActionLimit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.policies[tenantID]; ok {
		return append([]ActionLimit(nil), e.policy.Limits...)
	}
	return nil
}

// GetMetricConfig returns the tenant's weighted metric config, falling
// back to the global default when the tenant has none.
func (s *Store) GetMetricConfig(tenantID string) WeightedMetricConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.policies[tenantID]; ok && len(e.policy.Metrics) > 0 {
		out := make(WeightedMetricConfig, len(e.policy.Metrics))
		for k, v := range e.policy.Metrics {
			out[k] = v
		}
		return out
	}
	return s.defaults
}

// PolicyHash returns the content hash of the tenant's active policy
// document, or the empty-input hash when the tenant runs on defaults.
func (s *Store) PolicyHash(tenantID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.policies[tenantID]; ok {
		return e.hash
	}
	return emptyPolicyHash()
}

// GetPolicyDoc returns the raw YAML document for a tenant.
func (s *Store) GetPolicyDoc(tenantID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.policies[tenantID]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), e.raw...), nil
}

// PutPolicy validates and installs a tenant policy document atomically:
// an invalid document changes nothing. The tenant id in the document must
// match tenantID when present.
func (s *Store) PutPolicy(tenantID string, data []byte) (*TenantPolicy, error) {
	if !validTenantID.MatchString(tenantID) {
		return nil, fmt.Errorf("store: invalid tenant id %q", tenantID)
	}
	p, hash, err := ParsePolicy(data)
	if err != nil {
		return nil, err
	}
	if p.TenantID == "" {
		p.TenantID = tenantID
	}
	if p.TenantID != tenantID {
		return nil, fmt.Errorf("store: document tenant_id %q does not match %q", p.TenantID, tenantID)
	}

	if s.policyDir != "" {
		path := filepath.Join(s.policyDir, tenantID+".yaml")
		tmp := path + ".tmp"
		if err := os.WriteFile(tmp, data, 0600); err != nil {
			return nil, fmt.Errorf("store: write tenant policy: %w", err)
		}
		if err := os.Rename(tmp, path); err != nil {
			return nil, fmt.Errorf("store: commit tenant policy: %w", err)
		}
	}

	s.mu.Lock()
	s.policies[tenantID] = &policyEntry{policy: p, hash: hash, raw: data}
	s.mu.Unlock()
	return p, nil
}

// HasTenant reports whether any configuration or state exists for the
// tenant. Unknown tenants are still served by the gate at level 0.
func (s *Store) HasTenant(tenantID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, hasState := s.states[tenantID]
	_, hasPolicy := s.policies[tenantID]
	return hasState || hasPolicy
}

// Tenants returns the sorted union of tenants with state or policy.
func (s *Store) Tenants() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool, len(s.states)+len(s.policies))
	for id := range s.states {
		seen[id] = true
	}
	for id := range s.policies {
		seen[id] = true
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
