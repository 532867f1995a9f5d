package audit

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"
)

// GenesisHash is the prev_hash for the first record in a tenant's chain.
const GenesisHash = "sha256:0000000000000000000000000000000000000000000000000000000000000000"

// validTenantID rejects tenant ids that could escape the ledger directory.
var validTenantID = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// Ledger is an append-only store of per-tenant hash-chained JSONL files.
// Appends for one tenant are serialized (the chain depends on strict
// ordering); appends for different tenants proceed in parallel.
type Ledger struct {
	dir string

	mu     sync.Mutex
	chains map[string]*chain
}

// chain is the open append state for a single tenant.
type chain struct {
	mu       sync.Mutex
	file     *os.File
	prevHash string
	lastSeq  int64
}

// Open creates a Ledger rooted at dir, creating the directory if needed.
func Open(dir string) (*Ledger, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("audit: create directory: %w", err)
	}
	return &Ledger{dir: dir, chains: make(map[string]*chain)}, nil
}

func (l *Ledger) path(tenantID string) string {
	return filepath.Join(l.dir, tenantID+".jsonl")
}

// tenantChain returns the open chain for tenantID, recovering the chain
// tail from disk on first use.
func (l *Ledger) tenantChain(tenantID string) (*chain, error) {
	if !validTenantID.MatchString(tenantID) {
		return nil, fmt.Errorf("audit: invalid tenant id %q", tenantID)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if c, ok := l.chains[tenantID]; ok {
		return c, nil
	}

	path := l.path(tenantID)
	prevHash := GenesisHash
	var lastSeq int64

	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		lastLine, err := readLastLine(path)
		if err != nil {
			return nil, err
		}
		if len(lastLine) > 0 {
			var rec Record
			if err := json.Unmarshal(lastLine, &rec); err != nil {
				return nil, fmt.Errorf("audit: parse chain tail for %q: %w", tenantID, err)
			}
			prevHash = HashLine(lastLine)
			lastSeq = rec.Seq
		}
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("audit: open chain for %q: %w", tenantID, err)
	}

	c := &chain{file: file, prevHash: prevHash, lastSeq: lastSeq}
	l.chains[tenantID] = c
	return c, nil
}

// Append writes a record to the tenant's chain and returns its sequence
// number. The ledger owns Seq, Timestamp (when empty), and PrevHash.
func (l *Ledger) Append(tenantID string, rec Record) (int64, error) {
	c, err := l.tenantChain(tenantID)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	rec.TenantID = tenantID
	rec.Seq = c.lastSeq + 1
	rec.PrevHash = c.prevHash
	if rec.Timestamp == "" {
		rec.Timestamp = time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return 0, fmt.Errorf("audit: marshal record: %w", err)
	}

	if _, err := c.file.Write(append(line, '\n')); err != nil {
		return 0, fmt.Errorf("audit: write record: %w", err)
	}
	if err := c.file.Sync(); err != nil {
		return 0, fmt.Errorf("audit: sync: %w", err)
	}

	c.prevHash = HashLine(line)
	c.lastSeq = rec.Seq
	return rec.Seq, nil
}

// Query returns the tenant's records with fromSeq <= Seq <= toSeq.
// toSeq <= 0 means "to the end of the chain". A tenant with no chain
// yields an empty result, not an error.
func (l *Ledger) Query(tenantID string, fromSeq, toSeq int64) ([]Record, error) {
	if !validTenantID.MatchString(tenantID) {
		return nil, fmt.Errorf("audit: invalid tenant id %q", tenantID)
	}

	f, err := os.Open(l.path(tenantID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("audit: open chain for %q: %w", tenantID, err)
	}
	defer f.Close()

	var out []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("audit: parse record: %w", err)
		}
		if rec.Seq < fromSeq {
			continue
		}
		if toSeq > 0 && rec.Seq > toSeq {
			break
		}
		out = append(out, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("audit: scan chain: %w", err)
	}
	return out, nil
}

// Close flushes and closes all open chain files.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var firstErr error
	for _, c := range l.chains {
		c.mu.Lock()
		if err := c.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		c.mu.Unlock()
	}
	l.chains = make(map[string]*chain)
	return firstErr
}

// HashLine returns "sha256:<hex>" of the given bytes.
func HashLine(line []byte) string {
	h := sha256.Sum256(line)
	return "sha256:" + hex.EncodeToString(h[:])
}

// readLastLine returns the final non-empty line of the file at path.
func readLastLine(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("audit: read chain: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var last []byte
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		last = make([]byte, len(scanner.Bytes()))
		copy(last, scanner.Bytes())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("audit: scan chain: %w", err)
	}
	return last, nil
}
