package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
)

// VerifyResult holds the outcome of a hash chain verification.
type VerifyResult struct {
	Valid     bool   `json:"valid"`
	Records   int64  `json:"records"`
	BrokenSeq int64  `json:"broken_seq,omitempty"`
	Error     string `json:"error,omitempty"`
}

// VerifyChain reads a tenant's chain and validates every link.
// Returns Valid=true for an intact chain (an empty or absent chain is
// intact), or the sequence number of the first broken record.
func (l *Ledger) VerifyChain(tenantID string) VerifyResult {
	if !validTenantID.MatchString(tenantID) {
		return VerifyResult{Error: fmt.Sprintf("invalid tenant id %q", tenantID)}
	}

	f, err := os.Open(l.path(tenantID))
	if err != nil {
		if os.IsNotExist(err) {
			return VerifyResult{Valid: true}
		}
		return VerifyResult{Error: fmt.Sprintf("open: %v", err)}
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var (
		count         int64
		prevLineBytes []byte
	)

	for scanner.Scan() {
		count++
		raw := scanner.Bytes()

		// Copy: the scanner reuses its buffer.
		line := make([]byte, len(raw))
		copy(line, raw)

		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return VerifyResult{
				BrokenSeq: count,
				Error:     fmt.Sprintf("parse error: %v", err),
			}
		}

		if rec.Seq != count {
			return VerifyResult{
				BrokenSeq: count,
				Error:     fmt.Sprintf("sequence gap: record %d carries seq %d", count, rec.Seq),
			}
		}

		expected := GenesisHash
		if count > 1 {
			expected = HashLine(prevLineBytes)
		}
		if rec.PrevHash != expected {
			return VerifyResult{
				BrokenSeq: rec.Seq,
				Error:     fmt.Sprintf("hash mismatch at seq %d: expected %s, got %s", rec.Seq, expected, rec.PrevHash),
			}
		}

		prevLineBytes = line
	}

	if err := scanner.Err(); err != nil {
		return VerifyResult{Error: fmt.Sprintf("scan: %v", err)}
	}

	return VerifyResult{Valid: true, Records: count}
}
