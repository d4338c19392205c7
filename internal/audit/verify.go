package audit

import (
	"context"
	"fmt"

	"github.com/jonathan/content-pipeline/internal/store"
	"github.com/jonathan/content-pipeline/internal/types"
)

const verifyPageSize = 500

// Report is the outcome of a chain verification.
type Report struct {
	Valid       bool   `json:"valid"`
	Entries     int64  `json:"entries"`
	HeadSeq     int64  `json:"head_seq"`
	HeadHash    string `json:"head_hash"`
	FirstBadSeq int64  `json:"first_bad_seq,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// Verify recomputes the chain from genesis and stops at the first entry whose
// sequence, link or hash does not match. The head is read first; the last
// verified entry must be the head, so entries removed from the end of the log
// are reported too. Entries appended after the head was read are not checked.
func Verify(ctx context.Context, s store.AuditStore) (*Report, error) {
	headSeq, headHash, err := s.AuditHead(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read audit head: %w", err)
	}

	report := &Report{Valid: true, HeadHash: GenesisHash}
	prev := GenesisHash
	var lastSeq int64

	for lastSeq < headSeq {
		page, err := s.ListAudit(ctx, types.AuditFilters{AfterSeq: lastSeq, Limit: verifyPageSize})
		if err != nil {
			return nil, fmt.Errorf("failed to read audit log: %w", err)
		}
		past := false
		for i := range page {
			e := &page[i]
			if e.Seq > headSeq {
				past = true
				break
			}
			if reason := check(e, lastSeq, prev); reason != "" {
				report.Valid = false
				report.FirstBadSeq = e.Seq
				report.Reason = reason
				return report, nil
			}
			prev = e.EntryHash
			lastSeq = e.Seq
			report.Entries++
			report.HeadSeq = e.Seq
			report.HeadHash = e.EntryHash
		}
		if past || len(page) < verifyPageSize {
			break
		}
	}

	switch {
	case lastSeq < headSeq:
		report.Valid = false
		report.FirstBadSeq = lastSeq + 1
		report.Reason = fmt.Sprintf("log ends at seq %d but head is at seq %d", lastSeq, headSeq)
	case headSeq > 0 && report.HeadHash != headHash:
		report.Valid = false
		report.FirstBadSeq = headSeq
		report.Reason = "last entry does not match head hash"
	}
	return report, nil
}

// VerifyEntries checks an in-memory sequence the same way Verify checks a store.
func VerifyEntries(entries []types.AuditEntry) *Report {
	report := &Report{Valid: true, HeadHash: GenesisHash}
	prev := GenesisHash
	var lastSeq int64
	for i := range entries {
		e := &entries[i]
		if reason := check(e, lastSeq, prev); reason != "" {
			report.Valid = false
			report.FirstBadSeq = e.Seq
			report.Reason = reason
			return report
		}
		prev = e.EntryHash
		lastSeq = e.Seq
		report.Entries++
		report.HeadSeq = e.Seq
		report.HeadHash = e.EntryHash
	}
	return report
}

func check(e *types.AuditEntry, lastSeq int64, prev string) string {
	if e.Seq != lastSeq+1 {
		return fmt.Sprintf("sequence gap: expected %d, found %d", lastSeq+1, e.Seq)
	}
	if e.PrevHash != prev {
		return "prev_hash does not match preceding entry"
	}
	want, err := ComputeHash(Algorithm(e.HashAlg), e.PrevHash, e)
	if err != nil {
		return err.Error()
	}
	if want != e.EntryHash {
		return "entry_hash mismatch"
	}
	return ""
}
