// Package report renders scan outcomes as sanitized records: address,
// status, the fingerprint and timestamp that reproduced it, and a coarse
// confidence grade. Records are the only artifact that leaves a scan, so
// they carry no key material, PRNG state or pool bytes by construction.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/garnizeh/randstorm-scanner/internal/fingerprint"
	"github.com/garnizeh/randstorm-scanner/internal/scan"
)

// Status classifies one reported address.
type Status string

const (
	// StatusVulnerable marks an address reproduced from a weak-PRNG seed.
	StatusVulnerable Status = "vulnerable"
	// StatusNotFound marks a target address the scan did not reproduce.
	StatusNotFound Status = "not_found"
	// StatusError marks an address the scan could not evaluate.
	StatusError Status = "error"
)

// Confidence grades how plausible the matched fingerprint is, relative to
// the most plausible fingerprint in the collection.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Bucket thresholds on the weight ratio (fingerprint weight / max weight).
const (
	highRatio   = 0.66
	mediumRatio = 0.33
)

// Record is one sanitized finding.
type Record struct {
	Address       string     `json:"address"`
	Status        Status     `json:"status"`
	FingerprintID int        `json:"fingerprint_id"`
	TimestampMS   uint64     `json:"timestamp_ms"`
	Confidence    Confidence `json:"confidence"`
}

// Reporter grades matches against the fingerprint collection that produced
// them.
type Reporter struct {
	weights   map[int]float64
	maxWeight float64
}

// NewReporter builds a reporter over a validated fingerprint collection.
func NewReporter(fps []fingerprint.Fingerprint) *Reporter {
	r := &Reporter{weights: make(map[int]float64, len(fps))}
	for _, fp := range fps {
		r.weights[fp.ID] = fp.Weight
		if fp.Weight > r.maxWeight {
			r.maxWeight = fp.Weight
		}
	}
	return r
}

// Grade returns the confidence bucket for a fingerprint. Unknown
// fingerprints grade low.
func (r *Reporter) Grade(fingerprintID int) Confidence {
	w, ok := r.weights[fingerprintID]
	if !ok || r.maxWeight == 0 {
		return ConfidenceLow
	}
	switch ratio := w / r.maxWeight; {
	case ratio >= highRatio:
		return ConfidenceHigh
	case ratio >= mediumRatio:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// FromMatch converts an engine match into a vulnerable record.
func (r *Reporter) FromMatch(m scan.Match) Record {
	return Record{
		Address:       m.Address,
		Status:        StatusVulnerable,
		FingerprintID: m.FingerprintID,
		TimestampMS:   m.TimestampMS,
		Confidence:    r.Grade(m.FingerprintID),
	}
}

// Build produces the full record set for a scan: one vulnerable record per
// match plus a not_found record for every target address the scan never
// reproduced. Records are ordered vulnerable-first, then by address.
func (r *Reporter) Build(matches []scan.Match, targetAddresses []string) []Record {
	records := make([]Record, 0, len(targetAddresses))
	hit := make(map[string]bool, len(matches))
	for _, m := range matches {
		hit[m.Address] = true
		records = append(records, r.FromMatch(m))
	}
	for _, addr := range targetAddresses {
		if !hit[addr] {
			records = append(records, Record{Address: addr, Status: StatusNotFound, Confidence: ConfidenceLow})
		}
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].Status != records[j].Status {
			return records[i].Status == StatusVulnerable
		}
		return records[i].Address < records[j].Address
	})
	return records
}

// WriteCSV renders records in the stable export layout.
func WriteCSV(w io.Writer, records []Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"address", "status", "fingerprint_id", "timestamp_ms", "confidence"}); err != nil {
		return fmt.Errorf("report: write header: %w", err)
	}
	for _, rec := range records {
		row := []string{
			rec.Address,
			string(rec.Status),
			strconv.Itoa(rec.FingerprintID),
			strconv.FormatUint(rec.TimestampMS, 10),
			string(rec.Confidence),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("report: write record: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("report: flush: %w", err)
	}
	return nil
}
