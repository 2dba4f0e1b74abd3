// Package reconciliation compares the donations Square reports against the
// internal donation ledger. Both ledgers are CSV objects in storage; a run
// rolls each up by designation, computes the variance of the totals, and
// stores the report next to the ledgers so the latest one can be served
// without recomputing.
package reconciliation

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sparkcreatives/spark-portal/internal/storage"
)

// Ledger object names under the reconciliation prefix.
const (
	SquareLedger   = "donations.csv"
	InternalLedger = "internal_donations.csv"
	ReportObject   = "reconciliation_report.json"
)

// DefaultDesignation is applied to rows with a blank designation.
const DefaultDesignation = "General Fund"

// maxLedgerSize caps how much of a ledger is read.
const maxLedgerSize = 32 << 20

var (
	// ErrNoReport is returned by Latest before the first run.
	ErrNoReport = errors.New("no reconciliation report")

	// ErrInvalidLedger wraps rows whose amount is not a decimal number.
	ErrInvalidLedger = errors.New("invalid ledger")
)

// Rollup is the per-ledger summary. Amounts are decimal strings with two
// places.
type Rollup struct {
	Total         string            `json:"total"`
	ByDesignation map[string]string `json:"by_designation"`
}

// Report is the result of one reconciliation run.
type Report struct {
	Square        Rollup    `json:"square"`
	Internal      Rollup    `json:"internal"`
	VarianceTotal string    `json:"variance_total"`
	GeneratedAt   time.Time `json:"generated_at"`
}

// Service runs reconciliations against a storage backend.
type Service struct {
	store  storage.Storage
	prefix string
	now    func() time.Time
}

// NewService creates a service reading and writing under prefix.
func NewService(store storage.Storage, prefix string) *Service {
	return &Service{store: store, prefix: prefix, now: time.Now}
}

// Key returns the storage key of a ledger or report object.
func Key(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

// Run reconciles the two ledgers and stores the report. A ledger that does
// not exist counts as empty.
func (s *Service) Run(ctx context.Context) (*Report, error) {
	square, err := s.rollupLedger(ctx, SquareLedger)
	if err != nil {
		return nil, err
	}
	internal, err := s.rollupLedger(ctx, InternalLedger)
	if err != nil {
		return nil, err
	}

	report := &Report{
		Square:        square.summary(),
		Internal:      internal.summary(),
		VarianceTotal: square.total.Sub(internal.total).StringFixed(2),
		GeneratedAt:   s.now().UTC(),
	}

	body, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}
	result, err := s.store.Upload(ctx, Key(s.prefix, ReportObject), bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return nil, fmt.Errorf("store report: %w", err)
	}
	slog.InfoContext(ctx, "reconciliation report stored",
		"path", result.Path, "checksum", result.Checksum,
		"square_total", report.Square.Total, "internal_total", report.Internal.Total,
		"variance", report.VarianceTotal)
	return report, nil
}

// Latest returns the most recently stored report, or ErrNoReport.
func (s *Service) Latest(ctx context.Context) (*Report, error) {
	rc, err := s.store.Download(ctx, Key(s.prefix, ReportObject))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNoReport
	}
	if err != nil {
		return nil, fmt.Errorf("open report: %w", err)
	}
	defer rc.Close()

	var report Report
	if err := json.NewDecoder(rc).Decode(&report); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return &report, nil
}

type rollup struct {
	total         decimal.Decimal
	byDesignation map[string]decimal.Decimal
}

func (r rollup) summary() Rollup {
	out := Rollup{Total: r.total.StringFixed(2), ByDesignation: make(map[string]string, len(r.byDesignation))}
	for des, amt := range r.byDesignation {
		out.ByDesignation[des] = amt.StringFixed(2)
	}
	return out
}

func (s *Service) rollupLedger(ctx context.Context, name string) (rollup, error) {
	r := rollup{byDesignation: map[string]decimal.Decimal{}}

	rc, err := s.store.Download(ctx, Key(s.prefix, name))
	if errors.Is(err, storage.ErrNotFound) {
		return r, nil
	}
	if err != nil {
		return r, fmt.Errorf("open %s: %w", name, err)
	}
	defer rc.Close()

	rows, err := readRows(io.LimitReader(rc, maxLedgerSize))
	if err != nil {
		return r, fmt.Errorf("read %s: %w", name, err)
	}
	for i, row := range rows {
		amt, err := Amount(row["amount"])
		if err != nil {
			return r, fmt.Errorf("%w: %s row %d: %v", ErrInvalidLedger, name, i+2, err)
		}
		des := row["designation"]
		if des == "" {
			des = DefaultDesignation
		}
		r.byDesignation[des] = r.byDesignation[des].Add(amt)
		r.total = r.total.Add(amt)
	}
	return r, nil
}

// Amount parses a ledger amount rounded half away from zero to cents. A
// blank amount is zero.
func Amount(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, err
	}
	return d.Round(2), nil
}

// readRows maps each record to the header row's column names. Short rows
// leave the missing columns blank.
func readRows(r io.Reader) ([]map[string]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	var rows []map[string]string
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, err
		}
		row := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(rec) {
				row[col] = rec[i]
			}
		}
		rows = append(rows, row)
	}
}
