package backfill

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/janvault/janvault/internal/citizen"
	"github.com/janvault/janvault/internal/ledger"
)

// Ledger imports a pipe-delimited append-only ledger log:
//
//	timestamp|fingerprint|scheme|amount|previous_hash|current_hash
//
// Entries already present by current hash are skipped, so re-importing the
// same file is a no-op. Malformed lines are skipped; unparsable amounts are
// imported as zero to keep the stored hash material intact.
func Ledger(ctx context.Context, store ledger.Store, path string, logger *zap.Logger) (int, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open ledger file: %w", err)
	}
	defer f.Close()

	imported := 0
	lineNum := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		parts := strings.Split(line, "|")
		if len(parts) != 6 {
			logger.Warn("skipping malformed ledger line", zap.Int("line", lineNum))
			continue
		}

		currentHash := parts[5]
		exists, err := store.HasEntryHash(ctx, currentHash)
		if err != nil {
			return imported, err
		}
		if exists {
			continue
		}

		amount, err := decimal.NewFromString(parts[3])
		if err != nil {
			logger.Warn("unparsable amount in ledger line, importing as zero",
				zap.Int("line", lineNum), zap.String("amount", parts[3]))
			amount = decimal.Zero
		}

		entry := &ledger.Entry{
			Timestamp:    parts[0],
			Fingerprint:  parts[1],
			SchemeID:     parts[2],
			Amount:       amount,
			PreviousHash: parts[4],
			CurrentHash:  currentHash,
		}
		if err := store.AppendEntry(ctx, entry); err != nil {
			return imported, fmt.Errorf("failed to import ledger line %d: %w", lineNum, err)
		}
		imported++
	}
	if err := scanner.Err(); err != nil {
		return imported, fmt.Errorf("failed to read ledger file: %w", err)
	}

	return imported, nil
}

var requiredColumns = []string{
	"Citizen_ID", "Name", "Account_Status", "Aadhaar_Linked",
	"Scheme_Eligibility", "Scheme_Amount", "Claim_Count", "Last_Claim_Date",
}

// Citizens imports a registry CSV through the validated administrative write
// path. Rows failing validation are skipped with a log line; upserting by
// citizen ID makes re-imports idempotent.
func Citizens(ctx context.Context, registry *citizen.Registry, path string, logger *zap.Logger) (int, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open registry file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	header, err := reader.Read()
	if err != nil {
		return 0, fmt.Errorf("failed to read registry header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, col := range header {
		index[strings.TrimSpace(col)] = i
	}
	for _, col := range requiredColumns {
		if _, ok := index[col]; !ok {
			return 0, fmt.Errorf("registry file missing column: %s", col)
		}
	}

	imported := 0
	rowNum := 1
	for {
		row, err := reader.Read()
		if err != nil {
			break
		}
		rowNum++

		record, err := rowToRecord(row, index)
		if err != nil {
			logger.Warn("skipping malformed registry row", zap.Int("row", rowNum), zap.Error(err))
			continue
		}

		if err := registry.Upsert(ctx, record); err != nil {
			if citizen.IsValidationError(err) {
				logger.Warn("skipping invalid registry row", zap.Int("row", rowNum), zap.Error(err))
				continue
			}
			return imported, fmt.Errorf("failed to upsert registry row %d: %w", rowNum, err)
		}
		imported++
	}

	return imported, nil
}

func rowToRecord(row []string, index map[string]int) (*citizen.Record, error) {
	field := func(name string) string {
		i := index[name]
		if i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	amount, err := decimal.NewFromString(field("Scheme_Amount"))
	if err != nil {
		return nil, fmt.Errorf("bad scheme amount: %w", err)
	}

	claimCount := 0
	if raw := field("Claim_Count"); raw != "" {
		claimCount, err = strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("bad claim count: %w", err)
		}
	}

	return &citizen.Record{
		CitizenID:         field("Citizen_ID"),
		Name:              field("Name"),
		AccountStatus:     field("Account_Status"),
		AadhaarLinked:     parseBoolFlag(field("Aadhaar_Linked")),
		SchemeEligibility: field("Scheme_Eligibility"),
		SchemeAmount:      amount,
		ClaimCount:        claimCount,
		LastClaimDate:     field("Last_Claim_Date"),
	}, nil
}

func parseBoolFlag(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "y", "on":
		return true
	}
	return false
}
