// Watchdial - Playback Session Telemetry and Reporting
// Copyright 2026 Watchdial contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchdial/watchdial

package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/watchdial/watchdial/internal/models"
)

// RunCustomQuery executes a caller-supplied read query and returns column
// names plus row values. Only SELECT/WITH statements are accepted; this is an
// escape hatch over the store's native query capability and carries no
// aggregation semantics of its own. A failed query is reported in the result
// message, not as an error, so one bad query does not surface as a store
// fault.
func (db *DB) RunCustomQuery(ctx context.Context, query string) (*models.CustomQueryResult, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	result := &models.CustomQueryResult{Columns: []string{}, Rows: [][]any{}}

	trimmed := strings.TrimSpace(query)
	upper := strings.ToUpper(trimmed)
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return nil, fmt.Errorf("only read queries are allowed")
	}
	// Single statement only; a trailing semicolon is tolerated.
	if rest := strings.TrimRight(trimmed, "; \t\n"); strings.ContainsRune(rest, ';') {
		return nil, fmt.Errorf("multiple statements are not allowed")
	}

	rows, err := db.conn.QueryContext(ctx, trimmed)
	if err != nil {
		result.Message = err.Error()
		return result, nil
	}
	defer closeWithLog(rows, "custom query rows")

	columns, err := rows.Columns()
	if err != nil {
		result.Message = err.Error()
		return result, nil
	}
	result.Columns = columns

	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			result.Message = err.Error()
			return result, nil
		}
		for i, v := range values {
			// Normalize byte slices so JSON output is readable.
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		result.Message = err.Error()
	}
	return result, nil
}
