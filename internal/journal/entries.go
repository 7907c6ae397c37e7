package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Record appends entry. A zero RecordedAt is stamped with the current time.
func (s *Store) Record(ctx context.Context, entry Entry) error {
	ctx = ensureContext(ctx)
	if !entry.Outcome.Valid() {
		return fmt.Errorf("record journal entry: unknown outcome %q", entry.Outcome)
	}
	if strings.TrimSpace(entry.SessionID) == "" {
		return fmt.Errorf("record journal entry: session id required")
	}
	recordedAt := entry.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now()
	}
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO redemption_journal
				(session_id, voucher_id, buyer_id, outcome, error_kind, message, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			entry.SessionID,
			entry.VoucherID,
			entry.BuyerID,
			string(entry.Outcome),
			entry.ErrorKind,
			entry.Message,
			recordedAt.UTC().Format(timeLayout),
		)
		if err != nil {
			return fmt.Errorf("record journal entry: %w", err)
		}
		return nil
	})
}

// List returns entries matching filter, newest first.
func (s *Store) List(ctx context.Context, filter Filter) ([]Entry, error) {
	ctx = ensureContext(ctx)
	var (
		clauses []string
		args    []any
	)
	if filter.SessionID != "" {
		clauses = append(clauses, "session_id = ?")
		args = append(args, filter.SessionID)
	}
	if filter.VoucherID != "" {
		clauses = append(clauses, "voucher_id = ?")
		args = append(args, filter.VoucherID)
	}
	if len(filter.Outcomes) > 0 {
		placeholders := make([]string, len(filter.Outcomes))
		for i, outcome := range filter.Outcomes {
			placeholders[i] = "?"
			args = append(args, string(outcome))
		}
		clauses = append(clauses, "outcome IN ("+strings.Join(placeholders, ", ")+")")
	}
	if !filter.Since.IsZero() {
		clauses = append(clauses, "recorded_at >= ?")
		args = append(args, filter.Since.UTC().Format(timeLayout))
	}

	query := `SELECT id, session_id, voucher_id, buyer_id, outcome, error_kind, message, recorded_at
		FROM redemption_journal`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY recorded_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	var entries []Entry
	err := retryOnBusy(ctx, func() error {
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		entries = entries[:0]
		for rows.Next() {
			entry, err := scanEntry(rows)
			if err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list journal entries: %w", err)
	}
	return entries, nil
}

// Stats counts entries per outcome.
func (s *Store) Stats(ctx context.Context) (map[Outcome]int, error) {
	ctx = ensureContext(ctx)
	stats := make(map[Outcome]int)
	err := retryOnBusy(ctx, func() error {
		rows, err := s.db.QueryContext(ctx, "SELECT outcome, COUNT(1) FROM redemption_journal GROUP BY outcome")
		if err != nil {
			return err
		}
		defer rows.Close()
		clear(stats)
		for rows.Next() {
			var (
				outcome string
				count   int
			)
			if err := rows.Scan(&outcome, &count); err != nil {
				return err
			}
			stats[Outcome(outcome)] = count
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("journal stats: %w", err)
	}
	return stats, nil
}

// PruneBefore deletes entries recorded before cutoff and returns how many
// were removed.
func (s *Store) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx = ensureContext(ctx)
	var removed int64
	err := retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx, "DELETE FROM redemption_journal WHERE recorded_at < ?", cutoff.UTC().Format(timeLayout))
		if err != nil {
			return err
		}
		removed, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("prune journal: %w", err)
	}
	return removed, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var (
		entry      Entry
		outcome    string
		recordedAt sql.NullString
	)
	if err := row.Scan(
		&entry.ID,
		&entry.SessionID,
		&entry.VoucherID,
		&entry.BuyerID,
		&outcome,
		&entry.ErrorKind,
		&entry.Message,
		&recordedAt,
	); err != nil {
		return Entry{}, err
	}
	entry.Outcome = Outcome(outcome)
	if recordedAt.Valid {
		if ts, err := time.Parse(timeLayout, recordedAt.String); err == nil {
			entry.RecordedAt = ts
		}
	}
	return entry, nil
}
