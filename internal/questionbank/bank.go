package questionbank

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

const sourceManifold = "manifold"

// Bank stores imported questions in the catalog database.
type Bank struct {
	db *sql.DB
}

func NewBank(db *sql.DB) *Bank {
	return &Bank{db: db}
}

// Import scans Manifold and upserts every question. It returns how many
// questions were stored.
func (b *Bank) Import(ctx context.Context, scanner *Scanner, limit int) (int, error) {
	questions, err := scanner.ScanBinary(int64(limit))
	if err != nil {
		return 0, fmt.Errorf("scanning questions: %w", err)
	}

	stored := 0
	for _, q := range questions {
		if err := b.upsert(ctx, q); err != nil {
			slog.Warn("failed to store question", "id", q.ID, "error", err)
			continue
		}
		stored++
	}

	slog.Info("question import complete", "scanned", len(questions), "stored", stored)
	return stored, nil
}

func (b *Bank) upsert(ctx context.Context, q Question) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO questions (id, question, url, source, probability)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			question = excluded.question,
			url = excluded.url,
			probability = excluded.probability`,
		q.ID, q.Text, q.URL, sourceManifold, q.Probability)
	return err
}

// Load returns up to limit question texts in a stable order, so the same
// bank always feeds the generator the same list. A limit of 0 loads all.
func (b *Bank) Load(ctx context.Context, limit int) ([]string, error) {
	query := `SELECT question FROM questions ORDER BY id`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("loading questions: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var q string
		if err := rows.Scan(&q); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}
