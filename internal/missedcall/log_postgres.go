package missedcall

import (
	"context"
	"database/sql"

	"voip-session/pkg/utils"
)

// PostgresLog persists missed calls so the history survives process restarts.
//
// Expected schema:
//
//	CREATE TABLE missed_calls (
//	    id      BIGSERIAL PRIMARY KEY,
//	    user_id TEXT        NOT NULL,
//	    at      TIMESTAMPTZ NOT NULL,
//	    number  TEXT        NOT NULL,
//	    reason  TEXT        NOT NULL
//	);
//	CREATE INDEX missed_calls_user_at ON missed_calls (user_id, at DESC);
type PostgresLog struct {
	db *sql.DB

	// maxPerUser caps the retained history; older rows are pruned on insert.
	maxPerUser int
}

func NewPostgresLog(db *sql.DB, maxPerUser int) *PostgresLog {
	if maxPerUser <= 0 {
		maxPerUser = 200
	}
	return &PostgresLog{db: db, maxPerUser: maxPerUser}
}

func (l *PostgresLog) Add(ctx context.Context, userID string, e Entry) error {
	return utils.WithTx(ctx, l.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO missed_calls (user_id, at, number, reason) VALUES ($1, $2, $3, $4)`,
			userID, e.At.UTC(), e.Number, string(e.Reason),
		); err != nil {
			return err
		}
		// Prune inside the same transaction so the cap holds under
		// concurrent inserts.
		_, err := tx.ExecContext(ctx,
			`DELETE FROM missed_calls
			 WHERE user_id = $1
			   AND id NOT IN (
			       SELECT id FROM missed_calls
			       WHERE user_id = $1
			       ORDER BY at DESC, id DESC
			       LIMIT $2
			   )`,
			userID, l.maxPerUser,
		)
		return err
	})
}

func (l *PostgresLog) List(ctx context.Context, userID string) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT at, number, reason FROM missed_calls WHERE user_id = $1 ORDER BY at ASC, id ASC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var reason string
		if err := rows.Scan(&e.At, &e.Number, &reason); err != nil {
			return nil, err
		}
		e.Reason = Reason(reason)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (l *PostgresLog) Clear(ctx context.Context, userID string) error {
	_, err := l.db.ExecContext(ctx, `DELETE FROM missed_calls WHERE user_id = $1`, userID)
	return err
}
