package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"questline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const sessionColumns = `id,campaign_id,player_id,status,state_json,created_at,updated_at`

func scanSession(row interface{ Scan(...any) error }) (domain.Session, error) {
	var s domain.Session
	var state string
	err := row.Scan(&s.ID, &s.CampaignID, &s.PlayerID, &s.Status, &state, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if err := json.Unmarshal([]byte(state), &s.State); err != nil {
		return s, domain.WrapError(domain.CodeDeserialization, err, "session %s state", s.ID)
	}
	s.State.Normalize()
	return s, nil
}

func (r Repo) InsertSession(ctx context.Context, tx *sql.Tx, s domain.Session) error {
	state, err := json.Marshal(s.State)
	if err != nil {
		return fmt.Errorf("marshal session state: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO sessions(`+sessionColumns+`) VALUES (?,?,?,?,?,?,?)`,
		s.ID, s.CampaignID, s.PlayerID, s.Status, string(state), s.CreatedAt, s.UpdatedAt)
	return err
}

func (r Repo) UpdateSession(ctx context.Context, tx *sql.Tx, s domain.Session) error {
	state, err := json.Marshal(s.State)
	if err != nil {
		return fmt.Errorf("marshal session state: %w", err)
	}
	res, err := tx.ExecContext(ctx, `UPDATE sessions SET status=?, state_json=?, updated_at=? WHERE id=?`,
		s.Status, string(state), s.UpdatedAt, s.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetSession(ctx context.Context, id string) (domain.Session, error) {
	return getSession(ctx, r.DB, id)
}

func (r Repo) GetSessionTx(ctx context.Context, tx *sql.Tx, id string) (domain.Session, error) {
	return getSession(ctx, tx, id)
}

func getSession(ctx context.Context, q queryer, id string) (domain.Session, error) {
	return scanSession(q.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id=?`, id))
}

type SessionFilters struct {
	PlayerID   string
	CampaignID string
	Status     domain.SessionStatus
	Limit      int
}

// ListSessions returns sessions most recently updated first.
func (r Repo) ListSessions(ctx context.Context, f SessionFilters) ([]domain.Session, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.PlayerID != "" {
		clauses = append(clauses, "player_id=?")
		args = append(args, f.PlayerID)
	}
	if f.CampaignID != "" {
		clauses = append(clauses, "campaign_id=?")
		args = append(args, f.CampaignID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`SELECT %s FROM sessions WHERE %s ORDER BY updated_at DESC, id DESC LIMIT ?`, sessionColumns, strings.Join(clauses, " AND "))
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// CountSessionsByStatus tallies sessions per status for `ql status`.
func (r Repo) CountSessionsByStatus(ctx context.Context) (map[domain.SessionStatus]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM sessions GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[domain.SessionStatus]int{}
	for rows.Next() {
		var status domain.SessionStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		res[status] = n
	}
	return res, rows.Err()
}
