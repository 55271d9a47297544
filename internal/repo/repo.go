package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"tareas/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// GetCredentials returns the stored credential row.
func (r Repo) GetCredentials(ctx context.Context) (domain.Credentials, error) {
	var c domain.Credentials
	var refresh sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT access_token,refresh_token,base_url,saved_at FROM credentials WHERE id=1`).
		Scan(&c.Access, &refresh, &c.BaseURL, &c.SavedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return c, ErrNotFound
	}
	if refresh.Valid {
		c.Refresh = refresh.String
	}
	return c, err
}

// PutCredentials replaces the stored credential row.
func (r Repo) PutCredentials(ctx context.Context, c domain.Credentials) error {
	if c.Access == "" {
		return errors.New("access token required")
	}
	_, err := r.DB.ExecContext(ctx, `
INSERT INTO credentials(id,access_token,refresh_token,base_url,saved_at) VALUES (1,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET access_token=excluded.access_token, refresh_token=excluded.refresh_token,
  base_url=excluded.base_url, saved_at=excluded.saved_at`,
		c.Access, nullable(c.Refresh), c.BaseURL, c.SavedAt)
	return err
}

// ClearCredentials removes stored credentials. It is not an error if none exist.
func (r Repo) ClearCredentials(ctx context.Context) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM credentials`)
	return err
}

// EventFilters narrow LatestEvents.
type EventFilters struct {
	Type       string
	EntityKind string
	EntityID   string
	Before     int64
}

func (r Repo) LatestEvents(ctx context.Context, limit int, f EventFilters) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.EntityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, f.EntityKind)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	if f.Before > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Before)
	}
	if limit <= 0 {
		limit = 20
	}
	query := fmt.Sprintf(`SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),actor,payload_json FROM events WHERE %s ORDER BY id DESC LIMIT ?`,
		strings.Join(clauses, " AND "))
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.Actor, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
