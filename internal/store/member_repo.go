package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/WolfwithSword/TwitchChatDND/internal/domain"
)

// MemberRepo implements domain.MemberStore on sqlite.
type MemberRepo struct {
	db *sql.DB
}

var _ domain.MemberStore = (*MemberRepo)(nil)

func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStoreUnavailable, err)
}

// Upsert creates the member on first interaction or refreshes its avatar.
func (r *MemberRepo) Upsert(ctx context.Context, name, pfpURL string) (*domain.Member, error) {
	name = domain.NormalizeName(name)

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO members (name, pfp_url) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET pfp_url = excluded.pfp_url
		WHERE members.pfp_url != excluded.pfp_url`,
		name, pfpURL)
	if err != nil {
		return nil, storeErr("upsert member", err)
	}

	return r.Fetch(ctx, name)
}

// Fetch returns domain.ErrMemberNotFound when no member has the name.
func (r *MemberRepo) Fetch(ctx context.Context, name string) (*domain.Member, error) {
	name = domain.NormalizeName(name)

	row := r.db.QueryRowContext(ctx, `
		SELECT name, pfp_url, num_sessions, preferred_tts, last_session, data
		FROM members WHERE name = ?`, name)

	return scanMember(row)
}

func scanMember(row *sql.Row) (*domain.Member, error) {
	var (
		m           domain.Member
		lastSession int64
		rawData     string
	)
	err := row.Scan(&m.Name, &m.PFPURL, &m.NumSessions, &m.PreferredVoiceID, &lastSession, &rawData)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrMemberNotFound
	}
	if err != nil {
		return nil, storeErr("fetch member", err)
	}

	if lastSession > 0 {
		m.LastSession = time.Unix(lastSession, 0)
	}
	if rawData != "" {
		_ = json.Unmarshal([]byte(rawData), &m.Data)
	}
	return &m, nil
}

// UpdatePreferredVoice persists the voice association for a member.
func (r *MemberRepo) UpdatePreferredVoice(ctx context.Context, name, voiceID string) error {
	name = domain.NormalizeName(name)

	res, err := r.db.ExecContext(ctx,
		`UPDATE members SET preferred_tts = ? WHERE name = ?`, voiceID, name)
	if err != nil {
		return storeErr("update preferred voice", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrMemberNotFound
	}
	return nil
}

// CompleteSession increments the session counter and stamps last_session.
func (r *MemberRepo) CompleteSession(ctx context.Context, name string, at time.Time) error {
	name = domain.NormalizeName(name)

	res, err := r.db.ExecContext(ctx, `
		UPDATE members SET num_sessions = num_sessions + 1, last_session = ?
		WHERE name = ?`, at.Unix(), name)
	if err != nil {
		return storeErr("complete session", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrMemberNotFound
	}
	return nil
}

// List returns one page of members ordered by name.
func (r *MemberRepo) List(ctx context.Context, nameFilter string, page, perPage int) ([]*domain.Member, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}

	query := `
		SELECT name, pfp_url, num_sessions, preferred_tts, last_session, data
		FROM members`
	args := []any{}
	if nameFilter != "" {
		query += ` WHERE name LIKE ?`
		args = append(args, "%"+domain.NormalizeName(nameFilter)+"%")
	}
	query += ` ORDER BY name ASC LIMIT ? OFFSET ?`
	args = append(args, perPage, (page-1)*perPage)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("list members", err)
	}
	defer rows.Close()

	var members []*domain.Member
	for rows.Next() {
		var (
			m           domain.Member
			lastSession int64
			rawData     string
		)
		if err := rows.Scan(&m.Name, &m.PFPURL, &m.NumSessions, &m.PreferredVoiceID, &lastSession, &rawData); err != nil {
			return nil, storeErr("list members", err)
		}
		if lastSession > 0 {
			m.LastSession = time.Unix(lastSession, 0)
		}
		if rawData != "" {
			_ = json.Unmarshal([]byte(rawData), &m.Data)
		}
		members = append(members, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list members", err)
	}
	return members, nil
}

// Delete removes a member. Administrative action only.
func (r *MemberRepo) Delete(ctx context.Context, name string) error {
	name = domain.NormalizeName(name)
	if _, err := r.db.ExecContext(ctx, `DELETE FROM members WHERE name = ?`, name); err != nil {
		return storeErr("delete member", err)
	}
	return nil
}
