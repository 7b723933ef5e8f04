package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/WolfwithSword/TwitchChatDND/internal/domain"
)

// VoiceRepo implements domain.VoiceStore on sqlite.
type VoiceRepo struct {
	db *sql.DB
}

var _ domain.VoiceStore = (*VoiceRepo)(nil)

// Upsert inserts the voice if its (uid, source) pair is new.
func (r *VoiceRepo) Upsert(ctx context.Context, v domain.Voice) error {
	if !v.Source.Valid() {
		return domain.ErrVoiceNotFound
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO voices (uid, name, source) VALUES (?, ?, ?)
		ON CONFLICT(uid, source) DO UPDATE SET name = excluded.name`,
		v.UID, v.Name, string(v.Source))
	if err != nil {
		return storeErr("upsert voice", err)
	}
	return nil
}

// FetchByUID returns domain.ErrVoiceNotFound when no voice has the uid.
func (r *VoiceRepo) FetchByUID(ctx context.Context, uid string) (*domain.Voice, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT uid, name, source FROM voices WHERE uid = ?`, uid)
	return scanVoice(row)
}

// FetchByName looks a voice up by its friendly name within one source.
func (r *VoiceRepo) FetchByName(ctx context.Context, name string, source domain.VoiceSource) (*domain.Voice, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT uid, name, source FROM voices WHERE name = ? AND source = ?`,
		name, string(source))
	return scanVoice(row)
}

func scanVoice(row *sql.Row) (*domain.Voice, error) {
	var (
		v      domain.Voice
		source string
	)
	err := row.Scan(&v.UID, &v.Name, &source)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrVoiceNotFound
	}
	if err != nil {
		return nil, storeErr("fetch voice", err)
	}
	v.Source = domain.VoiceSource(source)
	return &v, nil
}

// ListBySource returns all voices of one source ordered by name.
func (r *VoiceRepo) ListBySource(ctx context.Context, source domain.VoiceSource) ([]domain.Voice, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT uid, name, source FROM voices WHERE source = ? ORDER BY name ASC`,
		string(source))
	if err != nil {
		return nil, storeErr("list voices", err)
	}
	defer rows.Close()

	var voices []domain.Voice
	for rows.Next() {
		var (
			v   domain.Voice
			src string
		)
		if err := rows.Scan(&v.UID, &v.Name, &src); err != nil {
			return nil, storeErr("list voices", err)
		}
		v.Source = domain.VoiceSource(src)
		voices = append(voices, v)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list voices", err)
	}
	return voices, nil
}

// Delete removes a voice that disappeared from its provider's account, and
// clears any member preference still referencing it.
func (r *VoiceRepo) Delete(ctx context.Context, uid string, source domain.VoiceSource) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("delete voice", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM voices WHERE uid = ? AND source = ?`, uid, string(source)); err != nil {
		return storeErr("delete voice", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE members SET preferred_tts = '' WHERE preferred_tts = ?`, uid); err != nil {
		return storeErr("delete voice", err)
	}

	if err := tx.Commit(); err != nil {
		return storeErr("delete voice", err)
	}
	return nil
}
