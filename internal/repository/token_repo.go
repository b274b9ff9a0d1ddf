package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"auth-starter/internal/domain"
)

// TokenRepository persiste tokens del ledger. Las mutaciones condicionales
// (consume, invalidate) son sentencias únicas: la base garantiza atomicidad.
type TokenRepository interface {
	Insert(ctx context.Context, token domain.Token) error
	GetByDigest(ctx context.Context, kind domain.TokenKind, digest string) (domain.Token, error)
	// ConsumeByDigest valida y marca consumido en una sola operación.
	// Devuelve pgx.ErrNoRows si no hay token vivo con ese digest.
	ConsumeByDigest(ctx context.Context, kind domain.TokenKind, digest string, now time.Time) (string, error)
	RevokeByDigest(ctx context.Context, kind domain.TokenKind, digest string) error
	// InvalidateForUser marca consumidos los tokens vivos del par (user, kind)
	// y borra los ya expirados de ese par.
	InvalidateForUser(ctx context.Context, kind domain.TokenKind, userID string, now time.Time) error
	RevokeSessionsForUser(ctx context.Context, userID, exceptDigest string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// PgTokenRepository implementa TokenRepository usando pgxpool.
type PgTokenRepository struct {
	pool *pgxpool.Pool
}

func NewPgTokenRepository(pool *pgxpool.Pool) *PgTokenRepository {
	return &PgTokenRepository{pool: pool}
}

func (r *PgTokenRepository) Insert(ctx context.Context, token domain.Token) error {
	const query = `
		INSERT INTO auth_tokens (digest, user_id, kind, issued_at, expires_at, consumed, revoked)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.pool.Exec(ctx, query,
		token.Digest,
		token.UserID,
		string(token.Kind),
		token.IssuedAt,
		token.ExpiresAt,
		token.Consumed,
		token.Revoked,
	)
	return err
}

func (r *PgTokenRepository) GetByDigest(ctx context.Context, kind domain.TokenKind, digest string) (domain.Token, error) {
	const query = `
		SELECT digest, user_id, kind, issued_at, expires_at, consumed, revoked
		FROM auth_tokens
		WHERE digest = $1 AND kind = $2
	`
	var t domain.Token
	err := r.pool.QueryRow(ctx, query, digest, string(kind)).Scan(
		&t.Digest,
		&t.UserID,
		&t.Kind,
		&t.IssuedAt,
		&t.ExpiresAt,
		&t.Consumed,
		&t.Revoked,
	)
	if err != nil {
		return domain.Token{}, err
	}
	return t, nil
}

func (r *PgTokenRepository) ConsumeByDigest(ctx context.Context, kind domain.TokenKind, digest string, now time.Time) (string, error) {
	const query = `
		UPDATE auth_tokens
		SET consumed = TRUE
		WHERE digest = $1 AND kind = $2
			AND NOT consumed AND NOT revoked AND expires_at > $3
		RETURNING user_id
	`
	var userID string
	err := r.pool.QueryRow(ctx, query, digest, string(kind), now).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (r *PgTokenRepository) RevokeByDigest(ctx context.Context, kind domain.TokenKind, digest string) error {
	const query = `
		UPDATE auth_tokens SET revoked = TRUE
		WHERE digest = $1 AND kind = $2
	`
	_, err := r.pool.Exec(ctx, query, digest, string(kind))
	return err
}

func (r *PgTokenRepository) InvalidateForUser(ctx context.Context, kind domain.TokenKind, userID string, now time.Time) error {
	const purge = `
		DELETE FROM auth_tokens
		WHERE user_id = $1 AND kind = $2 AND expires_at <= $3
	`
	if _, err := r.pool.Exec(ctx, purge, userID, string(kind), now); err != nil {
		return err
	}

	const invalidate = `
		UPDATE auth_tokens SET consumed = TRUE
		WHERE user_id = $1 AND kind = $2 AND NOT consumed
	`
	_, err := r.pool.Exec(ctx, invalidate, userID, string(kind))
	return err
}

func (r *PgTokenRepository) RevokeSessionsForUser(ctx context.Context, userID, exceptDigest string) error {
	const query = `
		UPDATE auth_tokens SET revoked = TRUE
		WHERE user_id = $1 AND kind = $2 AND NOT revoked AND digest <> $3
	`
	_, err := r.pool.Exec(ctx, query, userID, string(domain.TokenKindSession), exceptDigest)
	return err
}

func (r *PgTokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	const query = `DELETE FROM auth_tokens WHERE expires_at <= $1`
	tag, err := r.pool.Exec(ctx, query, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
