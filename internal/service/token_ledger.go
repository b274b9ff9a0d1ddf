package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"auth-starter/internal/domain"
	"auth-starter/internal/repository"
)

// ErrInvalidToken cubre token inexistente, expirado, consumido o revocado.
// Nunca se distingue la causa hacia afuera.
var ErrInvalidToken = errors.New("invalid token")

const opaqueTokenBytes = 32

// TokenLedger emite, valida y revoca los tokens opacos del servicio.
// Solo persiste digests sha256; la búsqueda es por igualdad de digest
// completo, sin comparación por prefijo sobre el secreto.
type TokenLedger struct {
	tokens repository.TokenRepository
}

func NewTokenLedger(tokens repository.TokenRepository) *TokenLedger {
	return &TokenLedger{tokens: tokens}
}

// Issue genera un valor opaco nuevo para (kind, userID). Para kinds de un
// solo uso invalida antes cualquier token vigente del mismo par, de modo que
// a lo sumo exista un token vivo por (user, kind).
func (l *TokenLedger) Issue(ctx context.Context, kind domain.TokenKind, userID string, ttl time.Duration) (string, error) {
	if userID == "" || ttl <= 0 {
		return "", ErrInvalidToken
	}

	now := time.Now().UTC()
	if kind.SingleUse() {
		if err := l.tokens.InvalidateForUser(ctx, kind, userID, now); err != nil {
			return "", err
		}
	}

	opaque, err := newOpaqueValue()
	if err != nil {
		return "", err
	}

	token := domain.Token{
		Digest:    digestOpaqueValue(opaque),
		UserID:    userID,
		Kind:      kind,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
	if err := l.tokens.Insert(ctx, token); err != nil {
		return "", err
	}
	return opaque, nil
}

// Validate resuelve el userID de un token vivo sin consumirlo.
func (l *TokenLedger) Validate(ctx context.Context, kind domain.TokenKind, opaque string) (string, error) {
	digest, ok := digestPresented(opaque)
	if !ok {
		return "", ErrInvalidToken
	}
	token, err := l.tokens.GetByDigest(ctx, kind, digest)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrInvalidToken
		}
		return "", err
	}
	if !token.Live(time.Now().UTC()) {
		return "", ErrInvalidToken
	}
	return token.UserID, nil
}

// Consume valida y marca consumido en una sola mutación condicional: bajo
// redenciones concurrentes del mismo valor gana exactamente una.
func (l *TokenLedger) Consume(ctx context.Context, kind domain.TokenKind, opaque string) (string, error) {
	if !kind.SingleUse() {
		return "", ErrInvalidToken
	}
	digest, ok := digestPresented(opaque)
	if !ok {
		return "", ErrInvalidToken
	}
	userID, err := l.tokens.ConsumeByDigest(ctx, kind, digest, time.Now().UTC())
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrInvalidToken
		}
		return "", err
	}
	return userID, nil
}

// Revoke marca revocada una sesión. Idempotente.
func (l *TokenLedger) Revoke(ctx context.Context, opaque string) error {
	digest, ok := digestPresented(opaque)
	if !ok {
		return ErrInvalidToken
	}
	return l.tokens.RevokeByDigest(ctx, domain.TokenKindSession, digest)
}

// RevokeAllSessions revoca todas las sesiones vivas del usuario.
func (l *TokenLedger) RevokeAllSessions(ctx context.Context, userID string) error {
	return l.tokens.RevokeSessionsForUser(ctx, userID, "")
}

// RevokeOtherSessions revoca las sesiones del usuario salvo la presentada.
func (l *TokenLedger) RevokeOtherSessions(ctx context.Context, userID, keptOpaque string) error {
	digest, ok := digestPresented(keptOpaque)
	if !ok {
		return l.tokens.RevokeSessionsForUser(ctx, userID, "")
	}
	return l.tokens.RevokeSessionsForUser(ctx, userID, digest)
}

// SweepExpired borra filas expiradas. Solo higiene de almacenamiento: la
// validación nunca depende de este barrido.
func (l *TokenLedger) SweepExpired(ctx context.Context) (int64, error) {
	return l.tokens.DeleteExpired(ctx, time.Now().UTC())
}

func newOpaqueValue() (string, error) {
	buf := make([]byte, opaqueTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func digestOpaqueValue(opaque string) string {
	sum := sha256.Sum256([]byte(opaque))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func digestPresented(opaque string) (string, bool) {
	opaque = strings.TrimSpace(opaque)
	if opaque == "" {
		return "", false
	}
	return digestOpaqueValue(opaque), true
}
