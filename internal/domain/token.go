package domain

import "time"

// TokenKind identifica la clase de token emitido por el ledger.
type TokenKind string

const (
	TokenKindVerification  TokenKind = "verification"
	TokenKindPasswordReset TokenKind = "password_reset"
	TokenKindSession       TokenKind = "session"
)

// SingleUse indica si el token se invalida tras un consumo exitoso.
func (k TokenKind) SingleUse() bool {
	return k == TokenKindVerification || k == TokenKindPasswordReset
}

// Token guarda solo el digest sha256 del valor opaco, nunca el valor mismo.
type Token struct {
	Digest    string
	UserID    string
	Kind      TokenKind
	IssuedAt  time.Time
	ExpiresAt time.Time
	Consumed  bool
	Revoked   bool
}

// Live reporta si el token sigue siendo valido en el instante dado.
func (t Token) Live(now time.Time) bool {
	if t.Consumed || t.Revoked {
		return false
	}
	return now.Before(t.ExpiresAt)
}
