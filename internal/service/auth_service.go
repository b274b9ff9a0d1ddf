package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"auth-starter/internal/domain"
	"auth-starter/internal/email"
	"auth-starter/internal/repository"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrDuplicateEmail     = errors.New("duplicate email")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidEmail       = errors.New("invalid email")
	ErrInvalidPassword    = errors.New("invalid password")
)

const (
	defaultVerifyTTL  = time.Hour
	defaultResetTTL   = time.Hour
	defaultSessionTTL = 7 * 24 * time.Hour
)

// AuthService coordina registro, verificación, sesiones y contraseñas.
type AuthService struct {
	logger      *zap.Logger
	users       repository.UserRepository
	ledger      *TokenLedger
	hasher      PasswordHasher
	emailSender email.Sender
	limiter     RateLimiter

	verifyTTL  time.Duration
	resetTTL   time.Duration
	sessionTTL time.Duration

	// hash de relleno para igualar la latencia del login cuando el usuario
	// no existe (resistencia a enumeración por timing)
	dummyHash string
}

type AuthServiceOptions struct {
	VerifyTokenTTL  time.Duration
	ResetTokenTTL   time.Duration
	SessionTokenTTL time.Duration
}

func NewAuthService(
	logger *zap.Logger,
	users repository.UserRepository,
	ledger *TokenLedger,
	hasher PasswordHasher,
	emailSender email.Sender,
	limiter RateLimiter,
	opts AuthServiceOptions,
) *AuthService {
	if hasher == nil {
		hasher = NewBcryptHasher(0)
	}
	if limiter == nil {
		limiter = NewRateLimiter(10*time.Minute, 3)
	}
	if opts.VerifyTokenTTL <= 0 {
		opts.VerifyTokenTTL = defaultVerifyTTL
	}
	if opts.ResetTokenTTL <= 0 {
		opts.ResetTokenTTL = defaultResetTTL
	}
	if opts.SessionTokenTTL <= 0 {
		opts.SessionTokenTTL = defaultSessionTTL
	}

	dummyHash, err := hasher.Hash(uuid.NewString())
	if err != nil && logger != nil {
		logger.Warn("dummy hash init failed", zap.Error(err))
	}

	return &AuthService{
		logger:      logger,
		users:       users,
		ledger:      ledger,
		hasher:      hasher,
		emailSender: emailSender,
		limiter:     limiter,
		verifyTTL:   opts.VerifyTokenTTL,
		resetTTL:    opts.ResetTokenTTL,
		sessionTTL:  opts.SessionTokenTTL,
		dummyHash:   dummyHash,
	}
}

type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// Register crea un usuario sin verificar y envía el token de verificación.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (domain.User, error) {
	emailAddr := normalizeEmail(input.Email)
	if emailAddr == "" {
		return domain.User{}, ErrInvalidEmail
	}
	password := strings.TrimSpace(input.Password)
	if password == "" {
		return domain.User{}, ErrInvalidPassword
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return domain.User{}, err
	}

	now := time.Now().UTC()
	user := domain.User{
		ID:           uuid.NewString(),
		Email:        emailAddr,
		FirstName:    strings.TrimSpace(input.FirstName),
		LastName:     strings.TrimSpace(input.LastName),
		PasswordHash: hash,
		Active:       true,
		Verified:     false,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return domain.User{}, ErrDuplicateEmail
		}
		return domain.User{}, err
	}

	if s.emailSender != nil {
		if err := s.emailSender.SendWelcome(ctx, user.Email, user.FirstName); err != nil {
			s.warn("send welcome failed", err, user.Email)
		}
	}
	s.sendVerification(ctx, user)

	return user, nil
}

// RequestVerifyToken reemite el token de verificación. No enumera: responde
// igual exista o no la cuenta, o ya esté verificada; el límite de emisiones
// degrada en silencio, sin emitir ni enviar nada.
func (s *AuthService) RequestVerifyToken(ctx context.Context, emailAddr string) error {
	emailAddr = normalizeEmail(emailAddr)
	if emailAddr == "" {
		return ErrInvalidEmail
	}
	if s.limiter != nil && !s.limiter.Allow("verify:"+emailAddr) {
		return nil
	}

	user, err := s.users.GetByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return err
	}
	if user.Verified || !user.Active {
		return nil
	}

	s.sendVerification(ctx, user)
	return nil
}

// Verify consume el token y marca el usuario como verificado. El userID del
// token debe coincidir con el usuario resuelto por email.
func (s *AuthService) Verify(ctx context.Context, emailAddr, token string) (domain.User, error) {
	emailAddr = normalizeEmail(emailAddr)
	if emailAddr == "" {
		return domain.User{}, ErrInvalidToken
	}

	// chequeo previo sin consumir: un mismatch de cuenta no debe quemar el
	// token de otro usuario
	userID, err := s.ledger.Validate(ctx, domain.TokenKindVerification, token)
	if err != nil {
		return domain.User{}, err
	}

	user, err := s.users.GetByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, ErrInvalidToken
		}
		return domain.User{}, err
	}
	if user.ID != userID {
		return domain.User{}, ErrInvalidToken
	}

	// el consumo atómico decide al ganador bajo concurrencia
	userID, err = s.ledger.Consume(ctx, domain.TokenKindVerification, token)
	if err != nil {
		return domain.User{}, err
	}
	if user.ID != userID {
		return domain.User{}, ErrInvalidToken
	}

	now := time.Now().UTC()
	if err := s.users.SetVerified(ctx, user.ID, now); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, ErrInvalidToken
		}
		return domain.User{}, err
	}
	user.Verified = true
	user.UpdatedAt = now
	return user, nil
}

// Login autentica credenciales y emite una sesión. Usuario inexistente,
// desactivado, sin verificar o contraseña errónea colapsan en el mismo error.
func (s *AuthService) Login(ctx context.Context, username, password string) (domain.User, string, error) {
	emailAddr := normalizeEmail(username)
	password = strings.TrimSpace(password)
	if emailAddr == "" || password == "" {
		return domain.User{}, "", ErrInvalidCredentials
	}

	user, err := s.users.GetByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// comparación de relleno para no delatar la inexistencia por latencia
			s.hasher.Verify(password, s.dummyHash)
			return domain.User{}, "", ErrInvalidCredentials
		}
		return domain.User{}, "", err
	}
	if !s.hasher.Verify(password, user.PasswordHash) {
		return domain.User{}, "", ErrInvalidCredentials
	}
	if !user.Active || !user.Verified {
		return domain.User{}, "", ErrInvalidCredentials
	}

	token, err := s.ledger.Issue(ctx, domain.TokenKindSession, user.ID, s.sessionTTL)
	if err != nil {
		return domain.User{}, "", err
	}
	return user, token, nil
}

// CurrentUser resuelve el usuario de una sesión vigente.
func (s *AuthService) CurrentUser(ctx context.Context, sessionToken string) (domain.User, error) {
	userID, err := s.ledger.Validate(ctx, domain.TokenKindSession, sessionToken)
	if err != nil {
		return domain.User{}, err
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, ErrInvalidToken
		}
		return domain.User{}, err
	}
	if !user.Active {
		return domain.User{}, ErrInvalidToken
	}
	return user, nil
}

type UpdateProfileInput struct {
	FirstName *string
	LastName  *string
	Password  *string
}

// UpdateProfile aplica cambios de perfil. Un cambio de contraseña revoca las
// demás sesiones del usuario y conserva la que lo ejecutó. Los nombres se
// aplican antes que la contraseña: si el usuario ya no existe, la petición
// falla sin reescribir el hash ni tocar sesiones.
func (s *AuthService) UpdateProfile(ctx context.Context, user domain.User, sessionToken string, input UpdateProfileInput) (domain.User, error) {
	now := time.Now().UTC()

	var newHash string
	if input.Password != nil {
		password := strings.TrimSpace(*input.Password)
		if password == "" {
			return domain.User{}, ErrInvalidPassword
		}
		hash, err := s.hasher.Hash(password)
		if err != nil {
			return domain.User{}, err
		}
		newHash = hash
	}

	if input.FirstName != nil || input.LastName != nil {
		firstName := user.FirstName
		lastName := user.LastName
		if input.FirstName != nil {
			firstName = strings.TrimSpace(*input.FirstName)
		}
		if input.LastName != nil {
			lastName = strings.TrimSpace(*input.LastName)
		}
		if err := s.users.SetName(ctx, user.ID, firstName, lastName, now); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.User{}, ErrUserNotFound
			}
			return domain.User{}, err
		}
		user.FirstName = firstName
		user.LastName = lastName
		user.UpdatedAt = now
	}

	if newHash != "" {
		if err := s.users.SetPasswordHash(ctx, user.ID, newHash, now); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.User{}, ErrUserNotFound
			}
			return domain.User{}, err
		}
		user.PasswordHash = newHash
		user.UpdatedAt = now

		if err := s.ledger.RevokeOtherSessions(ctx, user.ID, sessionToken); err != nil {
			s.warn("revoke other sessions failed", err, user.Email)
		}
	}

	return user, nil
}

// Logout revoca la sesión presentada. Idempotente.
func (s *AuthService) Logout(ctx context.Context, sessionToken string) error {
	return s.ledger.Revoke(ctx, sessionToken)
}

// ForgotPassword emite un token de reset si la cuenta existe. No enumera: el
// límite de emisiones también degrada en silencio.
func (s *AuthService) ForgotPassword(ctx context.Context, emailAddr string) error {
	emailAddr = normalizeEmail(emailAddr)
	if emailAddr == "" {
		return ErrInvalidEmail
	}
	if s.limiter != nil && !s.limiter.Allow("reset:"+emailAddr) {
		return nil
	}

	user, err := s.users.GetByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return err
	}
	if !user.Active {
		return nil
	}

	token, err := s.ledger.Issue(ctx, domain.TokenKindPasswordReset, user.ID, s.resetTTL)
	if err != nil {
		return err
	}
	if s.emailSender != nil {
		expiresAt := time.Now().UTC().Add(s.resetTTL)
		if err := s.emailSender.SendPasswordReset(ctx, user.Email, token, expiresAt); err != nil {
			s.warn("send password reset failed", err, user.Email)
		}
	}
	return nil
}

// ResetPassword consume el token, reescribe el hash y revoca todas las
// sesiones abiertas bajo la contraseña comprometida.
func (s *AuthService) ResetPassword(ctx context.Context, token, newPassword string) error {
	newPassword = strings.TrimSpace(newPassword)
	if newPassword == "" {
		return ErrInvalidPassword
	}

	userID, err := s.ledger.Consume(ctx, domain.TokenKindPasswordReset, token)
	if err != nil {
		return err
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := s.users.SetPasswordHash(ctx, userID, hash, time.Now().UTC()); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrInvalidToken
		}
		return err
	}

	return s.ledger.RevokeAllSessions(ctx, userID)
}

func (s *AuthService) sendVerification(ctx context.Context, user domain.User) {
	token, err := s.ledger.Issue(ctx, domain.TokenKindVerification, user.ID, s.verifyTTL)
	if err != nil {
		s.warn("issue verification token failed", err, user.Email)
		return
	}
	if s.emailSender == nil {
		return
	}
	expiresAt := time.Now().UTC().Add(s.verifyTTL)
	if err := s.emailSender.SendVerification(ctx, user.Email, token, expiresAt); err != nil {
		s.warn("send verification failed", err, user.Email)
	}
}

func (s *AuthService) warn(msg string, err error, emailAddr string) {
	if s.logger != nil {
		s.logger.Warn(msg, zap.Error(err), zap.String("email", emailAddr))
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
