package auth

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrBootstrapDenied    = errors.New("bootstrap denied")
	ErrAlreadyInitialized = errors.New("owners already exist")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidInput       = errors.New("invalid input")
	ErrOwnerNotFound      = errors.New("owner not found")
)

// Owner is a quiz author. Every bank, quiz and submission is scoped to one.
type Owner struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type Service struct {
	db             *sql.DB
	secret         []byte
	tokenTTL       time.Duration
	bcryptCost     int
	bootstrapToken string
	now            func() time.Time
}

type ServiceConfig struct {
	JWTSecret      string
	TokenTTL       time.Duration
	BcryptCost     int
	BootstrapToken string
}

type RegisterInput struct {
	Email    string
	Password string
	Name     string
}

type BootstrapInput struct {
	Token    string
	Email    string
	Password string
	Name     string
}

type Claims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	jwt.RegisteredClaims
}

func NewService(db *sql.DB, cfg ServiceConfig) *Service {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	if cfg.BcryptCost <= 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		db:             db,
		secret:         []byte(cfg.JWTSecret),
		tokenTTL:       cfg.TokenTTL,
		bcryptCost:     cfg.BcryptCost,
		bootstrapToken: strings.TrimSpace(cfg.BootstrapToken),
		now:            time.Now,
	}
}

// Bootstrap creates the first owner. It is refused once any owner exists.
func (s *Service) Bootstrap(ctx context.Context, in BootstrapInput) (*Owner, error) {
	if s.bootstrapToken == "" || !secureEqual(strings.TrimSpace(in.Token), s.bootstrapToken) {
		return nil, ErrBootstrapDenied
	}

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM owners`).Scan(&n); err != nil {
		return nil, fmt.Errorf("count owners: %w", err)
	}
	if n > 0 {
		return nil, ErrAlreadyInitialized
	}
	return s.Register(ctx, RegisterInput{Email: in.Email, Password: in.Password, Name: in.Name})
}

func (s *Service) Register(ctx context.Context, in RegisterInput) (*Owner, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	name := strings.TrimSpace(in.Name)
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, fmt.Errorf("%w: invalid email", ErrInvalidInput)
	}
	if len(in.Password) < 8 {
		return nil, fmt.Errorf("%w: password must be at least 8 characters", ErrInvalidInput)
	}
	if name == "" {
		name = email
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin register tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM owners WHERE email = $1`, email).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check email: %w", err)
	}
	if exists > 0 {
		return nil, ErrEmailTaken
	}

	owner := &Owner{
		ID:        uuid.NewString(),
		Email:     email,
		Name:      name,
		CreatedAt: s.now().UTC().Truncate(time.Second),
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO owners (id, email, name, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, owner.ID, owner.Email, owner.Name, string(hash), owner.CreatedAt.Unix())
	if err != nil {
		return nil, fmt.Errorf("insert owner: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit register: %w", err)
	}
	return owner, nil
}

// Login checks the password and returns a signed bearer token.
func (s *Service) Login(ctx context.Context, email, password string) (*Owner, string, time.Time, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, "", time.Time{}, ErrInvalidCredentials
	}

	var o Owner
	var hash string
	var created int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, name, password_hash, created_at
		FROM owners
		WHERE email = $1
	`, email).Scan(&o.ID, &o.Email, &o.Name, &hash, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", time.Time{}, ErrInvalidCredentials
		}
		return nil, "", time.Time{}, fmt.Errorf("query owner: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return nil, "", time.Time{}, ErrInvalidCredentials
	}
	o.CreatedAt = time.Unix(created, 0).UTC()

	token, expiresAt, err := s.IssueToken(&o)
	if err != nil {
		return nil, "", time.Time{}, err
	}
	return &o, token, expiresAt, nil
}

func (s *Service) GetOwner(ctx context.Context, id string) (*Owner, error) {
	var o Owner
	var created int64
	err := s.db.QueryRowContext(ctx, `SELECT id, email, name, created_at FROM owners WHERE id = $1`, id).
		Scan(&o.ID, &o.Email, &o.Name, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOwnerNotFound
		}
		return nil, fmt.Errorf("query owner: %w", err)
	}
	o.CreatedAt = time.Unix(created, 0).UTC()
	return &o, nil
}

func (s *Service) IssueToken(o *Owner) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.tokenTTL)
	claims := &Claims{
		Email: o.Email,
		Name:  o.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   o.ID,
			Issuer:    "quizdesk",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// ParseToken validates a bearer token and returns the owner it names.
func (s *Service) ParseToken(token string) (*Owner, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrUnauthorized
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil || !parsed.Valid {
		return nil, ErrUnauthorized
	}
	c, ok := parsed.Claims.(*Claims)
	if !ok || c.Subject == "" {
		return nil, ErrUnauthorized
	}
	return &Owner{ID: c.Subject, Email: c.Email, Name: c.Name}, nil
}

func secureEqual(a, b string) bool {
	ha := sha256.Sum256([]byte(a))
	hb := sha256.Sum256([]byte(b))
	return ha == hb
}
