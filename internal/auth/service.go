package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrUserNotFound       = errors.New("user not found")
	ErrUsernameTaken      = errors.New("username already taken")
)

const (
	RoleAdmin   = "admin"
	RoleStudent = "student"
)

type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	FullName  string    `json:"full_name"`
	Email     *string   `json:"email,omitempty"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// StudentCredentials carries the generated password in plaintext. It exists
// only in the create response; the database keeps the bcrypt hash alone.
type StudentCredentials struct {
	User     User   `json:"user"`
	Password string `json:"password"`
}

type Service struct {
	db         *sql.DB
	sessionTTL time.Duration
	bcryptCost int
}

type ServiceConfig struct {
	SessionTTL time.Duration
	BcryptCost int
}

func NewService(db *sql.DB, cfg ServiceConfig) *Service {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	if cfg.BcryptCost <= 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	return &Service{db: db, sessionTTL: cfg.SessionTTL, bcryptCost: cfg.BcryptCost}
}

func (s *Service) AuthenticatePassword(ctx context.Context, username, password string) (*User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, full_name, email, role, created_at, password_hash
		FROM users
		WHERE username = $1
		LIMIT 1
	`, username)

	var (
		u            User
		email        sql.NullString
		passwordHash string
	)
	if err := row.Scan(&u.ID, &u.Username, &u.FullName, &email, &u.Role, &u.CreatedAt, &passwordHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	if email.Valid {
		u.Email = &email.String
	}

	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return &u, nil
}

func (s *Service) CreateSession(ctx context.Context, userID int64) (string, time.Time, error) {
	token, err := generateToken(32)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate session token: %w", err)
	}
	expiresAt := time.Now().Add(s.sessionTTL)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO auth_sessions (user_id, token_hash, expires_at)
		VALUES ($1, $2, $3)
	`, userID, hashToken(token), expiresAt)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("insert auth session: %w", err)
	}
	return token, expiresAt, nil
}

func (s *Service) GetSessionUser(ctx context.Context, token string) (*User, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrUnauthorized
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT u.id, u.username, u.full_name, u.email, u.role, u.created_at
		FROM auth_sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.token_hash = $1 AND s.expires_at > now()
		LIMIT 1
	`, hashToken(token))

	var (
		u     User
		email sql.NullString
	)
	if err := row.Scan(&u.ID, &u.Username, &u.FullName, &email, &u.Role, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("query session user: %w", err)
	}
	if email.Valid {
		u.Email = &email.String
	}
	return &u, nil
}

func (s *Service) RevokeSession(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM auth_sessions WHERE token_hash = $1
	`, hashToken(token))
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// EnsureAdmin seeds the admin account from configuration on startup. An
// existing admin keeps its current password.
func (s *Service) EnsureAdmin(ctx context.Context, username, password string) error {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return errors.New("admin username and password are required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, full_name, role)
		VALUES ($1, $2, 'Administrator', $3)
		ON CONFLICT (username) DO NOTHING
	`, username, string(hash), RoleAdmin)
	if err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	return nil
}

// CreateStudent registers a student account with a generated username and
// password. The plaintext password is returned exactly once and never stored.
func (s *Service) CreateStudent(ctx context.Context, fullName, email string) (*StudentCredentials, error) {
	fullName = strings.TrimSpace(fullName)
	if fullName == "" {
		return nil, errors.New("full name is required")
	}

	password, err := generatePassword(8)
	if err != nil {
		return nil, fmt.Errorf("generate password: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM users WHERE role = $1
	`, RoleStudent).Scan(&count); err != nil {
		return nil, fmt.Errorf("count students: %w", err)
	}

	u := User{FullName: fullName, Role: RoleStudent}
	if e := strings.TrimSpace(email); e != "" {
		u.Email = &e
	}

	// Usernames are sequential; retry past gaps left by concurrent creates.
	for attempt := 0; attempt < 20; attempt++ {
		u.Username = fmt.Sprintf("student_%03d", count+1+attempt)
		err = s.db.QueryRowContext(ctx, `
			INSERT INTO users (username, password_hash, full_name, email, role)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, created_at
		`, u.Username, string(hash), u.FullName, u.Email, u.Role).Scan(&u.ID, &u.CreatedAt)
		if err == nil {
			return &StudentCredentials{User: u, Password: password}, nil
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			continue
		}
		return nil, fmt.Errorf("insert student: %w", err)
	}
	return nil, ErrUsernameTaken
}

func (s *Service) GetUser(ctx context.Context, id int64) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, full_name, email, role, created_at
		FROM users
		WHERE id = $1
	`, id)

	var (
		u     User
		email sql.NullString
	)
	if err := row.Scan(&u.ID, &u.Username, &u.FullName, &email, &u.Role, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	if email.Valid {
		u.Email = &email.String
	}
	return &u, nil
}

func (s *Service) ListStudents(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, full_name, email, role, created_at
		FROM users
		WHERE role = $1
		ORDER BY username ASC
	`, RoleStudent)
	if err != nil {
		return nil, fmt.Errorf("query students: %w", err)
	}
	defer rows.Close()

	out := make([]User, 0)
	for rows.Next() {
		var (
			u     User
			email sql.NullString
		)
		if err := rows.Scan(&u.ID, &u.Username, &u.FullName, &email, &u.Role, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan student: %w", err)
		}
		if email.Valid {
			u.Email = &email.String
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate students: %w", err)
	}
	return out, nil
}

// DeleteStudent removes a student; auth and test sessions follow via cascade.
func (s *Service) DeleteStudent(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM users WHERE id = $1 AND role = $2
	`, id, RoleStudent)
	if err != nil {
		return fmt.Errorf("delete student: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete student rows: %w", err)
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

func generateToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// generatePassword draws from an alphabet without look-alike characters so
// credentials survive being read aloud or printed.
func generatePassword(n int) (string, error) {
	const alphabet = "abcdefghjkmnpqrstuvwxyzABCDEFGHJKMNPQRSTUVWXYZ23456789"
	out := make([]byte, n)
	max := big.NewInt(int64(len(alphabet)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = alphabet[idx.Int64()]
	}
	return string(out), nil
}
