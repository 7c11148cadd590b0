package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/isdelr/owasp-lab-be/internal/apperr"
	"github.com/isdelr/owasp-lab-be/internal/auth"
	"github.com/isdelr/owasp-lab-be/internal/models"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// UserServiceProvider defines the interface for user services.
type UserServiceProvider interface {
	GetUserByID(ctx context.Context, id int64) (models.User, error)
	FindByUsername(ctx context.Context, username string) (models.User, error)
	FindByEmail(ctx context.Context, email string) (models.User, error)
	CreateUser(ctx context.Context, username, email, password string, role models.Role) (models.User, error)
	UpdateEmail(ctx context.Context, id int64, email string) (models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
}

// UserService provides business logic for identity records.
type UserService struct {
	db     *sql.DB
	hasher *auth.PasswordHasher
}

// NewUserService creates a new UserService.
func NewUserService(db *sql.DB, hasher *auth.PasswordHasher) *UserService {
	return &UserService{db: db, hasher: hasher}
}

const userColumns = "id, username, email, password_hash, role, created_at"

func scanUser(row interface{ Scan(...interface{}) error }) (models.User, error) {
	var user models.User
	err := row.Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.Role, &user.CreatedAt)
	return user, err
}

func (s *UserService) getOne(ctx context.Context, where string, arg interface{}) (models.User, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE "+where+" = ?", arg)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, apperr.ErrNotFound
		}
		return models.User{}, err
	}
	return user, nil
}

// GetUserByID retrieves a single user by their ID, without the password hash.
func (s *UserService) GetUserByID(ctx context.Context, id int64) (models.User, error) {
	user, err := s.getOne(ctx, "id", id)
	user.PasswordHash = ""
	return user, err
}

// FindByUsername retrieves a user by exact username, including the password hash.
func (s *UserService) FindByUsername(ctx context.Context, username string) (models.User, error) {
	return s.getOne(ctx, "username", username)
}

// FindByEmail retrieves a user by email, without the password hash.
func (s *UserService) FindByEmail(ctx context.Context, email string) (models.User, error) {
	user, err := s.getOne(ctx, "email", email)
	user.PasswordHash = ""
	return user, err
}

// CreateUser hashes password and stores a new identity.
func (s *UserService) CreateUser(ctx context.Context, username, email, password string, role models.Role) (models.User, error) {
	if !role.Valid() {
		return models.User{}, fmt.Errorf("invalid role %q", role)
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return models.User{}, err
	}

	res, err := s.db.ExecContext(ctx,
		"INSERT INTO users(username, email, password_hash, role) VALUES(?, ?, ?, ?)",
		username, email, hash, role)
	if err != nil {
		if isUniqueViolation(err) {
			return models.User{}, apperr.Wrap(apperr.ErrConflict, err)
		}
		return models.User{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.User{}, err
	}
	return s.GetUserByID(ctx, id)
}

// UpdateEmail changes a user's email.
func (s *UserService) UpdateEmail(ctx context.Context, id int64, email string) (models.User, error) {
	res, err := s.db.ExecContext(ctx, "UPDATE users SET email = ? WHERE id = ?", email, id)
	if err != nil {
		if isUniqueViolation(err) {
			return models.User{}, apperr.Wrap(apperr.ErrConflict, err)
		}
		return models.User{}, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return models.User{}, apperr.ErrNotFound
	}
	return s.GetUserByID(ctx, id)
}

// ListUsers returns every identity, without password hashes.
func (s *UserService) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+userColumns+" FROM users ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		user.PasswordHash = ""
		users = append(users, user)
	}
	return users, rows.Err()
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	return errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}
