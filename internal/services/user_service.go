package services

import (
	"database/sql"
	"errors"
	"fmt"

	"crypto-ledger/internal/models"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

type UserService struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewUserService(db *sql.DB, logger zerolog.Logger) *UserService {
	return &UserService{
		db:     db,
		logger: logger,
	}
}

func (s *UserService) Register(req *models.RegisterRequest) (*models.User, error) {
	if req.Username == "" || req.Email == "" || req.Password == "" {
		return nil, errors.New("username, email, and password are required")
	}

	var existingID int64
	err := s.db.QueryRow("SELECT id FROM users WHERE email = ?", req.Email).Scan(&existingID)
	if err == nil {
		return nil, errors.New("user with this email already exists")
	} else if err != sql.ErrNoRows {
		s.logger.Error().Err(err).Msg("Error checking existing user")
		return nil, fmt.Errorf("database error: %w", err)
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		s.logger.Error().Err(err).Msg("Error hashing password")
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	result, err := s.db.Exec(
		"INSERT INTO users (username, email, password_hash, role) VALUES (?, ?, ?, ?)",
		req.Username, req.Email, string(hashedPassword), string(models.RoleUser),
	)
	if err != nil {
		s.logger.Error().Err(err).Msg("Error creating user")
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	userID, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get user ID: %w", err)
	}

	return s.GetUserByID(userID)
}

func (s *UserService) Authenticate(req *models.LoginRequest) (*models.User, error) {
	var user models.User

	err := s.db.QueryRow(
		"SELECT id, username, email, password_hash, role, created_at FROM users WHERE email = ?",
		req.Email,
	).Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.Role, &user.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, errors.New("invalid email or password")
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("Error fetching user for login")
		return nil, fmt.Errorf("database error: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, errors.New("invalid email or password")
	}

	return &user, nil
}

func (s *UserService) GetUserByID(userID int64) (*models.User, error) {
	var user models.User

	err := s.db.QueryRow(
		"SELECT id, username, email, password_hash, role, created_at FROM users WHERE id = ?",
		userID,
	).Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.Role, &user.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, errors.New("user not found")
	}
	if err != nil {
		s.logger.Error().Err(err).Int64("user_id", userID).Msg("Error fetching user")
		return nil, fmt.Errorf("database error: %w", err)
	}

	return &user, nil
}
