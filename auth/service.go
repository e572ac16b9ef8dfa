package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidCredentials signals wrong email or password.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrWeakPassword signals password doesn't meet requirements.
	ErrWeakPassword = errors.New("auth: password must be at least 8 characters")
	// ErrForbidden signals the caller's department may not run the operation.
	ErrForbidden = errors.New("auth: forbidden")
)

const tokenTTL = 12 * time.Hour

// Service handles staff authentication.
type Service struct {
	repo      Repository
	jwtSecret []byte
	now       func() time.Time
}

// LoginResult bundles the token and staff user returned after a successful login.
type LoginResult struct {
	Token string
	User  User
}

// NewService creates a new authentication service.
func NewService(repo Repository, jwtSecret string) *Service {
	return &Service{
		repo:      repo,
		jwtSecret: []byte(jwtSecret),
		now:       time.Now,
	}
}

// Register creates a staff account. New accounts land in support unless a
// department is given.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	if len(req.Password) < 8 {
		return nil, ErrWeakPassword
	}
	if req.Email == "" || req.FullName == "" {
		return nil, fmt.Errorf("auth: email and full_name are required")
	}

	dept := Department(strings.TrimSpace(string(req.Department)))
	if dept == "" {
		dept = DepartmentSupport
	}
	if !dept.Valid() {
		return nil, fmt.Errorf("auth: invalid department %q", dept)
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("auth: hash password: %w", err)
	}

	user, err := s.repo.CreateUser(ctx, CreateUserParams{
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		FullName:     req.FullName,
		PasswordHash: string(passwordHash),
		Department:   dept,
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Login authenticates a staff user and returns a JWT.
func (s *Service) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	user, err := s.repo.GetUserByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}

	token, err := s.generateToken(user.ID, user.Department)
	if err != nil {
		return LoginResult{}, fmt.Errorf("auth: generate token: %w", err)
	}
	return LoginResult{Token: token, User: user}, nil
}

// GetUserByID retrieves staff user information by ID.
func (s *Service) GetUserByID(ctx context.Context, userID string) (*User, error) {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// SetDepartment moves userID into dept. Only admins may do this.
func (s *Service) SetDepartment(ctx context.Context, actor Department, userID string, dept Department) (*User, error) {
	if actor != DepartmentAdmin {
		return nil, ErrForbidden
	}
	if !dept.Valid() {
		return nil, fmt.Errorf("auth: invalid department %q", dept)
	}
	user, err := s.repo.SetDepartment(ctx, userID, dept)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// VerifyToken validates a JWT and returns the user ID and department.
func (s *Service) VerifyToken(tokenString string) (string, Department, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return "", "", fmt.Errorf("auth: parse token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", "", fmt.Errorf("auth: invalid token")
	}
	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return "", "", fmt.Errorf("auth: invalid user_id in token")
	}
	deptStr, ok := claims["department"].(string)
	if !ok {
		return "", "", fmt.Errorf("auth: invalid department in token")
	}
	dept := Department(deptStr)
	if !dept.Valid() {
		return "", "", fmt.Errorf("auth: invalid department %q in token", deptStr)
	}
	return userID, dept, nil
}

func (s *Service) generateToken(userID string, dept Department) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"user_id":    userID,
		"department": dept,
		"exp":        now.Add(tokenTTL).Unix(),
		"iat":        now.Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
}
