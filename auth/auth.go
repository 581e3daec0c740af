package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

type AuthModule struct {
	db        *pgxpool.Pool
	JWTSecret string
}

func NewAuthModule(db *pgxpool.Pool, JWTSecret string) *AuthModule {
	return &AuthModule{
		db:        db,
		JWTSecret: JWTSecret,
	}
}

func (a *AuthModule) createUser(ctx context.Context, username, password, email string) (int64, error) {
	var exists bool
	err := a.db.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM users WHERE username = $1)", username).Scan(&exists)
	if err != nil {
		return 0, err
	}
	if exists {
		return 0, errors.New("username already exists")
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, err
	}

	var userID int64
	err = a.db.QueryRow(ctx,
		"INSERT INTO users (username, password, email) VALUES ($1, $2, $3) RETURNING id",
		username, string(hashedPassword), email,
	).Scan(&userID)
	if err != nil {
		return 0, err
	}

	return userID, nil
}

func (a *AuthModule) generateJWT(userID int64) (string, error) {
	claims := jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().Add(24 * time.Hour).Unix(),
		"iat":     time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(a.JWTSecret))
}

func (a *AuthModule) authenticateUser(ctx context.Context, username string, password string) (int64, error) {
	var userID int64
	var passwordHash string
	err := a.db.QueryRow(ctx, "SELECT id, password FROM users WHERE username = $1", username).Scan(&userID, &passwordHash)
	if err != nil {
		return 0, errors.New("invalid credentials")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password)); err != nil {
		return 0, errors.New("invalid credentials")
	}

	return userID, nil
}

// Register creates a user and returns a signed JWT for it.
func (a *AuthModule) Register(ctx context.Context, username, password, email string) (string, error) {
	userID, err := a.createUser(ctx, username, password, email)
	if err != nil {
		return "", err
	}
	return a.generateJWT(userID)
}

// Login verifies credentials and returns a signed JWT.
func (a *AuthModule) Login(ctx context.Context, username, password string) (string, error) {
	userID, err := a.authenticateUser(ctx, username, password)
	if err != nil {
		return "", err
	}
	return a.generateJWT(userID)
}

// ValidateToken parses an "Authorization: Bearer ..." header value and
// returns the user id it carries.
func (a *AuthModule) ValidateToken(header string) (int64, error) {
	tokenString := strings.TrimPrefix(header, "Bearer ")
	if tokenString == "" {
		return 0, errors.New("missing token")
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(a.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return 0, errors.New("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, errors.New("invalid claims")
	}
	userID, ok := claims["user_id"].(float64)
	if !ok {
		return 0, errors.New("invalid user_id claim")
	}
	return int64(userID), nil
}
