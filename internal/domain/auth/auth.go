package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Roles carried in the actor token. The account/credential system lives
// outside this service; we only consume its signed claims.
const (
	RoleHR       = "hr"
	RoleEmployee = "employee"
	RoleService  = "service"
)

type Claims struct {
	ActorID    string `json:"uid"`
	OrgID      string `json:"org"`
	EmployeeID string `json:"emp"`
	Role       string `json:"role"`
	jwt.RegisteredClaims
}

// Actor is the authenticated caller attached to every request.
type Actor struct {
	ActorID    string
	OrgID      string
	EmployeeID string
	Role       string
}

func GenerateToken(secret string, claims Claims, ttl time.Duration) (string, error) {
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func ParseToken(secret, tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
