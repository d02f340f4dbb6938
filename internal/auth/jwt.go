package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Platform roles carried in the token. Only RoleAdmin changes what the
// maintenance engine allows; the others are informational.
const (
	RoleAdmin       = "ADMIN"
	RoleOwner       = "OWNER"
	RoleBroker      = "BROKER"
	RoleTenant      = "TENANT"
	RoleMaintenance = "MAINTENANCE"
)

type Claims struct {
	UserID uuid.UUID
	Role   string
}

func (c Claims) IsAdmin() bool { return strings.EqualFold(c.Role, RoleAdmin) }

type JWT struct {
	secret []byte
	ttl    time.Duration
}

func NewJWT(secret string) *JWT {
	return &JWT{secret: []byte(secret), ttl: 7 * 24 * time.Hour}
}

func (j *JWT) Sign(userID uuid.UUID, role string) (string, error) {
	return j.SignTTL(userID, role, j.ttl)
}

func (j *JWT) SignTTL(userID uuid.UUID, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  userID.String(),
		"role": role,
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(j.secret)
}

func (j *JWT) Verify(tokenStr string) (Claims, error) {
	t, err := jwt.Parse(tokenStr, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return j.secret, nil
	})
	if err != nil || !t.Valid {
		return Claims{}, errors.New("invalid token")
	}

	claims, ok := t.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, errors.New("invalid claims")
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return Claims{}, errors.New("missing sub")
	}
	uid, err := uuid.Parse(sub)
	if err != nil {
		return Claims{}, errors.New("invalid sub")
	}

	role, _ := claims["role"].(string)
	return Claims{UserID: uid, Role: role}, nil
}
