// Package auth turns HS256 bearer tokens into the caller stored in the request context.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"citydesk/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

type Claims struct {
	jwt.RegisteredClaims
	Role       string `json:"role"`
	Department string `json:"department,omitempty"`
	Name       string `json:"name,omitempty"`
}

type Authenticator struct {
	secret      []byte
	departments *models.Departments
	log         logrus.FieldLogger
}

// New returns an authenticator. An empty secret disables authentication:
// the middleware lets every request through without a caller.
func New(secret string, departments *models.Departments, log logrus.FieldLogger) *Authenticator {
	if departments == nil {
		departments = models.NewDepartments()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Authenticator{secret: []byte(strings.TrimSpace(secret)), departments: departments, log: log}
}

func (a *Authenticator) Enabled() bool {
	return len(a.secret) > 0
}

// Parse validates token and returns the caller it names.
func (a *Authenticator) Parse(token string) (models.Actor, error) {
	if !a.Enabled() {
		return models.Actor{}, errors.New("auth.Authenticator.Parse: jwt secret not configured")
	}

	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &Claims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	})
	if err != nil {
		return models.Actor{}, fmt.Errorf("auth.Authenticator.Parse: %w", err)
	}
	if !parsed.Valid {
		return models.Actor{}, errors.New("auth.Authenticator.Parse: invalid token")
	}

	actor, err := a.actor(claims)
	if err != nil {
		return models.Actor{}, fmt.Errorf("auth.Authenticator.Parse: %w", err)
	}
	return actor, nil
}

func (a *Authenticator) actor(claims *Claims) (models.Actor, error) {
	if len(claims.Subject) == 0 {
		return models.Actor{}, errors.New("subject claim required")
	}

	role, ok := models.ParseRole(claims.Role)
	if !ok {
		return models.Actor{}, fmt.Errorf("unknown role %q", claims.Role)
	}

	actor := models.Actor{Subject: claims.Subject, Role: role, Name: strings.TrimSpace(claims.Name)}
	switch role {
	case models.RoleAuthority:
		dept, ok := a.departments.Parse(claims.Department)
		if !ok {
			return models.Actor{}, fmt.Errorf("authority token has unknown department %q", claims.Department)
		}
		actor.Department = dept
	case models.RoleProvider:
		if len(actor.Name) == 0 {
			return models.Actor{}, errors.New("provider token requires a name claim")
		}
	}
	return actor, nil
}

// Sign issues a token for actor. A zero ttl issues a token that never expires.
func (a *Authenticator) Sign(actor models.Actor, ttl time.Duration) (string, error) {
	if !a.Enabled() {
		return "", errors.New("auth.Authenticator.Sign: jwt secret not configured")
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  actor.Subject,
			IssuedAt: jwt.NewNumericDate(now),
		},
		Role:       string(actor.Role),
		Department: string(actor.Department),
		Name:       actor.Name,
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	if _, err := a.actor(&claims); err != nil {
		return "", fmt.Errorf("auth.Authenticator.Sign: %w", err)
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("auth.Authenticator.Sign: %w", err)
	}
	return token, nil
}

// Middleware stores the caller of every request carrying a valid bearer token.
// Reads stay public; mutating requests without a token are rejected.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		authz := strings.TrimSpace(r.Header.Get("Authorization"))
		if len(authz) == 0 {
			if safeMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			unauthorized(w)
			return
		}

		token, ok := bearerToken(authz)
		if !ok {
			unauthorized(w)
			return
		}

		actor, err := a.Parse(token)
		if err != nil {
			a.log.WithField("path", r.URL.Path).Debug(err)
			unauthorized(w)
			return
		}

		next.ServeHTTP(w, r.WithContext(models.WithActor(r.Context(), actor)))
	})
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

func safeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{
		"error": models.ErrNoCredentials.Error(),
		"kind":  "unauthorized",
	})
}
