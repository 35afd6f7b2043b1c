package httputil

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/freshmart/freshmart-backend/pkg/actor"
	"github.com/freshmart/freshmart-backend/pkg/config"
	"github.com/freshmart/freshmart-backend/pkg/errors"
)

// Claims represents the JWT claims carried on access tokens issued by the
// identity service.
type Claims struct {
	jwt.RegisteredClaims
	UserID      string   `json:"user_id"`
	Email       string   `json:"email"`
	Name        string   `json:"name"`
	Role        string   `json:"role"`
	BranchIDs   []string `json:"branch_ids,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// Auth validates the bearer token on each request and attaches the resulting
// actor to the request context. Requests without a valid token are rejected.
func Auth(cfg *config.JWTConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				Error(w, errors.Unauthorized("missing authorization header"))
				return
			}

			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				Error(w, errors.Unauthorized("invalid authorization header"))
				return
			}

			claims, err := validateToken(parts[1], cfg.Secret)
			if err != nil {
				Error(w, err)
				return
			}

			act := &actor.Actor{
				ID:          claims.UserID,
				Email:       claims.Email,
				BranchIDs:   claims.BranchIDs,
				Permissions: claims.Permissions,
			}

			next.ServeHTTP(w, r.WithContext(actor.WithActor(r.Context(), act)))
		})
	}
}

func validateToken(tokenString, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.TokenInvalid()
		}
		return []byte(secret), nil
	})

	if err != nil {
		if err.Error() == "token has invalid claims: token is expired" {
			return nil, errors.TokenExpired()
		}
		return nil, errors.TokenInvalid()
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.TokenInvalid()
	}

	return claims, nil
}
