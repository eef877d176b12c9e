package http

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

const (
	operatorHeader = "X-Operator-ID"
	// PermAllocatePayments lets an operator record payments.
	PermAllocatePayments = "payments:allocate"
)

type operatorKey struct{}

// OperatorClaims are the claims carried by operator tokens. The subject is
// the operator id.
type OperatorClaims struct {
	Perms []string `json:"perms"`
	jwt.RegisteredClaims
}

// OperatorFromContext returns the operator authenticated for the request.
func OperatorFromContext(ctx context.Context) string {
	id, _ := ctx.Value(operatorKey{}).(string)
	return id
}

func withOperator(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, operatorKey{}, id)
}

// OperatorAuth identifies the operator behind each request. With a secret it
// requires an HS256 bearer token, and allocation requests additionally need
// the payments:allocate permission. Without a secret the operator comes from
// the X-Operator-ID header, which allocation requests must send.
func OperatorAuth(secret string, next http.Handler) http.Handler {
	key := []byte(secret)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		allocating := isAllocationRequest(r)

		if len(key) == 0 {
			operator := strings.TrimSpace(r.Header.Get(operatorHeader))
			if operator == "" {
				if allocating {
					writeError(w, http.StatusUnauthorized, codeUnauthorized, "operator id required")
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(withOperator(r.Context(), operator)))
			return
		}

		claims, err := parseOperatorToken(r.Header.Get("Authorization"), key)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="roxy"`)
			writeError(w, http.StatusUnauthorized, codeUnauthorized, err.Error())
			return
		}
		if allocating && !slices.Contains(claims.Perms, PermAllocatePayments) {
			writeError(w, http.StatusForbidden, codeForbidden, "missing permission "+PermAllocatePayments)
			return
		}
		next.ServeHTTP(w, r.WithContext(withOperator(r.Context(), claims.Subject)))
	})
}

func parseOperatorToken(header string, key []byte) (*OperatorClaims, error) {
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		return nil, errors.New("bearer token required")
	}

	claims := &OperatorClaims{}
	token, err := jwt.ParseWithClaims(strings.TrimSpace(raw), claims, func(*jwt.Token) (interface{}, error) {
		return key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}

func isAllocationRequest(r *http.Request) bool {
	if r.Method != http.MethodPost {
		return false
	}
	p, ok := parseOrderPath(r.URL.Path)
	return ok && p.route == routePayments
}
