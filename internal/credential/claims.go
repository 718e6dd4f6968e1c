package credential

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// userIDClaims are checked in order; backends disagree on the name.
var userIDClaims = []string{"userId", "user_id", "id", "sub"}

// UserIDFromToken reads the user id out of an access token without verifying
// its signature. The server verifies; the client only needs to know who it is.
func UserIDFromToken(token string) (int64, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return 0, errors.New("credential: empty token")
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return 0, fmt.Errorf("credential: parse token: %w", err)
	}

	for _, name := range userIDClaims {
		raw, ok := claims[name]
		if !ok {
			continue
		}
		switch v := raw.(type) {
		case float64:
			return int64(v), nil
		case string:
			id, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("credential: claim %s is not numeric: %w", name, err)
			}
			return id, nil
		}
	}
	return 0, errors.New("credential: token carries no user id")
}
