package auth

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const (
	claimSubject = "sub"
	claimBotID   = "bot_id"
	contextKey   = "user"
)

// Principal is the caller identified by a service token. BotID 0 means the
// token is not bound to a single bot.
type Principal struct {
	Subject string
	BotID   int64
}

// JWTMiddleware returns a JWT auth middleware configured for HS256 tokens.
func JWTMiddleware(secret string, skipper middleware.Skipper) echo.MiddlewareFunc {
	return echojwt.WithConfig(echojwt.Config{
		SigningKey:    []byte(secret),
		SigningMethod: "HS256",
		TokenLookup:   "header:Authorization:Bearer ,query:token",
		ContextKey:    contextKey,
		Skipper:       skipper,
		NewClaimsFunc: func(c echo.Context) jwt.Claims {
			return jwt.MapClaims{}
		},
	})
}

// GenerateToken signs a service token for subject. A non-zero botID limits
// the token to that bot's routes.
func GenerateToken(subject string, botID int64, secret string, expiresIn time.Duration) (string, time.Time, error) {
	if strings.TrimSpace(subject) == "" {
		return "", time.Time{}, fmt.Errorf("subject is required")
	}
	if strings.TrimSpace(secret) == "" {
		return "", time.Time{}, fmt.Errorf("jwt secret is required")
	}
	if expiresIn <= 0 {
		return "", time.Time{}, fmt.Errorf("jwt expires in must be positive")
	}

	now := time.Now().UTC()
	expiresAt := now.Add(expiresIn)
	claims := jwt.MapClaims{
		claimSubject: subject,
		"iat":        now.Unix(),
		"exp":        expiresAt.Unix(),
	}
	if botID != 0 {
		claims[claimBotID] = strconv.FormatInt(botID, 10)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// PrincipalFromContext extracts the caller from the validated token.
func PrincipalFromContext(c echo.Context) (Principal, error) {
	token, ok := c.Get(contextKey).(*jwt.Token)
	if !ok || token == nil || !token.Valid {
		return Principal{}, echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Principal{}, echo.NewHTTPError(http.StatusUnauthorized, "invalid token claims")
	}
	p := Principal{Subject: claimString(claims, claimSubject)}
	if p.Subject == "" {
		return Principal{}, echo.NewHTTPError(http.StatusUnauthorized, "subject missing")
	}
	if raw := claimString(claims, claimBotID); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Principal{}, echo.NewHTTPError(http.StatusUnauthorized, "invalid bot scope")
		}
		p.BotID = id
	}
	return p, nil
}

// AuthorizeBot rejects tokens bound to a different bot.
func AuthorizeBot(c echo.Context, botID int64) error {
	p, err := PrincipalFromContext(c)
	if err != nil {
		return err
	}
	if p.BotID != 0 && p.BotID != botID {
		return echo.NewHTTPError(http.StatusForbidden, "token is not valid for this bot")
	}
	return nil
}

func claimString(claims jwt.MapClaims, key string) string {
	raw, ok := claims[key]
	if !ok || raw == nil {
		return ""
	}
	switch v := raw.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(raw)
	}
}
