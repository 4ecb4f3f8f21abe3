package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"asset-rebalancer/pkg/address"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/mr-tron/base58"
	"golang.org/x/crypto/bcrypt"
)

const (
	claimsContextKey = "Claims"

	RoleWallet = "wallet"
	RoleAdmin  = "admin"

	// loginPrefix is the message a wallet signs, followed by a unix timestamp.
	loginPrefix = "asset-rebalancer login "
	// loginWindow bounds how far a signed timestamp may be from now.
	loginWindow = 5 * time.Minute
)

// AuthConfig holds token and operator settings.
type AuthConfig struct {
	JWTSecret         string
	AdminPasswordHash string
	TokenTTL          time.Duration
}

// UserClaims represents JWT claims. Subject is the wallet address for the
// wallet role.
type UserClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// LoginMessage is the text a wallet signs to log in at ts.
func LoginMessage(ts int64) string {
	return fmt.Sprintf("%s%d", loginPrefix, ts)
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func checkPassword(hash, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

func generateToken(subject, role, secret string, expiresAt time.Time) (string, error) {
	claims := UserClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func parseToken(tokenStr, secret string) (*UserClaims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &UserClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*UserClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token claims")
}

// AuthMiddleware enforces JWT auth for protected routes.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":  "MISSING_TOKEN",
				"error": "missing Authorization header",
			})
			return
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":  "INVALID_AUTH_HEADER",
				"error": "invalid Authorization header",
			})
			return
		}

		claims, err := parseToken(parts[1], secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":  "INVALID_TOKEN",
				"error": "invalid or expired token",
			})
			return
		}

		c.Set(claimsContextKey, claims)
		c.Next()
	}
}

// RequireRole rejects tokens without role.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := currentClaims(c)
		if claims == nil || claims.Role != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code":  "FORBIDDEN",
				"error": "insufficient role",
			})
			return
		}
		c.Next()
	}
}

func currentClaims(c *gin.Context) *UserClaims {
	if v, ok := c.Get(claimsContextKey); ok {
		if claims, okCast := v.(*UserClaims); okCast {
			return claims
		}
	}
	return nil
}

// CurrentOwner returns the wallet address of the authenticated caller.
func CurrentOwner(c *gin.Context) (address.Address, bool) {
	claims := currentClaims(c)
	if claims == nil || claims.Role != RoleWallet {
		return address.Zero, false
	}
	owner, err := address.Parse(claims.Subject)
	if err != nil {
		return address.Zero, false
	}
	return owner, true
}

func (s *Server) tokenTTL() time.Duration {
	if s.Auth.TokenTTL <= 0 {
		return 24 * time.Hour
	}
	return s.Auth.TokenTTL
}

// loginChallenge returns the message a wallet should sign right now.
func (s *Server) loginChallenge(c *gin.Context) {
	ts := time.Now().Unix()
	c.JSON(http.StatusOK, gin.H{
		"timestamp": ts,
		"message":   LoginMessage(ts),
	})
}

// walletLogin verifies an ed25519 signature over LoginMessage and issues a
// wallet token whose subject is the signing address.
func (s *Server) walletLogin(c *gin.Context) {
	var req struct {
		Address   string `json:"address" binding:"required"`
		Timestamp int64  `json:"timestamp" binding:"required"`
		Signature string `json:"signature" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "address, timestamp and signature are required")
		return
	}
	owner, err := address.Parse(req.Address)
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_ADDRESS", err.Error())
		return
	}
	skew := time.Since(time.Unix(req.Timestamp, 0))
	if skew > loginWindow || skew < -loginWindow {
		respondError(c, http.StatusUnauthorized, "LOGIN_EXPIRED", "signed timestamp outside the login window")
		return
	}
	sig, err := base58.Decode(req.Signature)
	if err != nil || !address.Verify(owner, []byte(LoginMessage(req.Timestamp)), sig) {
		respondError(c, http.StatusUnauthorized, "INVALID_SIGNATURE", "signature does not match address")
		return
	}

	expiresAt := time.Now().Add(s.tokenTTL())
	token, err := generateToken(owner.String(), RoleWallet, s.Auth.JWTSecret, expiresAt)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to generate token")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_at": expiresAt.UTC().Format(time.RFC3339),
		"owner":      owner.String(),
	})
}

// adminLogin checks the operator password against the configured bcrypt hash.
func (s *Server) adminLogin(c *gin.Context) {
	var req struct {
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "MISSING_CREDENTIALS", "password is required")
		return
	}
	if s.Auth.AdminPasswordHash == "" {
		respondError(c, http.StatusServiceUnavailable, "ADMIN_DISABLED", "operator login is not configured")
		return
	}
	if err := checkPassword(s.Auth.AdminPasswordHash, req.Password); err != nil {
		respondError(c, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid credentials")
		return
	}

	expiresAt := time.Now().Add(s.tokenTTL())
	token, err := generateToken(RoleAdmin, RoleAdmin, s.Auth.JWTSecret, expiresAt)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to generate token")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_at": expiresAt.UTC().Format(time.RFC3339),
	})
}
