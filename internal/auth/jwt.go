package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/PaulBabatuyi/roomchat/internal/normalize"

	"github.com/golang-jwt/jwt/v5"
	"go.mongodb.org/mongo-driver/v2/bson"
	"golang.org/x/crypto/bcrypt"
)

// JWTManager signs and validates JWT tokens used by the API.
type JWTManager struct {
	keys      map[string]string // kid -> HMAC secret; "" is the legacy single-secret key
	activeKid string            // kid used when signing new tokens
	duration  time.Duration     // How long tokens are valid (e.g., 24 hours)
}

// Claims is the custom JWT payload (user id + email).
type Claims struct {
	UserID               string `json:"user_id"` // MongoDB ObjectID converted to hex string
	Email                string `json:"email"`   // Normalized user email
	jwt.RegisteredClaims        // Includes ExpiresAt, IssuedAt, etc.
}

// NewJWTManager returns a JWTManager signing with a single secret.
func NewJWTManager(secretKey string, duration time.Duration) *JWTManager {
	return &JWTManager{
		keys:     map[string]string{"": secretKey},
		duration: duration,
	}
}

// NewJWTManagerFromKeys returns a JWTManager that signs with activeKid and
// verifies tokens signed by any of keys, which allows secret rotation. If
// activeKid is not in keys an arbitrary key is chosen.
func NewJWTManagerFromKeys(keys map[string]string, activeKid string, duration time.Duration) *JWTManager {
	// Private copy of the key set
	copied := make(map[string]string, len(keys))
	for k, v := range keys {
		copied[k] = v
	}
	if _, ok := copied[activeKid]; !ok {
		// Fall back to whichever key comes first
		for k := range copied {
			activeKid = k
			break
		}
	}
	return &JWTManager{keys: copied, activeKid: activeKid, duration: duration}
}

// GenerateToken issues a signed JWT token for a user.
func (m *JWTManager) GenerateToken(userID bson.ObjectID, email string) (string, time.Time, error) {
	// One clock reading for both timestamps
	now := time.Now()
	expiresAt := now.Add(m.duration)

	claims := &Claims{
		UserID: userID.Hex(),           // ObjectID as hex, also the subject
		Email:  normalize.Email(email), // Same form the store keeps
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.Hex(),
			ExpiresAt: jwt.NewNumericDate(expiresAt), // Expiration time
			IssuedAt:  jwt.NewNumericDate(now),       // Creation time
		},
	}

	// HS256 (HMAC with SHA-256); the kid header selects the key on verify
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	if m.activeKid != "" {
		token.Header["kid"] = m.activeKid
	}

	// Sign with the active key to produce the final JWT string
	tokenString, err := token.SignedString([]byte(m.keys[m.activeKid]))
	if err != nil {
		return "", time.Time{}, err // Empty token and zero time on error
	}
	return tokenString, expiresAt, nil
}

// VerifyToken parses and validates a token and returns its claims.
func (m *JWTManager) VerifyToken(tokenString string) (*Claims, error) {
	// Decoded payload lands here
	claims := &Claims{}

	// ParseWithClaims checks the signature and expiry; the callback picks the key
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		// Only HMAC is accepted; rejects "none" and asymmetric-key confusion
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		// A missing kid maps to the legacy single-secret key
		kid, _ := token.Header["kid"].(string)
		secret, ok := m.keys[kid]
		if !ok {
			return nil, fmt.Errorf("unknown key id %q", kid)
		}
		return []byte(secret), nil
	})
	// Malformed, expired or badly signed
	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// HashPassword returns a bcrypt hash for the provided plaintext.
func HashPassword(password string) (string, error) {
	// DefaultCost is 10 rounds
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashedPassword), nil
}

// CheckPassword compares a plaintext password against a bcrypt hash.
func CheckPassword(hash, password string) error {
	// nil on a match; the comparison runs in constant time
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}
