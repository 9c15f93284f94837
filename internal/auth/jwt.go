package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims are the custom JWT claims of a trip-scoped device token. Subject is
// the device id; TripID bounds everything the token can read or write.
type Claims struct {
	jwt.RegisteredClaims
	TripID     uuid.UUID `json:"trip_id"`
	DeviceName string    `json:"device_name,omitempty"`
}

// DeviceID returns the device id the token was issued to.
func (c *Claims) DeviceID() string { return c.Subject }

// JWTManager issues and validates trip-scoped device tokens.
type JWTManager struct {
	secret []byte
	expiry time.Duration
}

// NewJWTManager creates a manager signing with the given secret. Tokens
// expire after expiry; a trip typically outlives a weekend, so days-long
// expiries are normal here.
func NewJWTManager(secret string, expiry time.Duration) *JWTManager {
	return &JWTManager{secret: []byte(secret), expiry: expiry}
}

// IssueDeviceToken creates a signed token binding deviceID to tripID.
func (m *JWTManager) IssueDeviceToken(tripID, deviceID uuid.UUID, deviceName string) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   deviceID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.expiry)),
			ID:        uuid.New().String(),
		},
		TripID:     tripID,
		DeviceName: deviceName,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// ValidateToken parses and validates a device token.
func (m *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	if claims.TripID == uuid.Nil {
		return nil, fmt.Errorf("token carries no trip scope")
	}
	return claims, nil
}
