package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt"
)

const (
	issuer = "go-poker"

	subjectClaim = "sub"
	roomClaim    = "room"
	expClaim     = "exp"
	iatClaim     = "iat"
	issuerClaim  = "iss"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrWrongRoom    = errors.New("token issued for another room")
)

// TokenService issues and validates room tokens. A room token proves that
// its subject joined a password protected room.
type TokenService struct {
	signingKey []byte
	ttl        time.Duration
	now        func() time.Time
}

func NewTokenService(signingKey []byte, ttl time.Duration) *TokenService {
	return &TokenService{
		signingKey: signingKey,
		ttl:        ttl,
		now:        time.Now,
	}
}

func (ts *TokenService) Issue(userId, roomId string) (string, error) {
	if userId == "" || roomId == "" {
		return "", fmt.Errorf("user id and room id are required")
	}

	now := ts.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		subjectClaim: userId,
		roomClaim:    roomId,
		issuerClaim:  issuer,
		iatClaim:     now.Unix(),
		expClaim:     now.Add(ts.ttl).Unix(),
	})

	return token.SignedString(ts.signingKey)
}

// Validate verifies tokenString and returns its subject if the token was
// signed by us, has not expired and is bound to roomId.
func (ts *TokenService) Validate(tokenString, roomId string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return ts.signingKey, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", ErrInvalidToken
	}

	// exp is optional for jwt.Parse, but not for us
	if !claims.VerifyExpiresAt(ts.now().Unix(), true) {
		return "", fmt.Errorf("%w: missing or expired exp claim", ErrInvalidToken)
	}

	if !claims.VerifyIssuer(issuer, true) {
		return "", fmt.Errorf("%w: unexpected issuer", ErrInvalidToken)
	}

	room, _ := claims[roomClaim].(string)
	if room == "" || room != roomId {
		return "", ErrWrongRoom
	}

	sub, _ := claims[subjectClaim].(string)
	if sub == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	return sub, nil
}
