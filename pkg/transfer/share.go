package transfer

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/shelffs/shelf/pkg/shelferr"
)

// shareClaims binds an ephemeral-share consent token to the one file name
// it was minted for, on top of the standard expiry/issued-at claims.
type shareClaims struct {
	jwt.RegisteredClaims
	FileName string `json:"file_name"`
}

// ShareRegistry mints and verifies the JWT consent tokens carried in
// wire.EphemeralShareParams.ConsentToken (§4.G). Each token is signed with a
// secret generated at grant time and keyed by the token's own jti, the way a
// "kid" header would key a rotating signing key: the registry never needs a
// pre-shared secret with the joiner, since the token itself is the only
// thing that crosses the share link.
type ShareRegistry struct {
	mu      sync.Mutex
	secrets map[string][]byte
}

func NewShareRegistry() *ShareRegistry {
	return &ShareRegistry{secrets: make(map[string][]byte)}
}

// Grant mints a consent token for fileName, valid for ttl, and returns the
// signed JWT to embed in the out-of-band share link.
func (r *ShareRegistry) Grant(fileName string, ttl time.Duration) (string, error) {
	jti := make([]byte, 16)
	if _, err := rand.Read(jti); err != nil {
		return "", shelferr.Wrap(shelferr.Fatal, "generate share token id", err)
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return "", shelferr.Wrap(shelferr.Fatal, "generate share token secret", err)
	}
	id := fmt.Sprintf("%x", jti)

	now := time.Now()
	claims := shareClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		FileName: fileName,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", shelferr.Wrap(shelferr.Fatal, "sign share token", err)
	}

	r.mu.Lock()
	r.secrets[id] = secret
	r.mu.Unlock()

	return signed, nil
}

// Verify checks that tokenString is a consent token this registry minted
// for fileName, unexpired and unrevoked. The token's jti is read before
// signature verification purely to look up which secret to verify it
// against; the actual trust decision is the signature check that follows.
func (r *ShareRegistry) Verify(tokenString, fileName string) error {
	unverified, _, err := jwt.NewParser().ParseUnverified(tokenString, &shareClaims{})
	if err != nil {
		return shelferr.Wrap(shelferr.Input, "parse share token", err)
	}
	claims, ok := unverified.Claims.(*shareClaims)
	if !ok || claims.ID == "" {
		return shelferr.Invalidf("share token missing id")
	}

	r.mu.Lock()
	secret, known := r.secrets[claims.ID]
	r.mu.Unlock()
	if !known {
		return shelferr.Invalidf("share token unknown or already revoked")
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &shareClaims{}, func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}))
	if err != nil || !parsed.Valid {
		return shelferr.Wrap(shelferr.Input, "verify share token", err)
	}
	verified := parsed.Claims.(*shareClaims)
	if verified.FileName != fileName {
		return shelferr.Invalidf("share token was not issued for %q", fileName)
	}
	return nil
}

// Revoke invalidates a share before it expires, e.g. once the transfer it
// authorized has completed.
func (r *ShareRegistry) Revoke(tokenString string) {
	unverified, _, err := jwt.NewParser().ParseUnverified(tokenString, &shareClaims{})
	if err != nil {
		return
	}
	claims, ok := unverified.Claims.(*shareClaims)
	if !ok {
		return
	}
	r.mu.Lock()
	delete(r.secrets, claims.ID)
	r.mu.Unlock()
}
