// Package ethjwt implements JWTs signed by Ethereum keys. The token issuer is the signer
// address, so verifying a token yields the caller identity without a shared secret.
package ethjwt

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/golang-jwt/jwt"
	"github.com/textileio/lazyauction/auth"
)

// ErrInvalidToken indicates a token that cannot identify its caller.
var ErrInvalidToken = errors.New("invalid token")

// SigningMethodEth implements the ETH signing method.
// Expects *ecdsa.PrivateKey for signing and common.Address for validation.
type SigningMethodEth struct {
	Name string
}

// SigningMethod is the registered ETH signing method.
var SigningMethod *SigningMethodEth

func init() {
	SigningMethod = &SigningMethodEth{"ETH"}
	jwt.RegisterSigningMethod(SigningMethod.Alg(), func() jwt.SigningMethod {
		return SigningMethod
	})
}

// signHash calculates the personal_sign digest of data:
//   keccak256("\x19Ethereum Signed Message:\n"${message length}${message}).
// Wallets sign the same digest, so browser callers can mint tokens too.
func signHash(data []byte) []byte {
	msg := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(data), data)
	return crypto.Keccak256([]byte(msg))
}

// Alg returns the name of this signing method.
func (m *SigningMethodEth) Alg() string {
	return m.Name
}

// Verify implements the Verify method from SigningMethod.
// For this signing method, address must be a common.Address.
func (m *SigningMethodEth) Verify(signingString, signature string, address interface{}) error {
	expected, ok := address.(common.Address)
	if !ok {
		return jwt.ErrInvalidKeyType
	}
	sig, err := jwt.DecodeSegment(signature)
	if err != nil {
		return err
	}
	if len(sig) != crypto.SignatureLength {
		return jwt.ErrSignatureInvalid
	}
	// Wallets produce V in {27, 28}.
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := crypto.SigToPub(signHash([]byte(signingString)), sig)
	if err != nil {
		return jwt.ErrSignatureInvalid
	}
	if crypto.PubkeyToAddress(*pub) != expected {
		return jwt.ErrSignatureInvalid
	}
	return nil
}

// Sign implements the Sign method from SigningMethod.
// For this signing method, privateKey must be an *ecdsa.PrivateKey.
func (m *SigningMethodEth) Sign(signingString string, privateKey interface{}) (string, error) {
	key, ok := privateKey.(*ecdsa.PrivateKey)
	if !ok {
		return "", jwt.ErrInvalidKey
	}
	sig, err := crypto.Sign(signHash([]byte(signingString)), key)
	if err != nil {
		return "", err
	}
	return jwt.EncodeSegment(sig), nil
}

// NewToken returns a token issued by the address of key, valid for ttl, for audience.
func NewToken(key *ecdsa.PrivateKey, audience string, ttl time.Duration) (string, error) {
	if key == nil {
		return "", errors.New("private key is nil")
	}
	now := time.Now()
	claims := jwt.StandardClaims{
		Issuer:    crypto.PubkeyToAddress(key.PublicKey).Hex(),
		Audience:  audience,
		IssuedAt:  now.Unix(),
		NotBefore: now.Add(-time.Minute).Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(SigningMethod, claims).SignedString(key)
}

// Caller verifies a token for audience and returns its issuer address.
func Caller(token, audience string) (common.Address, error) {
	var claims jwt.StandardClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != SigningMethod.Alg() {
			return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
		}
		c, ok := t.Claims.(*jwt.StandardClaims)
		if !ok || !common.IsHexAddress(c.Issuer) {
			return nil, errors.New("issuer is not an address")
		}
		return common.HexToAddress(c.Issuer), nil
	})
	if err != nil {
		return common.Address{}, fmt.Errorf("%v: %w", err, ErrInvalidToken)
	}
	if claims.ExpiresAt == 0 {
		return common.Address{}, fmt.Errorf("token has no expiry: %w", ErrInvalidToken)
	}
	if !claims.VerifyAudience(audience, true) {
		return common.Address{}, fmt.Errorf("token audience %q: %w", claims.Audience, ErrInvalidToken)
	}
	return common.HexToAddress(claims.Issuer), nil
}

// FromAuthorization extracts the token of a "Bearer <token>" header value.
func FromAuthorization(header string) (string, error) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
		return "", fmt.Errorf("malformed authorization header: %w", ErrInvalidToken)
	}
	return strings.TrimSpace(parts[1]), nil
}

// Authorizer authorizes ETH-JWT bearer tokens issued for an audience.
type Authorizer struct {
	Audience string
}

var _ auth.Authorizer = Authorizer{}

// Authorize implements auth.Authorizer.
func (a Authorizer) Authorize(_ context.Context, token string) (common.Address, error) {
	return Caller(token, a.Audience)
}
