// Package jwt signs and verifies the bearer tokens issued by the engine.
//
// Tokens are RS256 JWTs carrying a jti that references a granted-token
// ledger row; a valid signature alone never makes a token live.
package jwt

import (
	"context"
	"fmt"
	"strconv"
	"time"

	gojose "github.com/go-jose/go-jose/v4"
	gojwt "github.com/go-jose/go-jose/v4/jwt"

	"github.com/Hashibutogarasu/karasu-lab-auth/internal/domain/oauth"
)

// Token use values embedded in the token_use claim. Refresh tokens are never
// accepted where an access token is expected, and vice versa.
const (
	UseAccess  = "access"
	UseRefresh = "refresh"
)

// TokenClaims is the custom claim set carried next to the registered claims.
type TokenClaims struct {
	Scope    string `json:"scope"`
	TokenUse string `json:"token_use"`
}

// SignRequest describes one token to sign.
type SignRequest struct {
	JTI      string
	UserID   int64
	ClientID string
	Scope    string
	Issuer   string
	TokenUse string
	TTL      time.Duration
}

// Generator signs and verifies RS256 JWTs using the managed keypair.
type Generator struct {
	keys *KeyManager
}

// NewGenerator constructs a Generator.
func NewGenerator(manager *KeyManager) *Generator {
	return &Generator{keys: manager}
}

// Sign produces one signed JWT for req.
func (g *Generator) Sign(ctx context.Context, req SignRequest) (string, error) {
	key, err := g.keys.EnsureSigningKey(ctx)
	if err != nil {
		return "", fmt.Errorf("ensure signing key: %w", err)
	}
	priv, err := g.keys.PrivateKey(key)
	if err != nil {
		return "", err
	}

	signer, err := gojose.NewSigner(
		gojose.SigningKey{Algorithm: gojose.SignatureAlgorithm(key.Algorithm), Key: priv},
		(&gojose.SignerOptions{}).WithType("JWT").WithHeader("kid", key.KID),
	)
	if err != nil {
		return "", fmt.Errorf("new signer: %w", err)
	}

	now := time.Now().UTC()
	std := gojwt.Claims{
		ID:        req.JTI,
		Subject:   strconv.FormatInt(req.UserID, 10),
		Audience:  gojwt.Audience{req.ClientID},
		Issuer:    req.Issuer,
		IssuedAt:  gojwt.NewNumericDate(now),
		NotBefore: gojwt.NewNumericDate(now),
		Expiry:    gojwt.NewNumericDate(now.Add(req.TTL)),
	}
	custom := TokenClaims{Scope: req.Scope, TokenUse: req.TokenUse}

	token, err := gojwt.Signed(signer).Claims(std).Claims(custom).Serialize()
	if err != nil {
		return "", fmt.Errorf("serialize jwt: %w", err)
	}
	return token, nil
}

// Verify checks the RS256 signature and time claims and returns the payload.
// Ledger state is the caller's concern; Verify only establishes that the
// token was signed by us and has not expired.
func (g *Generator) Verify(ctx context.Context, token, issuer string) (*gojwt.Claims, *TokenClaims, error) {
	key, err := g.keys.EnsureSigningKey(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load signing key: %w", err)
	}
	priv, err := g.keys.PrivateKey(key)
	if err != nil {
		return nil, nil, err
	}

	parsed, err := gojwt.ParseSigned(token, []gojose.SignatureAlgorithm{gojose.SignatureAlgorithm(key.Algorithm)})
	if err != nil {
		return nil, nil, fmt.Errorf("parse token: %w", oauth.ErrInvalidToken)
	}

	var std gojwt.Claims
	var custom TokenClaims
	if err := parsed.Claims(priv.Public(), &std, &custom); err != nil {
		return nil, nil, fmt.Errorf("verify signature: %w", oauth.ErrInvalidToken)
	}

	expected := gojwt.Expected{Time: time.Now()}
	if issuer != "" {
		expected.Issuer = issuer
	}
	if err := std.Validate(expected); err != nil {
		return nil, nil, fmt.Errorf("validate claims: %w", oauth.ErrInvalidToken)
	}

	return &std, &custom, nil
}

// DecodeJTI extracts the jti without verifying the signature or expiry.
// Revocation must work on expired tokens, so this is the lookup used by the
// revoke endpoint; the ledger row is the authority on whether anything
// happens.
func (g *Generator) DecodeJTI(token string) (string, error) {
	parsed, err := gojwt.ParseSigned(token, []gojose.SignatureAlgorithm{gojose.RS256})
	if err != nil {
		return "", fmt.Errorf("parse token: %w", oauth.ErrInvalidToken)
	}
	var std gojwt.Claims
	if err := parsed.UnsafeClaimsWithoutVerification(&std); err != nil {
		return "", fmt.Errorf("decode claims: %w", oauth.ErrInvalidToken)
	}
	if std.ID == "" {
		return "", fmt.Errorf("missing jti: %w", oauth.ErrInvalidToken)
	}
	return std.ID, nil
}
