package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// JWKSVerifier checks identity-provider session tokens against the
// provider's published key set. Keys are cached and refreshed by keyfunc.
type JWKSVerifier struct {
	jwks              keyfunc.Keyfunc
	authorizedParties []string
	logger            *zap.Logger
}

func NewJWKSVerifier(ctx context.Context, jwksURL string, authorizedParties []string, logger *zap.Logger) (*JWKSVerifier, error) {
	if jwksURL == "" {
		return nil, errors.New("JWKS URL cannot be empty")
	}

	jwks, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("failed to create JWKS client: %w", err)
	}

	logger.Info("JWT verifier initialized", zap.String("jwks_url", jwksURL))
	return newJWKSVerifier(jwks, authorizedParties, logger), nil
}

func newJWKSVerifier(jwks keyfunc.Keyfunc, authorizedParties []string, logger *zap.Logger) *JWKSVerifier {
	return &JWKSVerifier{
		jwks:              jwks,
		authorizedParties: authorizedParties,
		logger:            logger,
	}
}

func (v *JWKSVerifier) Verify(_ context.Context, tokenString string) (string, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(tokenString, &claims, v.jwks.Keyfunc,
		jwt.WithValidMethods([]string{"RS256", "ES256"}),
		jwt.WithExpirationRequired())
	if err != nil {
		v.logger.Debug("token rejected", zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	// Tokens without azp are accepted; ones naming an unknown party are not.
	if len(v.authorizedParties) > 0 && claims.Azp != "" && !slices.Contains(v.authorizedParties, claims.Azp) {
		v.logger.Warn("token from unauthorized party", zap.String("azp", claims.Azp))
		return "", fmt.Errorf("%w: unauthorized party %q", ErrInvalidToken, claims.Azp)
	}
	return claims.Subject, nil
}
