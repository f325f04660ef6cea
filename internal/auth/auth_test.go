package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/narvanalabs/sitekiln/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func genJWTSecret() gopter.Gen {
	return gen.SliceOfN(32, gen.UInt8()).Map(func(b []uint8) []byte {
		out := make([]byte, len(b))
		copy(out, b)
		return out
	})
}

// **Feature: sitekiln, Property 1: JWT token round-trip**
// For any user, generating a token and validating it yields the same identity
// and admin flag.
func TestJWTTokenRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("round-trip preserves identity", prop.ForAll(
		func(userID, email string, admin bool, secret []byte) bool {
			svc := NewService(&Config{JWTSecret: secret, TokenExpiry: time.Hour}, nil)
			token, err := svc.GenerateToken(&models.User{ID: userID, Email: email, IsAdmin: admin})
			if err != nil {
				return false
			}
			claims, err := svc.ValidateToken(token)
			if err != nil {
				return false
			}
			return claims.UserID == userID && claims.Email == email && claims.IsAdmin == admin
		},
		gen.Identifier(),
		gen.AlphaString(),
		gen.Bool(),
		genJWTSecret(),
	))

	properties.TestingRun(t)
}

func TestValidateTokenErrors(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")
	svc := NewService(&Config{JWTSecret: secret, TokenExpiry: time.Hour}, nil)
	other := NewService(&Config{JWTSecret: []byte("ffffffffffffffffffffffffffffffff"), TokenExpiry: time.Hour}, nil)

	good, err := other.GenerateToken(&models.User{ID: "u1"})
	require.NoError(t, err)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u1",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	expiredStr, err := expired.SignedString(secret)
	require.NoError(t, err)

	noSub := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	noSubStr, err := noSub.SignedString(secret)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"empty", "", ErrInvalidToken},
		{"garbage", "not.a.token", ErrInvalidToken},
		{"wrong secret", good, ErrInvalidSignature},
		{"expired", expiredStr, ErrExpiredToken},
		{"missing subject", noSubStr, ErrMissingClaims},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ValidateToken(tt.token)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err = svc.GenerateToken(&models.User{})
	assert.ErrorIs(t, err, ErrMissingClaims)
}

func TestExtractBearerToken(t *testing.T) {
	tests := map[string]string{
		"Bearer abc":  "abc",
		"bearer  xyz": "xyz",
		"Basic abc":   "",
		"Bearer":      "",
		"":            "",
	}
	for header, want := range tests {
		assert.Equal(t, want, ExtractBearerToken(header), header)
	}
}

func TestAuthorize(t *testing.T) {
	admin := &Claims{UserID: "a", IsAdmin: true}
	user := &Claims{UserID: "u"}

	assert.NoError(t, Authorize(admin, PermissionManageTemplates))
	assert.ErrorIs(t, Authorize(user, PermissionManageTemplates), ErrPermissionDenied)
	assert.NoError(t, Authorize(user, PermissionBuild))
	assert.ErrorIs(t, Authorize(nil, PermissionBuild), ErrPermissionDenied)

	assert.True(t, CanAccessOwned(user, "u"))
	assert.False(t, CanAccessOwned(user, "someone-else"))
	assert.False(t, CanAccessOwned(admin, "someone-else"))
	assert.False(t, CanAccessOwned(nil, "u"))
}
