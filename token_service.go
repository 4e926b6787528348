package authc

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-errors"
)

// AccessClaims is the claim set carried by every access token.
type AccessClaims struct {
	jwt.RegisteredClaims
	AuthTime       int64  `json:"auth_time,omitempty"`
	UserID         string `json:"user_id,omitempty"`
	Email          string `json:"email,omitempty"`
	EmailVerified  bool   `json:"email_verified"`
	SignInProvider string `json:"sign_in_provider,omitempty"`
	SessionID      string `json:"session_id,omitempty"`
}

// TokenService signs and verifies tenant-scoped access tokens. Tokens are
// symmetric (HS family); each tenant brings its own secret and algorithm.
type TokenService struct {
	issuerBase string
	logger     Logger
	now        func() time.Time
}

// NewTokenService creates a TokenService. issuerBase prefixes the tenant id
// in the iss claim, e.g. "https://auth.example.com".
func NewTokenService(issuerBase string) *TokenService {
	return &TokenService{
		issuerBase: trimTrailingSlash(issuerBase),
		logger:     defLogger{},
		now:        time.Now,
	}
}

func (ts *TokenService) WithLogger(logger Logger) *TokenService {
	ts.logger = normalizeLogger(logger)
	return ts
}

// WithClock overrides the time source, mostly for tests.
func (ts *TokenService) WithClock(now func() time.Time) *TokenService {
	if now != nil {
		ts.now = now
	}
	return ts
}

var signingMethods = map[string]jwt.SigningMethod{
	"HS256": jwt.SigningMethodHS256,
	"HS384": jwt.SigningMethodHS384,
	"HS512": jwt.SigningMethodHS512,
}

// Mint issues an access token for identity bound to sessionID, using the
// tenant's TTL, secret and algorithm. It returns the signed token and the
// TTL in seconds.
func (ts *TokenService) Mint(cfg TenantConfig, identity Identity, sessionID string) (string, int64, error) {
	method, ok := signingMethods[cfg.Settings.SigningAlgorithm]
	if !ok {
		return "", 0, errors.New("unsupported signing algorithm", errors.CategoryBadInput).
			WithCode(errors.CodeBadRequest)
	}
	if cfg.Settings.SigningSecret == "" {
		return "", 0, errors.New("tenant signing secret is not set", errors.CategoryInternal).
			WithCode(errors.CodeInternal)
	}

	now := ts.now()
	expiresIn := cfg.Settings.AccessTokenTTL
	if expiresIn <= 0 {
		expiresIn = 3600
	}

	claims := &AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ts.issuerBase + "/" + cfg.ID,
			Audience:  jwt.ClaimStrings{cfg.Name},
			Subject:   identity.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(expiresIn) * time.Second)),
		},
		AuthTime:       now.Unix(),
		UserID:         identity.ID,
		Email:          identity.Email,
		EmailVerified:  identity.EmailVerified,
		SignInProvider: identity.Provider,
		SessionID:      sessionID,
	}

	token := jwt.NewWithClaims(method, claims)
	signed, err := token.SignedString([]byte(cfg.Settings.SigningSecret))
	if err != nil {
		return "", 0, errors.Wrap(err, errors.CategoryInternal, "failed to sign access token")
	}

	return signed, expiresIn, nil
}

// Verify parses and validates an access token against secret. Failures map
// onto the stable taxonomy: ErrTokenExpired, ErrBadSignature, or
// ErrTokenNotValid for anything malformed.
func (ts *TokenService) Verify(tokenString, secret string) (*AccessClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			ts.logger.Error("token verify encountered unexpected signing method %v", t.Header["alg"])
			return nil, ErrBadSignature
		}
		return []byte(secret), nil
	})

	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrBadSignature
		default:
			return nil, errors.Wrap(err, ErrTokenNotValid.Category, ErrTokenNotValid.Message).
				WithTextCode(TextCodeTokenNotValid).
				WithCode(errors.CodeUnauthorized)
		}
	}

	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid {
		ts.logger.Error("token verify could not decode claims")
		return nil, ErrTokenNotValid
	}

	return claims, nil
}

func trimTrailingSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}
