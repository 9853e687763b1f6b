package sessionvalidator

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

type fixedClock struct {
	current time.Time
}

func (clock fixedClock) Now() time.Time {
	return clock.current
}

func newTestValidator(t *testing.T, signingKey string, issuer string, now time.Time) *Validator {
	t.Helper()
	validator, err := New(Config{
		SigningKey: []byte(signingKey),
		Issuer:     issuer,
		Clock:      fixedClock{current: now},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return validator
}

func mintToken(t *testing.T, signingKey string, issuer string, issuedAt time.Time, ttl time.Duration) string {
	t.Helper()
	minter := newTestValidator(t, signingKey, issuer, issuedAt)
	token, _, err := minter.Mint(42, "champion@example.com", "Demo Champion", ttl)
	if err != nil {
		t.Fatalf("failed to mint token: %v", err)
	}
	return token
}

func TestNewValidatorRequiresSigningKey(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Issuer: "issuer"})
	if err == nil || !errors.Is(err, ErrMissingSigningKey) {
		t.Fatalf("expected missing signing key error, got %v", err)
	}
	_, err = New(Config{SigningKey: []byte("secret")})
	if err == nil || !errors.Is(err, ErrMissingIssuer) {
		t.Fatalf("expected missing issuer error, got %v", err)
	}
}

func TestNewValidatorDefaultsClock(t *testing.T) {
	t.Parallel()

	validator, err := New(Config{SigningKey: []byte("secret"), Issuer: "issuer"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if validator.clock == nil {
		t.Fatalf("expected default clock to be set")
	}
}

func TestValidateTokenSuccess(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	validator := newTestValidator(t, "secret-key", "issuer", now)
	tokenValue := mintToken(t, "secret-key", "issuer", now, time.Minute)

	claims, validateErr := validator.ValidateToken(tokenValue)
	if validateErr != nil {
		t.Fatalf("unexpected validation error: %v", validateErr)
	}
	if claims.GetChampionID() != 42 || claims.GetEmail() != "champion@example.com" {
		t.Fatalf("unexpected claims: %#v", claims)
	}
	if !claims.GetExpiresAt().Equal(now.Add(time.Minute)) {
		t.Fatalf("unexpected expiry: %v", claims.GetExpiresAt())
	}
}

func TestValidateTokenRejectsInvalidCases(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	tests := []struct {
		name      string
		tokenFunc func() string
		expectErr error
	}{
		{
			name:      "empty token",
			tokenFunc: func() string { return "" },
			expectErr: ErrMissingToken,
		},
		{
			name: "bad signature",
			tokenFunc: func() string {
				return mintToken(t, "other-key", "issuer", now, time.Minute)
			},
			expectErr: ErrInvalidToken,
		},
		{
			name: "wrong issuer",
			tokenFunc: func() string {
				return mintToken(t, "secret-key", "other-issuer", now, time.Minute)
			},
			expectErr: ErrInvalidIssuer,
		},
		{
			name: "expired",
			tokenFunc: func() string {
				return mintToken(t, "secret-key", "issuer", now.Add(-2*time.Minute), time.Minute)
			},
			expectErr: ErrTokenExpired,
		},
		{
			name:      "garbage",
			tokenFunc: func() string { return "not.a.jwt" },
			expectErr: ErrInvalidToken,
		},
	}

	validator := newTestValidator(t, "secret-key", "issuer", now)
	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			_, validateErr := validator.ValidateToken(testCase.tokenFunc())
			if validateErr == nil || !errors.Is(validateErr, testCase.expectErr) {
				t.Fatalf("expected %v, got %v", testCase.expectErr, validateErr)
			}
		})
	}
}

func TestValidateRequest(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	tokenValue := mintToken(t, "secret-key", "issuer", now, time.Minute)
	validator := newTestValidator(t, "secret-key", "issuer", now)

	request := httptest.NewRequest(http.MethodGet, "/protected", nil)
	request.Header.Set("Authorization", "Bearer "+tokenValue)
	claims, validateErr := validator.ValidateRequest(request)
	if validateErr != nil {
		t.Fatalf("unexpected validation error: %v", validateErr)
	}
	if claims.GetChampionID() != 42 {
		t.Fatalf("unexpected champion: %v", claims.GetChampionID())
	}

	lowercase := httptest.NewRequest(http.MethodGet, "/protected", nil)
	lowercase.Header.Set("Authorization", "bearer "+tokenValue)
	if _, err := validator.ValidateRequest(lowercase); err != nil {
		t.Fatalf("expected case-insensitive scheme, got %v", err)
	}

	for _, header := range []string{"", "Bearer", "Basic abc"} {
		badRequest := httptest.NewRequest(http.MethodGet, "/protected", nil)
		if header != "" {
			badRequest.Header.Set("Authorization", header)
		}
		_, missingErr := validator.ValidateRequest(badRequest)
		if missingErr == nil || !errors.Is(missingErr, ErrMissingBearer) {
			t.Fatalf("header %q: expected missing bearer error, got %v", header, missingErr)
		}
	}
}

func TestGinMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	now := time.Unix(1700000000, 0).UTC()
	tokenValue := mintToken(t, "secret-key", "issuer", now, time.Minute)
	validator := newTestValidator(t, "secret-key", "issuer", now)

	router := gin.New()
	router.Use(validator.GinMiddleware(""))
	router.GET("/protected", func(contextGin *gin.Context) {
		claims, ok := ClaimsFromContext(contextGin, "")
		if !ok {
			t.Fatalf("claims missing")
		}
		contextGin.JSON(http.StatusOK, gin.H{"champion_id": claims.GetChampionID()})
	})

	request := httptest.NewRequest(http.MethodGet, "/protected", nil)
	request.Header.Set("Authorization", "Bearer "+tokenValue)
	response := httptest.NewRecorder()
	router.ServeHTTP(response, request)
	if response.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", response.Code)
	}

	requestMissing := httptest.NewRequest(http.MethodGet, "/protected", nil)
	responseMissing := httptest.NewRecorder()
	router.ServeHTTP(responseMissing, requestMissing)
	if responseMissing.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for missing bearer, got %d", responseMissing.Code)
	}
}
