package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func claims(uid string, ttl time.Duration) *LearnerClaims {
	return &LearnerClaims{
		UID:   uid,
		Email: "ada@example.com",
		Name:  "Ada",
		StandardClaims: jwt.StandardClaims{
			ExpiresAt: time.Now().Add(ttl).Unix(),
		},
	}
}

func TestValidate(t *testing.T) {
	ju := NewJWTUtil("HS256", "secret", "player_token")

	token, err := ju.Sign(claims("u1", time.Minute))
	require.NoError(t, err)
	got, err := ju.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", got.Learner().ID)
	assert.Equal(t, "Ada", got.Learner().Name)

	expired, err := ju.Sign(claims("u1", -time.Minute))
	require.NoError(t, err)
	_, err = ju.Validate(expired)
	assert.Error(t, err)

	anonymous, err := ju.Sign(claims("", time.Minute))
	require.NoError(t, err)
	_, err = ju.Validate(anonymous)
	assert.Error(t, err)
}

func TestValidateRejectsOtherKeysAndMethods(t *testing.T) {
	ju := NewJWTUtil("HS256", "secret", "player_token")

	forged, err := NewJWTUtil("HS256", "other", "").Sign(claims("u1", time.Minute))
	require.NoError(t, err)
	_, err = ju.Validate(forged)
	assert.Error(t, err)

	hs512, err := NewJWTUtil("HS512", "secret", "").Sign(claims("u1", time.Minute))
	require.NoError(t, err)
	_, err = ju.Validate(hs512)
	assert.Error(t, err)
}

func TestExtractToken(t *testing.T) {
	ju := NewJWTUtil("HS256", "secret", "player_token")
	e := echo.New()

	tests := []struct {
		name    string
		prepare func(r *http.Request)
		target  string
		want    string
		wantErr bool
	}{
		{"bearer header", func(r *http.Request) { r.Header.Set("Authorization", "Bearer abc") }, "/", "abc", false},
		{"basic header", func(r *http.Request) { r.Header.Set("Authorization", "Basic abc") }, "/", "", true},
		{"cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: "player_token", Value: "def"}) }, "/", "def", false},
		{"query", func(r *http.Request) {}, "/ws?access_token=ghi", "ghi", false},
		{"none", func(r *http.Request) {}, "/", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			tt.prepare(req)
			c := e.NewContext(req, httptest.NewRecorder())

			got, err := ju.ExtractToken(c)
			if tt.wantErr {
				assert.Equal(t, ErrNoToken, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
