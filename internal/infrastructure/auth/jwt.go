package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dgrijalva/jwt-go"
	"github.com/labstack/echo/v4"
	"github.com/pot-code/course-playback/internal/domain"
)

// learnerContextKey echo context key of verified claims
const learnerContextKey = "learner"

// ErrNoToken request carries no token
var ErrNoToken = errors.New("no token in request")

// LearnerClaims token issued by the LMS
type LearnerClaims struct {
	UID   string `json:"uid"`
	Email string `json:"email"`
	Name  string `json:"name"`

	jwt.StandardClaims
}

// Learner identity carried by the claims
func (lc *LearnerClaims) Learner() domain.Learner {
	return domain.Learner{
		ID:    lc.UID,
		Name:  lc.Name,
		Email: lc.Email,
	}
}

// Valid standard claims plus a learner id
func (lc *LearnerClaims) Valid() error {
	if err := lc.StandardClaims.Valid(); err != nil {
		return err
	}
	if lc.UID == "" {
		return errors.New("token has no uid")
	}
	return nil
}

// JWTUtil verifies learner tokens, signing is only used by tooling and tests
type JWTUtil struct {
	secret    []byte
	tokenName string
	method    jwt.SigningMethod
}

// NewJWTUtil create a JWTUtil instance
func NewJWTUtil(method, secret, tokenName string) *JWTUtil {
	var signMethod jwt.SigningMethod
	switch method {
	case "HS512":
		signMethod = jwt.SigningMethodHS512
	default:
		signMethod = jwt.SigningMethodHS256
	}
	return &JWTUtil{
		method:    signMethod,
		secret:    []byte(secret),
		tokenName: tokenName,
	}
}

// Sign sign token
func (ju *JWTUtil) Sign(claims *LearnerClaims) (string, error) {
	token := jwt.NewWithClaims(ju.method, claims)
	return token.SignedString(ju.secret)
}

// Validate validate token string with secret and return LearnerClaims
func (ju *JWTUtil) Validate(tokenStr string) (*LearnerClaims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &LearnerClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != ju.method.Alg() {
			return nil, fmt.Errorf("unexpected signing method %s", token.Method.Alg())
		}
		return ju.secret, nil
	})
	if err != nil {
		return nil, err
	}
	return token.Claims.(*LearnerClaims), nil
}

// SetContextToken set token in App context
func (ju *JWTUtil) SetContextToken(c echo.Context, token *LearnerClaims) {
	c.Set(learnerContextKey, token)
}

// GetContextToken get token from App context
func (ju *JWTUtil) GetContextToken(c echo.Context) *LearnerClaims {
	v, ok := c.Get(learnerContextKey).(*LearnerClaims)
	if ok {
		return v
	}
	return nil
}

// ExtractToken get token string from the Authorization header, the cookie or,
// for websocket upgrades, the access_token query parameter
func (ju *JWTUtil) ExtractToken(c echo.Context) (string, error) {
	if h := c.Request().Header.Get(echo.HeaderAuthorization); h != "" {
		const prefix = "Bearer "
		if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
			return h[len(prefix):], nil
		}
		return "", ErrNoToken
	}
	if cookie, err := c.Cookie(ju.tokenName); err == nil && cookie.Value != "" {
		return cookie.Value, nil
	}
	if q := c.QueryParam("access_token"); q != "" {
		return q, nil
	}
	return "", ErrNoToken
}
