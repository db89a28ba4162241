package relay

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/dgrijalva/jwt-go"
)

var (
	errorTokenClaimsInvalid = fmt.Errorf("Token claims invalid: must have RID")
)

type accessToken struct {
	RID string `json:"rid"`
	*jwt.StandardClaims
}

func (t *accessToken) Valid() error {
	if t.RID == "" {
		return errorTokenClaimsInvalid
	}

	if t.StandardClaims != nil {
		return t.StandardClaims.Valid()
	}
	return nil
}

func authGetAndValidateToken(config AuthConfig, r *http.Request) (*accessToken, error) {
	vars := r.URL.Query()
	log.Info("Authenticating token")
	tokenParam := vars["access_token"]
	if tokenParam == nil || len(tokenParam) < 1 {
		return nil, errors.New("no token")
	}

	tokenStr := tokenParam[0]

	token, err := jwt.ParseWithClaims(tokenStr, &accessToken{}, config.keyFunc)
	if err != nil {
		return nil, err
	}
	return token.Claims.(*accessToken), nil
}
