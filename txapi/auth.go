package txapi

import (
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	jwtverifier "github.com/okta/okta-jwt-verifier-golang"
)

// envDev/envQA are env-driven auth bypasses for local/QA runs, under this project's own env
// vars: DYNATX_ENV=DEV skips auth entirely for local development, DYNATX_ENV=QA compares the
// bearer token against DYNATX_QA_TOKEN instead of verifying it against Okta.
const (
	envDev = "DEV"
	envQA  = "QA"
)

var claimsToValidate = map[string]string{
	"aud": "api://default",
	"cid": os.Getenv("OKTA_CLIENT_ID"),
}

// verify checks the request's bearer token, writing the appropriate failure response itself
// when verification fails.
func verify(c *gin.Context) bool {
	if os.Getenv("DYNATX_ENV") == envDev {
		return true
	}

	token := c.Request.Header.Get("Authorization")
	if !strings.HasPrefix(token, "Bearer ") {
		c.String(http.StatusUnauthorized, "Unauthorized")
		return false
	}
	token = strings.TrimPrefix(token, "Bearer ")

	if os.Getenv("DYNATX_ENV") == envQA {
		if token == os.Getenv("DYNATX_QA_TOKEN") {
			return true
		}
	}

	verifierSetup := jwtverifier.JwtVerifier{
		Issuer:           "https://" + os.Getenv("OKTA_DOMAIN") + "/oauth2/default",
		ClaimsToValidate: claimsToValidate,
	}
	if _, err := verifierSetup.New().VerifyAccessToken(token); err != nil {
		c.String(http.StatusForbidden, err.Error())
		return false
	}
	return true
}

// RequireAuth wraps a handler so it only runs once verify succeeds, the closure shape the
// a handler builds inline as header-token verification.
func RequireAuth(h func(c *gin.Context)) func(c *gin.Context) {
	return func(c *gin.Context) {
		if verify(c) {
			h(c)
		}
	}
}
