// Package credential decodes the bearer tokens issued by the identity service.
//
// Tokens are decoded WITHOUT verifying their signature: the client trusts the issuing service, not the token. The
// application id obtained here is provisional until the services authorize a request made with the token.
package credential

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tarancss/prvd/lib/types"
)

// Credential is a bearer token and the application id found in its subject claim.
type Credential struct {
	token string
	appID string
}

// New decodes token and returns its credential, or types.ErrMalformedCredential if the token cannot be decoded or
// has no subject.
func New(token string) (Credential, error) {
	appID, err := ApplicationID(token)
	if err != nil {
		return Credential{}, err
	}
	return Credential{token: token, appID: appID}, nil
}

// Token returns the bearer token.
func (c Credential) Token() string {
	return c.token
}

// ApplicationID returns the application id derived at construction.
func (c Credential) ApplicationID() string {
	return c.appID
}

// ApplicationID returns the last colon-delimited segment of the token subject claim.
func ApplicationID(token string) (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrMalformedCredential, err)
	}

	sub, err := claims.GetSubject()
	if err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrMalformedCredential, err)
	}
	if sub == "" {
		return "", fmt.Errorf("%w: missing subject claim", types.ErrMalformedCredential)
	}

	parts := strings.Split(sub, ":")
	appID := parts[len(parts)-1]
	if appID == "" {
		return "", fmt.Errorf("%w: empty application id in subject %q", types.ErrMalformedCredential, sub)
	}
	return appID, nil
}
