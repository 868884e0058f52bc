package api

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"
	echo "github.com/labstack/echo/v5"
)

// Identity is the resolved caller of one request: which tenant it acts
// for, which subject (user/service) made the call, and whether it
// carries the admin marker spec.md §6 requires for cross-tenant reads.
type Identity struct {
	TenantID string
	Subject  string
	Admin    bool
}

// Authenticator resolves an Identity from a request, generalizing the
// teacher's oauth2-proxy header idiom (the original extractAuthor) from
// a single author string into a full tenant/subject/admin triple, with
// an optional bearer-JWT path for callers that present one.
//
// Header fallback mirrors the teacher exactly: X-Forwarded-User then
// X-Forwarded-Email then a default subject. A bearer token, when
// present and valid, takes priority over both. The admin marker spec.md
// §6 requires for cross-tenant reads comes from the token's admin claim
// on the bearer path, or from an "X-Admin: true" header on the header
// path.
type Authenticator struct {
	secret []byte
}

// NewAuthenticator builds an Authenticator. An empty secret disables
// bearer-token verification; only the header fallback is used (suitable
// for deployments behind a trusted reverse proxy, matching the
// teacher's oauth2-proxy deployment model).
func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

type claims struct {
	TenantID string `json:"tenant_id"`
	Admin    bool   `json:"admin"`
	jwt.RegisteredClaims
}

// Resolve extracts the caller's Identity from c. Precedence: a valid
// bearer token, then X-Forwarded-User, then X-Forwarded-Email, then the
// "default" tenant and "api-client" subject, per spec.md §6 ("absence
// resolves to default").
func (a *Authenticator) Resolve(c *echo.Context) Identity {
	if len(a.secret) > 0 {
		if id, ok := a.fromBearer(c); ok {
			return id
		}
	}

	id := Identity{TenantID: "default", Subject: "api-client"}
	if tenant := c.Request().Header.Get("X-Tenant-ID"); tenant != "" {
		id.TenantID = tenant
	}
	if user := c.Request().Header.Get("X-Forwarded-User"); user != "" {
		id.Subject = user
	} else if email := c.Request().Header.Get("X-Forwarded-Email"); email != "" {
		id.Subject = email
	}
	if c.Request().Header.Get("X-Admin") == "true" {
		id.Admin = true
	}
	return id
}

func (a *Authenticator) fromBearer(c *echo.Context) (Identity, bool) {
	header := c.Request().Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return Identity{}, false
	}
	raw := strings.TrimPrefix(header, prefix)

	var cl claims
	token, err := jwt.ParseWithClaims(raw, &cl, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return Identity{}, false
	}

	tenantID := cl.TenantID
	if tenantID == "" {
		tenantID = "default"
	}
	subject := cl.Subject
	if subject == "" {
		subject = "api-client"
	}
	return Identity{TenantID: tenantID, Subject: subject, Admin: cl.Admin}, true
}

// identityKey is the echo.Context Set/Get key the tenant middleware
// stores the resolved Identity under.
const identityKey = "marketplace.identity"

func identityFrom(c *echo.Context) Identity {
	if v := c.Get(identityKey); v != nil {
		if id, ok := v.(Identity); ok {
			return id
		}
	}
	return Identity{TenantID: "default", Subject: "api-client"}
}
