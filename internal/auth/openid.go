package auth

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	openidNS         = "http://specs.openid.net/auth/2.0"
	identifierSelect = "http://specs.openid.net/auth/2.0/identifier_select"
	sregNS           = "http://openid.net/extensions/sreg/1.1"
	axNS             = "http://openid.net/srv/ax/1.0"

	axFirstName = "http://schema.openid.net/namePerson/first"
	axLastName  = "http://schema.openid.net/namePerson/last"
	axEmail     = "http://schema.openid.net/contact/email"
)

// OpenIDClient speaks the OpenID 2.0 checkid_setup / check_authentication
// exchange with a configured provider.
type OpenIDClient struct {
	ProviderURL string
	HTTPClient  *http.Client
}

func NewOpenIDClient(providerURL string, timeout time.Duration) *OpenIDClient {
	return &OpenIDClient{
		ProviderURL: providerURL,
		HTTPClient:  &http.Client{Timeout: timeout},
	}
}

// AuthorizeURL builds the provider redirect for a login attempt. returnTo is
// the callback that will receive the provider's assertion.
func (c *OpenIDClient) AuthorizeURL(returnTo string) string {
	realm := returnTo
	if u, err := url.Parse(returnTo); err == nil {
		realm = u.Scheme + "://" + u.Host
	}
	params := url.Values{
		"openid.ns":            {openidNS},
		"openid.mode":          {"checkid_setup"},
		"openid.claimed_id":    {identifierSelect},
		"openid.identity":      {identifierSelect},
		"openid.return_to":     {returnTo},
		"openid.realm":         {realm},
		"openid.ns.sreg":       {sregNS},
		"openid.sreg.required": {"fullname,email,nickname"},
		"openid.ns.ax":         {axNS},
		"openid.ax.mode":       {"fetch_request"},
		"openid.ax.type.FirstName": {axFirstName},
		"openid.ax.type.LastName":  {axLastName},
		"openid.ax.type.Email":     {axEmail},
		"openid.ax.required":       {"FirstName,LastName,Email"},
	}
	sep := "?"
	if strings.Contains(c.ProviderURL, "?") {
		sep = "&"
	}
	return c.ProviderURL + sep + params.Encode()
}

// Assertion is the verified identity extracted from a provider response.
type Assertion struct {
	OpenID   string
	Email    string
	FullName string
	Nickname string
}

// VerifyResponse makes the check_authentication back-call for a positive
// assertion and extracts the user attributes. The provider must answer
// is_valid:true, and both a name and an email must be present.
func (c *OpenIDClient) VerifyResponse(ctx context.Context, params url.Values) (Assertion, error) {
	if params.Get("openid.mode") != "id_res" {
		return Assertion{}, oauthError(ErrAccessDenied, "authentication was cancelled or failed")
	}

	verify := url.Values{}
	for key, values := range params {
		if strings.HasPrefix(key, "openid.") {
			verify[key] = values
		}
	}
	verify.Set("openid.mode", "check_authentication")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.ProviderURL, strings.NewReader(verify.Encode()))
	if err != nil {
		return Assertion{}, fmt.Errorf("build verification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return Assertion{}, fmt.Errorf("verify assertion: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return Assertion{}, fmt.Errorf("read verification response: %w", err)
	}
	if !verificationValid(string(body)) {
		return Assertion{}, oauthError(ErrAccessDenied, "provider rejected the assertion")
	}

	assertion := Assertion{
		OpenID:   params.Get("openid.claimed_id"),
		Email:    params.Get("openid.sreg.email"),
		FullName: params.Get("openid.sreg.fullname"),
		Nickname: params.Get("openid.sreg.nickname"),
	}
	if assertion.OpenID == "" {
		assertion.OpenID = params.Get("openid.identity")
	}
	if assertion.Email == "" {
		assertion.Email = axValue(params, "Email")
	}
	if assertion.FullName == "" {
		first := axValue(params, "FirstName")
		last := axValue(params, "LastName")
		assertion.FullName = strings.TrimSpace(first + " " + last)
	}

	if assertion.FullName == "" || assertion.Email == "" {
		return Assertion{}, oauthError(ErrInvalidRequest, "provider did not supply a name and email")
	}
	return assertion, nil
}

// verificationValid parses the key:value response body of
// check_authentication.
func verificationValid(body string) bool {
	for _, line := range strings.Split(body, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), ":")
		if ok && key == "is_valid" && value == "true" {
			return true
		}
	}
	return false
}

// axValue finds an attribute-exchange value regardless of the alias the
// provider chose for the attribute type.
func axValue(params url.Values, name string) string {
	want := map[string]string{
		"FirstName": axFirstName,
		"LastName":  axLastName,
		"Email":     axEmail,
	}[name]
	for key, values := range params {
		if !strings.HasPrefix(key, "openid.ax.type.") || len(values) == 0 || values[0] != want {
			continue
		}
		alias := strings.TrimPrefix(key, "openid.ax.type.")
		if v := params.Get("openid.ax.value." + alias); v != "" {
			return v
		}
	}
	return params.Get("openid.ax.value." + name)
}
