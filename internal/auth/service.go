package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"storyboard/api/internal/store"
	"storyboard/api/internal/util"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

type tokenStore interface {
	UpsertUserByOpenID(ctx context.Context, openid, fullName, email string) (store.User, error)
	CreateAuthorizationCode(ctx context.Context, code store.AuthorizationCode) (store.AuthorizationCode, error)
	ConsumeAuthorizationCode(ctx context.Context, code string) (store.AuthorizationCode, error)
	CreateTokenPair(ctx context.Context, access store.AccessToken, refresh store.RefreshToken) (store.AccessToken, store.RefreshToken, error)
	GetAccessToken(ctx context.Context, token string) (store.AccessToken, error)
	ConsumeRefreshToken(ctx context.Context, token string) (store.RefreshToken, error)
}

// Service implements the authorization-code and refresh-token flows on top of
// an OpenID 2.0 identity provider.
type Service struct {
	store      tokenStore
	openid     *OpenIDClient
	codeTTL    time.Duration
	accessTTL  time.Duration
	refreshTTL time.Duration
	clients    map[string]struct{}
	now        func() time.Time
}

func NewService(s tokenStore, openid *OpenIDClient, codeTTL, accessTTL, refreshTTL time.Duration, validClients []string) *Service {
	clients := make(map[string]struct{}, len(validClients))
	for _, c := range validClients {
		clients[c] = struct{}{}
	}
	return &Service{
		store:      s,
		openid:     openid,
		codeTTL:    codeTTL,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		clients:    clients,
		now:        time.Now,
	}
}

// BeginAuthorize validates the authorization request and returns the provider
// redirect. returnTo is this service's callback, which will carry the
// caller's redirect_uri and state through the provider round-trip.
func (s *Service) BeginAuthorize(clientID, redirectURI, responseType, scope, state, returnTo string) (string, error) {
	// A usable redirect_uri means later validation failures are delivered by
	// redirect rather than a direct error response.
	redirectOK := validRedirectURI(redirectURI)
	fail := func(code, description string) error {
		err := oauthError(code, description)
		if redirectOK {
			err.RedirectURI = redirectURI
			err.State = state
		}
		return err
	}

	if !redirectOK {
		return "", oauthError(ErrInvalidRequest, "redirect_uri must be a valid http(s) URI")
	}
	if responseType != "code" {
		return "", fail(ErrUnsupportedResponseType, "response_type must be 'code'")
	}
	if clientID == "" {
		return "", fail(ErrInvalidClient, "client_id is missing")
	}
	if _, ok := s.clients[clientID]; !ok {
		return "", fail(ErrInvalidClient, "unknown client_id")
	}
	if scope != "user" {
		return "", fail(ErrInvalidScope, "scope must be 'user'")
	}

	callback := returnTo
	sep := "?"
	if strings.Contains(callback, "?") {
		sep = "&"
	}
	callback += sep + url.Values{"sb_redirect_uri": {redirectURI}, "state": {state}}.Encode()
	return s.openid.AuthorizeURL(callback), nil
}

// CompleteAuthorize verifies the provider assertion, upserts the user and
// returns the caller redirect carrying a fresh single-use code.
func (s *Service) CompleteAuthorize(ctx context.Context, params url.Values) (string, error) {
	redirectURI := params.Get("sb_redirect_uri")
	state := params.Get("state")
	attachRedirect := func(err error) error {
		var oe *OAuthError
		if errors.As(err, &oe) && validRedirectURI(redirectURI) {
			oe.RedirectURI = redirectURI
			oe.State = state
		}
		return err
	}

	assertion, err := s.openid.VerifyResponse(ctx, params)
	if err != nil {
		return "", attachRedirect(err)
	}

	user, err := s.store.UpsertUserByOpenID(ctx, assertion.OpenID, assertion.FullName, assertion.Email)
	if err != nil {
		return "", fmt.Errorf("upsert user: %w", err)
	}
	if !user.EnableLogin {
		return "", attachRedirect(oauthError(ErrAccessDenied, "login is disabled for this user"))
	}

	code, err := s.store.CreateAuthorizationCode(ctx, store.AuthorizationCode{
		Code:      util.NewToken(),
		State:     state,
		UserID:    user.ID,
		ExpiresIn: int(s.codeTTL.Seconds()),
	})
	if err != nil {
		return "", fmt.Errorf("create authorization code: %w", err)
	}

	if !validRedirectURI(redirectURI) {
		return "", oauthError(ErrInvalidRequest, "redirect_uri must be a valid http(s) URI")
	}
	sep := "?"
	if strings.Contains(redirectURI, "?") {
		sep = "&"
	}
	return redirectURI + sep + url.Values{"code": {code.Code}, "state": {state}}.Encode(), nil
}

// TokenResponse is the token endpoint's success payload.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
	IDToken      int64  `json:"id_token"`
}

// Exchange swaps an authorization code or a refresh token for a fresh token
// pair. Codes and refresh tokens are single-use; exchanging a refresh token
// invalidates its prior access token atomically.
func (s *Service) Exchange(ctx context.Context, grantType, code, refreshToken string) (TokenResponse, error) {
	switch grantType {
	case "authorization_code":
		return s.exchangeCode(ctx, code)
	case "refresh_token":
		return s.exchangeRefresh(ctx, refreshToken)
	default:
		return TokenResponse{}, oauthError(ErrUnsupportedGrantType, "grant_type must be authorization_code or refresh_token")
	}
}

func (s *Service) exchangeCode(ctx context.Context, code string) (TokenResponse, error) {
	if code == "" {
		return TokenResponse{}, oauthError(ErrInvalidRequest, "code is missing")
	}
	consumed, err := s.store.ConsumeAuthorizationCode(ctx, code)
	if errors.Is(err, sql.ErrNoRows) {
		return TokenResponse{}, oauthError(ErrInvalidGrant, "authorization code is invalid")
	}
	if err != nil {
		return TokenResponse{}, fmt.Errorf("consume authorization code: %w", err)
	}

	expiry := consumed.CreatedAt.UTC().Add(time.Duration(consumed.ExpiresIn) * time.Second)
	if !s.now().UTC().Before(expiry) {
		return TokenResponse{}, oauthError(ErrInvalidGrant, "authorization code has expired")
	}
	return s.issuePair(ctx, consumed.UserID)
}

func (s *Service) exchangeRefresh(ctx context.Context, refreshToken string) (TokenResponse, error) {
	if refreshToken == "" {
		return TokenResponse{}, oauthError(ErrInvalidRequest, "refresh_token is missing")
	}
	consumed, err := s.store.ConsumeRefreshToken(ctx, refreshToken)
	if errors.Is(err, sql.ErrNoRows) {
		return TokenResponse{}, oauthError(ErrInvalidGrant, "refresh token is invalid")
	}
	if err != nil {
		return TokenResponse{}, fmt.Errorf("consume refresh token: %w", err)
	}
	if !s.now().UTC().Before(consumed.ExpiresAt.UTC()) {
		return TokenResponse{}, oauthError(ErrInvalidGrant, "refresh token has expired")
	}
	return s.issuePair(ctx, consumed.UserID)
}

func (s *Service) issuePair(ctx context.Context, userID int64) (TokenResponse, error) {
	now := s.now().UTC()
	access := store.AccessToken{
		Token:     util.NewToken(),
		UserID:    userID,
		ExpiresIn: int(s.accessTTL.Seconds()),
		ExpiresAt: now.Add(s.accessTTL),
	}
	refresh := store.RefreshToken{
		Token:     util.NewToken(),
		UserID:    userID,
		ExpiresIn: int(s.refreshTTL.Seconds()),
		ExpiresAt: now.Add(s.refreshTTL),
	}
	createdAccess, createdRefresh, err := s.store.CreateTokenPair(ctx, access, refresh)
	if err != nil {
		return TokenResponse{}, fmt.Errorf("issue token pair: %w", err)
	}
	return TokenResponse{
		AccessToken:  createdAccess.Token,
		RefreshToken: createdRefresh.Token,
		ExpiresIn:    createdAccess.ExpiresIn,
		TokenType:    "Bearer",
		IDToken:      userID,
	}, nil
}

// Validate resolves a bearer token to its user id. Invalid and expired tokens
// are indistinguishable to callers.
func (s *Service) Validate(ctx context.Context, token string) (int64, error) {
	if token == "" {
		return 0, ErrInvalidToken
	}
	at, err := s.store.GetAccessToken(ctx, token)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrInvalidToken
	}
	if err != nil {
		return 0, fmt.Errorf("lookup access token: %w", err)
	}
	if !s.now().UTC().Before(at.ExpiresAt.UTC()) {
		return 0, ErrExpiredToken
	}
	return at.UserID, nil
}

// Lookup returns the stored access token record for a valid bearer token.
func (s *Service) Lookup(ctx context.Context, token string) (store.AccessToken, error) {
	at, err := s.store.GetAccessToken(ctx, token)
	if errors.Is(err, sql.ErrNoRows) {
		return store.AccessToken{}, ErrInvalidToken
	}
	if err != nil {
		return store.AccessToken{}, fmt.Errorf("lookup access token: %w", err)
	}
	return at, nil
}

func validRedirectURI(raw string) bool {
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
