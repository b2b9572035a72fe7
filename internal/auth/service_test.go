package auth

import (
	"context"
	"database/sql"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"storyboard/api/internal/store"
)

type fakeTokenStore struct {
	upsertUserByOpenID      func(ctx context.Context, openid, fullName, email string) (store.User, error)
	createAuthorizationCode func(ctx context.Context, code store.AuthorizationCode) (store.AuthorizationCode, error)
	consumeAuthCode         func(ctx context.Context, code string) (store.AuthorizationCode, error)
	createTokenPair         func(ctx context.Context, access store.AccessToken, refresh store.RefreshToken) (store.AccessToken, store.RefreshToken, error)
	getAccessToken          func(ctx context.Context, token string) (store.AccessToken, error)
	consumeRefreshToken     func(ctx context.Context, token string) (store.RefreshToken, error)
}

func (f *fakeTokenStore) UpsertUserByOpenID(ctx context.Context, openid, fullName, email string) (store.User, error) {
	return f.upsertUserByOpenID(ctx, openid, fullName, email)
}

func (f *fakeTokenStore) CreateAuthorizationCode(ctx context.Context, code store.AuthorizationCode) (store.AuthorizationCode, error) {
	return f.createAuthorizationCode(ctx, code)
}

func (f *fakeTokenStore) ConsumeAuthorizationCode(ctx context.Context, code string) (store.AuthorizationCode, error) {
	return f.consumeAuthCode(ctx, code)
}

func (f *fakeTokenStore) CreateTokenPair(ctx context.Context, access store.AccessToken, refresh store.RefreshToken) (store.AccessToken, store.RefreshToken, error) {
	return f.createTokenPair(ctx, access, refresh)
}

func (f *fakeTokenStore) GetAccessToken(ctx context.Context, token string) (store.AccessToken, error) {
	return f.getAccessToken(ctx, token)
}

func (f *fakeTokenStore) ConsumeRefreshToken(ctx context.Context, token string) (store.RefreshToken, error) {
	return f.consumeRefreshToken(ctx, token)
}

func passthroughPair(ctx context.Context, access store.AccessToken, refresh store.RefreshToken) (store.AccessToken, store.RefreshToken, error) {
	return access, refresh, nil
}

func newTestAuthService(f *fakeTokenStore) *Service {
	openid := NewOpenIDClient("https://login.example.org/openid", time.Second)
	return NewService(f, openid, 5*time.Minute, time.Hour, 168*time.Hour, []string{"webclient"})
}

func TestBeginAuthorizeValidation(t *testing.T) {
	svc := newTestAuthService(&fakeTokenStore{})

	cases := []struct {
		name         string
		clientID     string
		redirectURI  string
		responseType string
		scope        string
		wantCode     string
		wantRedirect bool
	}{
		{
			name:     "bad redirect_uri fails directly",
			clientID: "webclient", redirectURI: "not a uri", responseType: "code", scope: "user",
			wantCode: ErrInvalidRequest, wantRedirect: false,
		},
		{
			name:     "wrong response_type delivered by redirect",
			clientID: "webclient", redirectURI: "https://app.example.org/cb", responseType: "token", scope: "user",
			wantCode: ErrUnsupportedResponseType, wantRedirect: true,
		},
		{
			name:     "unknown client",
			clientID: "intruder", redirectURI: "https://app.example.org/cb", responseType: "code", scope: "user",
			wantCode: ErrInvalidClient, wantRedirect: true,
		},
		{
			name:     "bad scope",
			clientID: "webclient", redirectURI: "https://app.example.org/cb", responseType: "code", scope: "admin",
			wantCode: ErrInvalidScope, wantRedirect: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.BeginAuthorize(tc.clientID, tc.redirectURI, tc.responseType, tc.scope, "xyz", "/v1/openid/authorize")
			var oe *OAuthError
			if !errors.As(err, &oe) {
				t.Fatalf("expected OAuthError, got %v", err)
			}
			if oe.Code != tc.wantCode {
				t.Fatalf("code = %q, want %q", oe.Code, tc.wantCode)
			}
			if got := oe.RedirectURI != ""; got != tc.wantRedirect {
				t.Fatalf("redirect delivery = %v, want %v", got, tc.wantRedirect)
			}
		})
	}
}

func TestBeginAuthorizeBuildsProviderURL(t *testing.T) {
	svc := newTestAuthService(&fakeTokenStore{})

	location, err := svc.BeginAuthorize("webclient", "https://app.example.org/cb", "code", "user", "state-1", "/v1/openid/authorize")
	if err != nil {
		t.Fatalf("BeginAuthorize: %v", err)
	}
	if !strings.HasPrefix(location, "https://login.example.org/openid") {
		t.Fatalf("location does not target the provider: %s", location)
	}
	u, err := url.Parse(location)
	if err != nil {
		t.Fatalf("parse location: %v", err)
	}
	returnTo := u.Query().Get("openid.return_to")
	if returnTo == "" {
		t.Fatal("missing openid.return_to")
	}
	ret, err := url.Parse(returnTo)
	if err != nil {
		t.Fatalf("parse return_to: %v", err)
	}
	if ret.Query().Get("sb_redirect_uri") != "https://app.example.org/cb" {
		t.Fatalf("redirect_uri not threaded through return_to: %s", returnTo)
	}
	if ret.Query().Get("state") != "state-1" {
		t.Fatalf("state not threaded through return_to: %s", returnTo)
	}
}

func TestExchangeCodeSingleUse(t *testing.T) {
	consumed := false
	f := &fakeTokenStore{
		consumeAuthCode: func(ctx context.Context, code string) (store.AuthorizationCode, error) {
			if consumed || code != "good-code" {
				return store.AuthorizationCode{}, sql.ErrNoRows
			}
			consumed = true
			return store.AuthorizationCode{Code: code, UserID: 7, CreatedAt: time.Now().UTC(), ExpiresIn: 300}, nil
		},
		createTokenPair: passthroughPair,
	}
	svc := newTestAuthService(f)

	resp, err := svc.Exchange(context.Background(), "authorization_code", "good-code", "")
	if err != nil {
		t.Fatalf("first exchange: %v", err)
	}
	if resp.AccessToken == "" || resp.RefreshToken == "" {
		t.Fatal("empty token pair")
	}
	if resp.TokenType != "Bearer" {
		t.Fatalf("token_type = %q", resp.TokenType)
	}
	if resp.IDToken != 7 {
		t.Fatalf("id_token = %d, want 7", resp.IDToken)
	}

	_, err = svc.Exchange(context.Background(), "authorization_code", "good-code", "")
	var oe *OAuthError
	if !errors.As(err, &oe) || oe.Code != ErrInvalidGrant {
		t.Fatalf("second exchange: expected invalid_grant, got %v", err)
	}
}

func TestExchangeExpiredCode(t *testing.T) {
	f := &fakeTokenStore{
		consumeAuthCode: func(ctx context.Context, code string) (store.AuthorizationCode, error) {
			return store.AuthorizationCode{
				Code: code, UserID: 7,
				CreatedAt: time.Now().UTC().Add(-10 * time.Minute),
				ExpiresIn: 300,
			}, nil
		},
		createTokenPair: passthroughPair,
	}
	svc := newTestAuthService(f)

	_, err := svc.Exchange(context.Background(), "authorization_code", "stale", "")
	var oe *OAuthError
	if !errors.As(err, &oe) || oe.Code != ErrInvalidGrant {
		t.Fatalf("expected invalid_grant, got %v", err)
	}
}

func TestExchangeRefreshRotation(t *testing.T) {
	consumed := false
	f := &fakeTokenStore{
		consumeRefreshToken: func(ctx context.Context, token string) (store.RefreshToken, error) {
			if consumed || token != "refresh-1" {
				return store.RefreshToken{}, sql.ErrNoRows
			}
			consumed = true
			return store.RefreshToken{Token: token, UserID: 7, ExpiresAt: time.Now().UTC().Add(time.Hour)}, nil
		},
		createTokenPair: passthroughPair,
	}
	svc := newTestAuthService(f)

	resp, err := svc.Exchange(context.Background(), "refresh_token", "", "refresh-1")
	if err != nil {
		t.Fatalf("refresh exchange: %v", err)
	}
	if resp.RefreshToken == "refresh-1" {
		t.Fatal("refresh token was not rotated")
	}

	_, err = svc.Exchange(context.Background(), "refresh_token", "", "refresh-1")
	var oe *OAuthError
	if !errors.As(err, &oe) || oe.Code != ErrInvalidGrant {
		t.Fatalf("replayed refresh: expected invalid_grant, got %v", err)
	}
}

func TestExchangeUnknownGrantType(t *testing.T) {
	svc := newTestAuthService(&fakeTokenStore{})

	_, err := svc.Exchange(context.Background(), "password", "", "")
	var oe *OAuthError
	if !errors.As(err, &oe) || oe.Code != ErrUnsupportedGrantType {
		t.Fatalf("expected unsupported_grant_type, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	f := &fakeTokenStore{
		getAccessToken: func(ctx context.Context, token string) (store.AccessToken, error) {
			switch token {
			case "live":
				return store.AccessToken{Token: token, UserID: 7, ExpiresAt: time.Now().UTC().Add(time.Hour)}, nil
			case "stale":
				return store.AccessToken{Token: token, UserID: 7, ExpiresAt: time.Now().UTC().Add(-time.Minute)}, nil
			default:
				return store.AccessToken{}, sql.ErrNoRows
			}
		},
	}
	svc := newTestAuthService(f)
	ctx := context.Background()

	userID, err := svc.Validate(ctx, "live")
	if err != nil {
		t.Fatalf("Validate live: %v", err)
	}
	if userID != 7 {
		t.Fatalf("user id = %d, want 7", userID)
	}

	if _, err := svc.Validate(ctx, "stale"); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
	if _, err := svc.Validate(ctx, "nope"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if _, err := svc.Validate(ctx, ""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for empty token, got %v", err)
	}
}
