package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

func (s *PostgresStore) CreateAuthorizationCode(ctx context.Context, code AuthorizationCode) (AuthorizationCode, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO authorization_codes (code, state, user_id, expires_in)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, code, state, user_id, expires_in`,
		code.Code, code.State, code.UserID, code.ExpiresIn)
	var created AuthorizationCode
	err := row.Scan(&created.ID, &created.CreatedAt, &created.Code, &created.State, &created.UserID, &created.ExpiresIn)
	if err != nil {
		return AuthorizationCode{}, fmt.Errorf("insert authorization code: %w", err)
	}
	return created, nil
}

// ConsumeAuthorizationCode deletes the code and returns it; a code resolves at
// most once. Expiry is checked by the caller against created_at + expires_in.
func (s *PostgresStore) ConsumeAuthorizationCode(ctx context.Context, code string) (AuthorizationCode, error) {
	row := s.db.QueryRowContext(ctx, `
		DELETE FROM authorization_codes WHERE code=$1
		RETURNING id, created_at, code, state, user_id, expires_in`, code)
	var consumed AuthorizationCode
	err := row.Scan(&consumed.ID, &consumed.CreatedAt, &consumed.Code, &consumed.State, &consumed.UserID, &consumed.ExpiresIn)
	if err != nil {
		return AuthorizationCode{}, err
	}
	return consumed, nil
}

// PurgeExpiredCodes removes authorization codes past their TTL.
func (s *PostgresStore) PurgeExpiredCodes(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM authorization_codes
		WHERE created_at + make_interval(secs => expires_in) < NOW()`)
	if err != nil {
		return 0, fmt.Errorf("purge expired codes: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// CreateTokenPair issues an access token and its linked refresh token in one
// transaction.
func (s *PostgresStore) CreateTokenPair(ctx context.Context, access AccessToken, refresh RefreshToken) (AccessToken, RefreshToken, error) {
	var createdAccess AccessToken
	var createdRefresh RefreshToken
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			INSERT INTO access_tokens (access_token, user_id, expires_in, expires_at)
			VALUES ($1, $2, $3, $4)
			RETURNING id, created_at, access_token, user_id, expires_in, expires_at`,
			access.Token, access.UserID, access.ExpiresIn, access.ExpiresAt)
		err := row.Scan(&createdAccess.ID, &createdAccess.CreatedAt, &createdAccess.Token,
			&createdAccess.UserID, &createdAccess.ExpiresIn, &createdAccess.ExpiresAt)
		if err != nil {
			return fmt.Errorf("insert access token: %w", err)
		}

		row = tx.QueryRowContext(ctx, `
			INSERT INTO refresh_tokens (refresh_token, access_token_id, user_id, expires_in, expires_at)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, created_at, refresh_token, access_token_id, user_id, expires_in, expires_at`,
			refresh.Token, createdAccess.ID, refresh.UserID, refresh.ExpiresIn, refresh.ExpiresAt)
		err = row.Scan(&createdRefresh.ID, &createdRefresh.CreatedAt, &createdRefresh.Token,
			&createdRefresh.AccessTokenID, &createdRefresh.UserID, &createdRefresh.ExpiresIn, &createdRefresh.ExpiresAt)
		if err != nil {
			return fmt.Errorf("insert refresh token: %w", err)
		}
		return nil
	})
	if err != nil {
		return AccessToken{}, RefreshToken{}, err
	}
	return createdAccess, createdRefresh, nil
}

func (s *PostgresStore) GetAccessToken(ctx context.Context, token string) (AccessToken, error) {
	var at AccessToken
	err := s.db.QueryRowContext(ctx, `
		SELECT id, created_at, access_token, user_id, expires_in, expires_at
		FROM access_tokens WHERE access_token=$1`, token).
		Scan(&at.ID, &at.CreatedAt, &at.Token, &at.UserID, &at.ExpiresIn, &at.ExpiresAt)
	return at, err
}

// ConsumeRefreshToken deletes the refresh token and its access token in one
// transaction and returns the consumed row. Refresh tokens resolve at most
// once; the access-token delete cascades from the token pair link.
func (s *PostgresStore) ConsumeRefreshToken(ctx context.Context, token string) (RefreshToken, error) {
	var consumed RefreshToken
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			DELETE FROM refresh_tokens WHERE refresh_token=$1
			RETURNING id, created_at, refresh_token, access_token_id, user_id, expires_in, expires_at`, token)
		err := row.Scan(&consumed.ID, &consumed.CreatedAt, &consumed.Token,
			&consumed.AccessTokenID, &consumed.UserID, &consumed.ExpiresIn, &consumed.ExpiresAt)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM access_tokens WHERE id=$1`, consumed.AccessTokenID); err != nil {
			return fmt.Errorf("delete paired access token: %w", err)
		}
		return nil
	})
	if err != nil {
		return RefreshToken{}, err
	}
	return consumed, nil
}

// PurgeExpiredTokens removes access and refresh tokens past expiry.
func (s *PostgresStore) PurgeExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	var purged int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE expires_at < $1`, now)
		if err != nil {
			return fmt.Errorf("purge refresh tokens: %w", err)
		}
		n, _ := res.RowsAffected()
		purged += n

		res, err = tx.ExecContext(ctx, `
			DELETE FROM access_tokens
			WHERE expires_at < $1
			AND NOT EXISTS (SELECT 1 FROM refresh_tokens rt WHERE rt.access_token_id = access_tokens.id)`, now)
		if err != nil {
			return fmt.Errorf("purge access tokens: %w", err)
		}
		n, _ = res.RowsAffected()
		purged += n
		return nil
	})
	return purged, err
}
