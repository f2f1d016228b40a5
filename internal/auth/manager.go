// Package auth rotates the single-use Adform refresh token and persists the
// replacement before any API call is made with the new access token.
package auth

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/adform-extractor/internal/failure"
	"github.com/sells-group/adform-extractor/internal/model"
	"github.com/sells-group/adform-extractor/pkg/adform"
)

// TokenSaver persists a rotated refresh token.
type TokenSaver interface {
	Save(ctx context.Context, state model.TokenState) error
}

// Source names where the exchanged refresh token came from.
type Source string

const (
	SourceState         Source = "state"
	SourceAuthorization Source = "authorization"
)

// SelectRefreshToken picks the refresh token to exchange. The state token
// wins when present and either no authority was recorded with it or it
// belongs to the configured authority.
func SelectRefreshToken(cred model.Credential, prior model.TokenState) (string, Source) {
	if prior.RefreshToken != "" && (prior.AuthID == "" || prior.AuthID == cred.AuthorityID) {
		return prior.RefreshToken, SourceState
	}
	return cred.RefreshToken, SourceAuthorization
}

// Manager exchanges refresh tokens. A Manager never submits the same
// refresh token twice.
type Manager struct {
	tokens adform.TokenClient
	store  TokenSaver
	log    *zap.Logger

	mu   sync.Mutex
	used map[string]struct{}
}

// NewManager creates a token manager.
func NewManager(tokens adform.TokenClient, store TokenSaver) *Manager {
	return &Manager{
		tokens: tokens,
		store:  store,
		log:    zap.L().With(zap.String("component", "auth")),
		used:   make(map[string]struct{}),
	}
}

// ObtainAccessToken exchanges the authoritative refresh token once, persists
// the returned refresh token and then returns cred with both tokens set.
func (m *Manager) ObtainAccessToken(ctx context.Context, cred model.Credential, prior model.TokenState) (model.Credential, error) {
	token, source := SelectRefreshToken(cred, prior)
	if source == SourceState {
		m.log.Info("refresh token loaded from state file")
	} else {
		m.log.Info("refresh token loaded from authorization", zap.Bool("first_run", prior.IsZero()))
	}
	if token == "" {
		return model.Credential{}, failure.New(failure.AuthExchangeFailed, "Failed to fetch token: no refresh token available, please re-authorize")
	}

	if err := m.claim(token); err != nil {
		return model.Credential{}, err
	}

	resp, err := m.tokens.Refresh(ctx, cred.ClientID, cred.ClientSecret, token)
	if err != nil {
		return model.Credential{}, failure.Wrap(failure.AuthExchangeFailed, err, "Failed to fetch token")
	}

	state := model.TokenState{AuthID: cred.AuthorityID, RefreshToken: resp.RefreshToken}
	if err := m.store.Save(ctx, state); err != nil {
		return model.Credential{}, eris.Wrap(err, "auth: persist rotated refresh token")
	}

	cred.RefreshToken = resp.RefreshToken
	cred.AccessToken = resp.AccessToken
	return cred, nil
}

// claim marks token as submitted. Adform invalidates a refresh token when it
// is exchanged, so a second submission would always fail.
func (m *Manager) claim(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.used[token]; ok {
		return eris.New("auth: refresh token was already exchanged in this process")
	}
	m.used[token] = struct{}{}
	return nil
}
