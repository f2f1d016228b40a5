package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/adform-extractor/internal/failure"
	"github.com/sells-group/adform-extractor/internal/model"
	"github.com/sells-group/adform-extractor/pkg/adform"
	"github.com/sells-group/adform-extractor/pkg/adform/mocks"
)

type recordingSaver struct {
	saved []model.TokenState
	err   error
}

func (r *recordingSaver) Save(_ context.Context, s model.TokenState) error {
	if r.err != nil {
		return r.err
	}
	r.saved = append(r.saved, s)
	return nil
}

var testCred = model.Credential{
	ClientID:     "client",
	ClientSecret: "secret",
	AuthorityID:  "auth-1",
	RefreshToken: "R0",
}

func TestSelectRefreshToken(t *testing.T) {
	tests := []struct {
		name       string
		prior      model.TokenState
		wantToken  string
		wantSource Source
	}{
		{"empty state", model.TokenState{}, "R0", SourceAuthorization},
		{"state without authority", model.TokenState{RefreshToken: "S1"}, "S1", SourceState},
		{"state with matching authority", model.TokenState{AuthID: "auth-1", RefreshToken: "S1"}, "S1", SourceState},
		{"state from another authority", model.TokenState{AuthID: "auth-old", RefreshToken: "S1"}, "R0", SourceAuthorization},
		{"authority without token", model.TokenState{AuthID: "auth-1"}, "R0", SourceAuthorization},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, source := SelectRefreshToken(testCred, tt.prior)
			assert.Equal(t, tt.wantToken, token)
			assert.Equal(t, tt.wantSource, source)
		})
	}
}

func TestObtainAccessToken_PersistsReturnedToken(t *testing.T) {
	tokens := mocks.NewMockTokenClient(t)
	tokens.On("Refresh", mock.Anything, "client", "secret", "R0").
		Return(&adform.TokenResponse{AccessToken: "A1", RefreshToken: "R1"}, nil).Once()
	saver := &recordingSaver{}

	m := NewManager(tokens, saver)
	cred, err := m.ObtainAccessToken(context.Background(), testCred, model.TokenState{})
	require.NoError(t, err)

	assert.Equal(t, "A1", cred.AccessToken)
	assert.Equal(t, "R1", cred.RefreshToken)
	assert.Equal(t, []model.TokenState{{AuthID: "auth-1", RefreshToken: "R1"}}, saver.saved)
}

func TestObtainAccessToken_SavesBeforeReturning(t *testing.T) {
	tokens := mocks.NewMockTokenClient(t)
	tokens.On("Refresh", mock.Anything, "client", "secret", "S1").
		Return(&adform.TokenResponse{AccessToken: "A2", RefreshToken: "S2"}, nil).Once()
	saver := &recordingSaver{err: errors.New("disk full")}

	m := NewManager(tokens, saver)
	_, err := m.ObtainAccessToken(context.Background(), testCred, model.TokenState{AuthID: "auth-1", RefreshToken: "S1"})
	require.Error(t, err)
	assert.Equal(t, failure.ExitUnexpected, failure.ExitCode(err))
}

func TestObtainAccessToken_ExchangeFailed(t *testing.T) {
	tokens := mocks.NewMockTokenClient(t)
	tokens.On("Refresh", mock.Anything, "client", "secret", "R0").
		Return(nil, errors.New("adform: token unexpected status 400")).Once()
	saver := &recordingSaver{}

	m := NewManager(tokens, saver)
	_, err := m.ObtainAccessToken(context.Background(), testCred, model.TokenState{})
	require.Error(t, err)
	assert.Equal(t, failure.AuthExchangeFailed, failure.KindOf(err))
	assert.Contains(t, err.Error(), "Failed to fetch token")
	assert.Empty(t, saver.saved)
}

func TestObtainAccessToken_NeverReusesToken(t *testing.T) {
	tokens := mocks.NewMockTokenClient(t)
	tokens.On("Refresh", mock.Anything, "client", "secret", "R0").
		Return(&adform.TokenResponse{AccessToken: "A1", RefreshToken: "R1"}, nil).Once()
	saver := &recordingSaver{}

	m := NewManager(tokens, saver)
	_, err := m.ObtainAccessToken(context.Background(), testCred, model.TokenState{})
	require.NoError(t, err)

	_, err = m.ObtainAccessToken(context.Background(), testCred, model.TokenState{})
	require.Error(t, err)
	tokens.AssertNumberOfCalls(t, "Refresh", 1)
}

func TestObtainAccessToken_NoToken(t *testing.T) {
	tokens := mocks.NewMockTokenClient(t)
	cred := testCred
	cred.RefreshToken = ""

	m := NewManager(tokens, &recordingSaver{})
	_, err := m.ObtainAccessToken(context.Background(), cred, model.TokenState{})
	require.Error(t, err)
	assert.Equal(t, failure.AuthExchangeFailed, failure.KindOf(err))
	tokens.AssertNotCalled(t, "Refresh", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
