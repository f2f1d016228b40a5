package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/adform-extractor/internal/model"
	"github.com/sells-group/adform-extractor/internal/resilience"
	"github.com/sells-group/adform-extractor/pkg/keboola/mocks"
)

type memState struct {
	in       model.TokenState
	out      []model.TokenState
	writeErr error
}

func (m *memState) ReadState() (model.TokenState, error) { return m.in, nil }

func (m *memState) WriteState(s model.TokenState) error {
	if m.writeErr != nil {
		return m.writeErr
	}
	m.out = append(m.out, s)
	return nil
}

func fastPolicy() resilience.Policy {
	return resilience.Policy{MaxAttempts: 5, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func TestStoreSaveLocalOnly(t *testing.T) {
	local := &memState{}
	s := NewStore(local, nil, fastPolicy())

	require.NoError(t, s.Save(context.Background(), model.TokenState{AuthID: "a", RefreshToken: "rt-1"}))
	assert.Equal(t, []model.TokenState{{AuthID: "a", RefreshToken: "rt-1"}}, local.out)
}

func TestStoreSaveRemoteEncrypts(t *testing.T) {
	local := &memState{}
	remote := mocks.NewMockClient(t)
	remote.On("Encrypt", mock.Anything, "rt-1").Return("KBC::ProjectSecure::x", nil).Once()
	remote.On("UpdateConfigState", mock.Anything, model.TokenState{AuthID: "a", RefreshToken: "KBC::ProjectSecure::x"}).
		Return(nil).Once()

	s := NewStore(local, remote, fastPolicy())
	require.NoError(t, s.Save(context.Background(), model.TokenState{AuthID: "a", RefreshToken: "rt-1"}))

	require.Len(t, local.out, 1)
	assert.Equal(t, "rt-1", local.out[0].RefreshToken)
}

func TestStoreSaveRetriesTransientRemoteFailures(t *testing.T) {
	remote := mocks.NewMockClient(t)
	remote.On("Encrypt", mock.Anything, "rt-1").
		Return("", resilience.NewTransientError(errors.New("503"), 503)).Twice()
	remote.On("Encrypt", mock.Anything, "rt-1").Return("cipher", nil).Once()
	remote.On("UpdateConfigState", mock.Anything, mock.Anything).Return(nil).Once()

	s := NewStore(&memState{}, remote, fastPolicy())
	require.NoError(t, s.Save(context.Background(), model.TokenState{AuthID: "a", RefreshToken: "rt-1"}))
}

func TestStoreSaveSwallowsRemoteFailure(t *testing.T) {
	local := &memState{}
	remote := mocks.NewMockClient(t)
	remote.On("Encrypt", mock.Anything, "rt-1").
		Return("", resilience.NewTransientError(errors.New("503"), 503)).Times(5)

	s := NewStore(local, remote, fastPolicy())
	require.NoError(t, s.Save(context.Background(), model.TokenState{AuthID: "a", RefreshToken: "rt-1"}))
	assert.Len(t, local.out, 1)
	remote.AssertNotCalled(t, "UpdateConfigState", mock.Anything, mock.Anything)
}

func TestStoreSavePermanentRemoteFailureNotRetried(t *testing.T) {
	remote := mocks.NewMockClient(t)
	remote.On("Encrypt", mock.Anything, "rt-1").Return("cipher", nil).Once()
	remote.On("UpdateConfigState", mock.Anything, mock.Anything).Return(errors.New("401 unauthorized")).Once()

	s := NewStore(&memState{}, remote, fastPolicy())
	require.NoError(t, s.Save(context.Background(), model.TokenState{AuthID: "a", RefreshToken: "rt-1"}))
}

func TestStoreSaveLocalFailure(t *testing.T) {
	remote := mocks.NewMockClient(t)
	s := NewStore(&memState{writeErr: errors.New("read-only file system")}, remote, fastPolicy())

	err := s.Save(context.Background(), model.TokenState{AuthID: "a", RefreshToken: "rt-1"})
	require.Error(t, err)
	remote.AssertNotCalled(t, "Encrypt", mock.Anything, mock.Anything)
}

func TestStoreLoad(t *testing.T) {
	s := NewStore(&memState{in: model.TokenState{AuthID: "a", RefreshToken: "rt"}}, nil, fastPolicy())
	state, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "rt", state.RefreshToken)
}
