package auth

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/adform-extractor/internal/model"
	"github.com/sells-group/adform-extractor/internal/resilience"
	"github.com/sells-group/adform-extractor/pkg/keboola"
)

// StateFile is the local run-state channel.
type StateFile interface {
	ReadState() (model.TokenState, error)
	WriteState(state model.TokenState) error
}

// Store persists the refresh token through the local run state and, when a
// remote client is configured, the encrypted configuration state.
type Store struct {
	local  StateFile
	remote keboola.Client
	policy resilience.Policy
	log    *zap.Logger
}

// NewStore creates a token store. remote may be nil.
func NewStore(local StateFile, remote keboola.Client, policy resilience.Policy) *Store {
	return &Store{
		local:  local,
		remote: remote,
		policy: policy,
		log:    zap.L().With(zap.String("component", "token_store")),
	}
}

// Load returns the state left by the previous run.
func (s *Store) Load(_ context.Context) (model.TokenState, error) {
	state, err := s.local.ReadState()
	if err != nil {
		return model.TokenState{}, eris.Wrap(err, "auth: load state")
	}
	return state, nil
}

// Save writes state locally and then remotely. Only a local failure is
// returned; remote failures are logged.
func (s *Store) Save(ctx context.Context, state model.TokenState) error {
	local := s.policy.WithLogging("state_file", "write")
	if err := local.Do(ctx, func(_ context.Context) error {
		return s.local.WriteState(state)
	}); err != nil {
		return eris.Wrap(err, "auth: save local state")
	}

	if s.remote == nil {
		return nil
	}
	if err := s.saveRemote(ctx, state); err != nil {
		s.log.Warn("failed to save refresh token to configuration state; the next run relies on local state",
			zap.Error(err))
	}
	return nil
}

func (s *Store) saveRemote(ctx context.Context, state model.TokenState) error {
	cipher, err := resilience.Value(ctx, s.policy.WithLogging("keboola", "encrypt"), func(ctx context.Context) (string, error) {
		return s.remote.Encrypt(ctx, state.RefreshToken)
	})
	if err != nil {
		return eris.Wrap(err, "auth: encrypt refresh token")
	}

	encrypted := model.TokenState{AuthID: state.AuthID, RefreshToken: cipher}
	err = s.policy.WithLogging("keboola", "update_state").Do(ctx, func(ctx context.Context) error {
		return s.remote.UpdateConfigState(ctx, encrypted)
	})
	if err != nil {
		return eris.Wrap(err, "auth: update configuration state")
	}
	s.log.Debug("refresh token saved to configuration state")
	return nil
}
