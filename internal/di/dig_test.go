package di

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/dig"

	"github.com/cdcops/dms-replicator/internal/dao/checkpointdao"
	"github.com/cdcops/dms-replicator/internal/dao/lockdao"
	"github.com/cdcops/dms-replicator/internal/dao/tabledao"
	"github.com/cdcops/dms-replicator/internal/replicator"
	"github.com/cdcops/dms-replicator/internal/services"
	"github.com/cdcops/dms-replicator/internal/validator"
)

var _ Container = (*dig.Container)(nil)

func mockOperator() tabledao.TableOperator {
	return &tabledao.MockTableOperator{}
}

func TestNew(t *testing.T) {
	t.Run("ProvidesEnvironment", func(t *testing.T) {
		container, err := New("staging")
		require.NoError(t, err)

		var env string
		require.NoError(t, container.Invoke(func(e string) { env = e }))
		assert.Equal(t, "staging", env)
	})

	t.Run("DuplicateProviderFails", func(t *testing.T) {
		_, err := New("dev", WithProviders(mockOperator, mockOperator))
		assert.Error(t, err)
	})

	t.Run("ChainsWithProviders", func(t *testing.T) {
		container, err := New("dev",
			WithProviders(mockOperator),
			WithProviders(ProvideLockDAO),
		)
		require.NoError(t, err)

		require.NoError(t, container.Invoke(func(op tabledao.TableOperator, dao *lockdao.DAO) {
			assert.NotNil(t, op)
			assert.NotNil(t, dao)
		}))
	})
}

func TestMustGet(t *testing.T) {
	t.Run("ResolvesCoreScanner", func(t *testing.T) {
		container, err := New("dev")
		require.NoError(t, err)

		scanner := MustGet[services.S3Scanner](container)
		assert.NotNil(t, scanner)
	})

	t.Run("PanicsWhenUnregistered", func(t *testing.T) {
		container, err := New("dev")
		require.NoError(t, err)

		assert.Panics(t, func() {
			MustGet[*validator.Validator](container)
		})
	})
}

// The replicate command's provider set: both DAOs, the Postgres operator,
// and the replicator itself resolve from one container.
func TestReplicatorWiring(t *testing.T) {
	container, err := New("dev",
		WithProviders(
			ProvideLockDAO,
			ProvideCheckpointDAO,
			mockOperator,
			ProvideReplicator,
			ProvideValidator,
		),
	)
	require.NoError(t, err)

	assert.NotNil(t, MustGet[*lockdao.DAO](container))
	assert.NotNil(t, MustGet[*checkpointdao.DAO](container))
	assert.NotNil(t, MustGet[*replicator.Replicator](container))
	assert.NotNil(t, MustGet[*validator.Validator](container))
}

func TestProvideContext(t *testing.T) {
	logger := ProvideLogger()
	ctx := ProvideContext(logger)

	// zerolog.Ctx falls back to a disabled logger when none is attached.
	attached := zerolog.Ctx(ctx)
	assert.NotEqual(t, zerolog.Disabled, attached.GetLevel())
	assert.Equal(t, logger.GetLevel(), attached.GetLevel())
}

func TestProvideLogger(t *testing.T) {
	t.Run("DefaultsToInfo", func(t *testing.T) {
		assert.Equal(t, zerolog.InfoLevel, ProvideLogger().GetLevel())
	})

	t.Run("LogLevelOverride", func(t *testing.T) {
		t.Setenv("LOG_LEVEL", "debug")
		assert.Equal(t, zerolog.DebugLevel, ProvideLogger().GetLevel())
	})

	t.Run("BadLogLevelIgnored", func(t *testing.T) {
		t.Setenv("LOG_LEVEL", "loud")
		assert.Equal(t, zerolog.InfoLevel, ProvideLogger().GetLevel())
	})
}
