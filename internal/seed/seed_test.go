package seed

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"atomic-guide-cac/internal/catalog"
	"atomic-guide-cac/internal/domain"
)

func TestBaseline_SeedsEveryFixtureWithValidConfig(t *testing.T) {
	cat := catalog.NewMemory()
	require.NoError(t, Baseline(context.Background(), cat, zerolog.Nop()))

	for _, def := range defs {
		cfg, err := cat.Get(context.Background(), def.ConfigID)
		require.NoError(t, err)
		assert.NoError(t, domain.ValidateConfig(cfg))
		assert.Equal(t, def.AssessmentTitle, cfg.AssessmentTitle)
	}
}

func TestBaseline_IsIdempotentAndDoesNotOverwriteExisting(t *testing.T) {
	cat := catalog.NewMemory()
	require.NoError(t, Baseline(context.Background(), cat, zerolog.Nop()))

	existing, err := cat.Get(context.Background(), defs[0].ConfigID)
	require.NoError(t, err)
	existing.AssessmentTitle = "Manually Edited"
	require.NoError(t, cat.Put(context.Background(), existing))

	require.NoError(t, Baseline(context.Background(), cat, zerolog.Nop()))

	after, err := cat.Get(context.Background(), defs[0].ConfigID)
	require.NoError(t, err)
	assert.Equal(t, "Manually Edited", after.AssessmentTitle)
}
