package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledProviderIsNoOp(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	// All recording paths must be safe without initialized instruments.
	done := p.TrackRun(context.Background(), "case-1")
	done()

	ctx, finish := p.TrackStep(context.Background(), "case-1", "ingest_evidence")
	assert.NotNil(t, ctx)
	finish(errors.New("boom"))
	finish2 := p.TrackRun(ctx, "case-1")
	finish2()

	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "dossier-core", cfg.ServiceName)
	assert.Equal(t, 1.0, cfg.SampleRate)
	assert.True(t, cfg.Enabled)
	assert.False(t, cfg.Insecure)
}

func TestTracerAvailableWithoutInit(t *testing.T) {
	p := &Provider{}
	assert.NotNil(t, p.Tracer())
	ctx, span := p.StartSpan(context.Background(), "test")
	assert.NotNil(t, ctx)
	span.End()
}
