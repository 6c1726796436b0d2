package debug

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/stockdesk/config"
)

func TestDisabledDebuggerIsNoop(t *testing.T) {
	cfg := config.DefaultConfigWithRoot(t.TempDir())
	cfg.EinoDebugEnabled = false
	cfg.EinoDebugPort = 52538

	d := NewEinoDebugger(cfg, nil)
	require.NoError(t, d.Initialize(context.Background()))
	assert.False(t, d.IsEnabled())
	assert.Empty(t, d.URL())

	cfg.EinoDebugEnabled = true
	assert.Equal(t, "http://localhost:52538", NewEinoDebugger(cfg, nil).URL())
}
