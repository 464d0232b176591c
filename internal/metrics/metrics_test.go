package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister_AllCollectorsOnce(t *testing.T) {
	// Given: a fresh registry
	reg := prometheus.NewRegistry()

	// When: registering
	require.NoError(t, Register(reg))

	// Then: a second registration conflicts
	assert.Error(t, Register(reg))

	IndexUpdates.WithLabelValues("content", "ok").Inc()
	families, err := reg.Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["repoindex_index_manager_updates"])
}
