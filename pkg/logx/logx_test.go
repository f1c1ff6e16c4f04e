package logx

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDebugDomainFiltering(t *testing.T) {
	cfgMutex.Lock()
	cfg.enabled = true
	cfgMutex.Unlock()
	defer func() {
		cfgMutex.Lock()
		cfg.enabled = false
		cfg.domains = nil
		cfgMutex.Unlock()
	}()

	SetDebugDomains([]string{"pipeline"})
	require.True(t, IsDebugEnabledForDomain("pipeline"))
	require.False(t, IsDebugEnabledForDomain("controller"))

	SetDebugDomains(nil)
	require.True(t, IsDebugEnabledForDomain("controller"))
}

func TestDebugDisabledGlobally(t *testing.T) {
	cfgMutex.Lock()
	cfg.enabled = false
	cfg.domains = nil
	cfgMutex.Unlock()

	require.False(t, IsDebugEnabledForDomain("pipeline"))
}

func TestWrapNilIsNil(t *testing.T) {
	require.NoError(t, Wrap(nil, "context"))
}

func TestWrapWrapsError(t *testing.T) {
	base := Errorf("boom")
	wrapped := Wrap(base, "loading config")
	require.ErrorContains(t, wrapped, "loading config")
	require.ErrorContains(t, wrapped, "boom")
}
