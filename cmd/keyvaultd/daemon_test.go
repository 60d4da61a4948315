package main

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesmerverse/maci-keyvault/internal/broker"
	"github.com/mesmerverse/maci-keyvault/internal/config"
	"github.com/mesmerverse/maci-keyvault/internal/harden"
	"github.com/mesmerverse/maci-keyvault/internal/keystore"
	"github.com/mesmerverse/maci-keyvault/internal/protocol"
	"github.com/mesmerverse/maci-keyvault/internal/router"
)

func testConfig(principal string) *config.Config {
	cfg := config.Default()
	cfg.DevMode = true
	cfg.Principal.ID = principal
	cfg.Store.Path = memoryStorePath
	return cfg
}

func TestCoreApprovalFlow(t *testing.T) {
	ctx := context.Background()

	notified := make(chan broker.Request, 1)
	c, err := newCore(ctx, testConfig("daemon-flow"), prometheus.NewRegistry(), func(req broker.Request) {
		notified <- req
	})
	require.NoError(t, err)
	t.Cleanup(c.Close)

	res := c.router.HandleInternal(ctx, router.InternalRequest{Action: "setPassword", Password: "Abc12345!"})
	require.True(t, res.Success, res.Error)

	reply := make(chan protocol.Frame, 1)
	go func() {
		reply <- c.router.HandleExternal(ctx, protocol.Frame{
			Type:    protocol.TypeRequest,
			Payload: map[string]any{"action": "generateKeypair"},
		})
	}()

	req := <-notified
	assert.Equal(t, broker.ActionGenerateKeypair, req.Action)
	require.NoError(t, c.broker.Resolve(req.ID, true))

	f := <-reply
	require.Equal(t, protocol.TypeResponse, f.Type)
	rec, ok := f.Payload.(protocol.Result).Data.(*keystore.Record)
	require.True(t, ok)
	assert.Equal(t, keystore.StatusActive, rec.Status)

	list, err := c.keys.ListKeyPairs(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, rec.PublicKey, list[0].PublicKey)
}

func TestCoreEnforcesPasswordPolicy(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig("daemon-policy")

	c, err := newCore(ctx, cfg, nil, nil)
	require.NoError(t, err)
	t.Cleanup(c.Close)

	_, ok := c.vault.CurrentPassword()
	assert.False(t, ok)

	res := c.router.HandleInternal(ctx, router.InternalRequest{Action: "setPassword", Password: "weak"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "Password does not meet requirements")
}

func TestNewBackupStoreDefaultsToMemory(t *testing.T) {
	store, err := newBackupStore(context.Background(), config.BackupConfig{Driver: "memory"})
	require.NoError(t, err)
	require.NotNil(t, store)
}

func TestHardenOptionsFromConfig(t *testing.T) {
	cfg := config.Default()
	assert.Equal(t, harden.Options{}, hardenOptions(cfg))

	cfg.Harden.LockMemory = true
	assert.Equal(t, harden.Options{LockMemory: true}, hardenOptions(cfg))
}
