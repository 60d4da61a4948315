package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/mesmerverse/maci-keyvault/internal/approvalapi"
	"github.com/mesmerverse/maci-keyvault/internal/broker"
	"github.com/mesmerverse/maci-keyvault/internal/config"
	"github.com/mesmerverse/maci-keyvault/internal/keymanager"
	"github.com/mesmerverse/maci-keyvault/internal/keystore"
	"github.com/mesmerverse/maci-keyvault/internal/metrics"
	"github.com/mesmerverse/maci-keyvault/internal/natsbus"
	"github.com/mesmerverse/maci-keyvault/internal/passwordvault"
	"github.com/mesmerverse/maci-keyvault/internal/protocol"
	"github.com/mesmerverse/maci-keyvault/internal/ratelimit"
	"github.com/mesmerverse/maci-keyvault/internal/router"
	"github.com/mesmerverse/maci-keyvault/internal/vaulterr"
)

// memoryStorePath opens the key store in memory instead of on disk
const memoryStorePath = ":memory:"

// core is everything that does not need the network
type core struct {
	db      *keystore.DB
	vault   *passwordvault.Vault
	keys    *keymanager.Manager
	broker  *broker.Broker
	router  *router.Router
	metrics *metrics.Metrics
	limiter *ratelimit.Limiter
}

// newCore opens the key store, unlocks the principal's session and wires the
// request path. notify receives new approval requests and may be nil.
func newCore(ctx context.Context, cfg *config.Config, reg prometheus.Registerer, notify broker.Notifier) (*core, error) {
	var (
		db  *keystore.DB
		err error
	)
	if cfg.Store.Path == memoryStorePath {
		db, err = keystore.OpenMemory("keyvault-" + cfg.Principal.ID)
	} else {
		db, err = keystore.Open(cfg.Store.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open key store: %w", err)
	}

	backup, err := newBackupStore(ctx, cfg.Backup)
	if err != nil {
		db.Close()
		return nil, err
	}

	opts := passwordvault.Options{
		KeyPrefix:     cfg.Backup.KeyPrefix,
		EnforcePolicy: cfg.Password.EnforcePolicy,
		BindPrincipal: cfg.Password.BindPrincipal,
	}
	if cfg.Backup.KMSKeyID != "" {
		sealer, err := passwordvault.NewKMSSealer(ctx, cfg.Backup.KMSKeyID, cfg.Backup.Region)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create KMS sealer: %w", err)
		}
		opts.Sealer = sealer
		log.Info().Str("key_id", cfg.Backup.KMSKeyID).Msg("Password backups sealed with KMS")
	}

	vault := passwordvault.New(backup, opts)
	if _, err := vault.Login(passwordvault.Principal{ID: cfg.Principal.ID, Email: cfg.Principal.Email}); err != nil {
		db.Close()
		return nil, err
	}

	restored, err := vault.Restore(ctx)
	if err != nil {
		// The password can still be set later; signing fails until then.
		log.Warn().Err(err).Msg("Failed to restore password backup")
	}
	log.Info().Bool("restored", restored).Msg("Password vault ready")

	m := metrics.New(reg)
	b := broker.New(broker.Options{
		Timeout:   cfg.Approval.Timeout(),
		Indicator: broker.Indicators(m, broker.LogIndicator{}),
		Notifier:  notify,
	})
	keys := keymanager.New(keystore.NewSQLiteStore(db), vault)

	if restored {
		if pk, err := keys.RecoverKeyPair(ctx); err == nil {
			log.Info().Str("public_key", pk).Msg("Active key pair unlocked")
		} else if !errors.Is(err, vaulterr.ErrNotFound) {
			log.Warn().Err(err).Msg("Active key pair does not unlock with the restored password")
		}
	}

	return &core{
		db:      db,
		vault:   vault,
		keys:    keys,
		broker:  b,
		router:  router.New(keys, vault, b, m),
		metrics: m,
		limiter: ratelimit.New(&ratelimit.Config{
			Enabled:           cfg.RateLimit.Enabled,
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		}),
	}, nil
}

// Close ends the session and closes the store
func (c *core) Close() {
	c.vault.Logout()
	if err := c.db.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close key store")
	}
}

func newBackupStore(ctx context.Context, cfg config.BackupConfig) (passwordvault.BackupStore, error) {
	switch cfg.Driver {
	case "s3":
		store, err := passwordvault.NewS3BackupStore(ctx, cfg.Bucket, cfg.Region)
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 backup store: %w", err)
		}
		log.Info().Str("bucket", cfg.Bucket).Msg("Password backups stored in S3")
		return store, nil
	default:
		log.Warn().Msg("Password backups kept in memory; they do not survive a restart")
		return passwordvault.NewMemoryBackupStore(), nil
	}
}

// Daemon serves one principal's vault over NATS and HTTP
type Daemon struct {
	config *config.Config
}

// NewDaemon creates a daemon
func NewDaemon(cfg *config.Config) *Daemon {
	return &Daemon{config: cfg}
}

// Run starts the daemon and blocks until ctx is cancelled
func (d *Daemon) Run(ctx context.Context) error {
	cfg := d.config

	codec, err := protocol.CodecFor(cfg.NATS.Encoding)
	if err != nil {
		return err
	}

	client, err := natsbus.Connect(cfg.NATS, "keyvaultd-"+cfg.Principal.ID)
	if err != nil {
		return err
	}
	defer client.Close()
	log.Info().Str("url", cfg.NATS.URL).Msg("Connected to NATS")

	subjects := natsbus.Subjects{Prefix: cfg.NATS.SubjectPrefix, Principal: cfg.Principal.ID}

	// The server needs the router and the broker needs the server's notifier.
	var natsServer *natsbus.Server
	c, err := newCore(ctx, cfg, prometheus.DefaultRegisterer, func(req broker.Request) {
		natsServer.NotifyApproval(req)
	})
	if err != nil {
		return err
	}
	defer c.Close()

	natsServer = natsbus.NewServer(client, subjects, c.router, codec, c.limiter, c.metrics)
	if err := natsServer.Start(); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	defer natsServer.Stop()

	if cfg.Approval.Token == "" {
		log.Warn().Msg("approval.token not set, the HTTP approval API will refuse every request")
	}
	api := approvalapi.NewServer(approvalapi.Config{
		ListenAddr: cfg.Approval.ListenAddr,
		Port:       cfg.Approval.HTTPPort,
		Token:      cfg.Approval.Token,
		Version:    Version,
		Approvals:  c.broker,
		Keys:       c.keys,
		Limiter:    c.limiter,
		Gatherer:   prometheus.DefaultGatherer,
		Ready:      client.IsConnected,
	})
	go api.Start()
	defer api.Stop()

	go d.cleanupLoop(ctx, c.limiter)

	log.Info().Str("principal", cfg.Principal.ID).Msg("Key vault running")
	<-ctx.Done()
	log.Info().Msg("Key vault stopping")
	return nil
}

func (d *Daemon) cleanupLoop(ctx context.Context, limiter *ratelimit.Limiter) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := limiter.Cleanup(); n > 0 {
				log.Debug().Int("removed", n).Msg("Dropped idle rate limiters")
			}
		}
	}
}
