// Package app assembles the daemon: identity, relay pool, session engine
// and the JSON-RPC surface, with one Run call owning their lifecycles.
package app

import (
	"context"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"bunkerd/internal/config"
	"bunkerd/internal/identity"
	"bunkerd/internal/nip46"
	"bunkerd/internal/relaybus"
	"bunkerd/internal/rpc"
)

type Daemon struct {
	cfg    config.Config
	log    zerolog.Logger
	pubkey string
	signer *nip46.Signer
	server *rpc.Server
}

// New builds a fully wired daemon from the configuration. It loads (or
// creates) the identity key and opens no network connections yet; those
// belong to Run.
func New(ctx context.Context, cfg config.Config, version string) (*Daemon, error) {
	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	secretKey, err := identity.Load(cfg.IdentityFile)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load identity")
	}

	var secrets nip46.SecretRegistry
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, errors.Wrap(err, "failed to reach redis")
		}
		secrets = nip46.NewRedisSecrets(client, cfg.NIP46.SessionTTL())
		log.Info().Str("addr", cfg.Redis.Addr).Msg("using redis used-secrets registry")
	}

	bus := relaybus.NewPool(ctx)
	relays := relaybus.NewSet(cfg.Relays)
	store := nip46.NewStore(secrets)
	client := nip46.NewClient(bus, cfg.NIP46.Timeout(), log)

	signer, err := nip46.NewSigner(
		secretKey, store, bus, relays,
		cfg.NIP46.Perms, cfg.NIP46.SessionTTL(), log,
	)
	if err != nil {
		return nil, err
	}

	registry := rpc.NewRegistry()
	rpc.Register(registry, rpc.Deps{
		Log:       log,
		SecretKey: secretKey,
		Pubkey:    signer.Pubkey(),
		Store:     store,
		Client:    client,
		Signer:    signer,
		Relays:    relays,
		TTL:       cfg.NIP46.SessionTTL(),
		Perms:     cfg.NIP46.Perms,
		Version:   version,
	})

	return &Daemon{
		cfg:    cfg,
		log:    log,
		pubkey: signer.Pubkey(),
		signer: signer,
		server: rpc.NewServer(cfg.RPC.Addr, cfg.RPC.MaxRequestBodySize, registry, log),
	}, nil
}

// Run starts the signer loop and the RPC server and blocks until ctx is
// cancelled or either of them fails on its own.
func (d *Daemon) Run(ctx context.Context) error {
	d.log.Info().
		Str("pubkey", d.pubkey).
		Str("rpc_addr", d.cfg.RPC.Addr).
		Strs("relays", d.cfg.Relays).
		Msg("bunkerd starting")

	errc := make(chan error, 2)

	go func() {
		errc <- errors.Wrap(d.signer.Run(ctx), "signer stopped")
	}()
	go func() {
		errc <- errors.Wrap(d.server.ListenAndServe(), "rpc server stopped")
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errc:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.server.Shutdown(shutdownCtx); err != nil {
		d.log.Warn().Err(err).Msg("rpc server shutdown failed")
	}

	d.log.Info().Msg("bunkerd stopped")
	return runErr
}

func newLogger(level string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Logger{}, errors.Wrapf(err, "invalid log level %q", level)
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger(), nil
}
