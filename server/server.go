package server

// This file contains most of the brains of the master server. It creates and
// launches all of the key components and background threads, and it handles
// shutting them all down as well.

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/glowlabs-org/threadgroup"
	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"

	"github.com/glowlabs-org/demo-master/signing"
)

// httpShutdownTimeout bounds how long Close waits for in-flight HTTP
// requests.
const httpShutdownTimeout = 5 * time.Second

// MasterServer is the demo master: a game server registry and, when a
// signing key is configured, the authority that signs demo attestations.
type MasterServer struct {
	staticConfig   Config
	staticEngine   *signing.Engine     // nil when signing is disabled
	staticHandler  *AttestationHandler // nil when signing is disabled
	staticRegistry *Registry
	staticLimiter  *peerLimiter
	staticSignSem  *semaphore.Weighted
	staticMetrics  *metrics

	logger     *Logger
	httpServer *http.Server
	httpAddr   net.Addr
	mux        *http.ServeMux
	udpConn    *net.UDPConn
	udpAddr    *net.UDPAddr
	queryConn  *net.UDPConn
	tg         threadgroup.ThreadGroup
}

// NewMasterServer validates the config, loads the signing key and starts
// listening. A missing or unusable signing key is an error: the server does
// not start with signing half configured.
func NewMasterServer(cfg Config) (*MasterServer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	level, _ := ParseLogLevel(cfg.LogLevel)

	ms := &MasterServer{
		staticConfig:   cfg,
		staticRegistry: NewRegistry(cfg.MaxServers, cfg.ServerTimeout, cfg.MetadataRefreshTime),
		staticLimiter:  newPeerLimiter(cfg.SignRateLimit, cfg.SignRateWindow),
		staticSignSem:  semaphore.NewWeighted(int64(cfg.SignWorkers)),
	}
	ms.staticMetrics = newMetrics(func() float64 {
		return float64(ms.staticRegistry.Len())
	})

	// Create the logger and provision its shutdown.
	logger, err := NewLogger(level, cfg.LogFile)
	if err != nil {
		return nil, errors.Wrap(err, "logger initialization failed")
	}
	ms.logger = logger
	ms.tg.AfterStop(func() error {
		return logger.Close()
	})

	// Load the authority's key. Without one the master still serves the
	// registry.
	if cfg.SigningEnabled() {
		engine, err := loadEngine(cfg)
		if err != nil {
			ms.logger.Errorf("Unable to load signing key %q: %v", cfg.SigningKey, err)
			_ = ms.tg.Stop()
			return nil, errors.Wrap(err, "unable to initialize signing")
		}
		ms.staticEngine = engine
		ms.staticHandler = NewAttestationHandler(engine)
		ms.logger.Infof("Signing as %s key %q with fingerprints %v", engine.Scheme().Name(), cfg.SigningKey, engine.Identity().Fingerprints)
	} else {
		ms.logger.Warn("No signing key configured, SIGN_START and SIGN_END will be ignored")
	}

	if err := ms.launchGameQuerier(); err != nil {
		_ = ms.tg.Stop()
		return nil, errors.Wrap(err, "unable to launch game querier")
	}
	if err := ms.launchUDPServer(); err != nil {
		_ = ms.tg.Stop()
		return nil, errors.Wrap(err, "unable to launch UDP server")
	}
	if cfg.HTTPAddress != "" {
		if err := ms.launchAPI(); err != nil {
			_ = ms.tg.Stop()
			return nil, errors.Wrap(err, "unable to launch HTTP API")
		}
	}
	return ms, nil
}

// loadEngine opens the configured key store and builds the signing engine.
func loadEngine(cfg Config) (*signing.Engine, error) {
	store, err := signing.OpenKeyStore(strings.ToLower(cfg.SigningScheme), cfg.KeyStorePath, cfg.KeyPassphrase)
	if err != nil {
		return nil, err
	}
	return signing.NewEngine(store, cfg.SigningKey, signing.EngineOptions{})
}

// Close cleanly shuts down the MasterServer instance.
func (ms *MasterServer) Close() error {
	return ms.tg.Stop()
}

// Engine returns the signing engine, or nil if signing is disabled.
func (ms *MasterServer) Engine() *signing.Engine {
	return ms.staticEngine
}

// Registry returns the game server registry.
func (ms *MasterServer) Registry() *Registry {
	return ms.staticRegistry
}

// UDPAddr returns the address the UDP listener is bound to.
func (ms *MasterServer) UDPAddr() *net.UDPAddr {
	return ms.udpAddr
}

// QueryAddr returns the address of the socket used to query game servers.
func (ms *MasterServer) QueryAddr() *net.UDPAddr {
	return ms.queryConn.LocalAddr().(*net.UDPAddr)
}

// HTTPAddr returns the address of the HTTP API, or nil if it is disabled.
func (ms *MasterServer) HTTPAddr() net.Addr {
	return ms.httpAddr
}

// shutdownHTTP is registered with the threadgroup when the API launches.
func (ms *MasterServer) shutdownHTTP() error {
	ctx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer cancel()
	if err := ms.httpServer.Shutdown(ctx); err != nil {
		ms.logger.Errorf("HTTP server shutdown error: %v", err)
		return errors.Wrap(err, "error shutting down the http server")
	}
	return nil
}
