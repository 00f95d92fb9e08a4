package server

import (
	"encoding/json"
	"net"
	"net/http"

	"github.com/pkg/errors"

	"github.com/glowlabs-org/demo-master/demo"
	"github.com/glowlabs-org/demo-master/signing"
)

// AuthorityResponse is served by /api/v1/authority. It holds everything a
// third party needs to check demos signed by this master.
type AuthorityResponse struct {
	Scheme       string                `json:"scheme"`
	KeyID        string                `json:"keyId"`
	Fingerprints []signing.Fingerprint `json:"fingerprints"`
	PublicKey    string                `json:"publicKey"`
}

// ServersResponse is served by /api/v1/servers.
type ServersResponse struct {
	Servers []demo.ServerMetadata `json:"servers"`
}

// launchAPI sets up the HTTP API endpoints and starts the HTTP server.
func (ms *MasterServer) launchAPI() error {
	// Attach all of the handlers to the mux.
	ms.mux = http.NewServeMux()
	ms.mux.HandleFunc("/api/v1/authority", ms.AuthorityHandler)
	ms.mux.HandleFunc("/api/v1/servers", ms.ServersHandler)
	ms.mux.Handle("/metrics", ms.staticMetrics.handler())
	ms.httpServer = &http.Server{
		Addr:    ms.staticConfig.HTTPAddress,
		Handler: ms.mux,
	}

	// Build the listener manually so that the port is known even when the
	// address asks for ":0".
	listener, err := net.Listen("tcp", ms.httpServer.Addr)
	if err != nil {
		return errors.Wrap(err, "unable to listen")
	}
	ms.httpAddr = listener.Addr()
	ms.tg.OnStop(ms.shutdownHTTP)

	// The listener gets handed off to the httpServer, which will be
	// responsible for closing it. If the Launch fails, the listener never
	// gets attached, so it has to be closed here.
	err = ms.tg.Launch(func() {
		ms.logger.Info("Starting HTTP server on ", ms.httpAddr)
		if err := ms.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			ms.logger.Error("HTTP server stopped: ", err)
		}
	})
	if err != nil {
		listener.Close()
		return err
	}
	return nil
}

// AuthorityHandler publishes the signing identity and public key.
func (ms *MasterServer) AuthorityHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Only GET method is supported.", http.StatusMethodNotAllowed)
		return
	}
	if ms.staticEngine == nil {
		http.Error(w, "Signing is disabled on this server.", http.StatusNotFound)
		return
	}

	id := ms.staticEngine.Identity()
	pub, err := ms.staticEngine.Scheme().PublicKey()
	if err != nil {
		http.Error(w, "Failed to export public key", http.StatusInternalServerError)
		ms.logger.Error("Failed to export public key: ", err)
		return
	}
	ms.writeJSON(w, AuthorityResponse{
		Scheme:       id.Scheme,
		KeyID:        id.KeyID,
		Fingerprints: id.Fingerprints,
		PublicKey:    string(pub),
	})
}

// ServersHandler lists the registered game servers.
func (ms *MasterServer) ServersHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Only GET method is supported.", http.StatusMethodNotAllowed)
		return
	}
	ms.writeJSON(w, ServersResponse{Servers: ms.staticRegistry.Metadata()})
}

func (ms *MasterServer) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "Failed to encode JSON response", http.StatusInternalServerError)
		ms.logger.Error("Failed to encode JSON response: ", err)
	}
}
