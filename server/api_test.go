package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/glowlabs-org/demo-master/demo"
	"github.com/glowlabs-org/demo-master/signing"
)

func apiGet(t *testing.T, ms *MasterServer, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(fmt.Sprintf("http://%s%s", ms.HTTPAddr(), path))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// TestAuthorityEndpoint checks that the published key is enough to verify
// demos signed by the server.
func TestAuthorityEndpoint(t *testing.T) {
	ms := setupServer(t)

	resp := apiGet(t, ms, "/api/v1/authority")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var ar AuthorityResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ar))
	require.Equal(t, signing.SchemeOpenPGP, ar.Scheme)
	require.Equal(t, TestAuthorityKey, ar.KeyID)
	require.Equal(t, ms.Engine().Identity().Fingerprints, ar.Fingerprints)

	id, verifier, err := signing.IdentityFromPublicKey(ar.Scheme, []byte(ar.PublicKey), ar.KeyID)
	require.NoError(t, err)
	require.Equal(t, ar.Fingerprints, id.Fingerprints)

	_, payload := mustExchange(t, ms, demo.PacketTypeSignStart, nil)
	_, signedStart, err := demo.DecodeSignStartResponse(payload)
	require.NoError(t, err)
	var checksum [demo.ChecksumSize]byte
	_, signedEnd := mustExchange(t, ms, demo.PacketTypeSignEnd, demo.EncodeSignEnd(checksum, signedStart))
	_, err = signing.VerifyDemo(verifier, id, signedStart, signedEnd, checksum[:])
	require.NoError(t, err)

	post, err := http.Post(fmt.Sprintf("http://%s/api/v1/authority", ms.HTTPAddr()), "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	post.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, post.StatusCode)
}

func TestAuthorityEndpointSigningDisabled(t *testing.T) {
	ms := setupServer(t, func(cfg *Config) {
		cfg.SigningKey = ""
	})
	resp := apiGet(t, ms, "/api/v1/authority")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServersAndMetricsEndpoints(t *testing.T) {
	ms := setupServer(t)
	gs := setupGameServer(t, ms, demo.QueryData{Version: "Chocolate Doom 3.0.1", MaxPlayers: 4, Description: "coop"})

	require.Eventually(t, func() bool {
		return len(ms.staticRegistry.Metadata()) == 1
	}, 5*time.Second, 20*time.Millisecond)

	resp := apiGet(t, ms, "/api/v1/servers")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sr ServersResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sr))
	require.Len(t, sr.Servers, 1)
	require.Equal(t, "127.0.0.1", sr.Servers[0].Address)
	require.Equal(t, gs.Addr().Port, sr.Servers[0].Port)
	require.Equal(t, "coop", sr.Servers[0].Name)

	resp = apiGet(t, ms, "/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `demo_master_packets_received_total{type="ADD"} 1`)
	require.Contains(t, string(body), "demo_master_registered_servers 1")
	require.Contains(t, string(body), "demo_master_game_queries_sent_total 1")
	require.Contains(t, string(body), "demo_master_game_query_responses_total 1")
}

func TestAPIDisabled(t *testing.T) {
	ms := setupServer(t, func(cfg *Config) {
		cfg.HTTPAddress = ""
	})
	require.Nil(t, ms.HTTPAddr())
}
