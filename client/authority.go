package client

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/pkg/errors"

	"github.com/glowlabs-org/demo-master/server"
	"github.com/glowlabs-org/demo-master/signing"
)

// Authority is a master's published signing identity together with a
// verifier for its signatures.
type Authority struct {
	Identity signing.Identity
	Verifier signing.Verifier
}

// FetchAuthority downloads the signing identity from a master's HTTP API
// (for example "http://127.0.0.1:2380") and builds a verifier from the
// published public key. The fingerprints the master claims must match the
// ones derived from its key.
func FetchAuthority(ctx context.Context, baseURL string) (Authority, error) {
	url := strings.TrimSuffix(baseURL, "/") + "/api/v1/authority"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Authority{}, errors.Wrap(err, "unable to build request")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return Authority{}, errors.Wrapf(err, "unable to reach %s", url)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Authority{}, errors.Errorf("%s returned %s", url, resp.Status)
	}

	var ar server.AuthorityResponse
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		return Authority{}, errors.Wrap(err, "unable to decode authority response")
	}
	id, verifier, err := signing.IdentityFromPublicKey(ar.Scheme, []byte(ar.PublicKey), ar.KeyID)
	if err != nil {
		return Authority{}, errors.Wrap(err, "unusable public key")
	}
	if len(id.Fingerprints) != len(ar.Fingerprints) {
		return Authority{}, errors.New("published fingerprints do not match the public key")
	}
	for _, fp := range ar.Fingerprints {
		if !id.Owns(fp) {
			return Authority{}, errors.Errorf("fingerprint %s is not part of the public key", fp)
		}
	}
	return Authority{Identity: id, Verifier: verifier}, nil
}

// Verify checks a signed demo against the authority. See signing.VerifyDemo.
func (a Authority) Verify(signedStart, signedEnd, checksum []byte) error {
	_, err := signing.VerifyDemo(a.Verifier, a.Identity, signedStart, signedEnd, checksum)
	return err
}
