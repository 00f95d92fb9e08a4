package signing

import (
	"crypto/rand"
	"io"
	"time"

	"github.com/pkg/errors"

	"github.com/glowlabs-org/demo-master/demo"
)

// EngineOptions supplies the clock and random source used by an Engine. The
// zero value uses the wall clock and crypto/rand.
type EngineOptions struct {
	Now    func() time.Time
	Random io.Reader
}

// Engine issues and extends attestations for one signing identity. Apart from
// the identity it holds no state, so a single Engine can serve any number of
// concurrent requests.
type Engine struct {
	staticScheme   Scheme
	staticIdentity Identity
	staticNow      func() time.Time
	staticRandom   io.Reader
}

// NewEngine loads the key named by keyID from the store. A missing or
// unusable key is returned as an error and the caller must not serve
// signing requests.
func NewEngine(store KeyStore, keyID string, opts EngineOptions) (*Engine, error) {
	if store == nil {
		return nil, errors.New("no key store provided")
	}
	scheme, err := store.LookupKey(keyID)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to load signing key %q", keyID)
	}
	id := scheme.Identity()
	if len(id.Fingerprints) == 0 {
		return nil, errors.Errorf("signing key %q has no fingerprints", keyID)
	}

	e := &Engine{
		staticScheme:   scheme,
		staticIdentity: id.clone(),
		staticNow:      opts.Now,
		staticRandom:   opts.Random,
	}
	if e.staticNow == nil {
		e.staticNow = time.Now
	}
	if e.staticRandom == nil {
		e.staticRandom = rand.Reader
	}
	return e, nil
}

// Identity returns the identity recorded when the engine was created.
func (e *Engine) Identity() Identity {
	return e.staticIdentity.clone()
}

// Scheme returns the scheme backing the engine.
func (e *Engine) Scheme() Scheme {
	return e.staticScheme
}

// SignStart creates a fresh nonce and returns it together with the signed
// start message that embeds it.
func (e *Engine) SignStart() (demo.Nonce, []byte, error) {
	nonce, err := demo.NewNonce(e.staticRandom)
	if err != nil {
		return demo.Nonce{}, nil, errors.Wrap(ErrSignerUnavailable, err.Error())
	}
	signed, err := e.staticScheme.Sign(demo.StartPlaintext(e.staticNow(), nonce))
	if err != nil {
		return demo.Nonce{}, nil, errors.Wrap(ErrSignerUnavailable, err.Error())
	}
	return nonce, signed, nil
}

// VerifyAndSignEnd checks that signedStart is a message this authority
// signed and, if so, signs an end message made of the verified start
// plaintext followed by the end time and the hex checksum.
//
// Every reason to refuse returns exactly ErrInvalidAttestation. Nothing is
// signed unless the start message verified under this identity.
func (e *Engine) VerifyAndSignEnd(signedStart, checksum []byte) ([]byte, error) {
	if len(checksum) == 0 || len(signedStart) == 0 {
		return nil, ErrInvalidAttestation
	}
	plaintext, fpr, err := e.staticScheme.Verify(signedStart)
	if err != nil || plaintext == nil {
		return nil, ErrInvalidAttestation
	}
	if !e.staticIdentity.Owns(fpr) {
		return nil, ErrInvalidAttestation
	}

	msg := demo.ExtendPlaintext(plaintext, e.staticNow(), checksum)
	signed, err := e.staticScheme.Sign(msg)
	if err != nil {
		return nil, errors.Wrap(ErrSignerUnavailable, err.Error())
	}
	return signed, nil
}
