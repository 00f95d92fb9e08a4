package server

// This file turns SIGN_START and SIGN_END payloads into response payloads.
// The handler keeps no state between the two phases: everything it needs
// to answer SIGN_END travels inside the request.

import (
	"github.com/pkg/errors"

	"github.com/glowlabs-org/demo-master/demo"
	"github.com/glowlabs-org/demo-master/signing"
)

// AttestationHandler adapts a signing engine to the wire protocol.
type AttestationHandler struct {
	staticEngine *signing.Engine
}

// NewAttestationHandler wraps engine.
func NewAttestationHandler(engine *signing.Engine) *AttestationHandler {
	return &AttestationHandler{staticEngine: engine}
}

// HandleSignStart returns the SIGN_START_RESPONSE payload: the nonce
// followed by the signed start message. An error means the signer is at
// fault and nothing should be sent.
func (h *AttestationHandler) HandleSignStart() ([]byte, error) {
	nonce, signed, err := h.staticEngine.SignStart()
	if err != nil {
		return nil, errors.Wrap(err, "unable to sign start message")
	}
	return demo.EncodeSignStartResponse(nonce, signed), nil
}

// HandleSignEnd returns the SIGN_END_RESPONSE payload for a SIGN_END
// payload. Every failure, whether the payload is malformed, the start
// message does not verify, or the signer fails, yields an empty payload.
// The error is for the operator's log and must not be sent to the peer.
func (h *AttestationHandler) HandleSignEnd(payload []byte) ([]byte, error) {
	checksum, signedStart, err := demo.DecodeSignEnd(payload)
	if err != nil {
		return nil, err
	}
	signedEnd, err := h.staticEngine.VerifyAndSignEnd(signedStart, checksum)
	if err != nil {
		return nil, err
	}
	return signedEnd, nil
}
