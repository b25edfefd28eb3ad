package pairverify

import (
	"github.com/backkem/hap/pkg/crypto"
	"github.com/backkem/hap/pkg/pairing"
	"github.com/backkem/hap/pkg/resume"
)

// ErrorCode is re-exported for callers that only import this package.
type ErrorCode = pairing.ErrorCode

// Key derivation labels.
const (
	verifyEncryptSalt = "Pair-Verify-Encrypt-Salt"
	verifyEncryptInfo = "Pair-Verify-Encrypt-Info"

	resumeSessionIDSalt = "Pair-Verify-ResumeSessionID-Salt"
	resumeSessionIDInfo = "Pair-Verify-ResumeSessionID-Info"

	resumeRequestInfo      = "Pair-Resume-Request-Info"
	resumeResponseInfo     = "Pair-Resume-Response-Info"
	resumeSharedSecretInfo = "Pair-Resume-Shared-Secret-Info"
)

// Handshake nonces.
var (
	nonceM2       = crypto.LabelNonce("PV-Msg02")
	nonceM3       = crypto.LabelNonce("PV-Msg03")
	nonceResumeM1 = crypto.LabelNonce("PR-Msg01")
	nonceResumeM2 = crypto.LabelNonce("PR-Msg02")
)

// resumeSalt is ControllerPK || SessionID.
func resumeSalt(controllerPK []byte, id resume.SessionID) []byte {
	salt := make([]byte, 0, len(controllerPK)+len(id))
	salt = append(salt, controllerPK...)
	return append(salt, id[:]...)
}

func deriveResumeKey(secret []byte, controllerPK []byte, id resume.SessionID, info string) ([]byte, error) {
	return crypto.HKDFSHA512(secret, resumeSalt(controllerPK, id), []byte(info), crypto.SymmetricKeySize)
}

// deriveResumeSessionID computes the session ID a completed verify is
// cached under.
func deriveResumeSessionID(secret []byte) (resume.SessionID, error) {
	var id resume.SessionID
	b, err := crypto.HKDFSHA512(secret, []byte(resumeSessionIDSalt), []byte(resumeSessionIDInfo), len(id))
	if err != nil {
		return id, err
	}
	copy(id[:], b)
	return id, nil
}

// proofMessage builds the signed message EphemeralPK || Identifier || PeerEphemeralPK.
func proofMessage(ownPK []byte, id []byte, peerPK []byte) []byte {
	msg := make([]byte, 0, len(ownPK)+len(id)+len(peerPK))
	msg = append(msg, ownPK...)
	msg = append(msg, id...)
	return append(msg, peerPK...)
}
