// Package attest produces the deterministic hashes and recoverable
// signatures an on-chain verifier checks against the service signer.
// Signing is pure: the same key and inputs always yield the same bytes,
// so recomputation is a valid integrity check for stored records.
package attest

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	secpecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/sha3"
)

// personalPrefix is the EIP-191 personal-sign prefix for a 32-byte payload.
const personalPrefix = "\x19Ethereum Signed Message:\n32"

// Attestation is a signed commitment over some message. Hash is the
// keccak256 of the raw message; Signature is the 65-byte R||S||V recoverable
// signature over the prefixed hash, V in {27, 28}. Both hex with 0x.
type Attestation struct {
	Hash      string
	Signature string
}

// Producer signs attestations with a fixed secp256k1 key.
type Producer struct {
	key     *secp256k1.PrivateKey
	address string
}

// NewProducer builds a Producer from a hex-encoded 32-byte private key.
// A leading 0x is accepted.
func NewProducer(keyHex string) (*Producer, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(keyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode signing key: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("signing key must be 32 bytes, got %d", len(raw))
	}
	key := secp256k1.PrivKeyFromBytes(raw)
	if key.Key.IsZero() {
		return nil, fmt.Errorf("signing key is zero")
	}
	return &Producer{
		key:     key,
		address: pubkeyAddress(key.PubKey()),
	}, nil
}

// Address returns the signer's 0x-prefixed EVM address.
func (p *Producer) Address() string {
	return p.address
}

// linkDomain separates link attestations from any other message this key
// signs. Changing it invalidates every previously issued signature.
const linkDomain = "deid.link.v1"

// SignLink attests to a subject/platform/account binding. The message is
// the domain tag and the three fields in fixed order, joined with colons;
// recomputing from the same inputs always yields the same bytes.
func (p *Producer) SignLink(subject, platform, accountID string) (Attestation, error) {
	if subject == "" || platform == "" || accountID == "" {
		return Attestation{}, fmt.Errorf("subject, platform and account id are required")
	}
	msg := strings.Join([]string{linkDomain, subject, platform, accountID}, ":")
	return p.sign([]byte(msg))
}

// SignUserTask attests that wallet qualified for task. The message is the
// 20 address bytes followed by the raw UTF-8 bytes of the task ID, matching
// the abi.encodePacked layout the verifier contract hashes.
func (p *Producer) SignUserTask(walletAddr, taskID string) (Attestation, error) {
	addr, err := addressBytes(walletAddr)
	if err != nil {
		return Attestation{}, err
	}
	if taskID == "" {
		return Attestation{}, fmt.Errorf("task id is empty")
	}
	return p.sign(append(addr, []byte(taskID)...))
}

func (p *Producer) sign(message []byte) (Attestation, error) {
	msgHash := keccak256(message)
	digest := keccak256([]byte(personalPrefix), msgHash)

	// SignCompact puts the recovery header first; the EVM convention is
	// R||S||V with V in {27, 28}.
	compact := secpecdsa.SignCompact(p.key, digest, false)
	sig := make([]byte, 65)
	copy(sig, compact[1:])
	sig[64] = compact[0]

	return Attestation{
		Hash:      "0x" + hex.EncodeToString(msgHash),
		Signature: "0x" + hex.EncodeToString(sig),
	}, nil
}

// RecoverSigner returns the address that produced sig over the prefixed
// form of hash. Both arguments are 0x hex as stored on records.
func RecoverSigner(hashHex, sigHex string) (string, error) {
	msgHash, err := hex.DecodeString(strings.TrimPrefix(hashHex, "0x"))
	if err != nil || len(msgHash) != 32 {
		return "", fmt.Errorf("attestation hash must be 32 hex bytes")
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil || len(sig) != 65 {
		return "", fmt.Errorf("signature must be 65 hex bytes")
	}

	compact := make([]byte, 65)
	compact[0] = sig[64]
	copy(compact[1:], sig[:64])

	digest := keccak256([]byte(personalPrefix), msgHash)
	pub, _, err := secpecdsa.RecoverCompact(compact, digest)
	if err != nil {
		return "", fmt.Errorf("recover signer: %w", err)
	}
	return pubkeyAddress(pub), nil
}

func keccak256(parts ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

func pubkeyAddress(pub *secp256k1.PublicKey) string {
	// Address is the last 20 bytes of keccak256 over the uncompressed
	// public key without the 0x04 tag.
	raw := pub.SerializeUncompressed()
	sum := keccak256(raw[1:])
	return "0x" + hex.EncodeToString(sum[12:])
}

func addressBytes(addr string) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(addr, "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode wallet address: %w", err)
	}
	if len(raw) != 20 {
		return nil, fmt.Errorf("wallet address must be 20 bytes, got %d", len(raw))
	}
	return raw, nil
}
