package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// requestPrefix domain-separates request digests from transactions and
// other personal-sign payloads.
const requestPrefix = "\x19Poolmarket Signed Request:\n"

// ErrBadSignature is returned when a request signature is malformed or does
// not recover to the claimed signer.
var ErrBadSignature = errors.New("crypto: bad signature")

// RequestDigest is the 32-byte hash a client signs to authenticate an API
// request:
//
//	keccak256(prefix || method || "\n" || path || "\n" || timestamp || "\n" || keccak256(body))
func RequestDigest(method, path string, timestamp int64, body []byte) []byte {
	return ethcrypto.Keccak256(
		[]byte(requestPrefix),
		[]byte(strings.ToUpper(method)), []byte("\n"),
		[]byte(path), []byte("\n"),
		[]byte(strconv.FormatInt(timestamp, 10)), []byte("\n"),
		ethcrypto.Keccak256(body),
	)
}

// Signer holds a secp256k1 key and signs API requests with it.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &Signer{privateKey: pk, address: ethcrypto.PubkeyToAddress(pk.PublicKey)}, nil
}

// GenerateSigner creates a Signer with a fresh random key.
func GenerateSigner() (*Signer, error) {
	pk, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: generate key: %w", err)
	}
	return &Signer{privateKey: pk, address: ethcrypto.PubkeyToAddress(pk.PublicKey)}, nil
}

// Address returns the identity derived from the signer's key.
func (s *Signer) Address() common.Address {
	return s.address
}

// PrivateKeyHex exports the key as hex without 0x, for sealing with
// EncryptKey.
func (s *Signer) PrivateKeyHex() string {
	return hex.EncodeToString(ethcrypto.FromECDSA(s.privateKey))
}

// SignRequest returns the hex signature (r || s || v, v in {27,28}) over
// RequestDigest.
func (s *Signer) SignRequest(method, path string, timestamp int64, body []byte) (string, error) {
	return s.signDigest(RequestDigest(method, path, timestamp, body))
}

func (s *Signer) signDigest(digest []byte) (string, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}
	// go-ethereum returns v in {0,1}.
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig), nil
}

// RecoverSigner returns the address whose key produced sigHex over digest.
// Both {0,1} and {27,28} recovery ids are accepted.
func RecoverSigner(digest []byte, sigHex string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil || len(sig) != 65 {
		return common.Address{}, ErrBadSignature
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	if sig[64] > 1 {
		return common.Address{}, ErrBadSignature
	}
	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// VerifyRequest checks that sigHex over the request was produced by claimed.
func VerifyRequest(claimed common.Address, method, path string, timestamp int64, body []byte, sigHex string) error {
	got, err := RecoverSigner(RequestDigest(method, path, timestamp, body), sigHex)
	if err != nil {
		return err
	}
	if got != claimed {
		return fmt.Errorf("%w: recovered %s, claimed %s", ErrBadSignature, got.Hex(), claimed.Hex())
	}
	return nil
}
