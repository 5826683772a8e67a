// Package crypto implements the key exchange, key derivation, and AEAD
// sealing shared by pairing (§4.E), the connection manager (§4.F), and the
// transfer protocol (§4.G).
//
// Curve25519 key agreement and HKDF derivation come from golang.org/x/crypto,
// matching the rest of this module's adoption of the golang.org/x/* family
// already used by the teacher (x/sys in internal/logger/terminal.go,
// x/sync in the job scheduler). AEAD sealing uses ChaCha20-Poly1305, named
// explicitly by §4.F. SHA-256 for content/challenge hashing stays on the
// standard library: it is a single well-known primitive with no variant
// surface a third-party package would usefully wrap.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// KeySize is the width of every derived symmetric key and the X25519 keys.
const KeySize = 32

// NonceSize is the AEAD nonce width used throughout the wire protocols.
const NonceSize = chacha20poly1305.NonceSize // 12 bytes, 96 bits

// GenerateKeyPair produces a fresh X25519 ephemeral key pair.
func GenerateKeyPair() (public, private [KeySize]byte, err error) {
	if _, err = rand.Read(private[:]); err != nil {
		return public, private, fmt.Errorf("generate private key: %w", err)
	}
	pub, err := curve25519.X25519(private[:], curve25519.Basepoint)
	if err != nil {
		return public, private, fmt.Errorf("derive public key: %w", err)
	}
	copy(public[:], pub)
	return public, private, nil
}

// SharedSecret computes the X25519 shared secret from a local private key
// and a remote public key.
func SharedSecret(localPrivate, remotePublic [KeySize]byte) ([KeySize]byte, error) {
	var secret [KeySize]byte
	shared, err := curve25519.X25519(localPrivate[:], remotePublic[:])
	if err != nil {
		return secret, fmt.Errorf("compute shared secret: %w", err)
	}
	copy(secret[:], shared)
	return secret, nil
}

// SessionKeys are the four symmetric keys derived per paired device (§3).
type SessionKeys struct {
	SendKey    [KeySize]byte
	ReceiveKey [KeySize]byte
	MACKey     [KeySize]byte
	InitialIV  [NonceSize]byte
}

// sessionKeysSalt is the fixed HKDF salt for session key derivation (§4.E).
const sessionKeysSalt = "session-keys-v1"

// DeriveSessionKeys derives SessionKeys from a shared secret and the ordered
// pair of device ids, per §4.E: info strings are built from
// "{local}:{remote}-{purpose}" with send/receive swapped for whichever side
// has the numerically larger device id, so that one peer's send key equals
// the other's receive key.
func DeriveSessionKeys(sharedSecret [KeySize]byte, localDeviceID, remoteDeviceID string) (SessionKeys, error) {
	var keys SessionKeys

	sendInfo, receiveInfo := infoStrings(localDeviceID, remoteDeviceID)

	send, err := hkdfExpand(sharedSecret[:], sendInfo, KeySize)
	if err != nil {
		return keys, err
	}
	receive, err := hkdfExpand(sharedSecret[:], receiveInfo, KeySize)
	if err != nil {
		return keys, err
	}
	mac, err := hkdfExpand(sharedSecret[:], macInfo(localDeviceID, remoteDeviceID), KeySize)
	if err != nil {
		return keys, err
	}
	iv, err := hkdfExpand(sharedSecret[:], ivInfo(localDeviceID, remoteDeviceID), NonceSize)
	if err != nil {
		return keys, err
	}

	copy(keys.SendKey[:], send)
	copy(keys.ReceiveKey[:], receive)
	copy(keys.MACKey[:], mac)
	copy(keys.InitialIV[:], iv)

	return keys, nil
}

// infoStrings returns this side's (send, receive) HKDF info strings. The
// side with the numerically smaller device id uses send="local:remote-send",
// receive="local:remote-receive" as written; the larger side swaps the two
// so that both sides land on the same pair of underlying key material.
func infoStrings(localDeviceID, remoteDeviceID string) (send, receive string) {
	if deviceIDLess(localDeviceID, remoteDeviceID) {
		return fmt.Sprintf("%s:%s-send", localDeviceID, remoteDeviceID),
			fmt.Sprintf("%s:%s-receive", localDeviceID, remoteDeviceID)
	}
	return fmt.Sprintf("%s:%s-receive", remoteDeviceID, localDeviceID),
		fmt.Sprintf("%s:%s-send", remoteDeviceID, localDeviceID)
}

func macInfo(localDeviceID, remoteDeviceID string) string {
	lo, hi := orderedPair(localDeviceID, remoteDeviceID)
	return fmt.Sprintf("%s:%s-mac", lo, hi)
}

func ivInfo(localDeviceID, remoteDeviceID string) string {
	lo, hi := orderedPair(localDeviceID, remoteDeviceID)
	return fmt.Sprintf("%s:%s-iv", lo, hi)
}

func orderedPair(a, b string) (lo, hi string) {
	if deviceIDLess(a, b) {
		return a, b
	}
	return b, a
}

// deviceIDLess compares device ids as numeric strings when possible, falling
// back to lexicographic order for non-numeric ids (e.g. UUIDs). Either
// ordering is fine as long as both peers agree, and both peers compute this
// function over the same two ids.
func deviceIDLess(a, b string) bool {
	an, aOK := parseUint(a)
	bn, bOK := parseUint(b)
	if aOK && bOK {
		return an < bn
	}
	return a < b
}

func parseUint(s string) (uint64, bool) {
	if s == "" {
		return 0, false
	}
	var n uint64
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + uint64(c-'0')
	}
	return n, true
}

func hkdfExpand(secret []byte, info string, size int) ([]byte, error) {
	reader := hkdf.New(sha256.New, secret, []byte(sessionKeysSalt), []byte(info))
	out := make([]byte, size)
	if _, err := readFull(reader, out); err != nil {
		return nil, fmt.Errorf("hkdf expand %q: %w", info, err)
	}
	return out, nil
}

func readFull(r interface{ Read([]byte) (int, error) }, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Seal encrypts plaintext under key with a fresh random nonce, returning the
// nonce-prefixed ciphertext as required by §4.F's wire framing.
func Seal(key [KeySize]byte, plaintext, additionalData []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, plaintext, additionalData)
	return sealed, nil
}

// Open splits the nonce off a Seal'd blob and decrypts under key.
func Open(key [KeySize]byte, sealed, additionalData []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}

	if len(sealed) < NonceSize {
		return nil, fmt.Errorf("sealed data shorter than nonce")
	}
	nonce, ciphertext := sealed[:NonceSize], sealed[NonceSize:]

	plaintext, err := aead.Open(nil, nonce, ciphertext, additionalData)
	if err != nil {
		return nil, fmt.Errorf("open sealed data: %w", err)
	}
	return plaintext, nil
}

// ChunkKey derives the per-chunk AEAD key for a transfer, per §4.G:
// HKDF(send_key, info="chunk-{transfer_id}-{chunk_index}").
func ChunkKey(sendKey [KeySize]byte, transferID string, chunkIndex uint32) ([KeySize]byte, error) {
	var key [KeySize]byte
	info := fmt.Sprintf("chunk-%s-%d", transferID, chunkIndex)
	derived, err := hkdfExpand(sendKey[:], info, KeySize)
	if err != nil {
		return key, err
	}
	copy(key[:], derived)
	return key, nil
}

// SealChunk encrypts a file chunk under key, returning ciphertext and the
// fresh nonce separately rather than nonce-prefixed like Seal. §4.G's
// FileChunk carries `nonce` and `data` as distinct wire fields, so the
// nonce must not be folded into the ciphertext the way generic message
// framing does.
func SealChunk(key [KeySize]byte, plaintext, additionalData []byte) (ciphertext []byte, nonce [NonceSize]byte, err error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, nonce, fmt.Errorf("init aead: %w", err)
	}
	if _, err = rand.Read(nonce[:]); err != nil {
		return nil, nonce, fmt.Errorf("generate nonce: %w", err)
	}
	ciphertext = aead.Seal(nil, nonce[:], plaintext, additionalData)
	return ciphertext, nonce, nil
}

// OpenChunk decrypts a FileChunk's data given its separate nonce field.
func OpenChunk(key [KeySize]byte, nonce [NonceSize]byte, ciphertext, additionalData []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}
	plaintext, err := aead.Open(nil, nonce[:], ciphertext, additionalData)
	if err != nil {
		return nil, fmt.Errorf("open chunk: %w", err)
	}
	return plaintext, nil
}

// ContentHash returns SHA-256 over data, used for CAS ids on small files and
// for plaintext chunk checksums.
func ContentHash(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// KeyedHash returns a domain-separated keyed hash: SHA-256(domain || key ||
// parts...). Used for the pairing challenge/response (§4.E), which requires
// a keyed hash over pairing_code, nonces, and timestamp with domain
// separation. This is not HMAC because the pairing code is low-entropy
// secret material the hash must bind to directly, not a MAC key; a plain
// keyed SHA-256 construction with explicit domain separation is sufficient
// given the 30-second challenge window and single-use code (§4.E security
// rules) and mirrors the teacher's own preference for SHA-256 over a MAC
// library for non-negotiated, fixed-format hashing.
func KeyedHash(domain string, key []byte, parts ...[]byte) [32]byte {
	h := sha256.New()
	h.Write([]byte(domain))
	writeLenPrefixed(h, key)
	for _, p := range parts {
		writeLenPrefixed(h, p)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func writeLenPrefixed(h interface{ Write([]byte) (int, error) }, data []byte) {
	var lenBuf [8]byte
	n := len(data)
	for i := 0; i < 8; i++ {
		lenBuf[i] = byte(n >> (8 * (7 - i)))
	}
	h.Write(lenBuf[:])
	h.Write(data)
}
