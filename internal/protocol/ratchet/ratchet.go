// Package ratchet implements the Double Ratchet algorithm following Signal's design.
package ratchet

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"errors"
	"io"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"ciphera/internal/crypto"
	"ciphera/internal/domain"
)

const (
	aeadKeySize    = chacha20poly1305.KeySize
	nonceSize      = chacha20poly1305.NonceSizeX // 24 bytes, XChaCha20-Poly1305
	defaultMaxSkip = 1000
	maxProcessed   = 2000
)

var (
	errChainUninitialised        = errors.New("ratchet chain key uninitialised")
	ErrSkippedMessageKeyNotFound = errors.New("skipped message key not found")
)

// maxSkip returns the configured bound, falling back to the package default
// when the state was never given one.
func maxSkip(st *domain.RatchetState) int {
	if st.MaxSkip > 0 {
		return st.MaxSkip
	}
	return defaultMaxSkip
}

// InitAsInitiator initialises the ratchet state for the sender, deriving only the send chain key
// from the given root and peer identity.
func InitAsInitiator(
	root []byte,
	_ domain.X25519Private,
	ourIdentityPub domain.X25519Public,
	peerIdentity domain.X25519Public,
) (domain.RatchetState, error) {
	var priv domain.X25519Private
	if _, err := rand.Read(priv[:]); err != nil {
		return domain.RatchetState{}, err
	}
	crypto.ClampX25519PrivateKey(&priv)

	pubBytes, err := curve25519.X25519(priv.Slice(), curve25519.Basepoint)
	if err != nil {
		return domain.RatchetState{}, err
	}
	var pub domain.X25519Public
	copy(pub[:], pubBytes)

	// Single DH: EK_A . IK_B
	dh, err := crypto.DH(priv, peerIdentity)
	if err != nil {
		return domain.RatchetState{}, err
	}
	newRoot, sendCK := kdfRK(root, dh[:])
	crypto.Wipe(dh[:])

	return domain.RatchetState{
		RootKey:                 newRoot,
		DiffieHellmanPrivate:    priv,
		DiffieHellmanPublic:     pub,
		PeerDiffieHellmanPublic: peerIdentity,
		SendChainKey:            sendCK,
		SkippedKeys:             make(map[string][]byte),
		ProcessedHashes:         make(map[string]struct{}),
		AssociatedData:          transcriptAD(ourIdentityPub, peerIdentity),
	}, nil
}

// InitAsResponder initialises the ratchet state for the receiver, deriving only the receive chain
// key from the given root and sender's ratchet pub.
func InitAsResponder(
	root []byte,
	ourIDPriv domain.X25519Private,
	ourIdentityPub domain.X25519Public,
	peerIdentityPub domain.X25519Public,
	senderRatchetPub domain.X25519Public,
) (domain.RatchetState, error) {
	var priv domain.X25519Private
	if _, err := rand.Read(priv[:]); err != nil {
		return domain.RatchetState{}, err
	}
	crypto.ClampX25519PrivateKey(&priv)

	pubBytes, err := curve25519.X25519(priv.Slice(), curve25519.Basepoint)
	if err != nil {
		return domain.RatchetState{}, err
	}
	var pub domain.X25519Public
	copy(pub[:], pubBytes)

	// Single DH: IK_B . EK_A
	dh, err := crypto.DH(ourIDPriv, senderRatchetPub)
	if err != nil {
		return domain.RatchetState{}, err
	}
	newRoot, recvCK := kdfRK(root, dh[:])
	crypto.Wipe(dh[:])

	return domain.RatchetState{
		RootKey:                 newRoot,
		DiffieHellmanPrivate:    priv,
		DiffieHellmanPublic:     pub,
		PeerDiffieHellmanPublic: senderRatchetPub,
		ReceiveChainKey:         recvCK,
		SkippedKeys:             make(map[string][]byte),
		ProcessedHashes:         make(map[string]struct{}),
		AssociatedData:          transcriptAD(peerIdentityPub, ourIdentityPub),
	}, nil
}

// Encrypt encrypts plaintext under the send chain, performing a lazy ratchet step on the first send
// when SendChainKey is nil.
func Encrypt(
	st *domain.RatchetState,
	ad, plaintext []byte,
) (domain.RatchetHeader, []byte, error) {
	if st == nil {
		return domain.RatchetHeader{}, nil, errors.New("ratchet state uninitialised")
	}

	if st.SendChainKey == nil {
		st.PreviousChainLength = st.SendMessageIndex
		st.SendMessageIndex, st.ReceiveMessageIndex = 0, 0

		var priv domain.X25519Private
		if _, err := rand.Read(priv[:]); err != nil {
			return domain.RatchetHeader{}, nil, err
		}
		crypto.ClampX25519PrivateKey(&priv)

		pubBytes, err := curve25519.X25519(priv.Slice(), curve25519.Basepoint)
		if err != nil {
			return domain.RatchetHeader{}, nil, err
		}
		var pub domain.X25519Public
		copy(pub[:], pubBytes)

		dh, err := crypto.DH(priv, st.PeerDiffieHellmanPublic)
		if err != nil {
			return domain.RatchetHeader{}, nil, err
		}
		newRoot, sendCK := kdfRK(st.RootKey, dh[:])
		crypto.Wipe(dh[:])

		st.RootKey, st.DiffieHellmanPrivate, st.DiffieHellmanPublic, st.SendChainKey = newRoot, priv, pub, sendCK
		st.Epoch++
	}

	mk, err := kdfCKSend(st)
	if err != nil {
		return domain.RatchetHeader{}, nil, err
	}

	header := domain.RatchetHeader{
		DiffieHellmanPublicKey: st.DiffieHellmanPublic.Slice(),
		PreviousChainLength:    st.PreviousChainLength,
		MessageIndex:           st.SendMessageIndex,
		Epoch:                  st.Epoch,
	}
	ct, err := seal(mk, header, ad, plaintext)
	crypto.Wipe(mk)
	if err != nil {
		return domain.RatchetHeader{}, nil, err
	}

	st.SendMessageIndex++
	return header, ct, nil
}

// Decrypt decrypts ciphertext, handling skipped keys and ratchet steps. It
// rejects replays of an already-accepted (header, ciphertext) pair and
// stages any DH-ratchet-step root/chain transition so it only commits once
// decryption has actually succeeded.
func Decrypt(
	st *domain.RatchetState,
	ad []byte,
	header domain.RatchetHeader,
	ciphertext []byte,
) ([]byte, error) {
	if st == nil {
		return nil, errors.New("ratchet state uninitialised")
	}

	digest := processedDigest(header, ciphertext)
	if _, seen := st.ProcessedHashes[digest]; seen {
		return nil, domain.ErrReplay
	}

	if RejectFutureEpoch(st, header) {
		return nil, domain.ErrInvalidHeader
	}

	var headerPub domain.X25519Public
	copy(headerPub[:], header.DiffieHellmanPublicKey)
	skipID := skippedKeyID(headerPub, header.MessageIndex)
	if mk, ok := st.SkippedKeys[skipID]; ok {
		pt, err := open(mk, header, ad, ciphertext)
		if err != nil {
			return nil, err
		}
		delete(st.SkippedKeys, skipID)
		crypto.Wipe(mk)
		markProcessed(st, digest)
		return pt, nil
	}

	stepping := !equal32(st.PeerDiffieHellmanPublic.Slice(), header.DiffieHellmanPublicKey)

	if !stepping {
		// Within the current receive chain: exhaust keys Nr..N-1 as skipped
		// before deriving N's key, so messages delivered out of order
		// within one chain still decrypt.
		if int(header.MessageIndex)-int(st.ReceiveMessageIndex) > maxSkip(st) {
			return nil, domain.ErrTooManySkipped
		}
		if err := skipUntil(st, header.MessageIndex); err != nil {
			return nil, err
		}

		mk, nextCK, err := deriveMessageKey(st.ReceiveChainKey)
		if err != nil {
			return nil, err
		}
		pt, err := open(mk, header, ad, ciphertext)
		crypto.Wipe(mk)
		if err != nil {
			return nil, err
		}
		st.ReceiveChainKey = nextCK
		st.ReceiveMessageIndex = header.MessageIndex + 1
		markProcessed(st, digest)
		return pt, nil
	}

	// DH-ratchet step: first exhaust the old chain up to PN (the sender's
	// message count on the chain it is retiring), then step, then skip
	// the freshly started chain up to N before deriving its key. The two
	// skips are against different chains and must not be merged into one.
	if int(header.PreviousChainLength)-int(st.ReceiveMessageIndex) > maxSkip(st) {
		return nil, domain.ErrTooManySkipped
	}
	if err := skipUntil(st, header.PreviousChainLength); err != nil {
		return nil, err
	}

	var peer domain.X25519Public
	copy(peer[:], header.DiffieHellmanPublicKey)

	dh, err := crypto.DH(st.DiffieHellmanPrivate, peer)
	if err != nil {
		return nil, err
	}
	newRoot, recvCK := kdfRK(st.RootKey, dh[:])
	crypto.Wipe(dh[:])

	var priv domain.X25519Private
	if _, err := rand.Read(priv[:]); err != nil {
		return nil, err
	}
	crypto.ClampX25519PrivateKey(&priv)

	pubBytes, err := curve25519.X25519(priv.Slice(), curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	var pub domain.X25519Public
	copy(pub[:], pubBytes)

	dh2, err := crypto.DH(priv, peer)
	if err != nil {
		return nil, err
	}
	rootAfterStep, sendCK := kdfRK(newRoot, dh2[:])
	crypto.Wipe(dh2[:])

	skipped := make(map[string][]byte, len(st.SkippedKeys))
	for k, v := range st.SkippedKeys {
		skipped[k] = v
	}

	next := domain.RatchetState{
		RootKey:                 rootAfterStep,
		DiffieHellmanPrivate:    priv,
		DiffieHellmanPublic:     pub,
		PeerDiffieHellmanPublic: peer,
		SendChainKey:            sendCK,
		ReceiveChainKey:         recvCK,
		ReceiveMessageIndex:     0,
		PreviousChainLength:     st.SendMessageIndex,
		SkippedKeys:             skipped,
		ProcessedHashes:         st.ProcessedHashes,
		MaxSkip:                 st.MaxSkip,
		AssociatedData:          st.AssociatedData,
		Epoch:                   st.Epoch + 1,
		QuantumEpoch:            st.QuantumEpoch,
		QuantumEpochUTC:         st.QuantumEpochUTC,
	}

	if header.MessageIndex > uint32(maxSkip(st)) {
		return nil, domain.ErrTooManySkipped
	}
	if err := skipUntil(&next, header.MessageIndex); err != nil {
		return nil, err
	}

	mk, nextCK, err := deriveMessageKey(next.ReceiveChainKey)
	if err != nil {
		return nil, err
	}
	pt, err := open(mk, header, ad, ciphertext)
	crypto.Wipe(mk)
	if err != nil {
		return nil, err
	}

	next.ReceiveChainKey = nextCK
	next.ReceiveMessageIndex = header.MessageIndex + 1
	*st = next
	markProcessed(st, digest)
	return pt, nil
}

// --- Helpers ---

// transcriptAD derives the per-conversation associated data authenticated
// into every AEAD call: H(IK_initiator || IK_responder), in that fixed
// order regardless of which side is deriving it.
func transcriptAD(initiatorIK, responderIK domain.X25519Public) []byte {
	h := sha256.Sum256(append(append([]byte{}, initiatorIK.Slice()...), responderIK.Slice()...))
	return h[:]
}

// kdfRK derives a new root key and chain key from the DH output.
func kdfRK(root, dh []byte) (newRoot, ck []byte) {
	hk := hkdf.New(sha256.New, dh, root, []byte("DR|rk"))
	newRoot = make([]byte, 32)
	ck = make([]byte, 32)
	io.ReadFull(hk, newRoot)
	io.ReadFull(hk, ck)
	return
}

// kdfCKSend advances the send-chain key, returning the next message key.
func kdfCKSend(st *domain.RatchetState) ([]byte, error) {
	mk, nextCK, err := deriveMessageKey(st.SendChainKey)
	if err != nil {
		return nil, err
	}
	st.SendChainKey = nextCK
	return mk, nil
}

// deriveMessageKey advances a chain key, returning (messageKey, nextChainKey).
func deriveMessageKey(ck []byte) (mk, nextCK []byte, err error) {
	if ck == nil {
		return nil, nil, errChainUninitialised
	}
	hk := hkdf.New(sha256.New, ck, nil, []byte("DR|ck"))
	nextCK = make([]byte, 32)
	mk = make([]byte, 32)
	io.ReadFull(hk, nextCK)
	io.ReadFull(hk, mk)
	return mk, nextCK, nil
}

// seal encrypts plaintext with XChaCha20-Poly1305 using ad followed by the
// serialized header (DH pub, PN, N, Epoch) as associated data. The nonce is
// zero except for its low four bytes, which carry N XOR header.Epoch (the
// DH-ratchet epoch; QuantumEpoch is not part of the nonce).
func seal(mk []byte, header domain.RatchetHeader, ad, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(mk[:aeadKeySize])
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, nonceFor(header), plaintext, append(ad, headerBytes(header)...)), nil
}

// open decrypts ciphertext with XChaCha20-Poly1305.
func open(mk []byte, header domain.RatchetHeader, ad, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(mk[:aeadKeySize])
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, nonceFor(header), ciphertext, append(ad, headerBytes(header)...))
}

func nonceFor(header domain.RatchetHeader) []byte {
	nonce := make([]byte, nonceSize)
	binary.BigEndian.PutUint32(nonce[nonceSize-4:], header.MessageIndex^header.Epoch)
	return nonce
}

// headerBytes serializes PN, N and Epoch into big-endian bytes appended after DHPub.
func headerBytes(h domain.RatchetHeader) []byte {
	var tmp [4]byte
	out := append([]byte{}, h.DiffieHellmanPublicKey...)
	binary.BigEndian.PutUint32(tmp[:], h.PreviousChainLength)
	out = append(out, tmp[:]...)
	binary.BigEndian.PutUint32(tmp[:], h.MessageIndex)
	out = append(out, tmp[:]...)
	binary.BigEndian.PutUint32(tmp[:], h.Epoch)
	return append(out, tmp[:]...)
}

// skipUntil derives and stores skipped message keys up to pn, bounded by
// MaxSkip, and advances the receive chain in place.
func skipUntil(st *domain.RatchetState, pn uint32) error {
	if st.ReceiveChainKey == nil {
		return nil
	}
	limit := maxSkip(st)
	for st.ReceiveMessageIndex < pn {
		mk, nextCK, err := deriveMessageKey(st.ReceiveChainKey)
		if err != nil {
			return err
		}
		if len(st.SkippedKeys) >= limit {
			for k := range st.SkippedKeys {
				delete(st.SkippedKeys, k)
				break
			}
		}
		st.SkippedKeys[skippedKeyID(st.PeerDiffieHellmanPublic, st.ReceiveMessageIndex)] = mk
		st.ReceiveChainKey = nextCK
		st.ReceiveMessageIndex++
	}
	return nil
}

// skippedKeyID yields a unique map key from peerDHPub||n.
func skippedKeyID(pub domain.X25519Public, n uint32) string {
	var buf [36]byte
	copy(buf[:32], pub[:])
	binary.BigEndian.PutUint32(buf[32:], n)
	return string(buf[:])
}

// processedDigest identifies a (header, ciphertext) pair for replay
// detection without retaining plaintext or key material.
func processedDigest(header domain.RatchetHeader, ciphertext []byte) string {
	h := sha512.New()
	h.Write(headerBytes(header))
	h.Write(ciphertext)
	return string(h.Sum(nil))
}

// markProcessed records digest, evicting an arbitrary entry once the
// bounded set is full.
func markProcessed(st *domain.RatchetState, digest string) {
	if st.ProcessedHashes == nil {
		st.ProcessedHashes = make(map[string]struct{})
	}
	if len(st.ProcessedHashes) >= maxProcessed {
		for k := range st.ProcessedHashes {
			delete(st.ProcessedHashes, k)
			break
		}
	}
	st.ProcessedHashes[digest] = struct{}{}
}

// RotateQuantumEpoch advances st's coarse wall-clock epoch if epochDuration
// has elapsed since QuantumEpochUTC, re-keying the root so a conversation
// left open for a long time is not carried by the same root material
// indefinitely. It reports whether a rotation happened. Unlike the
// per-ratchet-step Epoch bump in Encrypt/Decrypt, this never touches the send
// or receive chain keys in flight: it only folds forward the root key, so
// any message keys already derived this session remain valid.
func RotateQuantumEpoch(st *domain.RatchetState, nowUTC int64, epochDuration time.Duration) bool {
	if st == nil || epochDuration <= 0 {
		return false
	}
	if st.QuantumEpochUTC != 0 && nowUTC-st.QuantumEpochUTC < int64(epochDuration/time.Second) {
		return false
	}

	st.QuantumEpoch++
	var counter [4]byte
	binary.BigEndian.PutUint32(counter[:], st.QuantumEpoch)

	hk := hkdf.New(sha256.New, st.RootKey, counter[:], []byte("DR|qepoch"))
	newRoot := make([]byte, 32)
	io.ReadFull(hk, newRoot)
	st.RootKey = newRoot
	st.QuantumEpochUTC = nowUTC
	return true
}

// RejectFutureEpoch reports whether header claims an Epoch more than one
// step ahead of st.Epoch. A peer's own DH-ratchet step can put its header
// one epoch ahead of the receiver, never more.
func RejectFutureEpoch(st *domain.RatchetState, header domain.RatchetHeader) bool {
	return header.Epoch > st.Epoch+1
}

// equal32 compares two 32-byte slices in constant time.
func equal32(a, b []byte) bool {
	if len(a) != 32 || len(b) != 32 {
		return false
	}
	var v byte
	for i := range 32 {
		v |= a[i] ^ b[i]
	}
	return v == 0
}
