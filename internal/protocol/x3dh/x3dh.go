package x3dh

import (
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"ciphera/internal/crypto"
	"ciphera/internal/domain"
	"ciphera/internal/util/memzero"
)

// Result carries the root key an X3DH run produces.
type Result struct {
	RootKey []byte
}

// InitiatorRootKey derives the root key for the initiator using X3DH. When
// alg is a quantum or hybrid algorithm, quantumSecret is the ML-KEM shared
// secret encapsulated against the responder's quantum key and is mixed
// into the transcript alongside the classical DH outputs.
func InitiatorRootKey(
	alg domain.Algorithm,
	ourIDPriv domain.X25519Private,
	ourEphPriv domain.X25519Private,
	peerIDPub domain.X25519Public,
	peerSPK domain.X25519Public,
	peerOPK *domain.X25519Public,
	quantumSecret []byte,
) (Result, error) {
	dh1, err := dh(ourIDPriv, peerSPK) // DH(IKA, SPKB)
	if err != nil {
		return Result{}, err
	}
	dh2, err := dh(ourEphPriv, peerIDPub) // DH(EKA, IKB)
	if err != nil {
		return Result{}, err
	}
	dh3, err := dh(ourEphPriv, peerSPK) // DH(EKA, SPKB)
	if err != nil {
		return Result{}, err
	}

	transcript := make([]byte, 0, 32*4+64)
	transcript = append(transcript, dh1[:]...)
	transcript = append(transcript, dh2[:]...)
	transcript = append(transcript, dh3[:]...)

	if peerOPK != nil {
		dh4, err := dh(ourEphPriv, *peerOPK) // DH(EKA, OPKB)
		if err != nil {
			return Result{}, err
		}
		transcript = append(transcript, dh4[:]...)
	}
	if alg.IsQuantum() && quantumSecret != nil {
		transcript = append(transcript, quantumSecret...)
	}

	root := deriveRoot(alg, transcript)
	memzero.Zero(transcript)
	return Result{RootKey: root}, nil
}

// ResponderRootKey derives the identical root key on the responder side
// from the PrekeyMessage's ephemeral/identity keys and the responder's own
// identity/signed-prekey/one-time-prekey private halves.
func ResponderRootKey(
	alg domain.Algorithm,
	ourIDPriv domain.X25519Private,
	ourSPKPriv domain.X25519Private,
	ourOPKPriv *domain.X25519Private,
	peerIDPub domain.X25519Public,
	peerEphPub domain.X25519Public,
	quantumSecret []byte,
) (Result, error) {
	dh1, err := dh(ourSPKPriv, peerIDPub) // SPKb . IKa
	if err != nil {
		return Result{}, err
	}
	dh2, err := dh(ourIDPriv, peerEphPub) // IKb . EKa
	if err != nil {
		return Result{}, err
	}
	dh3, err := dh(ourSPKPriv, peerEphPub) // SPKb . EKa
	if err != nil {
		return Result{}, err
	}

	transcript := make([]byte, 0, 32*4+64)
	transcript = append(transcript, dh1[:]...)
	transcript = append(transcript, dh2[:]...)
	transcript = append(transcript, dh3[:]...)

	if ourOPKPriv != nil {
		dh4, err := dh(*ourOPKPriv, peerEphPub) // OPKb . EKa
		if err != nil {
			return Result{}, err
		}
		transcript = append(transcript, dh4[:]...)
	}
	if alg.IsQuantum() && quantumSecret != nil {
		transcript = append(transcript, quantumSecret...)
	}

	root := deriveRoot(alg, transcript)
	memzero.Zero(transcript)
	return Result{RootKey: root}, nil
}

// InitiatorRoot runs X3DH against a peer's fetched pre-key bundle under the
// already-negotiated algorithm alg. It generates a fresh ephemeral key
// pair, encapsulates a post-quantum shared secret when alg calls for one,
// and returns the derived root key together with the identifiers and
// ciphertext the initiator must carry in its first PreKeyMessage so the
// responder can reconstruct the same transcript.
func InitiatorRoot(alg domain.Algorithm, id domain.Identity, bundle domain.PreKeyBundle) (
	rootKey []byte,
	signedPreKeyID domain.SignedPreKeyID,
	oneTimePreKeyID domain.OneTimePreKeyID,
	ephemeralPub domain.X25519Public,
	quantumCiphertext domain.KEMCiphertext,
	err error,
) {
	if !VerifySPK(bundle.SigningKey, bundle.SignedPreKey, bundle.SignedPreKeySignature) {
		return nil, "", "", domain.X25519Public{}, nil, fmt.Errorf("signed pre-key signature invalid for %s", bundle.Username)
	}

	ephPriv, ephPub, err := crypto.GenerateX25519()
	if err != nil {
		return nil, "", "", domain.X25519Public{}, nil, err
	}

	var opkPub *domain.X25519Public
	var opkID domain.OneTimePreKeyID
	if len(bundle.OneTimePreKeys) > 0 {
		otk := bundle.OneTimePreKeys[0]
		opkPub = &otk.Pub
		opkID = otk.ID
	}

	var quantumSecret []byte
	if alg.IsQuantum() {
		if len(bundle.QuantumKey) == 0 {
			return nil, "", "", domain.X25519Public{}, nil, fmt.Errorf("algorithm %s negotiated but bundle for %s carries no quantum key", alg, bundle.Username)
		}
		quantumSecret, quantumCiphertext, err = encapsulate(alg, bundle.QuantumKey)
		if err != nil {
			return nil, "", "", domain.X25519Public{}, nil, fmt.Errorf("quantum encapsulation: %w", err)
		}
	}

	result, err := InitiatorRootKey(alg, id.XPriv, ephPriv, bundle.IdentityKey, bundle.SignedPreKey, opkPub, quantumSecret)
	if err != nil {
		return nil, "", "", domain.X25519Public{}, nil, err
	}
	memzero.Zero(quantumSecret)

	return result.RootKey, bundle.SignedPreKeyID, opkID, ephPub, quantumCiphertext, nil
}

// ResponderRoot reconstructs the root key on the responder side from an
// inbound PreKeyMessage, using the signed pre-key (and, if the message names
// one, the one-time pre-key) private halves already pulled from storage.
func ResponderRoot(
	identity domain.Identity,
	signedPreKeyPriv domain.X25519Private,
	oneTimePreKeyPriv *domain.X25519Private,
	msg domain.PreKeyMessage,
) ([]byte, error) {
	var quantumSecret []byte
	if msg.Algorithm.IsQuantum() && len(msg.QuantumCiphertext) > 0 {
		secret, err := decapsulate(msg.Algorithm, identity.KEMPriv, msg.QuantumCiphertext)
		if err != nil {
			return nil, fmt.Errorf("quantum decapsulation: %w", err)
		}
		quantumSecret = secret
		defer memzero.Zero(quantumSecret)
	}

	alg := msg.Algorithm
	if alg == "" {
		alg = AlgCurve25519
	}
	result, err := ResponderRootKey(
		alg,
		identity.XPriv,
		signedPreKeyPriv,
		oneTimePreKeyPriv,
		msg.InitiatorIdentityKey,
		msg.EphemeralKey,
		quantumSecret,
	)
	if err != nil {
		return nil, err
	}
	return result.RootKey, nil
}

func encapsulate(alg domain.Algorithm, pub domain.KEMPublicKey) ([]byte, domain.KEMCiphertext, error) {
	switch alg {
	case AlgMLKEM1024:
		return crypto.EncapsulateMLKEM1024(pub)
	case AlgMLKEM768, AlgHybridRSAMLKEM:
		return crypto.EncapsulateMLKEM768(pub)
	default:
		return nil, nil, fmt.Errorf("unsupported quantum algorithm %s", alg)
	}
}

func decapsulate(alg domain.Algorithm, priv domain.KEMPrivateKey, ct domain.KEMCiphertext) ([]byte, error) {
	switch alg {
	case AlgMLKEM1024:
		return crypto.DecapsulateMLKEM1024(priv, ct)
	case AlgMLKEM768, AlgHybridRSAMLKEM:
		return crypto.DecapsulateMLKEM768(priv, ct)
	default:
		return nil, fmt.Errorf("unsupported quantum algorithm %s", alg)
	}
}

// AlgCurve25519 is the classical default when a bundle advertises no
// quantum capability.
const AlgCurve25519 = domain.AlgCurve25519

// VerifySPK checks the signed prekey signature.
func VerifySPK(edPub domain.Ed25519Public, spk domain.X25519Public, sig []byte) bool {
	return ed25519.Verify(edPub.Slice(), spk.Slice(), sig)
}

func dh(priv domain.X25519Private, pub domain.X25519Public) ([32]byte, error) {
	res, err := curve25519.X25519(priv.Slice(), pub.Slice())
	var out [32]byte
	if err != nil {
		return out, err
	}
	copy(out[:], res)
	return out, nil
}

// deriveRoot runs the transcript through HKDF-SHA-256. info is tagged with
// the negotiated algorithm so transcripts derived under different
// algorithms can never collide on root key material.
func deriveRoot(alg domain.Algorithm, transcript []byte) []byte {
	info := []byte("ciphera-x3dh|" + string(alg))
	hk := hkdf.New(sha256.New, transcript, nil, info)
	root := make([]byte, 32)
	io.ReadFull(hk, root)
	return root
}
