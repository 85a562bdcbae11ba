// Package prekey implements domain.PreKeyService: generating signed and
// one-time pre-keys, rotating the current signed pre-key (earlier signed
// pre-keys stay in the store and are not deleted), and assembling the
// bundle a peer fetches to start a session.
package prekey

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ciphera/internal/crypto"
	"ciphera/internal/domain"
)

// keepSignedPreKeys is the keep-set size at which rotateKeepingRecent
// prunes older signed pre-keys. Its keep set holds at most two ids, so
// this size is never reached and no signed pre-key is deleted.
const keepSignedPreKeys = 3

// oneTimePreKeyLowWater is the pool size below which LoadPreKeyBundle tops
// up fresh one-time pre-keys before assembling the bundle.
const oneTimePreKeyLowWater = 5

// oneTimePreKeyTarget is how many one-time pre-keys a top-up generates.
const oneTimePreKeyTarget = 20

// Service generates, rotates, and bundles pre-key material.
type Service struct {
	idStore      domain.IdentityStore
	prekeyStore  domain.PreKeyStore
	bundleStore  domain.PreKeyBundleStore
	accountStore domain.AccountStore
}

// New constructs a pre-key Service backed by the given stores.
func New(
	idStore domain.IdentityStore,
	prekeyStore domain.PreKeyStore,
	bundleStore domain.PreKeyBundleStore,
	accountStore domain.AccountStore,
) *Service {
	return &Service{
		idStore:      idStore,
		prekeyStore:  prekeyStore,
		bundleStore:  bundleStore,
		accountStore: accountStore,
	}
}

// GenerateAndStorePreKeys signs a fresh signed pre-key with the stored
// identity, makes it the current one (older signed pre-keys are kept, see
// rotateKeepingRecent), and generates count one-time pre-keys. It returns the new signed
// pre-key's public half and the public halves of the generated one-time
// pre-keys.
func (s *Service) GenerateAndStorePreKeys(passphrase string, count int) (
	domain.X25519Public,
	[]domain.X25519Public,
	error,
) {
	id, err := s.idStore.LoadIdentity(passphrase)
	if err != nil {
		return domain.X25519Public{}, nil, err
	}

	spkPriv, spkPub, err := crypto.GenerateX25519()
	if err != nil {
		return domain.X25519Public{}, nil, err
	}
	sig := crypto.SignEd25519(id.EdPriv, spkPub.Slice())

	spkID := domain.SignedPreKeyID(fmt.Sprintf("spk-%d", time.Now().UnixNano()))
	if err := s.prekeyStore.SaveSignedPreKey(spkID, spkPriv, spkPub, sig); err != nil {
		return domain.X25519Public{}, nil, err
	}
	if err := s.rotateKeepingRecent(spkID); err != nil {
		return domain.X25519Public{}, nil, err
	}
	if err := s.prekeyStore.SetCurrentSignedPreKeyID(spkID); err != nil {
		return domain.X25519Public{}, nil, err
	}

	otkPublics, err := s.topUpOneTimePreKeys(count)
	if err != nil {
		return domain.X25519Public{}, nil, err
	}

	return spkPub, otkPublics, nil
}

// rotateKeepingRecent builds a keep set from newID and the store's current
// id and deletes every other signed pre-key once that set reaches
// keepSignedPreKeys ids. The set never holds more than two ids, so nothing
// is deleted.
func (s *Service) rotateKeepingRecent(newID domain.SignedPreKeyID) error {
	current, hasCurrent, err := s.prekeyStore.CurrentSignedPreKeyID()
	if err != nil {
		return err
	}

	keep := map[domain.SignedPreKeyID]bool{newID: true}
	if hasCurrent {
		keep[current] = true
	}
	if len(keep) >= keepSignedPreKeys {
		return s.prekeyStore.DeleteSignedPreKeysExcept(keep)
	}
	// Fewer than keepSignedPreKeys ids in the keep set: nothing is pruned.
	return nil
}

// topUpOneTimePreKeys generates count fresh one-time pre-keys and returns
// their public halves.
func (s *Service) topUpOneTimePreKeys(count int) ([]domain.X25519Public, error) {
	if count <= 0 {
		return nil, nil
	}
	pairs := make([]domain.OneTimePreKeyPair, 0, count)
	publics := make([]domain.X25519Public, 0, count)
	for i := 0; i < count; i++ {
		priv, pub, err := crypto.GenerateX25519()
		if err != nil {
			return nil, err
		}
		id := domain.OneTimePreKeyID(fmt.Sprintf("otk-%d-%d", time.Now().UnixNano(), i))
		pairs = append(pairs, domain.OneTimePreKeyPair{ID: id, Priv: priv, Pub: pub})
		publics = append(publics, pub)
	}
	if err := s.prekeyStore.SaveOneTimePreKeys(pairs); err != nil {
		return nil, err
	}
	return publics, nil
}

// LoadPreKeyBundle assembles the bundle you register with a relay: your
// identity and signing keys, your current signed pre-key and its
// signature, and as many one-time pre-keys as are available. When the
// one-time pre-key pool has fallen below oneTimePreKeyLowWater, a fresh
// batch is generated before the bundle is assembled.
func (s *Service) LoadPreKeyBundle(
	passphrase string,
	username domain.Username,
	serverURL string,
) (domain.PreKeyBundle, error) {
	id, err := s.idStore.LoadIdentity(passphrase)
	if err != nil {
		return domain.PreKeyBundle{}, err
	}

	spkID, hasSPK, err := s.prekeyStore.CurrentSignedPreKeyID()
	if err != nil {
		return domain.PreKeyBundle{}, err
	}
	if !hasSPK {
		return domain.PreKeyBundle{}, fmt.Errorf("no signed pre-key generated yet; run GenerateAndStorePreKeys first")
	}
	_, spkPub, spkSig, found, err := s.prekeyStore.LoadSignedPreKey(spkID)
	if err != nil {
		return domain.PreKeyBundle{}, err
	}
	if !found {
		return domain.PreKeyBundle{}, fmt.Errorf("signed pre-key %q missing from store", spkID)
	}

	existing, err := s.prekeyStore.ListOneTimePreKeyPublics()
	if err != nil {
		return domain.PreKeyBundle{}, err
	}
	if len(existing) < oneTimePreKeyLowWater {
		if _, err := s.topUpOneTimePreKeys(oneTimePreKeyTarget); err != nil {
			return domain.PreKeyBundle{}, err
		}
		existing, err = s.prekeyStore.ListOneTimePreKeyPublics()
		if err != nil {
			return domain.PreKeyBundle{}, err
		}
	}

	bundle := domain.PreKeyBundle{
		Username:              username,
		IdentityKey:           id.XPub,
		SigningKey:            id.EdPub,
		SignedPreKeyID:        spkID,
		SignedPreKey:          spkPub,
		SignedPreKeySignature: spkSig,
		OneTimePreKeys:        existing,
		Capabilities:          domain.Capabilities{Algorithms: []domain.Algorithm{domain.AlgCurve25519}},
		RegistrationID:        registrationID(id.XPub.Slice()),
	}
	if len(id.KEMPub) > 0 {
		bundle.QuantumKey = id.KEMPub
		bundle.QuantumAlgorithm = domain.AlgMLKEM768
		bundle.Capabilities.Algorithms = append([]domain.Algorithm{bundle.QuantumAlgorithm}, bundle.Capabilities.Algorithms...)
	}

	if err := s.bundleStore.SavePreKeyBundle(bundle); err != nil {
		return domain.PreKeyBundle{}, err
	}

	if serverURL != "" {
		profile, found, err := s.accountStore.LoadAccountProfile(serverURL, username)
		if err != nil {
			return domain.PreKeyBundle{}, err
		}
		if !found {
			profile = domain.AccountProfile{
				ServerURL: serverURL,
				Username:  username,
				Canary:    crypto.Fingerprint(id.XPub.Slice()),
			}
			if err := s.accountStore.SaveAccountProfile(profile); err != nil {
				return domain.PreKeyBundle{}, err
			}
		}
	}

	return bundle, nil
}

// registrationID derives a stable per-identity registration id the way
// Signal installs use one: a uuid namespaced off the identity public key,
// truncated to the uint32 the wire format carries.
func registrationID(identityPub []byte) uint32 {
	id := uuid.NewSHA1(uuid.Nil, identityPub)
	return binary.BigEndian.Uint32(id[:4])
}

// Compile-time assertion that Service implements domain.PreKeyService.
var _ domain.PreKeyService = (*Service)(nil)
