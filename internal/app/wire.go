package app

import (
	"log/slog"
	"net/http"

	"ciphera/internal/domain"
	"ciphera/internal/relay"
	identitysvc "ciphera/internal/services/identity"
	messagesvc "ciphera/internal/services/message"
	multidevicesvc "ciphera/internal/services/multidevice"
	prekeysvc "ciphera/internal/services/prekey"
	sessionsvc "ciphera/internal/services/session"
	sessionmgrsvc "ciphera/internal/services/sessionmanager"
	"ciphera/internal/store"
)

// Wire bundles all stores, services, and clients for the CLI.
type Wire struct {
	IdentityService    domain.IdentityService
	PreKeyService      domain.PreKeyService
	SessionService     domain.SessionService
	MessageService     domain.MessageService
	DeviceRegistry     domain.DeviceRegistry
	ConversationBinder domain.ConversationBinder
	SyncQueue          domain.SyncQueue
	RelayClient        domain.RelayClient
	HTTPClient         *http.Client
	DeviceID           domain.DeviceID

	ratchetStore domain.RatchetStore
	recordStore  domain.SessionRecordStore
	sessionSvc   domain.SessionService
}

// SessionManager builds a domain.SessionManager bound to passphrase. It is
// a factory rather than a Wire field because SessionManager.Open needs a
// passphrase to unlock the identity it hands to X3DH, and Wire is built
// once per process while a passphrase is supplied per command invocation.
func (w *Wire) SessionManager(passphrase string) domain.SessionManager {
	return sessionmgrsvc.New(passphrase, w.sessionSvc, w.ratchetStore, w.recordStore)
}

// NewWire constructs the dependency graph from cfg.
func NewWire(cfg Config) (*Wire, error) {
	// File-based stores
	idStore := store.NewIdentityFileStore(cfg.HomeDir)
	prekeyStore := store.NewPrekeyFileStore(cfg.HomeDir)
	bundleStore := store.NewBundleFileStore(cfg.HomeDir)
	sessionStore := store.NewSessionFileStore(cfg.HomeDir)
	ratchetStore := store.NewRatchetFileStore(cfg.HomeDir)
	accountStore := store.NewAccountFileStore(cfg.HomeDir)
	recordStore := store.NewSessionRecordFileStore(cfg.HomeDir)
	deviceStore := store.NewDeviceFileStore(cfg.HomeDir)
	bindingStore := store.NewConversationBindingFileStore(cfg.HomeDir)
	syncQueueStore := store.NewSyncQueueFileStore(cfg.HomeDir)

	// Ensure an HTTP client is available for outbound calls
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	deviceID, err := LoadOrCreateDeviceID(cfg.HomeDir)
	if err != nil {
		return nil, err
	}

	// Relay client (uses provided HTTP client)
	relayClient := relay.NewHTTP(cfg.RelayURL, httpClient)

	// High-level services
	idSvc := identitysvc.New(idStore)
	prekeySvc := prekeysvc.New(idStore, prekeyStore, bundleStore, accountStore)
	sessionSvc := sessionsvc.New(idStore, bundleStore, sessionStore, relayClient, cfg.NegotiationMode, logger)
	messageSvc := messagesvc.New(
		idStore,
		prekeyStore,
		ratchetStore,
		sessionSvc,
		relayClient,
		accountStore,
		cfg.RelayURL,
		cfg.EffectiveMaxMessageAge(),
	)
	multideviceSvc := multidevicesvc.New(
		deviceStore,
		bindingStore,
		syncQueueStore,
		relayClient,
		idSvc,
		prekeySvc,
		logger,
	)

	return &Wire{
		IdentityService:    idSvc,
		PreKeyService:      prekeySvc,
		SessionService:     sessionSvc,
		MessageService:     messageSvc,
		DeviceRegistry:     multideviceSvc,
		ConversationBinder: multideviceSvc,
		SyncQueue:          multideviceSvc,
		RelayClient:        relayClient,
		HTTPClient:         httpClient,
		DeviceID:           deviceID,

		ratchetStore: ratchetStore,
		recordStore:  recordStore,
		sessionSvc:   sessionSvc,
	}, nil
}
