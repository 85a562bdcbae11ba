package app

import (
	"log/slog"
	"net/http"
	"time"

	"ciphera/internal/domain"
)

// Config holds runtime wiring options for building the app.
type Config struct {
	HomeDir    string       // config directory, e.g. $HOME/.ciphera
	RelayURL   string       // relay base URL, e.g. http://127.0.0.1:8080
	HTTPClient *http.Client // optional; defaults to http.DefaultClient
	Logger     *slog.Logger // optional; defaults to slog.Default()

	// MaxMessageAge bounds how old an envelope's timestamp may be before
	// message.Service.ReceiveMessage rejects it with domain.ErrTooOld. Zero
	// means the default (1h); values above 24h are clamped to 24h.
	MaxMessageAge time.Duration

	// NegotiationMode constrains algorithm negotiation outcomes
	// (standard/hybrid/quantum_only). Zero value is ModeStandard.
	NegotiationMode domain.NegotiationMode

	// MaxSkip bounds retained skipped-message keys per ratchet. Zero
	// means the ratchet package default (1000).
	MaxSkip int

	// SignedPreKeyRotationInterval governs when rotate-prekeys is due.
	// Zero means the default (7 days).
	SignedPreKeyRotationInterval time.Duration

	// QuantumEpochDuration governs the coarse wall-clock epoch rotation.
	// Zero means the default (24h).
	QuantumEpochDuration time.Duration
}

// defaultSignedPreKeyRotationInterval is used when
// Config.SignedPreKeyRotationInterval is unset.
const defaultSignedPreKeyRotationInterval = 7 * 24 * time.Hour

// defaultQuantumEpochDuration is used when Config.QuantumEpochDuration is
// unset.
const defaultQuantumEpochDuration = 24 * time.Hour

// EffectiveSignedPreKeyRotationInterval applies the default above.
func (cfg Config) EffectiveSignedPreKeyRotationInterval() time.Duration {
	if cfg.SignedPreKeyRotationInterval <= 0 {
		return defaultSignedPreKeyRotationInterval
	}
	return cfg.SignedPreKeyRotationInterval
}

// EffectiveQuantumEpochDuration applies the default above.
func (cfg Config) EffectiveQuantumEpochDuration() time.Duration {
	if cfg.QuantumEpochDuration <= 0 {
		return defaultQuantumEpochDuration
	}
	return cfg.QuantumEpochDuration
}

// defaultMaxMessageAge is used when Config.MaxMessageAge is unset.
const defaultMaxMessageAge = time.Hour

// maxAllowedMessageAge bounds how far a caller may extend MaxMessageAge.
const maxAllowedMessageAge = 24 * time.Hour

// EffectiveMaxMessageAge returns cfg.MaxMessageAge clamped into
// (0, maxAllowedMessageAge], defaulting to defaultMaxMessageAge when unset.
func (cfg Config) EffectiveMaxMessageAge() time.Duration {
	switch {
	case cfg.MaxMessageAge <= 0:
		return defaultMaxMessageAge
	case cfg.MaxMessageAge > maxAllowedMessageAge:
		return maxAllowedMessageAge
	default:
		return cfg.MaxMessageAge
	}
}
