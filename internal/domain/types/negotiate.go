package types

// Algorithm names one key-agreement mechanism a peer can offer or accept.
// The zero value is never valid on the wire; negotiation always picks a
// concrete member of this set.
type Algorithm string

const (
	AlgMLKEM1024       Algorithm = "ML-KEM-1024"
	AlgMLKEM768        Algorithm = "ML-KEM-768"
	AlgMLKEM512        Algorithm = "ML-KEM-512"
	AlgHybridRSAMLKEM  Algorithm = "HYBRID-RSA4096-MLKEM768"
	AlgCurve25519      Algorithm = "Curve25519"
	AlgP256            Algorithm = "P-256"
	AlgRSA4096OAEP     Algorithm = "RSA-4096-OAEP"
	AlgRSA2048OAEP     Algorithm = "RSA-2048-OAEP"
)

// AlgorithmPriority is the fixed, total preference order used to resolve a
// capability intersection. Earlier entries win.
var AlgorithmPriority = []Algorithm{
	AlgMLKEM1024,
	AlgMLKEM768,
	AlgMLKEM512,
	AlgHybridRSAMLKEM,
	AlgCurve25519,
	AlgP256,
	AlgRSA4096OAEP,
	AlgRSA2048OAEP,
}

// NegotiationMode constrains which outcomes a negotiation is allowed to
// produce.
type NegotiationMode string

const (
	// ModeStandard accepts whatever the priority list selects.
	ModeStandard NegotiationMode = "standard"
	// ModeHybrid requires both a classical DH algorithm and a PQ KEM
	// algorithm to be negotiated and to succeed independently.
	ModeHybrid NegotiationMode = "hybrid"
	// ModeQuantumOnly rejects any classical-only outcome.
	ModeQuantumOnly NegotiationMode = "quantum_only"
)

// Capabilities is the set of algorithms one side is willing to use, as
// exchanged during handshake setup.
type Capabilities struct {
	Algorithms []Algorithm `json:"algorithms"`
}

// NegotiationResult records the outcome of an algorithm negotiation,
// suitable for the audit log.
type NegotiationResult struct {
	Chosen       Algorithm `json:"chosen"`
	FallbackUsed bool      `json:"fallback_used"`
	Local        []Algorithm `json:"local"`
	Remote       []Algorithm `json:"remote"`
}

// IsQuantum reports whether alg involves a post-quantum KEM component.
func (a Algorithm) IsQuantum() bool {
	switch a {
	case AlgMLKEM1024, AlgMLKEM768, AlgMLKEM512, AlgHybridRSAMLKEM:
		return true
	default:
		return false
	}
}

// IsClassical reports whether alg carries a classical Diffie-Hellman or
// RSA component (true for every member except the pure ML-KEM tiers).
func (a Algorithm) IsClassical() bool {
	switch a {
	case AlgHybridRSAMLKEM, AlgCurve25519, AlgP256, AlgRSA4096OAEP, AlgRSA2048OAEP:
		return true
	default:
		return false
	}
}
