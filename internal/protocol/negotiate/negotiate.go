package negotiate

import (
	"ciphera/internal/domain"
)

// Negotiator implements domain.AlgorithmNegotiator.
type Negotiator struct{}

// New returns a ready-to-use Negotiator.
func New() *Negotiator { return &Negotiator{} }

var _ domain.AlgorithmNegotiator = (*Negotiator)(nil)

// Negotiate resolves local/remote capability sets to a single algorithm.
func (n *Negotiator) Negotiate(
	mode domain.NegotiationMode,
	local, remote domain.Capabilities,
) (domain.NegotiationResult, error) {
	localSet := toSet(local.Algorithms)
	remoteSet := toSet(remote.Algorithms)

	var chosen domain.Algorithm
	fallback := false
	for _, alg := range domain.AlgorithmPriority {
		if localSet[alg] && remoteSet[alg] {
			chosen = alg
			break
		}
	}
	if chosen == "" {
		chosen = domain.AlgRSA2048OAEP
		fallback = true
	}

	result := domain.NegotiationResult{
		Chosen:       chosen,
		FallbackUsed: fallback,
		Local:        local.Algorithms,
		Remote:       remote.Algorithms,
	}

	if mode == domain.ModeQuantumOnly && !chosen.IsQuantum() {
		return result, domain.ErrPQUnavailable
	}
	if mode == domain.ModeHybrid && chosen != domain.AlgHybridRSAMLKEM {
		// Only the explicit hybrid algorithm runs a classical DH leg and
		// a PQ KEM leg independently; any other outcome cannot satisfy
		// hybrid policy.
		return result, domain.ErrPQUnavailable
	}

	return result, nil
}

func toSet(algs []domain.Algorithm) map[domain.Algorithm]bool {
	set := make(map[domain.Algorithm]bool, len(algs))
	for _, a := range algs {
		set[a] = true
	}
	return set
}
