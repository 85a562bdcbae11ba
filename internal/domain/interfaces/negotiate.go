package interfaces

import domaintypes "ciphera/internal/domain/types"

// AlgorithmNegotiator resolves a local/remote capability pair to a single
// algorithm under a fixed priority order and a policy mode.
type AlgorithmNegotiator interface {
	Negotiate(
		mode domaintypes.NegotiationMode,
		local, remote domaintypes.Capabilities,
	) (domaintypes.NegotiationResult, error)
}
