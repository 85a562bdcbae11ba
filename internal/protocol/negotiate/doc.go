// Package negotiate picks a single key-agreement algorithm from two
// capability sets under a fixed priority order.
//
// The order, highest preference first, is:
//
//	ML-KEM-1024 > ML-KEM-768 > ML-KEM-512 > HYBRID-RSA4096-MLKEM768 >
//	Curve25519 > P-256 > RSA-4096-OAEP > RSA-2048-OAEP
//
// The first entry present in both the local and the remote capability set
// wins. An empty intersection falls back to RSA-2048-OAEP and reports
// FallbackUsed. quantum_only policy rejects any classical-only outcome;
// hybrid policy accepts only HYBRID-RSA4096-MLKEM768, the one algorithm
// that runs both a classical leg and a KEM leg.
package negotiate
