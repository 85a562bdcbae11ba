// Package multidevice handles per-device conversation bindings, device
// registration and trust, the key-mismatch recovery ladder, and the
// at-most-once cross-device sync queue.
//
// It sits above SessionManager: a conversation with a multi-device peer
// fans out to one SessionManager-owned session per bound device, and a
// message composed locally is queued for sync to every other trusted
// device the local user owns. Neither direction shares ratchet state
// across devices; each binding's session advances its own AEAD chain
// independently, one logical plaintext turning into N physical
// ciphertexts.
package multidevice
