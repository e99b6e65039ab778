// Package keys manages the Ed25519 identity of a storage node.
//
// A node's peer ID is the base58 identity multihash of its public key, so any
// peer can recover the public key from the ID alone and verify name records
// signed by that node. Signatures cover the sha3-256 digest of the message.
//
// KeyStore persists node seeds on the local filesystem; client-like nodes
// usually generate an ephemeral key instead.
package keys
