// Package web3 houses chain connectivity primitives shared by the wallet
// layer: the chain routing table loaded from YAML, the narrow ChainClient
// contract every RPC backend satisfies, and receipt waiting helpers used by
// both signing strategies to confirm a broadcast on the public chain.
package web3
