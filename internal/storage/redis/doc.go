// Package redis holds the shared Redis connection helpers and the
// distributed nonce lock used when several worker replicas sign for the
// same addresses.
package redis
