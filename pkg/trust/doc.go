/*
Package trust loads certdeploy's ed25519 key material and pins remote peer
public keys (C1).

There is no trust-on-first-use: every SSH connection — the server dialing a
client's embedded SFTP server, or the client accepting the server's pinned
user key — is checked against an exact, pre-configured public key. A mismatch
is always a fatal, non-retryable HostKeyMismatch (see pkg/errs), never a
prompt and never a cache entry, the way the wire contract in SPEC_FULL.md §6
requires.
*/
package trust
