// Package hook implements certdeploy's deploy hook entry (C6): the short
// program an ACME client invokes after a successful renewal.
//
// It reads RENEWED_LINEAGE (the certificate directory) and RENEWED_DOMAINS
// (a space-separated domain list) from the environment, builds one push
// job, and enqueues it into the C2 queue for the push engine to drain. Any
// missing environment variable or enqueue failure is reported as an error
// so the caller exits non-zero.
package hook
