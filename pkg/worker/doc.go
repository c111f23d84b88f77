// Package worker implements certdeploy's push engine (C4): the component
// that drains the C2 queue, delivering each pending lineage over SFTP to
// every client whose domain set wants it.
//
// The engine runs a worker pool sized by push_mode: serial uses a single
// worker draining (job, client) pairs one at a time; parallel runs one
// worker per client descriptor, so slow or unreachable clients never delay
// delivery to the others. Within a client, jobs are attempted in the
// queue's snapshot order. Each pair gets its own retry budget
// (client.push_retries, falling back to the server default) and only
// SFTPTransientError is retried; a HostKeyMismatch or any other typed
// error exhausts the pair immediately. fail_fast promotes the first
// exhausted pair into an abort of the whole drain.
package worker
