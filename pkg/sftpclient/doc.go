/*
Package sftpclient implements certdeploy's SFTP uploader (C3): the
server-side half of one push, dialing a single client over SSH and copying
the lineage files that client's descriptor asks for.

A Client pins the remote host key via pkg/trust before the handshake
completes — an unpinned or mismatched key is always HostKeyMismatch, never
retried, the way a TOFU-less SSH client refuses to proceed past an unknown
host. Everything past that point (dial refused, banner timeout, write
failure mid-transfer) is SFTPTransientError, the one error kind the push
engine is allowed to retry.

Each file is written to a temp name in the remote directory and renamed
into place once fully written, so a client's promoter never observes a
partially-uploaded lineage member.
*/
package sftpclient
