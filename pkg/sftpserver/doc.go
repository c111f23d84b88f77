/*
Package sftpserver implements certdeploy's embedded SFTP server (C7), the
client-side listener a certdeploy-client daemon runs for its whole process
lifetime so the server's uploader (pkg/sftpclient) has somewhere to push
lineages.

The server presents the client's own ed25519 key as its host key and
accepts exactly one configured username authenticated by exactly one
pinned public key — there is no password auth, no user database, and no
trust-on-first-use. Every session is confined to a root directory: a path
that names root or a path below it is used as is, any other path is taken
relative to root, and a path whose "../" elements climb above root is
rejected before it reaches the filesystem.
*/
package sftpserver
