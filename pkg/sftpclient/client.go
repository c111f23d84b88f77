package sftpclient

import (
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"syscall"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/cuemby/certdeploy/pkg/errs"
	"github.com/cuemby/certdeploy/pkg/trust"
	"github.com/cuemby/certdeploy/pkg/types"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultBannerTimeout  = 10 * time.Second
)

// Client uploads one lineage's PEM files to a single remote client over
// SFTP, using the credentials and pinned host key carried by its
// ClientDescriptor.
type Client struct {
	descriptor     *types.ClientDescriptor
	store          *trust.Store
	lastHostKeyErr error
}

// New returns a Client for descriptor, using store to verify the remote
// host key against descriptor.Pubkey.
func New(descriptor *types.ClientDescriptor, store *trust.Store) (*Client, error) {
	if err := store.Pin(descriptor.DisplayName(), descriptor.Pubkey); err != nil {
		return nil, err
	}
	return &Client{descriptor: descriptor, store: store}, nil
}

// Upload dials the client, uploads every file job.LineagePath's lineage
// needs per the descriptor's needs_* flags, and closes the connection.
// Dial, handshake and transfer failures are SFTPTransientError, except a
// host key mismatch, which is always HostKeyMismatch and never retried.
func (c *Client) Upload(job *types.PushJob) error {
	conn, err := c.dial()
	if err != nil {
		return err
	}
	defer conn.Close()

	sftpClient, err := sftp.NewClient(conn, sftp.MaxPacket(32*1024))
	if err != nil {
		return errs.Wrap(errs.KindSFTPTransient, fmt.Sprintf("failed opening sftp session to %s", c.descriptor.DisplayName()), err)
	}
	defer sftpClient.Close()

	remoteDir := path.Join(c.descriptor.RemotePath, job.LineageName)
	if err := mkdirAllRemote(sftpClient, remoteDir); err != nil {
		return errs.Wrap(errs.KindSFTPTransient, fmt.Sprintf("failed creating remote directory %s on %s", remoteDir, c.descriptor.DisplayName()), err)
	}

	for _, name := range c.descriptor.NeededFiles() {
		localPath := path.Join(job.LineagePath, name)
		if err := c.uploadOne(sftpClient, localPath, path.Join(remoteDir, name)); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) uploadOne(sftpClient *sftp.Client, localPath, remotePath string) error {
	local, err := os.Open(localPath)
	if err != nil {
		return errs.Wrap(errs.KindSFTPTransient, fmt.Sprintf("failed opening %s for upload", localPath), err)
	}
	defer local.Close()

	info, err := local.Stat()
	if err != nil {
		return errs.Wrap(errs.KindSFTPTransient, fmt.Sprintf("failed stat-ing %s", localPath), err)
	}

	tmpRemote := remotePath + ".uploading"
	remote, err := sftpClient.Create(tmpRemote)
	if err != nil {
		return errs.Wrap(errs.KindSFTPTransient, fmt.Sprintf("failed creating %s on %s", tmpRemote, c.descriptor.DisplayName()), err)
	}

	if _, err := io.Copy(remote, local); err != nil {
		remote.Close()
		sftpClient.Remove(tmpRemote)
		return errs.Wrap(errs.KindSFTPTransient, fmt.Sprintf("failed writing %s on %s", tmpRemote, c.descriptor.DisplayName()), err)
	}
	if err := remote.Close(); err != nil {
		return errs.Wrap(errs.KindSFTPTransient, fmt.Sprintf("failed closing %s on %s", tmpRemote, c.descriptor.DisplayName()), err)
	}

	if err := sftpClient.Chmod(tmpRemote, info.Mode().Perm()); err != nil {
		return errs.Wrap(errs.KindSFTPTransient, fmt.Sprintf("failed setting mode on %s", tmpRemote), err)
	}
	if err := sftpClient.Chtimes(tmpRemote, info.ModTime(), info.ModTime()); err != nil {
		return errs.Wrap(errs.KindSFTPTransient, fmt.Sprintf("failed setting mtime on %s", tmpRemote), err)
	}
	// Owner/group only transfers when the source's uid/gid are resolvable
	// and the remote session has permission to chown; an unprivileged
	// remote user rejecting this is expected and not fatal to the upload.
	if uid, gid, ok := fileOwnership(info); ok {
		sftpClient.Chown(tmpRemote, uid, gid)
	}
	if err := sftpClient.Rename(tmpRemote, remotePath); err != nil {
		return errs.Wrap(errs.KindSFTPTransient, fmt.Sprintf("failed renaming %s into place on %s", remotePath, c.descriptor.DisplayName()), err)
	}
	return nil
}

// fileOwnership extracts the uid/gid of a local file from its os.FileInfo,
// when the platform's Sys() value carries them (true on the unix targets
// certdeploy actually runs on).
func fileOwnership(info os.FileInfo) (uid, gid int, ok bool) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, 0, false
	}
	return int(stat.Uid), int(stat.Gid), true
}

func mkdirAllRemote(sftpClient *sftp.Client, dir string) error {
	if dir == "" || dir == "." || dir == "/" {
		return nil
	}
	if info, err := sftpClient.Stat(dir); err == nil {
		if !info.IsDir() {
			return fmt.Errorf("%s exists and is not a directory", dir)
		}
		return nil
	}
	if err := mkdirAllRemote(sftpClient, path.Dir(dir)); err != nil {
		return err
	}
	if err := sftpClient.Mkdir(dir); err != nil {
		if info, statErr := sftpClient.Stat(dir); statErr == nil && info.IsDir() {
			return nil
		}
		return err
	}
	return sftpClient.Chmod(dir, 0700)
}

func (c *Client) dial() (*ssh.Client, error) {
	connectTimeout := defaultConnectTimeout
	if c.descriptor.ConnectTimeout != nil {
		connectTimeout = time.Duration(*c.descriptor.ConnectTimeout) * time.Second
	}
	bannerTimeout := defaultBannerTimeout
	if c.descriptor.SFTPBannerTimeout != nil {
		bannerTimeout = time.Duration(*c.descriptor.SFTPBannerTimeout) * time.Second
	}

	config := &ssh.ClientConfig{
		User:            c.descriptor.Username,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(c.store.Signer)},
		Timeout:         connectTimeout,
		HostKeyCallback: c.verifyHostKey,
	}

	addr := net.JoinHostPort(c.descriptor.Address, portString(c.descriptor.Port))
	conn, err := net.DialTimeout("tcp", addr, connectTimeout)
	if err != nil {
		return nil, errs.Wrap(errs.KindSFTPTransient, fmt.Sprintf("failed dialing %s", addr), err)
	}

	// The banner/handshake phase gets its own deadline, separate from the
	// dial timeout above; cleared once the handshake completes so later
	// SFTP traffic isn't bound by it.
	conn.SetDeadline(time.Now().Add(bannerTimeout))

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		if c.lastHostKeyErr != nil {
			return nil, c.lastHostKeyErr
		}
		return nil, errs.Wrap(errs.KindSFTPTransient, fmt.Sprintf("failed ssh handshake with %s", addr), err)
	}
	conn.SetDeadline(time.Time{})
	return ssh.NewClient(sshConn, chans, reqs), nil
}

// verifyHostKey is the ssh.ClientConfig.HostKeyCallback. It stashes any
// mismatch on the Client itself because the ssh package does not guarantee
// it preserves the callback's error type through its own wrapping.
func (c *Client) verifyHostKey(hostname string, remote net.Addr, key ssh.PublicKey) error {
	if err := c.store.Verify(c.descriptor.DisplayName(), key); err != nil {
		c.lastHostKeyErr = err
		return err
	}
	return nil
}

func portString(port int) string {
	if port == 0 {
		port = 22
	}
	return fmt.Sprintf("%d", port)
}
