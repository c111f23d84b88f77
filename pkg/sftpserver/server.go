package sftpserver

import (
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"

	"github.com/cuemby/certdeploy/pkg/errs"
)

// Config describes one embedded SFTP server instance.
type Config struct {
	ListenAddress string // "*" means all interfaces
	ListenPort    int
	Username      string
	HostKey       ssh.Signer
	AuthorizedKey ssh.PublicKey
	Root          string // source_dir; every session is confined here
	BannerTimeout time.Duration
}

// Server is certdeploy-client's embedded SFTP listener (C7). It accepts
// exactly one username/pubkey pair and grants write access only under
// Root, for the lifetime of the client daemon.
type Server struct {
	cfg      Config
	sshCfg   *ssh.ServerConfig
	listener net.Listener
	logger   zerolog.Logger

	mu      sync.Mutex
	closed  bool
	wg      sync.WaitGroup
}

// New builds a Server from cfg, validating that Root exists, but does not
// start listening yet.
func New(cfg Config, logger zerolog.Logger) (*Server, error) {
	info, err := os.Stat(cfg.Root)
	if err != nil || !info.IsDir() {
		return nil, errs.Wrap(errs.KindConfigError, fmt.Sprintf("source directory %s is not a directory", cfg.Root), err)
	}

	sshCfg := &ssh.ServerConfig{
		PublicKeyCallback: func(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if conn.User() != cfg.Username {
				return nil, fmt.Errorf("unrecognized user %q", conn.User())
			}
			if !bytesEqual(key, cfg.AuthorizedKey) {
				return nil, fmt.Errorf("unrecognized public key")
			}
			return nil, nil
		},
	}
	sshCfg.AddHostKey(cfg.HostKey)

	return &Server{cfg: cfg, sshCfg: sshCfg, logger: logger}, nil
}

func bytesEqual(a, b ssh.PublicKey) bool {
	if a == nil || b == nil {
		return false
	}
	return string(a.Marshal()) == string(b.Marshal())
}

// Serve binds the listen address and accepts connections until Close is
// called. It blocks, so callers run it in its own goroutine.
func (s *Server) Serve() error {
	addr := s.cfg.ListenAddress
	if addr == "*" || addr == "" {
		addr = ""
	}
	listener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", addr, s.cfg.ListenPort))
	if err != nil {
		return errs.Wrap(errs.KindConfigError, fmt.Sprintf("failed binding %s:%d", addr, s.cfg.ListenPort), err)
	}
	s.listener = listener

	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				s.wg.Wait()
				return nil
			}
			s.logger.Error().Err(err).Msg("sftp listener accept failed")
			continue
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// Close stops accepting new connections. In-flight sessions are allowed to
// finish.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	if s.cfg.BannerTimeout > 0 {
		conn.SetDeadline(time.Now().Add(s.cfg.BannerTimeout))
	}

	sshConn, chans, reqs, err := ssh.NewServerConn(conn, s.sshCfg)
	if err != nil {
		s.logger.Error().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("sftp handshake rejected")
		return
	}
	defer sshConn.Close()
	conn.SetDeadline(time.Time{})

	go ssh.DiscardRequests(reqs)

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			newChan.Reject(ssh.UnknownChannelType, "unsupported channel type")
			continue
		}
		channel, requests, err := newChan.Accept()
		if err != nil {
			s.logger.Error().Err(err).Msg("sftp channel accept failed")
			continue
		}
		go s.handleSession(channel, requests)
	}
}

func (s *Server) handleSession(channel ssh.Channel, requests <-chan *ssh.Request) {
	defer channel.Close()

	for req := range requests {
		ok := req.Type == "subsystem" && strings.Contains(string(req.Payload), "sftp")
		if req.WantReply {
			req.Reply(ok, nil)
		}
		if !ok {
			continue
		}

		root := &rootedHandlers{root: s.cfg.Root}
		server := sftp.NewRequestServer(channel, sftp.Handlers{
			FileGet:  root,
			FilePut:  root,
			FileCmd:  root,
			FileList: root,
		})
		if err := server.Serve(); err != nil && err != io.EOF {
			s.logger.Error().Err(err).Msg("sftp session ended with error")
		}
		server.Close()
		return
	}
}
