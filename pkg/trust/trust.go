package trust

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/cuemby/certdeploy/pkg/errs"
)

// LoadPrivateKey loads an unencrypted ed25519 private key from path. No
// passphrase is ever accepted, per §4.1.
func LoadPrivateKey(path string) (ssh.Signer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.KindConfigError, fmt.Sprintf("failed reading private key %s", path), err)
	}
	signer, err := ssh.ParsePrivateKey(raw)
	if err != nil {
		return nil, errs.Wrap(errs.KindConfigError, fmt.Sprintf("failed parsing private key %s (passphrase-protected keys are not supported)", path), err)
	}
	return signer, nil
}

// ParsePinnedKey normalizes a pinned public key value, which may be either
// the literal authorized_keys-style line or a path to a file containing one.
// Trailing comments (the third authorized_keys field) are stripped.
func ParsePinnedKey(value string) (ssh.PublicKey, error) {
	line := strings.TrimSpace(value)
	if data, err := os.ReadFile(line); err == nil {
		line = strings.TrimSpace(string(data))
	}
	if line == "" {
		return nil, errs.New(errs.KindConfigError, "pinned pubkey must not be empty")
	}

	pub, _, _, _, err := ssh.ParseAuthorizedKey([]byte(normalizeLine(line)))
	if err != nil {
		return nil, errs.Wrap(errs.KindConfigError, "pinned pubkey must be a valid ed25519 public key", err)
	}
	if pub.Type() != ssh.KeyAlgoED25519 {
		return nil, errs.New(errs.KindConfigError, "pinned pubkey must be ed25519")
	}
	return pub, nil
}

// normalizeLine keeps only the algorithm and base64 key fields, stripping any
// trailing comment, so that callers can pass full authorized_keys lines.
func normalizeLine(line string) string {
	fields := strings.Fields(line)
	if len(fields) >= 2 {
		return fields[0] + " " + fields[1]
	}
	return line
}

// Matches reports whether presented is byte-identical to pinned — the only
// form of authentication certdeploy ever performs.
func Matches(pinned, presented ssh.PublicKey) bool {
	if pinned == nil || presented == nil {
		return false
	}
	return bytes.Equal(pinned.Marshal(), presented.Marshal())
}

// Store holds one loaded local key and a fixed set of pinned peer keys.
type Store struct {
	Signer ssh.Signer
	peers  map[string]ssh.PublicKey // name -> pinned key
}

// NewStore loads the local private key and builds a Store with no peers yet;
// callers add pinned peers with Pin.
func NewStore(privateKeyPath string) (*Store, error) {
	signer, err := LoadPrivateKey(privateKeyPath)
	if err != nil {
		return nil, err
	}
	return &Store{Signer: signer, peers: make(map[string]ssh.PublicKey)}, nil
}

// Pin records the pinned public key for a named peer.
func (s *Store) Pin(name, pubkeyValue string) error {
	key, err := ParsePinnedKey(pubkeyValue)
	if err != nil {
		return err
	}
	s.peers[name] = key
	return nil
}

// Verify checks a presented key against the pinned key for name. A missing
// pin or a mismatch both produce a fatal HostKeyMismatch — there is no
// trust-on-first-use fallback.
func (s *Store) Verify(name string, presented ssh.PublicKey) error {
	pinned, ok := s.peers[name]
	if !ok {
		return errs.New(errs.KindHostKeyMismatch, fmt.Sprintf("no pinned key for %q", name))
	}
	if !Matches(pinned, presented) {
		return errs.New(errs.KindHostKeyMismatch, fmt.Sprintf("presented key for %q does not match pinned value", name))
	}
	return nil
}
