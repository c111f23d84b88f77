package sftpserver

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/sftp"
)

// rootedHandlers implements sftp.Handlers against the real filesystem,
// confined to root: every incoming path is resolved to a real path inside
// root, and a path whose "../" elements climb above root is rejected.
type rootedHandlers struct {
	root string
}

var errOutsideRoot = errors.New("sftp: path escapes source directory")

// resolve maps an SFTP-protocol path onto a real path under root. An
// absolute path that already names root or a path below it is used as is;
// any other path is taken relative to root ("/" is root itself). A path
// whose ".." elements climb above root is rejected with errOutsideRoot.
func (h *rootedHandlers) resolve(reqPath string) (string, error) {
	sep := string(filepath.Separator)
	if abs := filepath.Clean(reqPath); abs == h.root || strings.HasPrefix(abs, h.root+sep) {
		return abs, nil
	}
	rel := filepath.Clean(strings.TrimLeft(reqPath, "/"))
	if rel == ".." || strings.HasPrefix(rel, ".."+sep) {
		return "", errOutsideRoot
	}
	real := filepath.Join(h.root, rel)
	if real != h.root && !strings.HasPrefix(real, h.root+sep) {
		return "", errOutsideRoot
	}
	return real, nil
}

func (h *rootedHandlers) Fileread(r *sftp.Request) (io.ReaderAt, error) {
	real, err := h.resolve(r.Filepath)
	if err != nil {
		return nil, err
	}
	return os.Open(real)
}

func (h *rootedHandlers) Filewrite(r *sftp.Request) (io.WriterAt, error) {
	real, err := h.resolve(r.Filepath)
	if err != nil {
		return nil, err
	}
	return os.OpenFile(real, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
}

func (h *rootedHandlers) Filecmd(r *sftp.Request) error {
	real, err := h.resolve(r.Filepath)
	if err != nil {
		return err
	}

	switch r.Method {
	case "Setstat":
		return h.setstat(real, r)
	case "Rename":
		target, err := h.resolve(r.Target)
		if err != nil {
			return err
		}
		return os.Rename(real, target)
	case "Rmdir":
		return os.Remove(real)
	case "Remove":
		return os.Remove(real)
	case "Mkdir":
		return os.Mkdir(real, 0700)
	case "Symlink":
		target, err := h.resolve(r.Target)
		if err != nil {
			return err
		}
		return os.Symlink(real, target)
	default:
		return errors.New("sftp: unsupported operation")
	}
}

// setstat applies the mode, mtime and owner carried by a Setstat request to
// the real file, so attribute fidelity (§4.3) survives the promote step
// that follows. Only the attributes the client actually set are touched.
func (h *rootedHandlers) setstat(real string, r *sftp.Request) error {
	attrs := r.Attributes()
	flags := r.AttrFlags()

	if flags.Permissions {
		if err := os.Chmod(real, os.FileMode(attrs.Mode).Perm()); err != nil {
			return err
		}
	}
	if flags.Acmodtime {
		atime := time.Unix(int64(attrs.Atime), 0)
		mtime := time.Unix(int64(attrs.Mtime), 0)
		if err := os.Chtimes(real, atime, mtime); err != nil {
			return err
		}
	}
	if flags.UidGid {
		if err := os.Chown(real, int(attrs.UID), int(attrs.GID)); err != nil {
			return err
		}
	}
	if flags.Size {
		if err := os.Truncate(real, int64(attrs.Size)); err != nil {
			return err
		}
	}
	return nil
}

func (h *rootedHandlers) Filelist(r *sftp.Request) (sftp.ListerAt, error) {
	real, err := h.resolve(r.Filepath)
	if err != nil {
		return nil, err
	}

	switch r.Method {
	case "List":
		entries, err := os.ReadDir(real)
		if err != nil {
			return nil, err
		}
		infos := make([]os.FileInfo, 0, len(entries))
		for _, e := range entries {
			info, err := e.Info()
			if err != nil {
				continue
			}
			infos = append(infos, info)
		}
		return listerAt(infos), nil
	case "Stat":
		info, err := os.Stat(real)
		if err != nil {
			return nil, err
		}
		return listerAt([]os.FileInfo{info}), nil
	default:
		return nil, errors.New("sftp: unsupported operation")
	}
}

// listerAt is the slice-backed sftp.ListerAt the request server expects
// List/Stat/Readlink results wrapped in.
type listerAt []os.FileInfo

func (l listerAt) ListAt(dest []os.FileInfo, offset int64) (int, error) {
	if offset >= int64(len(l)) {
		return 0, io.EOF
	}
	n := copy(dest, l[offset:])
	if n < len(dest) {
		return n, io.EOF
	}
	return n, nil
}
