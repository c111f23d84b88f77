package promote

import (
	"context"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gofrs/flock"
	"github.com/rs/zerolog"

	"github.com/cuemby/certdeploy/pkg/errs"
	"github.com/cuemby/certdeploy/pkg/types"
)

// settleDelay is how long a lineage directory must go quiet before it is
// considered fully uploaded and eligible for promotion.
const settleDelay = 2 * time.Second

// Promoter moves completed lineage trees from sourceDir into destDir.
type Promoter struct {
	sourceDir string
	destDir   string
	perms     *types.FilePermissions
	logger    zerolog.Logger

	mu      sync.Mutex
	timers  map[string]*time.Timer
	pending map[string]bool
}

// New returns a Promoter. perms may be nil, meaning no permission or
// ownership enforcement is applied after a move.
func New(sourceDir, destDir string, perms *types.FilePermissions, logger zerolog.Logger) *Promoter {
	return &Promoter{
		sourceDir: sourceDir,
		destDir:   destDir,
		perms:     perms,
		logger:    logger,
		timers:    make(map[string]*time.Timer),
		pending:   make(map[string]bool),
	}
}

// Watch runs until ctx is canceled, debouncing filesystem events under
// sourceDir and calling onPromoted(lineageName) once each settled lineage
// has been moved into destDir. Promotion failures are logged, not fatal to
// the watch loop itself; the caller decides fail_fast policy.
func (p *Promoter) Watch(ctx context.Context, onPromoted func(lineageName string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errs.Wrap(errs.KindGeneric, "failed creating filesystem watcher", err)
	}
	defer watcher.Close()

	if err := p.addTree(watcher, p.sourceDir); err != nil {
		return err
	}

	fired := make(chan string)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			p.handleEvent(watcher, event, fired)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			p.logger.Warn().Err(err).Msg("filesystem watch error")
		case name := <-fired:
			if err := p.Promote(name); err != nil {
				p.logger.Error().Err(err).Str("lineage", name).Msg("promotion failed")
				continue
			}
			onPromoted(name)
		}
	}
}

func (p *Promoter) addTree(watcher *fsnotify.Watcher, root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}

func (p *Promoter) handleEvent(watcher *fsnotify.Watcher, event fsnotify.Event, fired chan<- string) {
	rel, err := filepath.Rel(p.sourceDir, event.Name)
	if err != nil || rel == "." {
		return
	}
	lineageName := firstPathElement(rel)
	if lineageName == "" {
		return
	}

	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			watcher.Add(event.Name)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending[lineageName] {
		return
	}
	if t, ok := p.timers[lineageName]; ok {
		t.Stop()
	}
	p.timers[lineageName] = time.AfterFunc(settleDelay, func() {
		p.mu.Lock()
		delete(p.timers, lineageName)
		p.mu.Unlock()
		fired <- lineageName
	})
}

func firstPathElement(rel string) string {
	if idx := indexOfSeparator(rel); idx >= 0 {
		return rel[:idx]
	}
	return rel
}

func indexOfSeparator(s string) int {
	for i, r := range s {
		if r == os.PathSeparator {
			return i
		}
	}
	return -1
}

// Promote moves lineageName's tree from sourceDir into destDir under an
// exclusive per-lineage lock, applying file_permissions if configured.
func (p *Promoter) Promote(lineageName string) error {
	p.mu.Lock()
	p.pending[lineageName] = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.pending, lineageName)
		p.mu.Unlock()
	}()

	src := filepath.Join(p.sourceDir, lineageName)
	dst := filepath.Join(p.destDir, lineageName)

	lock := flock.New(dst + ".lock")
	if err := lock.Lock(); err != nil {
		return errs.Wrap(errs.KindPromotionError, "failed acquiring destination lineage lock", err)
	}
	defer lock.Unlock()

	dirMode := os.FileMode(0700)
	if p.perms != nil && p.perms.DirectoryMode != nil {
		dirMode = os.FileMode(*p.perms.DirectoryMode)
	}
	if err := os.MkdirAll(dst, dirMode); err != nil {
		return errs.Wrap(errs.KindPromotionError, "failed creating destination lineage directory", err)
	}

	entries, err := os.ReadDir(src)
	if err != nil {
		return errs.Wrap(errs.KindPromotionError, "failed reading staged lineage directory", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := p.promoteFile(filepath.Join(src, entry.Name()), filepath.Join(dst, entry.Name())); err != nil {
			return err
		}
	}

	if p.perms != nil {
		if err := p.applyOwnership(dst); err != nil {
			return err
		}
	}
	if p.perms != nil && p.perms.DirectoryMode != nil {
		if err := os.Chmod(dst, dirMode); err != nil {
			return errs.Wrap(errs.KindPromotionError, "failed setting lineage directory mode", err)
		}
	}

	if err := os.RemoveAll(src); err != nil {
		p.logger.Warn().Err(err).Str("path", src).Msg("failed cleaning up staged lineage directory")
	}
	return nil
}

func (p *Promoter) promoteFile(srcPath, dstPath string) error {
	if err := os.Rename(srcPath, dstPath); err == nil {
		return p.applyFileMode(dstPath)
	}

	if err := copyFile(srcPath, dstPath); err != nil {
		return errs.Wrap(errs.KindPromotionError, "failed moving "+srcPath+" into place", err)
	}
	if err := os.Remove(srcPath); err != nil {
		p.logger.Warn().Err(err).Str("path", srcPath).Msg("failed removing staged file after copy")
	}
	return p.applyFileMode(dstPath)
}

func (p *Promoter) applyFileMode(path string) error {
	if p.perms == nil || p.perms.Mode == nil {
		return nil
	}
	if err := os.Chmod(path, os.FileMode(*p.perms.Mode)); err != nil {
		return errs.Wrap(errs.KindPromotionError, "failed setting file mode on "+path, err)
	}
	return nil
}

func (p *Promoter) applyOwnership(dst string) error {
	if p.perms.Owner == "" && p.perms.Group == "" {
		return nil
	}
	uid, gid := -1, -1
	if p.perms.Owner != "" {
		u, err := user.Lookup(p.perms.Owner)
		if err != nil {
			return errs.Wrap(errs.KindPromotionError, "failed resolving owner "+p.perms.Owner, err)
		}
		uid, err = strconv.Atoi(u.Uid)
		if err != nil {
			return errs.Wrap(errs.KindPromotionError, "non-numeric uid for owner "+p.perms.Owner, err)
		}
	}
	if p.perms.Group != "" {
		g, err := user.LookupGroup(p.perms.Group)
		if err != nil {
			return errs.Wrap(errs.KindPromotionError, "failed resolving group "+p.perms.Group, err)
		}
		gid, err = strconv.Atoi(g.Gid)
		if err != nil {
			return errs.Wrap(errs.KindPromotionError, "non-numeric gid for group "+p.perms.Group, err)
		}
	}

	entries, err := os.ReadDir(dst)
	if err != nil {
		return errs.Wrap(errs.KindPromotionError, "failed reading destination for chown", err)
	}
	if err := os.Chown(dst, uid, gid); err != nil {
		return errs.Wrap(errs.KindPromotionError, "failed chowning "+dst, err)
	}
	for _, entry := range entries {
		path := filepath.Join(dst, entry.Name())
		if err := os.Chown(path, uid, gid); err != nil {
			return errs.Wrap(errs.KindPromotionError, "failed chowning "+path, err)
		}
	}
	return nil
}

func copyFile(srcPath, dstPath string) error {
	in, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dstPath + ".promoting"
	out, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dstPath)
}
