// Package fingerprint implements component A: stable content hashing and
// album classification for folders under an inbox.
package fingerprint

import (
	"archive/zip"
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/orbimport/importsvc/internal/errorsx"
)

// fileEntry is one (relative_path, size) tuple contributing to a folder's
// hash (§4.A).
type fileEntry struct {
	relPath string
	size    int64
}

// defaultAudioExtensions is the case-insensitive set of extensions treated
// as audio files when New is given no extension list (§4.A; the configured
// list comes from config.Config.AudioExtensions).
var defaultAudioExtensions = []string{".flac", ".wav", ".mp3", ".aiff", ".aif", ".m4a", ".ogg", ".opus"}

// multiDiscPattern recognizes "CD1", "Disc 2", etc. subdirectory names
// (§4.A: "(?i)^(cd|disc)\s*[0-9]+$-ish").
var multiDiscPattern = regexp.MustCompile(`(?i)^(cd|disc)\s*[0-9]+$`)

// Fingerprinter hashes folders and classifies them as album folders,
// caching results by absolute path (§4.A hash cache).
type Fingerprinter struct {
	audioExt map[string]struct{}

	mu    sync.Mutex
	cache map[string]cacheEntry
	order []string // LRU order, least recently used first
	limit int
}

type cacheEntry struct {
	hash    string
	isAlbum bool
}

// New constructs a Fingerprinter. extensions overrides the default audio
// extension set when non-empty; cacheLimit bounds the LRU's size (0 means
// unbounded: entries are only dropped by Invalidate/InvalidatePrefix).
func New(extensions []string, cacheLimit int) *Fingerprinter {
	if len(extensions) == 0 {
		extensions = defaultAudioExtensions
	}
	m := make(map[string]struct{}, len(extensions))
	for _, e := range extensions {
		m[strings.ToLower(e)] = struct{}{}
	}
	return &Fingerprinter{
		audioExt: m,
		cache:    make(map[string]cacheEntry),
		limit:    cacheLimit,
	}
}

// IsAudioFile reports whether path has one of the configured audio
// extensions (case-insensitive), excluding dotfiles.
func (f *Fingerprinter) IsAudioFile(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	_, ok := f.audioExt[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Invalidate drops a cached entry, e.g. in response to an FS event under
// the path (§4.A: "invalidated on any FS event under the path").
func (f *Fingerprinter) Invalidate(absPath string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.cache, absPath)
}

// InvalidatePrefix drops every cached entry whose path is under prefix.
func (f *Fingerprinter) InvalidatePrefix(prefix string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for p := range f.cache {
		if strings.HasPrefix(p, prefix) {
			delete(f.cache, p)
		}
	}
}

func (f *Fingerprinter) cacheGet(path string) (cacheEntry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.cache[path]
	if ok {
		for i, p := range f.order {
			if p == path {
				f.order = append(f.order[:i], f.order[i+1:]...)
				break
			}
		}
		f.order = append(f.order, path)
	}
	return e, ok
}

func (f *Fingerprinter) cachePut(path string, e cacheEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.cache[path]; !exists {
		f.order = append(f.order, path)
	}
	f.cache[path] = e
	if f.limit > 0 {
		for len(f.order) > f.limit {
			oldest := f.order[0]
			f.order = f.order[1:]
			delete(f.cache, oldest)
		}
	}
}

// Hash computes the stable content hash for a folder or archive file
// rooted at path, and whether it classifies as an album folder (§4.A).
// Missing paths return an *errorsx.Error of KindNotFound; permission
// errors are returned unwrapped so the caller can treat them as a fatal
// per-job error per §4.A.
func (f *Fingerprinter) Hash(path string) (hash string, isAlbum bool, err error) {
	if e, ok := f.cacheGet(path); ok {
		return e.hash, e.isAlbum, nil
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return "", false, errorsx.NotFound("folder path %q does not exist", path)
	}
	if err != nil {
		return "", false, err
	}

	var entries []fileEntry
	if !info.IsDir() && isArchive(path) {
		entries, err = hashArchive(path)
		if err != nil {
			return "", false, err
		}
		isAlbum = true // an archive is treated as one album unit
	} else if info.IsDir() {
		entries, isAlbum, err = f.walkDir(path)
		if err != nil {
			return "", false, err
		}
	} else {
		return "", false, errorsx.InvalidUsage("path %q is neither a directory nor a recognized archive", path)
	}

	hash = hashEntries(entries)
	f.cachePut(path, cacheEntry{hash: hash, isAlbum: isAlbum})
	return hash, isAlbum, nil
}

// walkDir collects (relative_path, size) tuples for every audio file under
// root and determines album classification (§4.A).
func (f *Fingerprinter) walkDir(root string) ([]fileEntry, bool, error) {
	var entries []fileEntry
	hasDirectAudio := false
	discDirs := map[string]bool{}
	discHasAudio := map[string]bool{}
	nonDiscSubdirs := false

	topEntries, err := os.ReadDir(root)
	if err != nil {
		return nil, false, err
	}
	for _, te := range topEntries {
		if te.IsDir() {
			if multiDiscPattern.MatchString(te.Name()) {
				discDirs[te.Name()] = true
			} else {
				nonDiscSubdirs = true
			}
		}
	}

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		base := filepath.Base(path)
		if strings.HasPrefix(base, ".") {
			return nil
		}
		if !f.IsAudioFile(path) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		entries = append(entries, fileEntry{relPath: rel, size: info.Size()})

		if dir := filepath.Dir(rel); dir == "." {
			hasDirectAudio = true
		} else {
			top := strings.SplitN(filepath.ToSlash(dir), "/", 2)[0]
			if discDirs[top] {
				discHasAudio[top] = true
			}
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	isAlbum := hasDirectAudio
	if !isAlbum && len(discDirs) > 0 && !nonDiscSubdirs {
		allHaveAudio := true
		for d := range discDirs {
			if !discHasAudio[d] {
				allHaveAudio = false
				break
			}
		}
		isAlbum = allHaveAudio
	}
	return entries, isAlbum, nil
}

// isArchive reports whether path's extension is a supported archive
// container (§4.A: "zip/rar/7z").
func isArchive(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".zip", ".rar", ".7z":
		return true
	}
	return false
}

// hashArchive hashes an archive's central-directory listing without
// extracting it (§4.A). Only zip is fully supported (stdlib archive/zip);
// a rar/7z archive is not opened: it hashes as a single entry made of the
// archive's base name and file size, since no pure-Go reader for them is
// in the dependency pack.
func hashArchive(path string) ([]fileEntry, error) {
	if strings.ToLower(filepath.Ext(path)) != ".zip" {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		return []fileEntry{{relPath: filepath.Base(path), size: info.Size()}}, nil
	}
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	entries := make([]fileEntry, 0, len(r.File))
	for _, zf := range r.File {
		if zf.FileInfo().IsDir() {
			continue
		}
		entries = append(entries, fileEntry{relPath: zf.Name, size: int64(zf.UncompressedSize64)})
	}
	return entries, nil
}

// hashEntries hashes the sorted list of (relative_path, size) tuples
// (§4.A).
func hashEntries(entries []fileEntry) string {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].relPath != entries[j].relPath {
			return entries[i].relPath < entries[j].relPath
		}
		return entries[i].size < entries[j].size
	})
	h := sha256.New()
	for _, e := range entries {
		h.Write([]byte(e.relPath))
		h.Write([]byte{0})
		h.Write([]byte(sizeToBytes(e.size)))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func sizeToBytes(n int64) []byte {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(n & 0xff)
		n >>= 8
	}
	return b
}
