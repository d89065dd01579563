// Package sounds serves the MP3 files the speaker plays.
package sounds

import (
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/spf13/afero"
)

// Library names, used as the first path segment of every sound URL.
const (
	Files  = "files"
	Roster = "roster"
	League = "league"
)

// ErrSoundNotFound is returned for unknown libraries and missing files.
var ErrSoundNotFound = errors.New("sound not found")

// Library maps library names to directories on fs.
type Library struct {
	fs   afero.Fs
	dirs map[string]string
}

// NewLibrary creates a library over fs. Directories that are empty strings are skipped.
func NewLibrary(fs afero.Fs, files, roster, league string) *Library {
	dirs := make(map[string]string, 3)
	for name, dir := range map[string]string{Files: files, Roster: roster, League: league} {
		if dir != "" {
			dirs[name] = dir
		}
	}
	return &Library{fs: fs, dirs: dirs}
}

// NewOsLibrary creates a library on the host file system.
func NewOsLibrary(files, roster, league string) *Library {
	return NewLibrary(afero.NewOsFs(), files, roster, league)
}

// Names returns the configured library names.
func (l *Library) Names() []string {
	names := make([]string, 0, len(l.dirs))
	for _, n := range []string{Files, Roster, League} {
		if _, ok := l.dirs[n]; ok {
			names = append(names, n)
		}
	}
	return names
}

// Open opens name in library. The caller closes the file.
func (l *Library) Open(library, name string) (afero.File, os.FileInfo, error) {
	dir, ok := l.dirs[library]
	if !ok {
		return nil, nil, fmt.Errorf("%w: unknown library %q", ErrSoundNotFound, library)
	}
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return nil, nil, fmt.Errorf("%w: %s/%s", ErrSoundNotFound, library, name)
	}

	p := path.Join(dir, name)
	info, err := l.fs.Stat(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, fmt.Errorf("%w: %s", ErrSoundNotFound, p)
		}
		return nil, nil, err
	}
	if info.IsDir() {
		return nil, nil, fmt.Errorf("%w: %s is a directory", ErrSoundNotFound, p)
	}

	f, err := l.fs.Open(p)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s: %w", p, err)
	}
	return f, info, nil
}
