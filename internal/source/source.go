package source

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/nao1215/onionprobe/internal/directory"
	"github.com/nao1215/onionprobe/internal/model"
)

// Source produces the ordered target list of one scan.
type Source interface {
	// Name identifies the source in errors and logs.
	Name() string

	// ListTargets returns the targets in source order. Duplicates are kept.
	ListTargets(ctx context.Context) ([]model.Target, error)
}

// ErrEmptyPath is returned when a file source has no path.
var ErrEmptyPath = errors.New("target file path is empty")

// Error reports a failure to acquire targets. No probe is dispatched
// after it.
type Error struct {
	// Source names the failing source, e.g. "file targets.txt".
	Source string

	// Err is the underlying failure.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("failed to list targets from %s: %v", e.Source, e.Err)
}

// Unwrap returns the underlying failure.
func (e *Error) Unwrap() error {
	return e.Err
}

// File reads one onion address per non-empty line of a local file.
type File struct {
	path string
}

// NewFile creates a file source.
func NewFile(path string) *File {
	return &File{path: path}
}

// Name implements Source.
func (f *File) Name() string {
	return "file " + f.path
}

// ListTargets implements Source. Lines are trimmed; blank lines are
// skipped. Addresses are not validated here.
func (f *File) ListTargets(_ context.Context) ([]model.Target, error) {
	if f.path == "" {
		return nil, &Error{Source: f.Name(), Err: ErrEmptyPath}
	}

	file, err := os.Open(f.path)
	if err != nil {
		return nil, &Error{Source: f.Name(), Err: err}
	}
	defer file.Close()

	var targets []model.Target
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		targets = append(targets, model.NewFileTarget(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, &Error{Source: f.Name(), Err: err}
	}

	return targets, nil
}

// EntryLister fetches directory entries. *directory.Client implements it.
type EntryLister interface {
	ListEntries(ctx context.Context) ([]directory.Entry, error)
}

// Directory turns remote directory entries into targets named by their
// titles.
type Directory struct {
	lister EntryLister
	logger *slog.Logger
}

// NewDirectory creates a directory source. A nil logger means slog.Default().
func NewDirectory(lister EntryLister, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{lister: lister, logger: logger}
}

// Name implements Source.
func (d *Directory) Name() string {
	return "directory"
}

// ListTargets implements Source. Entries without an onion address are
// skipped with a warning.
func (d *Directory) ListTargets(ctx context.Context) ([]model.Target, error) {
	entries, err := d.lister.ListEntries(ctx)
	if err != nil {
		return nil, &Error{Source: d.Name(), Err: err}
	}

	targets := make([]model.Target, 0, len(entries))
	for _, entry := range entries {
		if entry.OnionAddress == "" {
			d.logger.Warn("skipping directory entry without onion address", "title", entry.Title)
			continue
		}
		targets = append(targets, model.NewDirectoryTarget(entry.OnionAddress, entry.Title))
	}

	return targets, nil
}
