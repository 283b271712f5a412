// SPDX-License-Identifier: MPL-2.0

package catalog

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"slices"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/faultlab/faultlab/internal/failure"
	"github.com/faultlab/faultlab/internal/scenario"
)

//go:embed builtin/*.toml
var builtinFS embed.FS

// ErrDuplicateIssue is returned when one source defines an id twice.
var ErrDuplicateIssue = errors.New("duplicate issue id")

type (
	// Catalog is an immutable set of validated issues.
	Catalog struct {
		issues []*scenario.Issue
		byID   map[string]int
	}

	// Source names where an issue was loaded from.
	Source struct {
		Name   string
		Issues []*scenario.Issue
	}

	catalogFile struct {
		Issues []scenario.Issue `toml:"issue"`
	}
)

// Builtin returns the embedded catalog.
func Builtin() (*Catalog, error) {
	src, err := LoadFS(builtinFS, "builtin")
	if err != nil {
		return nil, err
	}
	return New(src)
}

// Open returns the embedded catalog extended with the *.toml files in dir.
// Issues from dir replace built-in issues with the same id. An empty dir
// returns the built-in catalog.
func Open(dir string) (*Catalog, error) {
	builtin, err := LoadFS(builtinFS, "builtin")
	if err != nil {
		return nil, err
	}
	if dir == "" {
		return New(builtin)
	}

	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("catalog directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("catalog directory %s is not a directory", dir)
	}

	user, err := LoadFS(os.DirFS(dir), ".")
	if err != nil {
		return nil, fmt.Errorf("catalog directory %s: %w", dir, err)
	}
	return New(builtin, user)
}

// New builds a catalog from sources in order. Within one source ids must be
// unique; a later source replaces earlier issues with the same id.
func New(sources ...Source) (*Catalog, error) {
	c := &Catalog{byID: make(map[string]int)}
	for _, src := range sources {
		seen := make(map[string]bool, len(src.Issues))
		for _, issue := range src.Issues {
			if seen[issue.ID] {
				return nil, fmt.Errorf("%s: %w %q", src.Name, ErrDuplicateIssue, issue.ID)
			}
			seen[issue.ID] = true

			if i, ok := c.byID[issue.ID]; ok {
				slog.Debug("catalog issue overridden", "id", issue.ID, "source", src.Name)
				c.issues[i] = issue.Clone()
				continue
			}
			c.byID[issue.ID] = len(c.issues)
			c.issues = append(c.issues, issue.Clone())
		}
	}
	return c, nil
}

// LoadFS parses every *.toml file directly under dir in fsys, in name order.
func LoadFS(fsys fs.FS, dir string) (Source, error) {
	matches, err := fs.Glob(fsys, path.Join(dir, "*.toml"))
	if err != nil {
		return Source{}, err
	}
	slices.Sort(matches)

	src := Source{Name: dir}
	for _, name := range matches {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return Source{}, fmt.Errorf("read %s: %w", name, err)
		}
		issues, err := Parse(name, data)
		if err != nil {
			return Source{}, err
		}
		src.Issues = append(src.Issues, issues...)
	}
	return src, nil
}

// Parse decodes and validates the issues in one catalog file. Unknown keys
// are rejected so that typos do not silently drop fields.
func Parse(name string, data []byte) ([]*scenario.Issue, error) {
	var f catalogFile
	dec := toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		var (
			derr *toml.DecodeError
			serr *toml.StrictMissingError
		)
		switch {
		case errors.As(err, &derr):
			row, col := derr.Position()
			return nil, fmt.Errorf("parse %s:%d:%d: %w", name, row, col, err)
		case errors.As(err, &serr):
			return nil, fmt.Errorf("parse %s: unknown keys:\n%s", name, serr.String())
		}
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}

	issues := make([]*scenario.Issue, 0, len(f.Issues))
	for i := range f.Issues {
		issue := &f.Issues[i]
		if err := issue.Validate(); err != nil {
			return nil, fmt.Errorf("%s: issue #%d: %w", name, i+1, err)
		}
		if err := issue.Category.Validate(); err != nil {
			return nil, failure.Wrap(fmt.Errorf("%s: issue %q: %w", name, issue.ID, err), failure.KindValidation, "load catalog")
		}
		if err := issue.Difficulty.Validate(); err != nil {
			return nil, failure.Wrap(fmt.Errorf("%s: issue %q: %w", name, issue.ID, err), failure.KindValidation, "load catalog")
		}
		issues = append(issues, issue)
	}
	return issues, nil
}

// All returns every issue in load order.
func (c *Catalog) All() []*scenario.Issue {
	out := make([]*scenario.Issue, len(c.issues))
	for i, issue := range c.issues {
		out[i] = issue.Clone()
	}
	return out
}

// Len returns the number of issues.
func (c *Catalog) Len() int { return len(c.issues) }

// Get returns the issue with id.
func (c *Catalog) Get(id string) (*scenario.Issue, error) {
	i, ok := c.byID[id]
	if !ok {
		return nil, failure.NotFound("catalog issue", id)
	}
	return c.issues[i].Clone(), nil
}

// Filter returns the issues matching difficulty and category. Empty values
// match everything.
func (c *Catalog) Filter(difficulty scenario.Difficulty, category scenario.Category) []*scenario.Issue {
	var out []*scenario.Issue
	for _, issue := range c.issues {
		if difficulty != "" && !strings.EqualFold(string(issue.Difficulty), string(difficulty)) {
			continue
		}
		if category != "" && issue.Category != category {
			continue
		}
		out = append(out, issue.Clone())
	}
	return out
}
