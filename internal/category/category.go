// Package category defines the registry of backup categories: the named,
// independently optional units of backup and restore. The registry is
// immutable configuration data; both the backup executor and the selective
// restorer resolve sources and destinations through it so the two sides can
// never drift apart.
package category

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// SourceKind describes how a source is materialized during backup.
type SourceKind int

const (
	// SourceFile is a single file copied as-is.
	SourceFile SourceKind = iota
	// SourceDir is a directory copied recursively.
	SourceDir
	// SourceCommand is produced by running a command and capturing its output.
	SourceCommand
)

// String returns the string representation of the source kind.
func (k SourceKind) String() string {
	switch k {
	case SourceFile:
		return "file"
	case SourceDir:
		return "directory"
	case SourceCommand:
		return "command"
	default:
		return "unknown"
	}
}

// PermissionPolicy describes the mode a restored source must end up with.
// Secret material (private keys, credential files) is restricted to the
// owner; public counterparts stay readable but never world-writable.
type PermissionPolicy struct {
	OwnerMode os.FileMode
	IsSecret  bool
}

// SourcePath is one optional source inside a category. Path is relative to
// the home root for file/directory sources. Command sources carry an argv
// instead and write their captured output to OutputName under the category
// subpath.
type SourcePath struct {
	Path       string
	Kind       SourceKind
	Permission *PermissionPolicy

	// Command-source fields (Kind == SourceCommand).
	Command    []string
	OutputName string
	// NeedsKeyID marks a command that cannot run without a key identifier
	// (config default or caller-supplied).
	NeedsKeyID bool
}

// ArchiveName returns the name this source uses inside the category subpath
// of a staging or working tree. Leading dots are stripped so archived entries
// stay visible; the registry guarantees the result is unique per category.
func (s SourcePath) ArchiveName() string {
	if s.Kind == SourceCommand {
		return s.OutputName
	}
	base := filepath.Base(strings.TrimSuffix(s.Path, "/"))
	return strings.TrimPrefix(base, ".")
}

// Category is a named unit of selection for both backup and restore.
type Category struct {
	Name        string
	Description string
	Sources     []SourcePath
	DestSubpath string
	IsDirectory bool
}

// Registry is an immutable, ordered set of categories.
type Registry struct {
	categories []Category
	index      map[string]int
}

// NewRegistry builds a registry from the given categories. Names must be
// unique and archive names must be unique within each category.
func NewRegistry(categories []Category) (*Registry, error) {
	index := make(map[string]int, len(categories))
	for i, cat := range categories {
		if cat.Name == "" {
			return nil, fmt.Errorf("category at index %d has empty name", i)
		}
		if _, exists := index[cat.Name]; exists {
			return nil, fmt.Errorf("duplicate category name %q", cat.Name)
		}
		if cat.DestSubpath == "" {
			return nil, fmt.Errorf("category %q has empty destination subpath", cat.Name)
		}
		seen := make(map[string]struct{}, len(cat.Sources))
		for _, src := range cat.Sources {
			name := src.ArchiveName()
			if name == "" {
				return nil, fmt.Errorf("category %q has a source with empty archive name", cat.Name)
			}
			if _, dup := seen[name]; dup {
				return nil, fmt.Errorf("category %q has duplicate archive name %q", cat.Name, name)
			}
			seen[name] = struct{}{}
		}
		index[cat.Name] = i
	}
	return &Registry{
		categories: append([]Category(nil), categories...),
		index:      index,
	}, nil
}

// List returns the categories in registry order. The returned slice is a
// copy; callers must treat the contained data as read-only.
func (r *Registry) List() []Category {
	return append([]Category(nil), r.categories...)
}

// Get returns the category with the given name.
func (r *Registry) Get(name string) (Category, bool) {
	i, ok := r.index[name]
	if !ok {
		return Category{}, false
	}
	return r.categories[i], true
}

// Names returns the category names in registry order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.categories))
	for i, cat := range r.categories {
		names[i] = cat.Name
	}
	return names
}

// Len returns the number of categories.
func (r *Registry) Len() int {
	return len(r.categories)
}

// Select returns a new registry restricted to the requested names (registry
// order is preserved, request order does not matter). Unknown names are
// reported as an error so a typo cannot silently shrink a backup.
func (r *Registry) Select(names []string) (*Registry, error) {
	if len(names) == 0 {
		return r, nil
	}
	requested := make(map[string]struct{}, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := r.index[name]; !ok {
			return nil, fmt.Errorf("unknown category %q (known: %s)", name, strings.Join(r.Names(), ", "))
		}
		requested[name] = struct{}{}
	}
	selected := make([]Category, 0, len(requested))
	for _, cat := range r.categories {
		if _, ok := requested[cat.Name]; ok {
			selected = append(selected, cat)
		}
	}
	return NewRegistry(selected)
}

// Exclude returns a new registry without the given names. Unknown names are
// ignored so an exclusion list survives registry changes.
func (r *Registry) Exclude(names []string) (*Registry, error) {
	if len(names) == 0 {
		return r, nil
	}
	excluded := make(map[string]struct{}, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name != "" {
			excluded[name] = struct{}{}
		}
	}
	kept := make([]Category, 0, len(r.categories))
	for _, cat := range r.categories {
		if _, skip := excluded[cat.Name]; skip {
			continue
		}
		kept = append(kept, cat)
	}
	return NewRegistry(kept)
}

// Options tunes the default registry for the current configuration.
type Options struct {
	// AppConfigDirs lists subtrees under ~/.config to include in the opt-in
	// appconfig category. When empty the category is omitted entirely.
	AppConfigDirs []string
}

func secret(mode os.FileMode) *PermissionPolicy {
	return &PermissionPolicy{OwnerMode: mode, IsSecret: true}
}

func public(mode os.FileMode) *PermissionPolicy {
	return &PermissionPolicy{OwnerMode: mode, IsSecret: false}
}

// DefaultRegistry returns the built-in category table. Every source is
// independently optional; absence at backup time is never an error.
func DefaultRegistry(opts Options) *Registry {
	sshKeySources := func() []SourcePath {
		var sources []SourcePath
		for _, keyType := range []string{"id_rsa", "id_ed25519", "id_ecdsa", "id_dsa"} {
			sources = append(sources,
				SourcePath{Path: ".ssh/" + keyType, Kind: SourceFile, Permission: secret(0o600)},
				SourcePath{Path: ".ssh/" + keyType + ".pub", Kind: SourceFile, Permission: public(0o644)},
			)
		}
		return sources
	}

	categories := []Category{
		{
			Name:        "ssh",
			Description: "SSH key pairs",
			Sources:     sshKeySources(),
			DestSubpath: "ssh",
		},
		{
			Name:        "ssh-config",
			Description: "SSH client configuration and host lists",
			Sources: []SourcePath{
				{Path: ".ssh/config", Kind: SourceFile, Permission: secret(0o600)},
				{Path: ".ssh/known_hosts", Kind: SourceFile, Permission: public(0o644)},
				{Path: ".ssh/authorized_keys", Kind: SourceFile, Permission: secret(0o600)},
			},
			DestSubpath: "ssh",
		},
		{
			Name:        "gpg",
			Description: "GPG key material and configuration",
			Sources: []SourcePath{
				{
					Kind:       SourceCommand,
					Command:    []string{"gpg", "--export", "--armor"},
					OutputName: "public-keys.asc",
					Permission: public(0o644),
				},
				{
					Kind:       SourceCommand,
					Command:    []string{"gpg", "--export-secret-keys", "--armor"},
					OutputName: "secret-keys.asc",
					Permission: secret(0o600),
					NeedsKeyID: true,
				},
				{Path: ".gnupg", Kind: SourceDir, Permission: secret(0o700)},
			},
			DestSubpath: "gpg",
		},
		{
			Name:        "shell",
			Description: "Shell startup files",
			Sources: []SourcePath{
				{Path: ".bashrc", Kind: SourceFile},
				{Path: ".bash_profile", Kind: SourceFile},
				{Path: ".bash_login", Kind: SourceFile},
				{Path: ".bash_logout", Kind: SourceFile},
				{Path: ".profile", Kind: SourceFile},
				{Path: ".bash_aliases", Kind: SourceFile},
				{Path: ".zshrc", Kind: SourceFile},
				{Path: ".zprofile", Kind: SourceFile},
				{Path: ".zlogout", Kind: SourceFile},
				{Path: ".zsh_aliases", Kind: SourceFile},
				{Path: ".oh-my-zsh/custom", Kind: SourceDir},
			},
			DestSubpath: "shell",
		},
		{
			Name:        "credentials",
			Description: "Generic credential and token files",
			Sources: []SourcePath{
				{Path: ".netrc", Kind: SourceFile, Permission: secret(0o600)},
				{Path: ".env", Kind: SourceFile, Permission: secret(0o600)},
				{Path: ".aws/credentials", Kind: SourceFile, Permission: secret(0o600)},
				{Path: ".config/gh/hosts.yml", Kind: SourceFile, Permission: secret(0o600)},
			},
			DestSubpath: "credentials",
		},
		{
			Name:        "keyring",
			Description: "System keyring directory",
			Sources: []SourcePath{
				{Path: ".local/share/keyrings", Kind: SourceDir, Permission: secret(0o700)},
			},
			DestSubpath: "keyring",
			IsDirectory: true,
		},
		{
			Name:        "git",
			Description: "Git configuration and credential helper state",
			Sources: []SourcePath{
				{Path: ".gitconfig", Kind: SourceFile, Permission: public(0o644)},
				{Path: ".git-credentials", Kind: SourceFile, Permission: secret(0o600)},
			},
			DestSubpath: "git",
		},
	}

	if len(opts.AppConfigDirs) > 0 {
		dirs := append([]string(nil), opts.AppConfigDirs...)
		sort.Strings(dirs)
		sources := make([]SourcePath, 0, len(dirs))
		seen := make(map[string]struct{}, len(dirs))
		for _, dir := range dirs {
			dir = strings.Trim(strings.TrimSpace(dir), "/")
			if dir == "" {
				continue
			}
			src := SourcePath{
				Path: filepath.Join(".config", dir),
				Kind: SourceDir,
			}
			// Dedupe on the archive name so "nvim" and "tools/nvim" cannot
			// collide inside the staging tree.
			if _, dup := seen[src.ArchiveName()]; dup {
				continue
			}
			seen[src.ArchiveName()] = struct{}{}
			sources = append(sources, src)
		}
		if len(sources) > 0 {
			categories = append(categories, Category{
				Name:        "appconfig",
				Description: "Opt-in application configuration subtrees",
				Sources:     sources,
				DestSubpath: "appconfig",
				IsDirectory: true,
			})
		}
	}

	registry, err := NewRegistry(categories)
	if err != nil {
		// The built-in table is validated by tests; a failure here is a
		// programming error.
		panic(fmt.Sprintf("invalid default category registry: %v", err))
	}
	return registry
}
