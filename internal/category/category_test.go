package category

import (
	"strings"
	"testing"
)

func TestDefaultRegistryOrder(t *testing.T) {
	registry := DefaultRegistry(Options{})

	want := []string{"ssh", "ssh-config", "gpg", "shell", "credentials", "keyring", "git"}
	got := registry.Names()
	if len(got) != len(want) {
		t.Fatalf("expected %d categories, got %d (%v)", len(want), len(got), got)
	}
	for i, name := range want {
		if got[i] != name {
			t.Errorf("category %d = %q; want %q", i, got[i], name)
		}
	}
	if registry.Len() != len(want) {
		t.Errorf("Len() = %d; want %d", registry.Len(), len(want))
	}
}

func TestDefaultRegistryAppConfigOptIn(t *testing.T) {
	// Without configured dirs the category must not exist
	registry := DefaultRegistry(Options{})
	if _, ok := registry.Get("appconfig"); ok {
		t.Fatal("appconfig should be absent when no dirs are configured")
	}

	registry = DefaultRegistry(Options{AppConfigDirs: []string{"nvim", "htop", "nvim", " "}})
	cat, ok := registry.Get("appconfig")
	if !ok {
		t.Fatal("appconfig should be present when dirs are configured")
	}
	if len(cat.Sources) != 2 {
		t.Fatalf("expected 2 deduped sources, got %d", len(cat.Sources))
	}
	// Sorted order: htop before nvim
	if cat.Sources[0].Path != ".config/htop" || cat.Sources[1].Path != ".config/nvim" {
		t.Errorf("unexpected appconfig sources: %+v", cat.Sources)
	}
	for _, src := range cat.Sources {
		if src.Kind != SourceDir {
			t.Errorf("appconfig source %s should be a directory", src.Path)
		}
	}
	if !cat.IsDirectory {
		t.Error("appconfig should be flagged as a directory category")
	}
}

func TestSSHKeyPolicies(t *testing.T) {
	registry := DefaultRegistry(Options{})
	ssh, ok := registry.Get("ssh")
	if !ok {
		t.Fatal("ssh category missing")
	}

	// 4 key types, private + public each
	if len(ssh.Sources) != 8 {
		t.Fatalf("expected 8 ssh sources, got %d", len(ssh.Sources))
	}
	for _, src := range ssh.Sources {
		if src.Permission == nil {
			t.Fatalf("ssh source %s has no permission policy", src.Path)
		}
		if strings.HasSuffix(src.Path, ".pub") {
			if src.Permission.IsSecret || src.Permission.OwnerMode != 0o644 {
				t.Errorf("public key %s policy = %+v; want 0644 non-secret", src.Path, src.Permission)
			}
		} else {
			if !src.Permission.IsSecret || src.Permission.OwnerMode != 0o600 {
				t.Errorf("private key %s policy = %+v; want 0600 secret", src.Path, src.Permission)
			}
		}
	}
}

func TestGPGCommandSources(t *testing.T) {
	registry := DefaultRegistry(Options{})
	gpg, ok := registry.Get("gpg")
	if !ok {
		t.Fatal("gpg category missing")
	}

	var publicExport, secretExport, configDir bool
	for _, src := range gpg.Sources {
		switch {
		case src.Kind == SourceCommand && src.OutputName == "public-keys.asc":
			publicExport = true
			if src.NeedsKeyID {
				t.Error("public export must not require a key id")
			}
		case src.Kind == SourceCommand && src.OutputName == "secret-keys.asc":
			secretExport = true
			if !src.NeedsKeyID {
				t.Error("secret export must require a key id")
			}
		case src.Kind == SourceDir && src.Path == ".gnupg":
			configDir = true
			if src.Permission == nil || src.Permission.OwnerMode != 0o700 {
				t.Errorf("gnupg dir policy = %+v; want 0700", src.Permission)
			}
		}
	}
	if !publicExport || !secretExport || !configDir {
		t.Errorf("gpg sources incomplete: public=%v secret=%v dir=%v", publicExport, secretExport, configDir)
	}
}

func TestArchiveName(t *testing.T) {
	tests := []struct {
		name     string
		source   SourcePath
		expected string
	}{
		{"dotfile", SourcePath{Path: ".bashrc", Kind: SourceFile}, "bashrc"},
		{"nested file", SourcePath{Path: ".ssh/id_rsa", Kind: SourceFile}, "id_rsa"},
		{"public key", SourcePath{Path: ".ssh/id_rsa.pub", Kind: SourceFile}, "id_rsa.pub"},
		{"directory", SourcePath{Path: ".gnupg", Kind: SourceDir}, "gnupg"},
		{"nested dir", SourcePath{Path: ".oh-my-zsh/custom", Kind: SourceDir}, "custom"},
		{"command", SourcePath{Kind: SourceCommand, OutputName: "public-keys.asc"}, "public-keys.asc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.source.ArchiveName(); got != tt.expected {
				t.Errorf("ArchiveName() = %q; want %q", got, tt.expected)
			}
		})
	}
}

func TestRegistrySelect(t *testing.T) {
	registry := DefaultRegistry(Options{})

	selected, err := registry.Select([]string{"gpg", "ssh"})
	if err != nil {
		t.Fatalf("Select error: %v", err)
	}
	// Registry order preserved regardless of request order
	names := selected.Names()
	if len(names) != 2 || names[0] != "ssh" || names[1] != "gpg" {
		t.Errorf("Select() names = %v; want [ssh gpg]", names)
	}

	if _, err := registry.Select([]string{"ssh", "nope"}); err == nil {
		t.Error("Select with unknown name should fail")
	}

	same, err := registry.Select(nil)
	if err != nil {
		t.Fatalf("Select(nil) error: %v", err)
	}
	if same.Len() != registry.Len() {
		t.Errorf("Select(nil) should return the full registry")
	}
}

func TestRegistryExclude(t *testing.T) {
	registry := DefaultRegistry(Options{})

	trimmed, err := registry.Exclude([]string{"gpg", "unknown"})
	if err != nil {
		t.Fatalf("Exclude error: %v", err)
	}
	if _, ok := trimmed.Get("gpg"); ok {
		t.Error("gpg should have been excluded")
	}
	if trimmed.Len() != registry.Len()-1 {
		t.Errorf("Exclude removed %d categories; want 1", registry.Len()-trimmed.Len())
	}
}

func TestNewRegistryValidation(t *testing.T) {
	valid := Category{
		Name:        "demo",
		Sources:     []SourcePath{{Path: ".demo", Kind: SourceFile}},
		DestSubpath: "demo",
	}

	tests := []struct {
		name       string
		categories []Category
	}{
		{"empty name", []Category{{DestSubpath: "x"}}},
		{"duplicate name", []Category{valid, valid}},
		{"empty dest", []Category{{Name: "a", Sources: valid.Sources}}},
		{"duplicate archive name", []Category{{
			Name:        "a",
			DestSubpath: "a",
			Sources: []SourcePath{
				{Path: ".config/app", Kind: SourceDir},
				{Path: ".local/app", Kind: SourceDir},
			},
		}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewRegistry(tt.categories); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}

	if _, err := NewRegistry([]Category{valid}); err != nil {
		t.Errorf("valid registry rejected: %v", err)
	}
}

func TestRegistryGetUnknown(t *testing.T) {
	registry := DefaultRegistry(Options{})
	if _, ok := registry.Get("does-not-exist"); ok {
		t.Error("Get should report unknown categories")
	}
}
