package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeDefinition(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "service.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefinition(t *testing.T) {
	t.Parallel()

	path := writeDefinition(t, `
name = "qdrive"
app_dir = "/opt/qharbor/qdrive"
program_arguments = ["/opt/qharbor/qdrive/bin/qdrive", "--port", "8004"]
version = "1.2.0"
`)
	cfg, err := loadDefinition(path)
	if err != nil {
		t.Fatalf("loadDefinition() error: %v", err)
	}
	if cfg.Name != "qdrive" {
		t.Fatalf("Name = %q", cfg.Name)
	}
	if cfg.AppDir != "/opt/qharbor/qdrive" {
		t.Fatalf("AppDir = %q", cfg.AppDir)
	}
	if len(cfg.ProgramArguments) != 3 || cfg.ProgramArguments[2] != "8004" {
		t.Fatalf("ProgramArguments = %v", cfg.ProgramArguments)
	}
	if cfg.Version.String() != "1.2.0" {
		t.Fatalf("Version = %s", cfg.Version)
	}
}

func TestLoadDefinitionDefaultsAppDir(t *testing.T) {
	t.Parallel()

	path := writeDefinition(t, `
name = "qdrive"
program_arguments = ["/opt/qharbor/qdrive/bin/qdrive"]
`)
	cfg, err := loadDefinition(path)
	if err != nil {
		t.Skipf("no data root on this host: %v", err)
	}
	if filepath.Base(cfg.AppDir) != "qdrive" {
		t.Fatalf("AppDir = %q, want per-service default", cfg.AppDir)
	}
}

func TestLoadDefinitionRejectsBadInput(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		content string
		wantMsg string
	}{
		{
			name:    "missing name",
			content: `program_arguments = ["/bin/true"]` + "\n" + `app_dir = "/opt/svc"`,
			wantMsg: "missing name",
		},
		{
			name:    "bad version",
			content: "name = \"svc\"\napp_dir = \"/opt/svc\"\nprogram_arguments = [\"/bin/true\"]\nversion = \"one\"",
			wantMsg: "invalid version",
		},
		{
			name:    "relative executable",
			content: "name = \"svc\"\napp_dir = \"/opt/svc\"\nprogram_arguments = [\"bin/true\"]",
			wantMsg: "not an absolute path",
		},
		{
			name:    "not toml",
			content: "{ name: svc }",
			wantMsg: "load definition",
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			path := writeDefinition(t, tc.content)
			_, err := loadDefinition(path)
			if err == nil {
				t.Fatalf("loadDefinition() succeeded, want error containing %q", tc.wantMsg)
			}
			if !strings.Contains(err.Error(), tc.wantMsg) {
				t.Fatalf("error = %q, want substring %q", err, tc.wantMsg)
			}
		})
	}
}

func TestLoadDefinitionMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := loadDefinition(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatal("loadDefinition() succeeded for a missing file")
	}
	if _, err := loadDefinition(""); err == nil {
		t.Fatal("loadDefinition() succeeded for an empty path")
	}
}
