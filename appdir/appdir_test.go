package appdir

import (
	"path/filepath"
	"testing"
)

func TestDirFor(t *testing.T) {
	t.Parallel()

	home := func() (string, error) { return "/home/alice", nil }
	noEnv := func(string) string { return "" }

	cases := []struct {
		name   string
		goos   string
		getenv func(string) string
		want   string
	}{
		{
			name:   "darwin",
			goos:   "darwin",
			getenv: noEnv,
			want:   filepath.Join("/home/alice", "Library", "Application Support", "qharbor"),
		},
		{
			name: "linux with XDG_DATA_HOME",
			goos: "linux",
			getenv: func(key string) string {
				if key == "XDG_DATA_HOME" {
					return "/data/xdg"
				}
				return ""
			},
			want: filepath.Join("/data/xdg", "qharbor"),
		},
		{
			name:   "linux fallback",
			goos:   "linux",
			getenv: noEnv,
			want:   filepath.Join("/home/alice", ".local", "share", "qharbor"),
		},
		{
			name: "windows",
			goos: "windows",
			getenv: func(key string) string {
				if key == "LOCALAPPDATA" {
					return `C:\Users\alice\AppData\Local`
				}
				return ""
			},
			want: filepath.Join(`C:\Users\alice\AppData\Local`, "qharbor"),
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := dirFor(tc.goos, tc.getenv, home)
			if err != nil {
				t.Fatalf("dirFor() error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("dirFor() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestDirForWindowsRequiresLocalAppData(t *testing.T) {
	t.Parallel()

	if _, err := dirFor("windows", func(string) string { return "" }, nil); err == nil {
		t.Fatal("dirFor() succeeded without LOCALAPPDATA")
	}
}

func TestDirForRejectsUnknownPlatform(t *testing.T) {
	t.Parallel()

	if _, err := dirFor("plan9", func(string) string { return "" }, nil); err == nil {
		t.Fatal("dirFor() accepted an unsupported platform")
	}
}

func TestServiceDirAppendsName(t *testing.T) {
	t.Parallel()

	dir, err := ServiceDir("qdrive")
	if err != nil {
		t.Skipf("no data root on this host: %v", err)
	}
	if filepath.Base(dir) != "qdrive" {
		t.Fatalf("ServiceDir() = %q", dir)
	}
}
