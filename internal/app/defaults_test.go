package app

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestDefaultsFrom(t *testing.T) {
	home := func() (string, error) { return "/home/jane", nil }

	tests := []struct {
		name string
		env  map[string]string
		want Defaults
	}{
		{
			name: "uses env vars when set",
			env:  map[string]string{"ZD_CONFIG_PATH": "/custom/zd.toml", "ZD_HOME": "/custom/zd"},
			want: Defaults{
				ConfigPath: "/custom/zd.toml",
				BaseDir:    "/custom/zd",
				LogDir:     filepath.Join("/custom/zd", "log"),
			},
		},
		{
			name: "falls back to home dir defaults",
			want: Defaults{
				ConfigPath: filepath.Join("/home/jane", ".config", "zd.toml"),
				BaseDir:    filepath.Join("/home/jane", ".local", "share", "zd"),
				LogDir:     filepath.Join("/home/jane", ".local", "share", "zd", "log"),
			},
		},
		{
			name: "mixes env and home",
			env:  map[string]string{"ZD_HOME": "/srv/zd"},
			want: Defaults{
				ConfigPath: filepath.Join("/home/jane", ".config", "zd.toml"),
				BaseDir:    "/srv/zd",
				LogDir:     filepath.Join("/srv/zd", "log"),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := defaultsFrom(func(k string) string { return tt.env[k] }, home)
			if err != nil {
				t.Fatalf("defaultsFrom() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("defaultsFrom() = %+v, want %+v", got, tt.want)
			}
		})
	}

	t.Run("home dir error", func(t *testing.T) {
		noHome := func() (string, error) { return "", errors.New("no home") }
		if _, err := defaultsFrom(func(string) string { return "" }, noHome); err == nil {
			t.Error("defaultsFrom() expected error")
		}
	})
}
