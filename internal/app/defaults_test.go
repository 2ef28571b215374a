package app

import (
	"path/filepath"
	"testing"
)

func TestDefaultPaths(t *testing.T) {
	home := t.TempDir()

	tests := []struct {
		name string
		env  map[string]string
		want Paths
	}{
		{
			name: "home fallback",
			want: Paths{
				ConfigPath: filepath.Join(home, ".config", "wpsync.toml"),
				BaseDir:    filepath.Join(home, ".local", "share", "wpsync"),
				LogDir:     filepath.Join(home, ".local", "share", "wpsync", "log"),
			},
		},
		{
			name: "xdg dirs",
			env:  map[string]string{"XDG_CONFIG_HOME": "/xdg/config", "XDG_DATA_HOME": "/xdg/data"},
			want: Paths{
				ConfigPath: "/xdg/config/wpsync.toml",
				BaseDir:    "/xdg/data/wpsync",
				LogDir:     "/xdg/data/wpsync/log",
			},
		},
		{
			name: "relative xdg dirs are ignored",
			env:  map[string]string{"XDG_CONFIG_HOME": "config", "XDG_DATA_HOME": "data"},
			want: Paths{
				ConfigPath: filepath.Join(home, ".config", "wpsync.toml"),
				BaseDir:    filepath.Join(home, ".local", "share", "wpsync"),
				LogDir:     filepath.Join(home, ".local", "share", "wpsync", "log"),
			},
		},
		{
			name: "wpsync overrides win over xdg",
			env: map[string]string{
				EnvConfigPath:     "/etc/wpsync/site.toml",
				EnvHome:           "/srv/wpsync",
				"XDG_CONFIG_HOME": "/xdg/config",
				"XDG_DATA_HOME":   "/xdg/data",
			},
			want: Paths{
				ConfigPath: "/etc/wpsync/site.toml",
				BaseDir:    "/srv/wpsync",
				LogDir:     "/srv/wpsync/log",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("HOME", home)
			for _, key := range []string{EnvConfigPath, EnvHome, "XDG_CONFIG_HOME", "XDG_DATA_HOME"} {
				t.Setenv(key, tt.env[key])
			}

			got, err := DefaultPaths()
			if err != nil {
				t.Fatalf("DefaultPaths() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("DefaultPaths() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
