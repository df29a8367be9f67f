// Package config loads client settings: a TOML file when present,
// overridden by environment variables, with working defaults for the real
// portal endpoints.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is everything the client needs to run.
type Config struct {
	// Portal endpoints. The long opaque path segments are the webvpn
	// gateway's routing of the CAS and academic backends; they are contract.
	BaseURL  string `toml:"base_url"`
	LoginURL string `toml:"login_url"`
	HomeURL  string `toml:"home_url"`

	// DataDir holds the SQLite state database.
	DataDir string `toml:"data_dir"`

	// PubkeyPath points at the portal's RSA public key (pubkey.pem).
	PubkeyPath string `toml:"pubkey_path"`

	// TimeoutSeconds bounds every HTTP call (connect+read+write).
	TimeoutSeconds int `toml:"timeout_seconds"`

	// TesseractBin is the OCR binary used for captcha recognition.
	TesseractBin string `toml:"tesseract_bin"`
}

// Default returns the baked-in configuration for the real portal.
func Default() Config {
	home, _ := os.UserHomeDir()
	dataDir := ".shsmu-sync"
	if home != "" {
		dataDir = filepath.Join(home, ".shsmu-sync")
	}
	return Config{
		BaseURL:        "https://webvpn2.shsmu.edu.cn/https/77726476706e69737468656265737421f1e25594757e7b586d059ce29d51367b0014/cas/",
		LoginURL:       "https://webvpn2.shsmu.edu.cn/https/77726476706e69737468656265737421fae05288327e7b586d059ce29d51367b9aac/Home",
		HomeURL:        "https://webvpn2.shsmu.edu.cn/https/77726476706e69737468656265737421fae05288327e7b586d059ce29d51367b9aac/",
		DataDir:        dataDir,
		PubkeyPath:     filepath.Join(dataDir, "pubkey.pem"),
		TimeoutSeconds: 15,
		TesseractBin:   "tesseract",
	}
}

// Load reads path (optional) over the defaults, then applies environment
// overrides. A missing file is fine when path is empty; an explicit path
// that does not exist is an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	cfg.BaseURL = getenv("SHSMU_BASE_URL", cfg.BaseURL)
	cfg.LoginURL = getenv("SHSMU_LOGIN_URL", cfg.LoginURL)
	cfg.HomeURL = getenv("SHSMU_HOME_URL", cfg.HomeURL)
	cfg.DataDir = getenv("SHSMU_DATA_DIR", cfg.DataDir)
	cfg.PubkeyPath = getenv("SHSMU_PUBKEY_PATH", cfg.PubkeyPath)
	cfg.TesseractBin = getenv("SHSMU_TESSERACT_BIN", cfg.TesseractBin)

	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 15
	}
	return cfg, nil
}

// Timeout is the HTTP client timeout.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// DBPath is the state database location.
func (c Config) DBPath() string {
	return filepath.Join(c.DataDir, "state.db")
}

func getenv(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}
