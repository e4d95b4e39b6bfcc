package service

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

const offlineMarker = ".offline_mode"

// OfflineEnv is the fixed environment every MinerU invocation runs under. It is
// built once and never mutates the process environment.
type OfflineEnv struct {
	dataDir string
	vars    map[string]string
}

// NewOfflineEnv derives cache locations from dataDir. A local Hugging Face cache
// under data/cache/huggingface wins over the empty data/hf_cache fallback.
func NewOfflineEnv(dataDir string) OfflineEnv {
	hfHome := filepath.Join(dataDir, "hf_cache")
	hubCache := hfHome
	if local := filepath.Join(dataDir, "cache", "huggingface"); dirExists(local) {
		hfHome = local
		hubCache = filepath.Join(local, "hub")
	}

	return OfflineEnv{
		dataDir: dataDir,
		vars: map[string]string{
			"MODELSCOPE_CACHE":             filepath.Join(dataDir, "models"),
			"MODELSCOPE_OFFLINE":           "1",
			"MODELSCOPE_DISABLE_TELEMETRY": "1",
			"HF_OFFLINE":                   "1",
			"TRANSFORMERS_OFFLINE":         "1",
			"HF_HUB_OFFLINE":               "1",
			"HF_DATASETS_OFFLINE":          "1",
			"HF_HOME":                      hfHome,
			"HUGGINGFACE_HUB_CACHE":        hubCache,
			"TORCH_HOME":                   filepath.Join(dataDir, "torch"),
			"NO_PROXY":                     "*",
			"OFFLINE_MODE":                 "1",
			"DISABLE_TELEMETRY":            "1",
			"DISABLE_UPDATE_CHECK":         "1",
			"SKIP_DOWNLOAD":                "1",
		},
	}
}

// Environ returns base with the offline variables overriding any existing values.
// base is not modified.
func (e OfflineEnv) Environ(base []string) []string {
	out := make([]string, 0, len(base)+len(e.vars))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, overridden := e.vars[key]; !overridden {
			out = append(out, kv)
		}
	}
	keys := make([]string, 0, len(e.vars))
	for k := range e.vars {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		out = append(out, k+"="+e.vars[k])
	}
	return out
}

// Get returns the value the invocation will see for key
func (e OfflineEnv) Get(key string) string {
	return e.vars[key]
}

// Prepare creates the cache directories and writes the offline marker
func (e OfflineEnv) Prepare() error {
	for _, dir := range []string{"models", "hf_cache", "torch", "temp"} {
		if err := os.MkdirAll(filepath.Join(e.dataDir, dir), 0o755); err != nil {
			return fmt.Errorf("failed to create cache dir: %w", err)
		}
	}
	marker := filepath.Join(e.dataDir, offlineMarker)
	if err := os.WriteFile(marker, []byte("OFFLINE_MODE_ENABLED"), 0o644); err != nil {
		return fmt.Errorf("failed to write offline marker: %w", err)
	}
	return nil
}

// OfflineStatus is reported by the health endpoint
type OfflineStatus struct {
	OfflineMode      bool `json:"offline_mode"`
	ModelCacheExists bool `json:"model_cache_exists"`
	NetworkDisabled  bool `json:"no_network_vars"`
}

func (e OfflineEnv) Status() OfflineStatus {
	_, err := os.Stat(filepath.Join(e.dataDir, offlineMarker))
	return OfflineStatus{
		OfflineMode:      err == nil,
		ModelCacheExists: dirExists(filepath.Join(e.dataDir, "models")),
		NetworkDisabled: e.vars["MODELSCOPE_OFFLINE"] == "1" &&
			e.vars["HF_OFFLINE"] == "1" &&
			e.vars["OFFLINE_MODE"] == "1",
	}
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
