package config

import (
	"fmt"
	"os"

	"github.com/nxclaw/nxclaw/internal/llm"
	"github.com/nxclaw/nxclaw/internal/platform/fsutil"
)

// AuthFile is the on-disk shape of agent/auth.json: one credential entry
// per configured provider, keyed by the provider name the `auth` CLI
// command and llm.CreateProvider both use.
type AuthFile struct {
	Providers []llm.ProviderConfig `json:"providers"`
}

// LoadAuth reads agent/auth.json, returning an empty AuthFile (not an
// error) when the file does not yet exist — a fresh home has no
// authenticated provider until `auth` is run.
func LoadAuth(home string) (*AuthFile, error) {
	path := NewPaths(home).AuthPath()
	var f AuthFile
	if err := fsutil.ReadJSON(path, &f); err != nil {
		if os.IsNotExist(err) {
			return &AuthFile{}, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return &f, nil
}

// SaveAuth persists f to agent/auth.json via temp+rename, mode 0600.
func SaveAuth(home string, f *AuthFile) error {
	return fsutil.WriteJSONAtomic(NewPaths(home).AuthPath(), f)
}

// UpsertProvider adds or replaces the credential entry for cfg.Name and
// persists the result, used by the `auth` CLI command.
func UpsertProvider(home string, cfg llm.ProviderConfig) (*AuthFile, error) {
	f, err := LoadAuth(home)
	if err != nil {
		return nil, err
	}
	replaced := false
	for i, p := range f.Providers {
		if p.Name == cfg.Name {
			f.Providers[i] = cfg
			replaced = true
			break
		}
	}
	if !replaced {
		f.Providers = append(f.Providers, cfg)
	}
	if err := SaveAuth(home, f); err != nil {
		return nil, err
	}
	return f, nil
}

// IsAuthenticated reports whether any provider credential is on disk,
// satisfying orchestrator.AuthChecker without the orchestrator needing to
// know about the config package's storage format.
func IsAuthenticated(home string) bool {
	f, err := LoadAuth(home)
	if err != nil {
		return false
	}
	return len(f.Providers) > 0
}

// ModelsFile is the on-disk shape of agent/models.json: user-added model
// aliases layered on top of each provider's compiled model list.
type ModelsFile struct {
	Models []ModelEntry `json:"models"`
}

// ModelEntry names one selectable "provider/model" pair with a display
// alias, mirroring the teacher's ModelConfig.
type ModelEntry struct {
	ID          string `json:"id"`
	Alias       string `json:"alias"`
	Provider    string `json:"provider"`
	Description string `json:"description"`
}

// LoadModels reads agent/models.json, returning an empty ModelsFile when
// absent.
func LoadModels(home string) (*ModelsFile, error) {
	path := NewPaths(home).ModelsPath()
	var f ModelsFile
	if err := fsutil.ReadJSON(path, &f); err != nil {
		if os.IsNotExist(err) {
			return &ModelsFile{}, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return &f, nil
}

// SaveModels persists f to agent/models.json via temp+rename, mode 0600.
func SaveModels(home string, f *ModelsFile) error {
	return fsutil.WriteJSONAtomic(NewPaths(home).ModelsPath(), f)
}
