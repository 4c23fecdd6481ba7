package profiles

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/agentctl/agentctl/internal/errtag"
)

// Metadata is the YAML sidecar description of one built-in layout profile
// (spec §4.9: "can reload profile metadata ... from YAML sidecar files for
// compatibility/debugging"). The profiles actually executed by the session
// orchestrator are always the in-process Factory functions in builtin.go.
// Only these sidecars are materialized; no layout or helper scripts are
// written.
type Metadata struct {
	Name              string `yaml:"name"`
	BestForAgentCount int    `yaml:"best_for_agent_count"`
	Description       string `yaml:"description,omitempty"`
}

func (m Metadata) validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return errors.New("profiles: metadata name is required")
	}
	if m.BestForAgentCount < 0 {
		return errors.New("profiles: best_for_agent_count must be non-negative")
	}
	return nil
}

// MetadataFile pairs parsed Metadata with its on-disk source path.
type MetadataFile struct {
	Metadata Metadata
	Path     string
}

func parseMetadataYAML(data []byte) (Metadata, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Metadata{}, errors.New("profiles: metadata payload is empty")
	}
	var m Metadata
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Metadata{}, fmt.Errorf("profiles: decode metadata: %w", err)
	}
	if err := m.validate(); err != nil {
		return Metadata{}, err
	}
	return m, nil
}

// LoadMetadataDir scans dir for `*.yaml`/`*.yml` profile sidecar files.
// A missing directory is "no fallback profiles", not an error.
func LoadMetadataDir(dir string) ([]MetadataFile, error) {
	trimmed := strings.TrimSpace(dir)
	if trimmed == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(trimmed)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, errtag.Wrap(errtag.KindIO, err, "read "+trimmed)
	}
	var files []MetadataFile
	for _, entry := range entries {
		if entry.IsDir() || !isYAMLFile(entry.Name()) {
			continue
		}
		path := filepath.Join(trimmed, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errtag.Wrap(errtag.KindIO, err, "read "+path).WithPath(path)
		}
		meta, err := parseMetadataYAML(data)
		if err != nil {
			return nil, fmt.Errorf("profiles: %s: %w", path, err)
		}
		files = append(files, MetadataFile{Metadata: meta, Path: filepath.Clean(path)})
	}
	if len(files) == 0 {
		return nil, nil
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

func isYAMLFile(name string) bool {
	lower := strings.ToLower(strings.TrimSpace(name))
	return strings.HasSuffix(lower, ".yaml") || strings.HasSuffix(lower, ".yml")
}

// Materialize writes the sidecar metadata for every built-in profile under
// <profilesDir>/profile<N>/profile.yaml (spec §6: "shipped as embedded
// templates that are materialized on init to
// <workspace-root>/profiles/profile<N>"). Refuses to overwrite existing
// files unless force.
func Materialize(registry *Registry, profilesDir string, force bool) error {
	names := registry.Names()
	for i, name := range names {
		p, _ := registry.Resolve(name)
		dir := filepath.Join(profilesDir, fmt.Sprintf("profile%d", i+1))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errtag.Wrap(errtag.KindIO, err, "create "+dir)
		}
		sidecarPath := filepath.Join(dir, "profile.yaml")
		if _, err := os.Stat(sidecarPath); err == nil && !force {
			continue
		}
		meta := Metadata{Name: p.Name, BestForAgentCount: p.BestForAgentCount}
		data, err := yaml.Marshal(meta)
		if err != nil {
			return errtag.Wrap(errtag.KindIO, err, "encode profile metadata for "+name)
		}
		if err := os.WriteFile(sidecarPath, data, 0o644); err != nil {
			return errtag.Wrap(errtag.KindIO, err, "write "+sidecarPath)
		}
	}
	return nil
}
