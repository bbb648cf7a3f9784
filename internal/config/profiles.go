package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ChunkProfile tunes the chunker per classified document domain. Dense
// domains (legal, financial, scientific) use larger chunks than
// conversational text.
type ChunkProfile struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
}

type ChunkProfiles struct {
	Default ChunkProfile            `yaml:"default"`
	Domains map[string]ChunkProfile `yaml:"domains"`
}

func DefaultChunkProfiles() ChunkProfiles {
	return ChunkProfiles{
		Default: ChunkProfile{ChunkSize: 600, ChunkOverlap: 50},
		Domains: map[string]ChunkProfile{
			"legal":          {ChunkSize: 900, ChunkOverlap: 100},
			"financial":      {ChunkSize: 900, ChunkOverlap: 100},
			"scientific":     {ChunkSize: 800, ChunkOverlap: 80},
			"technical":      {ChunkSize: 700, ChunkOverlap: 60},
			"conversational": {ChunkSize: 400, ChunkOverlap: 40},
		},
	}
}

// LoadChunkProfiles reads profile overrides from a YAML file, falling
// back to the built-in defaults when path is empty.
func LoadChunkProfiles(path string) (ChunkProfiles, error) {
	profiles := DefaultChunkProfiles()
	if path == "" {
		return profiles, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return profiles, fmt.Errorf("read chunk profiles: %w", err)
	}
	if err := yaml.Unmarshal(raw, &profiles); err != nil {
		return profiles, fmt.Errorf("parse chunk profiles: %w", err)
	}
	if profiles.Default.ChunkSize <= 0 {
		profiles.Default = DefaultChunkProfiles().Default
	}
	return profiles, nil
}

// ForDomain resolves the profile for a classified domain.
func (p ChunkProfiles) ForDomain(domain string) ChunkProfile {
	if prof, ok := p.Domains[domain]; ok && prof.ChunkSize > 0 {
		return prof
	}
	return p.Default
}
