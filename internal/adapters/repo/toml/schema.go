package toml

import "fmt"

const currentSchemaVersion = 1

type fileSchema struct {
	Version  int             `toml:"version"`
	Accounts []accountSchema `toml:"accounts"`
}

func (s *fileSchema) applyDefaults() {
	if s.Version == 0 {
		s.Version = currentSchemaVersion
	}
}

func (s fileSchema) validateVersion() error {
	if s.Version > currentSchemaVersion {
		return fmt.Errorf("unsupported accounts schema version %d (current %d)", s.Version, currentSchemaVersion)
	}

	return nil
}

type accountSchema struct {
	ID        string         `toml:"id"`
	Name      string         `toml:"name,omitempty"`
	Token     string         `toml:"token"`
	ServerID  string         `toml:"server_id"`
	ChannelID string         `toml:"channel_id"`
	Mode      string         `toml:"mode"`
	Usage     usageSchema    `toml:"usage"`
	Profile   map[string]any `toml:"profile,omitempty"`
}

type usageSchema struct {
	LastUsedAt string `toml:"last_used_at,omitempty"`
	UseCount   int64  `toml:"use_count"`
}

const currentAffinitySchemaVersion = 1

type affinityFileSchema struct {
	Version    int              `toml:"version"`
	Affinities []affinitySchema `toml:"affinities"`
}

func (s *affinityFileSchema) applyDefaults() {
	if s.Version == 0 {
		s.Version = currentAffinitySchemaVersion
	}
}

func (s affinityFileSchema) validateVersion() error {
	if s.Version > currentAffinitySchemaVersion {
		return fmt.Errorf("unsupported affinity schema version %d (current %d)", s.Version, currentAffinitySchemaVersion)
	}

	return nil
}

type affinitySchema struct {
	MessageID string `toml:"message_id"`
	ChannelID string `toml:"channel_id"`
	AccountID string `toml:"account_id"`
	UpdatedAt string `toml:"updated_at"`
}
