package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"secretary_server/core/domain"
)

// MailboxProfile describes one inbox swept on behalf of a user.
type MailboxProfile struct {
	Name        string `yaml:"name"`
	UserID      string `yaml:"user_id"`
	Provider    string `yaml:"provider"`
	Query       string `yaml:"query"`
	MaxMessages int    `yaml:"max_messages"`
}

type mailboxFile struct {
	Mailboxes []MailboxProfile `yaml:"mailboxes"`
}

// LoadMailboxProfiles reads mailbox profiles from a YAML file. ${VAR}
// references are expanded from the environment before parsing. An empty
// path yields no profiles.
func LoadMailboxProfiles(path string) ([]MailboxProfile, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mailbox config %s: %w", path, err)
	}
	return ParseMailboxProfiles([]byte(os.ExpandEnv(string(data))))
}

// ParseMailboxProfiles parses and normalizes mailbox profiles.
func ParseMailboxProfiles(data []byte) ([]MailboxProfile, error) {
	var raw mailboxFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse mailbox YAML: %w", err)
	}

	profiles := make([]MailboxProfile, 0, len(raw.Mailboxes))
	seen := make(map[string]bool)
	for _, p := range raw.Mailboxes {
		p.Name = strings.TrimSpace(p.Name)
		if p.Name == "" || p.UserID == "" {
			// commented-out or partial entries
			continue
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("duplicate mailbox name %q", p.Name)
		}
		seen[p.Name] = true

		if p.Provider == "" {
			p.Provider = "gmail"
		}
		// a sweep only ever handles unread mail
		p.Query = domain.UnseenQuery(p.Query)
		if p.MaxMessages <= 0 {
			p.MaxMessages = 25
		}
		profiles = append(profiles, p)
	}
	return profiles, nil
}
