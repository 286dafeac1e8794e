package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// WriteDefault writes a commented config.yaml with every default to dir.
// It refuses to overwrite an existing file unless force is set.
func WriteDefault(dir string, force bool) (string, error) {
	return WriteConfig(dir, nil, force)
}

// WriteConfig is WriteDefault with some keys replaced by overrides.
func WriteConfig(dir string, overrides map[string]any, force bool) (string, error) {
	path := ConfigFile(dir)
	if !force {
		if _, err := os.Stat(path); err == nil {
			return path, fmt.Errorf("%s already exists", path)
		}
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return path, err
	}

	data, err := renderDefaults(overrides)
	if err != nil {
		return path, err
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return path, err
	}
	return path, nil
}

func renderDefaults(overrides map[string]any) ([]byte, error) {
	root := &yaml.Node{Kind: yaml.MappingNode}
	for _, s := range defaults {
		if v, ok := overrides[s.key]; ok && v != nil {
			s.value = v
		}
		key := &yaml.Node{Kind: yaml.ScalarNode, Value: s.key, HeadComment: s.comment}
		val := &yaml.Node{}
		switch v := s.value.(type) {
		case time.Duration:
			// Encode durations the way viper parses them back ("30s").
			val.Kind = yaml.ScalarNode
			val.Value = v.String()
		default:
			if err := val.Encode(v); err != nil {
				return nil, fmt.Errorf("encode %s: %w", s.key, err)
			}
		}
		root.Content = append(root.Content, key, val)
	}

	doc := &yaml.Node{
		Kind:        yaml.DocumentNode,
		HeadComment: "coord daemon settings. Environment variables COORD_<KEY> override these.",
		Content:     []*yaml.Node{root},
	}
	return yaml.Marshal(doc)
}
