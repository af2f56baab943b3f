package flow

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dastron/video-ware-sub000/core"
)

// Profile holds default step configurations merged into task payloads that
// do not pin their own. Values are kept opaque; the step executors validate
// them on decode.
type Profile struct {
	Thumbnail map[string]interface{} `yaml:"thumbnail"`
	Sprite    map[string]interface{} `yaml:"sprite"`
	Transcode map[string]interface{} `yaml:"transcode"`
	Analysis  map[string]interface{} `yaml:"analysis"`
}

// ProfileSet is a named collection of profiles loaded from YAML.
type ProfileSet struct {
	Default  string             `yaml:"default"`
	Profiles map[string]Profile `yaml:"profiles"`
}

// LoadProfiles reads a profile set from a YAML file.
func LoadProfiles(path string) (*ProfileSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profiles: %w", err)
	}
	var set ProfileSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("%w: parse profiles: %v", core.ErrInvalidInput, err)
	}
	if set.Default != "" {
		if _, ok := set.Profiles[set.Default]; !ok {
			return nil, fmt.Errorf("%w: default profile %q not defined", core.ErrInvalidInput, set.Default)
		}
	}
	return &set, nil
}

// Resolve returns the named profile, falling back to the set default.
// Unknown names resolve to nil.
func (s *ProfileSet) Resolve(name string) *Profile {
	if s == nil {
		return nil
	}
	if name == "" {
		name = s.Default
	}
	if p, ok := s.Profiles[name]; ok {
		return &p
	}
	return nil
}

// ApplyDefaults fills step configuration keys the payload leaves unset.
// Payload values always win over profile values.
func (p *Profile) ApplyDefaults(payload map[string]interface{}) {
	if p == nil || payload == nil {
		return
	}
	setIfMissing(payload, "thumbnail", p.Thumbnail)
	setIfMissing(payload, "sprite", p.Sprite)
	setIfMissing(payload, "transcode", p.Transcode)
	setIfMissing(payload, "config", p.Analysis)
}

func setIfMissing(payload map[string]interface{}, key string, value map[string]interface{}) {
	if value == nil {
		return
	}
	if _, ok := payload[key]; !ok {
		payload[key] = value
	}
}
