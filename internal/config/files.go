package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/Axion-inc/DesktopAgent-sub001/internal/domain"
)

// LoadPolicy reads a YAML policy file. Unknown keys are rejected so a typo
// cannot silently drop a restriction.
func LoadPolicy(path string) (domain.PolicyConfig, error) {
	var cfg domain.PolicyConfig
	if err := decodeFile(path, &cfg); err != nil {
		return domain.PolicyConfig{}, fmt.Errorf("load policy: %w", err)
	}
	if cfg.Rules != "" && !filepath.IsAbs(cfg.Rules) {
		cfg.Rules = filepath.Join(filepath.Dir(path), cfg.Rules)
	}
	return cfg, nil
}

// LoadManifest reads a YAML template manifest.
func LoadManifest(path string) (domain.TemplateManifest, error) {
	var m domain.TemplateManifest
	if err := decodeFile(path, &m); err != nil {
		return domain.TemplateManifest{}, fmt.Errorf("load manifest: %w", err)
	}
	return m, nil
}

// LoadPlan reads a YAML plan. A relative manifest path is resolved against
// the plan's directory.
func LoadPlan(path string) (domain.Plan, error) {
	var p domain.Plan
	if err := decodeFile(path, &p); err != nil {
		return domain.Plan{}, fmt.Errorf("load plan: %w", err)
	}
	if len(p.Steps) == 0 {
		return domain.Plan{}, fmt.Errorf("load plan %s: no steps", path)
	}
	for i, s := range p.Steps {
		if s.Name == "" {
			return domain.Plan{}, fmt.Errorf("load plan %s: step %d has no name", path, i)
		}
	}
	if p.Manifest != "" && !filepath.IsAbs(p.Manifest) {
		p.Manifest = filepath.Join(filepath.Dir(path), p.Manifest)
	}
	return p, nil
}

func decodeFile(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}
