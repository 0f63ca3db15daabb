package model

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Manifest is the declarative on-disk form of an application.
type Manifest struct {
	App       string                     `yaml:"app"`
	Workspace string                     `yaml:"workspace"`
	Project   string                     `yaml:"project"`
	Type      ApplicationType            `yaml:"type"`
	Image     string                     `yaml:"image,omitempty"`
	Git       *GitSource                 `yaml:"git,omitempty"`
	Port      int                        `yaml:"port,omitempty"`
	Replicas  int                        `yaml:"replicas,omitempty"`
	Env       map[string]string          `yaml:"env,omitempty"`
	Resources *Resources                 `yaml:"resources,omitempty"`
	NodePool  string                     `yaml:"nodePool,omitempty"`
	Storage   *Storage                   `yaml:"storage,omitempty"`
	Ingress   *NetworkConfig             `yaml:"ingress,omitempty"`
	Schedule  string                     `yaml:"schedule,omitempty"` // cron expression e.g. "0 2 * * *"
	Command   []string                   `yaml:"command,omitempty"`
	Args      []string                   `yaml:"args,omitempty"`
	Backup    *CreateBackupPolicyRequest `yaml:"backup,omitempty"`
}

type GitSource struct {
	URL       string `yaml:"url"`
	Ref       string `yaml:"ref,omitempty"`
	Buildpack string `yaml:"buildpack,omitempty"`
}

func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if m.Type == "" {
		m.Type = TypeStateless
	}
	if m.Replicas < 1 && m.Type != TypeCronJob {
		m.Replicas = 1
	}
	return &m, nil
}

// DiscoverManifests loads every *.yaml / *.yml file directly under dir,
// sorted by file name. Files that fail to parse are skipped.
func DiscoverManifests(dir string) ([]*Manifest, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var out []*Manifest
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		m, err := LoadManifest(filepath.Join(dir, entry.Name()))
		if err != nil || m.App == "" {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// Request converts the manifest into a create request.
func (m *Manifest) Request() CreateApplicationRequest {
	req := CreateApplicationRequest{
		ProjectID:    m.Project,
		Name:         m.App,
		Type:         m.Type,
		NodePoolID:   m.NodePool,
		CronSchedule: m.Schedule,
		CronCommand:  m.Command,
		CronArgs:     m.Args,
		Config: Config{
			Replicas:      m.Replicas,
			Port:          m.Port,
			EnvVars:       m.Env,
			Storage:       m.Storage,
			NetworkConfig: m.Ingress,
		},
	}
	if m.Resources != nil {
		req.Config.Resources = *m.Resources
	}
	if m.Git != nil {
		req.Source = Source{Type: SourceGit, GitURL: m.Git.URL, GitRef: m.Git.Ref, Buildpack: m.Git.Buildpack}
	} else {
		req.Source = Source{Type: SourceImage, Image: m.Image}
	}
	return req
}
