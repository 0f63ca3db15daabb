package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"appcore/api/model"
)

func minimalManifest() *model.Manifest {
	return &model.Manifest{
		App:       "web",
		Workspace: "ws-1",
		Project:   "shop",
		Type:      model.TypeStateless,
		Image:     "nginx:1.27",
		Port:      80,
		Replicas:  1,
	}
}

func cronManifest() *model.Manifest {
	return &model.Manifest{
		App:       "dump",
		Workspace: "ws-1",
		Project:   "shop",
		Type:      model.TypeCronJob,
		Image:     "postgres:16",
		Schedule:  "0 2 * * *",
		Command:   []string{"pg_dump"},
	}
}

func checks(r *Result) []string {
	out := make([]string, 0, len(r.Findings))
	for _, f := range r.Findings {
		out = append(out, f.Check)
	}
	return out
}

func TestMinimalManifestIsValid(t *testing.T) {
	r := Manifest(minimalManifest())
	assert.True(t, r.Valid(), "%+v", r.Findings)
	assert.Empty(t, r.Findings)

	r = Manifest(cronManifest())
	assert.True(t, r.Valid(), "%+v", r.Findings)
}

func TestManifestFindings(t *testing.T) {
	tests := []struct {
		name   string
		base   func() *model.Manifest
		mutate func(m *model.Manifest)
		check  string
		valid  bool
	}{
		{"missing app", minimalManifest, func(m *model.Manifest) { m.App = "" }, "app.required", false},
		{"bad app name", minimalManifest, func(m *model.Manifest) { m.App = "Invalid_Name" }, "app.format", false},
		{"missing workspace", minimalManifest, func(m *model.Manifest) { m.Workspace = "" }, "workspace.required", false},
		{"missing project", minimalManifest, func(m *model.Manifest) { m.Project = "" }, "project.required", false},
		{"no source", minimalManifest, func(m *model.Manifest) { m.Image = "" }, "source.required", false},
		{"git without url", minimalManifest, func(m *model.Manifest) { m.Git = &model.GitSource{} }, "git.url.required", false},
		{"git and image", minimalManifest, func(m *model.Manifest) { m.Git = &model.GitSource{URL: "https://git.local/web"} }, "source.ambiguous", true},
		{"unknown type", minimalManifest, func(m *model.Manifest) { m.Type = "daemon" }, "type.invalid", false},
		{"function", minimalManifest, func(m *model.Manifest) { m.Type = model.TypeFunction }, "type.function.unsupported", false},
		{"stateful without storage", minimalManifest, func(m *model.Manifest) { m.Type = model.TypeStateful }, "stateful.storage.recommended", true},
		{"bad storage size", minimalManifest, func(m *model.Manifest) {
			m.Type = model.TypeStateful
			m.Storage = &model.Storage{Size: "ten gigs"}
		}, "storage.size.invalid", false},
		{"bad quantity", minimalManifest, func(m *model.Manifest) { m.Resources = &model.Resources{CPULimit: "lots"} }, "resources.quantity.invalid", false},
		{"ingress without port", minimalManifest, func(m *model.Manifest) {
			m.Port = 0
			m.Ingress = &model.NetworkConfig{CreateIngress: true}
		}, "ingress.port.required", false},
		{"tls without domain", minimalManifest, func(m *model.Manifest) {
			m.Ingress = &model.NetworkConfig{CreateIngress: true, TLSEnabled: true}
		}, "ingress.tls.domain", true},
		{"backup on stateless", minimalManifest, func(m *model.Manifest) {
			m.Backup = &model.CreateBackupPolicyRequest{Schedule: "0 4 * * *"}
		}, "backup.type.invalid", false},
		{"cron without schedule", cronManifest, func(m *model.Manifest) { m.Schedule = "" }, "cron.schedule.required", false},
		{"cron bad schedule", cronManifest, func(m *model.Manifest) { m.Schedule = "every day" }, "cron.schedule.invalid", false},
		{"cron without command", cronManifest, func(m *model.Manifest) { m.Command = nil }, "cron.command.required", false},
		{"cron with port", cronManifest, func(m *model.Manifest) { m.Port = 8080 }, "cron.port.ignored", true},
		{"backup without schedule", cronManifest, func(m *model.Manifest) {
			m.Backup = &model.CreateBackupPolicyRequest{}
		}, "backup.schedule.required", false},
		{"backup before job", cronManifest, func(m *model.Manifest) {
			m.Backup = &model.CreateBackupPolicyRequest{Schedule: "0 1 * * *"}
		}, "backup.schedule.conflict", false},
		{"backup same time", cronManifest, func(m *model.Manifest) {
			m.Backup = &model.CreateBackupPolicyRequest{Schedule: "0 2 * * *"}
		}, "backup.schedule.conflict", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := tt.base()
			tt.mutate(m)
			r := Manifest(m)
			assert.Contains(t, checks(r), tt.check)
			assert.Equal(t, tt.valid, r.Valid(), "%+v", r.Findings)
		})
	}
}

func TestBackupAfterJobIsValid(t *testing.T) {
	m := cronManifest()
	m.Backup = &model.CreateBackupPolicyRequest{Schedule: "0 4 * * *"}
	r := Manifest(m)
	assert.True(t, r.Valid(), "%+v", r.Findings)
}

func TestResultCounts(t *testing.T) {
	r := &Result{}
	r.Add(Finding{Check: "a", Severity: SeverityError})
	r.Add(Finding{Check: "b", Severity: SeverityWarning})
	r.Add(Finding{Check: "c", Severity: SeverityInfo})
	assert.Equal(t, 1, r.Errors)
	assert.Equal(t, 1, r.Warnings)
	assert.Len(t, r.Findings, 3)
	assert.False(t, r.Valid())
}
