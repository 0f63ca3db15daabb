package validate

import (
	"fmt"
	"regexp"

	"github.com/robfig/cron/v3"
	"k8s.io/apimachinery/pkg/api/resource"

	"appcore/api/application"
	"appcore/api/model"
)

var validAppName = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]*[a-z0-9])?$`)

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

type Finding struct {
	Check    string   `json:"check"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Field    string   `json:"field,omitempty"`
}

type Result struct {
	App      string    `json:"app"`
	Findings []Finding `json:"findings"`
	Errors   int       `json:"errors"`
	Warnings int       `json:"warnings"`
}

func (r *Result) Add(f Finding) {
	r.Findings = append(r.Findings, f)
	switch f.Severity {
	case SeverityError:
		r.Errors++
	case SeverityWarning:
		r.Warnings++
	}
}

func (r *Result) Valid() bool {
	return r.Errors == 0
}

// Manifest lints a declarative manifest before it is applied. It checks
// what the engine would reject plus a few things it would silently accept.
func Manifest(m *model.Manifest) *Result {
	r := &Result{App: m.App}
	checkIdentity(m, r)
	checkSource(m, r)
	checkType(m, r)
	checkResources(m, r)
	checkIngress(m, r)
	return r
}

func checkIdentity(m *model.Manifest, r *Result) {
	if m.App == "" {
		r.Add(Finding{Check: "app.required", Severity: SeverityError, Message: "app name is required", Field: "app"})
	} else if len(m.App) > 63 || !validAppName.MatchString(m.App) {
		r.Add(Finding{
			Check:    "app.format",
			Severity: SeverityError,
			Message:  fmt.Sprintf("app name %q must be a DNS-1123 label", m.App),
			Field:    "app",
		})
	}
	if m.Workspace == "" {
		r.Add(Finding{Check: "workspace.required", Severity: SeverityError, Message: "workspace is required", Field: "workspace"})
	}
	if m.Project == "" {
		r.Add(Finding{Check: "project.required", Severity: SeverityError, Message: "project is required", Field: "project"})
	}
}

func checkSource(m *model.Manifest, r *Result) {
	switch {
	case m.Git != nil && m.Git.URL == "":
		r.Add(Finding{Check: "git.url.required", Severity: SeverityError, Message: "git section requires a url", Field: "git.url"})
	case m.Git == nil && m.Image == "":
		r.Add(Finding{Check: "source.required", Severity: SeverityError, Message: "either image or git is required", Field: "image"})
	case m.Git != nil && m.Image != "":
		r.Add(Finding{Check: "source.ambiguous", Severity: SeverityWarning, Message: "image is ignored when git is set", Field: "image"})
	}
}

func checkType(m *model.Manifest, r *Result) {
	switch m.Type {
	case model.TypeStateless:
	case model.TypeStateful:
		if m.Storage == nil {
			r.Add(Finding{
				Check:    "stateful.storage.recommended",
				Severity: SeverityWarning,
				Message:  "stateful application without storage keeps no data across restarts",
				Field:    "storage",
			})
		} else if _, err := resource.ParseQuantity(m.Storage.Size); err != nil {
			r.Add(Finding{
				Check:    "storage.size.invalid",
				Severity: SeverityError,
				Message:  fmt.Sprintf("storage size %q is not a valid quantity", m.Storage.Size),
				Field:    "storage.size",
			})
		}
	case model.TypeCronJob:
		checkCronJob(m, r)
	case model.TypeFunction:
		r.Add(Finding{
			Check:    "type.function.unsupported",
			Severity: SeverityError,
			Message:  "functions are created through the API, not manifests",
			Field:    "type",
		})
	default:
		r.Add(Finding{
			Check:    "type.invalid",
			Severity: SeverityError,
			Message:  fmt.Sprintf("type %q is not valid (must be stateless, stateful or cronjob)", m.Type),
			Field:    "type",
		})
	}

	if m.Backup != nil && m.Type != model.TypeCronJob {
		r.Add(Finding{
			Check:    "backup.type.invalid",
			Severity: SeverityError,
			Message:  "backup can only be attached to cronjob applications",
			Field:    "backup",
		})
	}
}

func checkCronJob(m *model.Manifest, r *Result) {
	if m.Schedule == "" {
		r.Add(Finding{Check: "cron.schedule.required", Severity: SeverityError, Message: "cronjob requires a schedule expression", Field: "schedule"})
	} else if _, err := scheduleParser.Parse(m.Schedule); err != nil {
		r.Add(Finding{
			Check:    "cron.schedule.invalid",
			Severity: SeverityError,
			Message:  fmt.Sprintf("schedule %q: %v", m.Schedule, err),
			Field:    "schedule",
		})
	}
	if len(m.Command) == 0 {
		r.Add(Finding{Check: "cron.command.required", Severity: SeverityError, Message: "cronjob requires a command", Field: "command"})
	}
	if m.Port > 0 {
		r.Add(Finding{Check: "cron.port.ignored", Severity: SeverityInfo, Message: "cronjobs are not exposed; port is ignored", Field: "port"})
	}

	if m.Backup == nil || m.Schedule == "" {
		return
	}
	if m.Backup.Schedule == "" {
		r.Add(Finding{Check: "backup.schedule.required", Severity: SeverityError, Message: "backup requires a schedule", Field: "backup.schedule"})
		return
	}
	if err := application.ValidateBackupSchedule(m.Schedule, m.Backup.Schedule); err != nil {
		r.Add(Finding{
			Check:    "backup.schedule.conflict",
			Severity: SeverityError,
			Message:  err.Error(),
			Field:    "backup.schedule",
		})
	}
}

func checkResources(m *model.Manifest, r *Result) {
	if m.Resources == nil {
		return
	}
	fields := []struct {
		name, value string
	}{
		{"resources.cpuRequest", m.Resources.CPURequest},
		{"resources.cpuLimit", m.Resources.CPULimit},
		{"resources.memoryRequest", m.Resources.MemoryRequest},
		{"resources.memoryLimit", m.Resources.MemoryLimit},
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		if _, err := resource.ParseQuantity(f.value); err != nil {
			r.Add(Finding{
				Check:    "resources.quantity.invalid",
				Severity: SeverityError,
				Message:  fmt.Sprintf("%q is not a valid quantity", f.value),
				Field:    f.name,
			})
		}
	}
}

func checkIngress(m *model.Manifest, r *Result) {
	if m.Ingress == nil || !m.Ingress.CreateIngress {
		return
	}
	if m.Port == 0 {
		r.Add(Finding{Check: "ingress.port.required", Severity: SeverityError, Message: "ingress requires a port", Field: "port"})
	}
	if m.Ingress.TLSEnabled && m.Ingress.CustomDomain == "" {
		r.Add(Finding{
			Check:    "ingress.tls.domain",
			Severity: SeverityWarning,
			Message:  "tls without a custom domain uses the default host",
			Field:    "ingress.customDomain",
		})
	}
}
