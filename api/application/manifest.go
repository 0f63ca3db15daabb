package application

import (
	"context"

	"appcore/api/apperr"
	"appcore/api/model"
)

// ApplyManifest creates the application a manifest describes unless one with
// the same workspace, project and name already exists. The bool result
// reports whether anything was created.
func (s *Service) ApplyManifest(ctx context.Context, m *model.Manifest) (*model.Application, bool, error) {
	const op = "apply manifest"
	if m.Workspace == "" {
		return nil, false, apperr.Validation(op, "manifest %s has no workspace", m.App)
	}
	if m.Type == model.TypeFunction {
		return nil, false, apperr.Validation(op, "manifest %s: functions cannot be declared in manifests", m.App)
	}

	existing, err := s.store.GetApplicationByName(ctx, m.Workspace, m.Project, m.App)
	if err == nil {
		return existing, false, nil
	}
	if !apperr.IsNotFound(err) {
		return nil, false, storeErr(op, "failed to look up application", err)
	}

	req := m.Request()
	var app *model.Application
	if m.Backup != nil {
		app, err = s.CreateApplicationWithBackupPolicy(ctx, m.Workspace, &req, m.Backup)
	} else {
		app, err = s.Create(ctx, m.Workspace, &req)
	}
	if err != nil {
		return nil, false, err
	}
	log.Infof("applied manifest %s/%s/%s", m.Workspace, m.Project, m.App)
	return app, true, nil
}

// ApplyManifests applies every manifest and returns how many applications
// were created. A failing manifest is logged and does not stop the rest.
func (s *Service) ApplyManifests(ctx context.Context, manifests []*model.Manifest) int {
	created := 0
	for _, m := range manifests {
		_, ok, err := s.ApplyManifest(ctx, m)
		if err != nil {
			log.Warnf("manifest %s: %v", m.App, err)
			continue
		}
		if ok {
			created++
		}
	}
	return created
}
