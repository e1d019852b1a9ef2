package orchestrator

import (
	"context"
	"log/slog"

	"evalplane/internal/jobspec"
	"evalplane/internal/logging"
	"evalplane/internal/store"
)

// resolvePlugins collects storage URIs of plugins referenced by the pack's
// task overrides and by the job specification, deduplicated in first-seen
// order. References to unregistered plugins are skipped.
func (o *Orchestrator) resolvePlugins(ctx context.Context, logger *slog.Logger, packID string, spec *jobspec.JobSpec) ([]string, error) {
	tasks, err := o.store.ListPackTasks(ctx, packID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var uris []string
	add := func(name, version string) error {
		plugin, err := o.store.FindPlugin(ctx, name, version)
		if err != nil {
			return err
		}
		if plugin == nil {
			logging.WarnWithContext(logger, "plugin not registered",
				"plugin_missing",
				logging.String("plugin", name+"@"+version),
				logging.String(logging.FieldErrorHint, "register it with evalplane plugin register"),
				logging.String(logging.FieldImpact, "engine runs without this custom task module"),
			)
			return nil
		}
		if _, dup := seen[plugin.StorageURI]; dup {
			return nil
		}
		seen[plugin.StorageURI] = struct{}{}
		uris = append(uris, plugin.StorageURI)
		return nil
	}

	for _, task := range tasks {
		name, version, ok := store.ParseOverrides(task.Overrides).JudgePlugin()
		if !ok {
			continue
		}
		if err := add(name, version); err != nil {
			return nil, err
		}
	}
	for _, ref := range spec.CustomPlugins {
		if ref.Name == "" || ref.Version == "" {
			continue
		}
		if err := add(ref.Name, ref.Version); err != nil {
			return nil, err
		}
	}
	return uris, nil
}
