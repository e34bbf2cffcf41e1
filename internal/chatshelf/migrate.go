package chatshelf

import (
	"context"
)

const defaultNamespace = "default"

// migrateLegacy copies the unscoped pre-namespacing keys into the first
// active non-default namespace and deletes them, at most once ever across
// all namespaces, guarded by a global flag. Sessions running under the
// default namespace leave the flag unset so a later identified session can
// still claim the data.
//
// Storage errors abort silently without setting the flag: an unreadable
// backend must not burn the one migration attempt.
func migrateLegacy(ctx context.Context, kv KV, namespace string, logger Logger) {
	if namespace == GlobalNamespace || namespace == defaultNamespace {
		return
	}
	flag, err := kv.Get(ctx, GlobalNamespace, KeyMigrated)
	if err != nil || len(flag) > 0 {
		return
	}

	legacyProjects, err := kv.Get(ctx, GlobalNamespace, LegacyKeyProjects)
	if err != nil {
		return
	}
	legacyAssociations, err := kv.Get(ctx, GlobalNamespace, LegacyKeyAssociations)
	if err != nil {
		return
	}

	if len(legacyProjects) > 0 {
		if existing, err := kv.Get(ctx, namespace, KeyProjects); err == nil && len(existing) == 0 {
			if err := kv.Set(ctx, namespace, KeyProjects, legacyProjects); err != nil {
				logger.Printf("legacy project migration write failed: %v", err)
				return
			}
		}
	}
	if len(legacyAssociations) > 0 {
		if existing, err := kv.Get(ctx, namespace, KeyAssociations); err == nil && len(existing) == 0 {
			if err := kv.Set(ctx, namespace, KeyAssociations, legacyAssociations); err != nil {
				logger.Printf("legacy association migration write failed: %v", err)
				return
			}
		}
	}

	if err := kv.Delete(ctx, GlobalNamespace, LegacyKeyProjects); err != nil {
		logger.Printf("legacy project key delete failed: %v", err)
	}
	if err := kv.Delete(ctx, GlobalNamespace, LegacyKeyAssociations); err != nil {
		logger.Printf("legacy association key delete failed: %v", err)
	}
	if err := kv.Set(ctx, GlobalNamespace, KeyMigrated, []byte("1")); err != nil {
		logger.Printf("migration flag write failed: %v", err)
		return
	}
	if len(legacyProjects) > 0 || len(legacyAssociations) > 0 {
		logger.Printf("migrated legacy data into namespace %s", namespace)
	}
}
