package memory

import (
	"log"
	"time"

	"github.com/stellarlinkco/larkmind/internal/config"
)

// RunExpiry deactivates stale low-importance memories per the expiry policy.
// Invoked by the gateway's daily maintenance job.
func RunExpiry(store *Store, cfg config.ExpiryConfig) error {
	if !cfg.Enabled {
		return nil
	}

	cutoff := time.Now().AddDate(0, 0, -cfg.AfterDays)
	n, err := store.ExpireMemories(cutoff, cfg.MaxImportance)
	if err != nil {
		return err
	}
	if n > 0 {
		log.Printf("[memory] expired %d stale memories (importance <= %d, older than %d days)",
			n, cfg.MaxImportance, cfg.AfterDays)
	}
	return nil
}
