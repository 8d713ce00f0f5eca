package app

import (
	"time"

	"github.com/utestwalter/Mila/internal/config"
	"github.com/utestwalter/Mila/internal/storage"
	"github.com/utestwalter/Mila/internal/task/registrar"
	"github.com/utestwalter/Mila/internal/task/schedule"
	"github.com/utestwalter/Mila/pkg/logx"
)

// OpenStore opens the configured task store. Callers own Close.
func OpenStore(cfg *config.Config, log logx.Logger) (storage.Store, error) {
	return storage.Open(mapStorageConfig(cfg), log.With(logx.String("comp", "storage")))
}

// detachedScheduler stands in for the scheduler when no bot is running.
// A running bot only notices offline changes after its next restart.
type detachedScheduler struct{ loc *time.Location }

func (d detachedScheduler) Register(string, schedule.Trigger) error { return nil }
func (d detachedScheduler) Remove(string) bool                      { return false }
func (d detachedScheduler) Location() *time.Location                { return d.loc }

// NewOfflineRegistrar builds a registrar over store for the CLI. It can
// list, show and purge tasks; Register is not available without a compiler.
func NewOfflineRegistrar(cfg *config.Config, store storage.Store, log logx.Logger) *registrar.Service {
	loc, err := schedule.LoadLocation(cfg.Scheduler.Timezone, time.UTC)
	if err != nil {
		loc = time.UTC
	}
	return registrar.New(mapRegistrarConfig(cfg), registrar.Deps{
		Store:     store,
		Scheduler: detachedScheduler{loc: loc},
		Log:       log,
	})
}
