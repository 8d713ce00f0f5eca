//go:build !sqlite

package storage

import (
	"errors"

	"github.com/utestwalter/Mila/pkg/logx"
)

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	_, _ = cfg, log
	return nil, errors.New("sqlite storage not built: rebuild with -tags sqlite")
}
