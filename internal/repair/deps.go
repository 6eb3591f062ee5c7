package repair

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/redis/go-redis/v9"

	"repairBack/internal/repair/bot"
	"repairBack/internal/repair/store"
)

// Logger provides minimal logging required by the repair module.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Deps groups external dependencies needed by the repair module.
// DB and RDB are optional: without them history is not recorded and
// chat sessions live in memory.
type Deps struct {
	DB             *sql.DB
	DBDriver       string
	RDB            *redis.Client
	Messenger      bot.Client
	Logger         Logger
	Config         Config
	HTTPClient     *http.Client
	Admins         []int64
	Couriers       []int64
	Categories     []string
	ServiceCenters []store.ServiceCenter
	module         *moduleState
}

// Validate ensures required dependencies are provided.
func (d *Deps) Validate() error {
	if d == nil {
		return errors.New("repair deps are nil")
	}
	if d.Messenger == nil {
		return errors.New("repair deps: Messenger is required")
	}
	if d.Logger == nil {
		return errors.New("repair deps: Logger is required")
	}
	if d.Config.DataDir == "" {
		return errors.New("repair deps: Config.DataDir is required")
	}
	if d.DB != nil && d.DBDriver == "" {
		return errors.New("repair deps: DBDriver is required with DB")
	}
	if len(d.Admins) == 0 {
		return errors.New("repair deps: at least one admin is required")
	}
	if d.HTTPClient == nil {
		d.HTTPClient = &http.Client{Timeout: d.Config.ExternalTimeout}
	}
	return nil
}
