package app

import (
	"github.com/sergeschumacher/hermes/internal/domain"
	"github.com/sergeschumacher/hermes/internal/engine"
	"github.com/sergeschumacher/hermes/internal/infra/config"
	"github.com/sergeschumacher/hermes/internal/infra/logger"
)

// Engine is the surface the API layer needs from the orchestrator, kept as
// an interface so controllers never import the engine package directly.
type Engine interface {
	Submit(nzbBytes []byte, name string) (*engine.Receipt, error)
	Cancel(id string) error
	Get(id string) (*domain.Job, bool)
	List() []*domain.Job
	Snapshot(job *domain.Job) domain.Progress
}

// Context holds the core environment and shared resources for hermes.
type Context struct {
	Config *config.Config
	Logger *logger.Logger
	Engine Engine
}

// NewContext initializes the base environment.
func NewContext(cfg *config.Config, log *logger.Logger) *Context {
	return &Context{
		Config: cfg,
		Logger: log,
	}
}
