package domain

import "fmt"

// Provider describes one Usenet endpoint. The record is read-only once a job
// is running; the pool and the orchestrator only ever read it.
type Provider struct {
	ID            string
	Host          string
	Port          int
	Username      string
	Password      string
	TLS           bool
	MaxConnection int
	Priority      int
}

// Addr returns the host:port dial target.
func (p Provider) Addr() string {
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}
