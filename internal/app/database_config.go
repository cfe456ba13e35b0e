package app

import (
	"strings"

	"github.com/charlesng35/studyhub/internal/database"
)

// ConnectionConfig picks the enabled host block for the selected driver.
func (c DatabaseConfig) ConnectionConfig() database.Config {
	cfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(c.Driver)),
		Path:   c.Path,
		DSN:    c.DSN,
	}

	var host DBAuthConfig
	switch cfg.Driver {
	case "postgres", "postgresql":
		host = c.Postgres
	case "mysql":
		host = c.MySQL
	}
	if host.Enabled {
		cfg.Host = host.Host
		cfg.Port = host.Port
		cfg.Name = host.Database
		cfg.User = host.Username
		cfg.Password = host.Password
	}
	return cfg
}
