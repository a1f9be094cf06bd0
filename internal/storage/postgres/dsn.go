package postgres

import (
	"fmt"
	"strings"

	"github.com/GoSim-25-26J-441/adsec-backend/config"
)

// DSN builds a lib/pq keyword/value connection string with quoted values
func DSN(cfg *config.DatabaseConfig) string {
	sslmode := cfg.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		quote(cfg.Host), cfg.Port, quote(cfg.User), quote(cfg.Password), quote(cfg.Name), sslmode,
	)
}

func quote(v string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}
