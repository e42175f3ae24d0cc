package database

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func openPostgres(cfg Config) (*gorm.DB, error) {
	dsn, err := postgresDSN(cfg)
	if err != nil {
		return nil, err
	}
	return gorm.Open(postgres.Open(dsn), &gorm.Config{})
}

func postgresDSN(cfg Config) (string, error) {
	if cfg.DSN != "" {
		return cfg.DSN, nil
	}

	if cfg.User == "" || cfg.Name == "" {
		return "", errors.New("postgres configuration requires user and database name")
	}

	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = 5432
	}

	var params []string
	add := func(key, value string) {
		params = append(params, key+"="+value)
	}

	add("host", host)
	add("port", fmt.Sprintf("%d", port))
	add("user", cfg.User)
	add("dbname", cfg.Name)
	if cfg.Password != "" {
		add("password", cfg.Password)
	}

	extra := map[string]string{"sslmode": "disable"}
	for key, value := range cfg.Options {
		extra[key] = value
	}

	// Sorted so the DSN is stable across restarts.
	keys := make([]string, 0, len(extra))
	for key := range extra {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		add(key, extra[key])
	}

	return strings.Join(params, " "), nil
}
