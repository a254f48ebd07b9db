// SPDX-License-Identifier: Apache-2.0

// Package connstr builds the Postgres connection string the CLI hands
// to lib/pq, resolving it either from an explicit URL or from
// individual host/port/user/password/dbname parts, and appending the
// search_path option needed to point every connection at the
// application schema (spec §6 Connection surface).
package connstr

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
)

const (
	defaultHost = "localhost"
	defaultPort = 5432
	defaultUser = "postgres"
	defaultPass = "postgres"
	defaultName = "postgres"
	defaultSSL  = "prefer"
)

// Params are the individual connection parameters, with the precedence
// env var listed in parens, applied where the corresponding flag was
// left at its zero value (spec §6).
type Params struct {
	URL      string // DB_URL
	Host     string // DB_HOST
	Port     int    // DB_PORT
	Name     string // DB_NAME
	Username string // DB_USERNAME
	Password string // DB_PASSWORD
	SSLMode  string // DB_SSLMODE
}

// FromEnv fills in any zero-valued field of p from its documented
// environment variable, then applies the package defaults (spec §6:
// connections default to localhost:5432, database, user & password
// "postgres",
// sslmode "prefer").
func FromEnv(p Params) Params {
	if p.URL == "" {
		p.URL = os.Getenv("DB_URL")
	}
	if p.Host == "" {
		p.Host = envOr("DB_HOST", defaultHost)
	}
	if p.Port == 0 {
		p.Port = envPortOr("DB_PORT", defaultPort)
	}
	if p.Name == "" {
		p.Name = envOr("DB_NAME", defaultName)
	}
	if p.Username == "" {
		p.Username = envOr("DB_USERNAME", defaultUser)
	}
	if p.Password == "" {
		p.Password = envOr("DB_PASSWORD", defaultPass)
	}
	if p.SSLMode == "" {
		p.SSLMode = envOr("DB_SSLMODE", defaultSSL)
	}
	return p
}

// Build assembles a libpq URL connection string from p. If p.URL is
// set, it is used verbatim (allowing a single DB_URL to override
// every other field).
func Build(p Params) string {
	if p.URL != "" {
		return p.URL
	}

	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", p.Host, p.Port),
		Path:   "/" + p.Name,
	}
	if p.Username != "" {
		u.User = url.UserPassword(p.Username, p.Password)
	}
	q := u.Query()
	q.Set("sslmode", p.SSLMode)
	u.RawQuery = q.Encode()

	return u.String()
}

// AppendSearchPathOption takes a Postgres connection string in URL
// format and produces the same connection string with the search_path
// option set to schema, so that every statement the engine issues
// resolves unqualified names against the application schema.
func AppendSearchPathOption(connStr, schema string) (string, error) {
	if schema == "" {
		return connStr, nil
	}

	u, err := url.Parse(connStr)
	if err != nil {
		return "", fmt.Errorf("connstr: parsing connection string: %w", err)
	}

	q := u.Query()
	q.Set("options", fmt.Sprintf("-c search_path=%s", schema))
	encodedQuery := q.Encode()

	// url.Values.Encode() renders spaces as '+'; Postgres' libpq option
	// parser needs '%20' instead, since a literal '+' inside the
	// `options` value would otherwise end up inside the search_path.
	encodedQuery = strings.ReplaceAll(encodedQuery, "+", "%20")
	u.RawQuery = encodedQuery

	return u.String(), nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envPortOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	port, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return port
}
