package database

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/snowflakedb/gosnowflake"

	"github.com/ajitpratap0/porter/pkg/errors"
)

// dialect captures the differences between the supported drivers.
type dialect struct {
	name string
	// driverName is the database/sql driver
	driverName string
	// reusesPlaceholders is true for numbered placeholders ($1)
	reusesPlaceholders bool
	quoteChar          string
	defaultPort        int
}

var dialects = map[string]dialect{
	"postgres":  {name: "postgres", driverName: "pgx", reusesPlaceholders: true, quoteChar: `"`, defaultPort: 5432},
	"mysql":     {name: "mysql", driverName: "mysql", quoteChar: "`", defaultPort: 3306},
	"snowflake": {name: "snowflake", driverName: "snowflake"},
}

func dialectFor(driver string) (dialect, error) {
	d, ok := dialects[strings.ToLower(driver)]
	if !ok {
		return dialect{}, errors.New(errors.ErrorTypeConfig, fmt.Sprintf("unsupported database driver %q", driver))
	}
	return d, nil
}

func (d dialect) placeholder(n int) string {
	if d.reusesPlaceholders {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// quote quotes each part of a possibly schema qualified identifier.
// Snowflake identifiers stay unquoted so they keep case-insensitive lookup.
func (d dialect) quote(ident string) string {
	if d.quoteChar == "" {
		return ident
	}
	parts := strings.Split(ident, ".")
	for i, p := range parts {
		parts[i] = d.quoteChar + strings.ReplaceAll(p, d.quoteChar, d.quoteChar+d.quoteChar) + d.quoteChar
	}
	return strings.Join(parts, ".")
}

func (d dialect) quoteAll(idents []string) []string {
	out := make([]string, len(idents))
	for i, id := range idents {
		out[i] = d.quote(id)
	}
	return out
}

// dsn builds the driver connection string from args. An explicit dsn wins.
func (d dialect) dsn(a *Args) (string, error) {
	if a.DSN != "" {
		return a.DSN, nil
	}
	port := a.Port
	if port == 0 {
		port = d.defaultPort
	}

	switch d.name {
	case "postgres":
		u := url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(a.Username, a.Password),
			Host:   net.JoinHostPort(a.Hostname, strconv.Itoa(port)),
			Path:   "/" + a.Database,
		}
		q := url.Values{}
		for k, v := range a.Options {
			q.Set(k, v)
		}
		if a.Schema != "" {
			q.Set("search_path", a.Schema)
		}
		u.RawQuery = q.Encode()
		return u.String(), nil

	case "mysql":
		cfg := mysql.NewConfig()
		cfg.User = a.Username
		cfg.Passwd = a.Password
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(a.Hostname, strconv.Itoa(port))
		cfg.DBName = a.Database
		cfg.ParseTime = true
		if len(a.Options) > 0 {
			cfg.Params = a.Options
		}
		return cfg.FormatDSN(), nil

	case "snowflake":
		cfg := &gosnowflake.Config{
			Account:   a.Account,
			User:      a.Username,
			Password:  a.Password,
			Database:  a.Database,
			Schema:    a.Schema,
			Warehouse: a.Warehouse,
			Role:      a.Role,
			Params:    map[string]*string{},
		}
		for k, v := range a.Options {
			v := v
			cfg.Params[k] = &v
		}
		return gosnowflake.DSN(cfg)
	}
	return "", errors.New(errors.ErrorTypeConfig, fmt.Sprintf("unsupported database driver %q", d.name))
}
