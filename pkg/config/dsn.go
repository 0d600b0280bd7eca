package config

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// applyURL overwrites the discrete connection fields with the parts of
// c.URL. Unknown query parameters are kept as extra libpq options.
func (c *DatabaseConfig) applyURL() error {
	if c.URL == "" {
		return errors.New("database url is empty")
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("database url: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return fmt.Errorf("database url: unsupported scheme %q", u.Scheme)
	}

	port := 5432
	if p := u.Port(); p != "" {
		if port, err = strconv.Atoi(p); err != nil {
			return fmt.Errorf("database url: port %q", p)
		}
	}

	c.Host = u.Hostname()
	c.Port = port
	c.Database = strings.TrimPrefix(u.Path, "/")
	c.User = u.User.Username()
	c.Password, _ = u.User.Password()
	c.SSLMode = "disable"
	c.Options = map[string]string{}
	for key, values := range u.Query() {
		switch {
		case len(values) == 0:
		case key == "sslmode":
			c.SSLMode = values[0]
		default:
			c.Options[key] = values[0]
		}
	}
	return nil
}

// DSN renders the libpq key/value connection string.
func (c *DatabaseConfig) DSN() string {
	pairs := []string{
		"host=" + dsnValue(c.Host),
		"port=" + strconv.Itoa(c.Port),
		"user=" + dsnValue(c.User),
		"password=" + dsnValue(c.Password),
		"dbname=" + dsnValue(c.Database),
		"sslmode=" + dsnValue(c.SSLMode),
	}
	keys := make([]string, 0, len(c.Options))
	for k := range c.Options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		pairs = append(pairs, k+"="+dsnValue(c.Options[k]))
	}
	return strings.Join(pairs, " ")
}

// dsnValue quotes values containing spaces or quotes the way libpq expects.
func dsnValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}
