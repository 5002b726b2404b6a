package config

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	DatabaseFolder = "folder"
	DatabaseSQLite = "sqlite"
)

// Config is built once at startup and handed to the components that need
// it. Nothing reads the environment after Load.
type Config struct {
	JIRAURL      string
	JIRAUsername string
	JIRAPassword string
	// JIRAIssue is the default issue for one-off submissions.
	JIRAIssue string
	Database  string
	// TogglSheet is the default CSV export read by the import command.
	TogglSheet string
}

// JIRAConfigured reports whether enough settings are present to talk to
// JIRA.
func (c *Config) JIRAConfigured() bool {
	return c.JIRAURL != "" && c.JIRAUsername != "" && c.JIRAPassword != ""
}

// envNames lists the environment variables per setting in order of
// precedence. The VITE_ and TEST_ names are kept for existing .env files.
var envNames = map[string][]string{
	"jira_url":      {"JIRA_URL", "VITE_JIRA_URL_PREFIX"},
	"jira_username": {"JIRA_USERNAME"},
	"jira_password": {"JIRA_PASSWORD"},
	"jira_issue":    {"JIRA_ISSUE", "TEST_JIRA_ID"},
	"database":      {"TIMESHEET_DATABASE"},
	"toggl_sheet":   {"TOGGL_SHEET_PATH"},
}

// passwordLookup is replaced in tests.
var passwordLookup = loadJIRAPassword

// Load reads the YAML file at path (a missing file is fine), then applies
// the given dotenv files and finally the process environment. If JIRA is
// configured without a password, it is fetched from the system keyring or
// prompted for.
func Load(path string, envFiles ...string) (*Config, error) {
	v := viper.New()
	v.SetDefault("database", DatabaseFolder)
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(errors.Cause(err)) {
				return nil, errors.Wrapf(err, "failed to read %s", path)
			}
		}
	}
	for key, names := range envNames {
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return nil, err
		}
	}
	for _, f := range envFiles {
		if err := applyEnvFile(v, f); err != nil {
			return nil, err
		}
	}

	c := Config{
		JIRAURL:      normalizeURL(v.GetString("jira_url")),
		JIRAUsername: v.GetString("jira_username"),
		JIRAPassword: v.GetString("jira_password"),
		JIRAIssue:    v.GetString("jira_issue"),
		Database:     strings.ToLower(v.GetString("database")),
		TogglSheet:   v.GetString("toggl_sheet"),
	}
	switch c.Database {
	case DatabaseFolder, DatabaseSQLite:
	default:
		return nil, errors.Errorf("unsupported database %q", c.Database)
	}
	if c.JIRAURL != "" && c.JIRAUsername != "" && c.JIRAPassword == "" {
		pwd, err := passwordLookup(c.JIRAURL, c.JIRAUsername)
		if err != nil {
			return nil, err
		}
		c.JIRAPassword = pwd
	}
	return &c, nil
}

// applyEnvFile copies values from a dotenv file into v for every setting
// that isn't set in the process environment.
func applyEnvFile(v *viper.Viper, path string) error {
	ev := viper.New()
	ev.SetConfigFile(path)
	ev.SetConfigType("env")
	if err := ev.ReadInConfig(); err != nil {
		return errors.Wrapf(err, "failed to read env file %s", path)
	}
	for key, names := range envNames {
		if envSet(names) {
			continue
		}
		for _, n := range names {
			if val := ev.GetString(strings.ToLower(n)); val != "" {
				v.Set(key, val)
				break
			}
		}
	}
	return nil
}

func envSet(names []string) bool {
	for _, n := range names {
		if _, ok := os.LookupEnv(n); ok {
			return true
		}
	}
	return false
}

// normalizeURL makes sure the base URL ends with a slash so that API paths
// can be appended verbatim.
func normalizeURL(u string) string {
	u = strings.TrimSpace(u)
	if u == "" || strings.HasSuffix(u, "/") {
		return u
	}
	return u + "/"
}
