// Package config resolves process settings from defaults, the environment
// and command line flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/hashicorp/go-hclog"

	adldap "github.com/isometry/ad-ldap-federation/internal/ldap"
)

// Environment variables read by Load.
const (
	EnvDC            = "LDAP_DC"
	EnvCNUsers       = "LDAP_CN_USERS"
	EnvOURoles       = "LDAP_OU_ROLES"
	EnvLDAPHost      = "LDAP_HOST"
	EnvLDAPPort      = "LDAP_PORT"
	EnvBindDN        = "LDAP_BIND_DN"
	EnvBindPassword  = "LDAP_BIND_PWD"
	EnvDomainSID     = "LDAP_DOMAIN_SID"
	EnvHTTPHost      = "HTTP_HOST"
	EnvHTTPPort      = "HTTP_PORT"
	EnvHTTPBasicAuth = "HTTP_BASIC_AUTH"
	EnvMaxPwdAge     = "MAX_PWD_AGE"
	EnvLogLevel      = "LOG_LEVEL"
	EnvLogJSON       = "LOG_JSON"
)

// Config holds the settings of one server process.
type Config struct {
	// DC is the DNS domain the directory is rooted at, e.g. example.local.
	DC      string `default:"example.local"`
	CNUsers string `default:"Users"`
	OURoles string `default:"RealmRoles"`

	LDAPHost string `default:"0.0.0.0"`
	LDAPPort int    `default:"1389"`

	// BindDN is the administrative account. A bare common name is expanded
	// to an entry below the users container.
	BindDN       string `default:"Administrator"`
	BindPassword string

	// DomainSID is the prefix of synthesized objectSid values. Empty
	// disables objectSid.
	DomainSID string `default:"S-1-5-21-0-0-0"`

	HTTPHost string `default:"127.0.0.1"`
	HTTPPort int    `default:"1080"`
	// HTTPBasicAuth is a comma separated list of user:password pairs
	// guarding the MFA endpoints. Empty disables authentication.
	HTTPBasicAuth string

	MaxPwdAge time.Duration `default:"2160h"`

	LogLevel string `default:"info"`
	LogJSON  bool
}

// Load returns the defaults overridden by the variables lookup finds.
// Values that cannot be parsed are reported together.
func Load(lookup func(string) (string, bool)) (*Config, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	c := &Config{}
	if err := defaults.Set(c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}

	env := &envReader{lookup: lookup}
	env.getStringValue(&c.DC, EnvDC)
	env.getStringValue(&c.CNUsers, EnvCNUsers)
	env.getStringValue(&c.OURoles, EnvOURoles)
	env.getStringValue(&c.LDAPHost, EnvLDAPHost)
	env.getIntValue(&c.LDAPPort, EnvLDAPPort)
	env.getStringValue(&c.BindDN, EnvBindDN)
	env.getStringValue(&c.BindPassword, EnvBindPassword)
	env.getStringValue(&c.DomainSID, EnvDomainSID)
	env.getStringValue(&c.HTTPHost, EnvHTTPHost)
	env.getIntValue(&c.HTTPPort, EnvHTTPPort)
	env.getStringValue(&c.HTTPBasicAuth, EnvHTTPBasicAuth)
	env.getDurationValue(&c.MaxPwdAge, EnvMaxPwdAge)
	env.getStringValue(&c.LogLevel, EnvLogLevel)
	env.getBoolValue(&c.LogJSON, EnvLogJSON)

	if err := errors.Join(env.errs...); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate reports every missing or invalid setting.
func (c *Config) Validate() error {
	var errs []error

	if _, err := c.Suffix(); err != nil {
		errs = append(errs, err)
	}
	if c.BindDN == "" {
		errs = append(errs, errors.New("bind DN is required"))
	} else if strings.Contains(c.BindDN, "=") {
		if err := adldap.ValidateDNSyntax(c.BindDN); err != nil {
			errs = append(errs, fmt.Errorf("bind DN: %w", err))
		}
	}
	if c.BindPassword == "" {
		errs = append(errs, fmt.Errorf("bind password is required (%s)", EnvBindPassword))
	}
	if c.DomainSID != "" {
		if _, err := adldap.NewSIDHandler().CanonicalSID(c.DomainSID); err != nil {
			errs = append(errs, fmt.Errorf("domain SID: %w", err))
		}
	}
	if err := validPort("LDAP port", c.LDAPPort); err != nil {
		errs = append(errs, err)
	}
	if err := validPort("HTTP port", c.HTTPPort); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.BasicAuth(); err != nil {
		errs = append(errs, err)
	}
	if c.MaxPwdAge < 0 {
		errs = append(errs, fmt.Errorf("max password age must not be negative, got %s", c.MaxPwdAge))
	}
	if hclog.LevelFromString(c.LogLevel) == hclog.NoLevel {
		errs = append(errs, fmt.Errorf("unknown log level %q", c.LogLevel))
	}

	return errors.Join(errs...)
}

func validPort(name string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s must be between 1 and 65535, got %d", name, port)
	}
	return nil
}

// Suffix returns the naming suffix of the users and roles trees.
func (c *Config) Suffix() (*adldap.Suffix, error) {
	return adldap.NewSuffix(c.CNUsers, c.OURoles, c.DC)
}

// FullBindDN returns BindDN, expanding a bare common name to an entry
// below the users container of suffix.
func (c *Config) FullBindDN(suffix *adldap.Suffix) string {
	if strings.Contains(c.BindDN, "=") {
		return c.BindDN
	}
	return suffix.UserDN(c.BindDN)
}

// BasicAuth parses HTTPBasicAuth into a map of user to password.
func (c *Config) BasicAuth() (map[string]string, error) {
	if strings.TrimSpace(c.HTTPBasicAuth) == "" {
		return nil, nil
	}

	users := map[string]string{}
	for _, pair := range strings.Split(c.HTTPBasicAuth, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		user, pass, ok := strings.Cut(pair, ":")
		if !ok || user == "" || pass == "" {
			return nil, fmt.Errorf("basic auth entry %q: want user:password", user)
		}
		users[user] = pass
	}
	return users, nil
}

// LDAPAddr is the listen address of the LDAP server.
func (c *Config) LDAPAddr() string {
	return net.JoinHostPort(c.LDAPHost, strconv.Itoa(c.LDAPPort))
}

// HTTPAddr is the listen address of the MFA endpoints.
func (c *Config) HTTPAddr() string {
	return net.JoinHostPort(c.HTTPHost, strconv.Itoa(c.HTTPPort))
}

// Logger builds the root logger.
func (c *Config) Logger(name string) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:       name,
		Level:      hclog.LevelFromString(c.LogLevel),
		JSONFormat: c.LogJSON,
		Output:     os.Stderr,
	})
}

// envReader applies environment overrides, collecting parse failures.
type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *envReader) getStringValue(target *string, envVar string) {
	if value, ok := e.lookup(envVar); ok {
		*target = value
	}
}

func (e *envReader) getIntValue(target *int, envVar string) {
	value, ok := e.lookup(envVar)
	if !ok || value == "" {
		return
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", envVar, err))
		return
	}
	*target = parsed
}

func (e *envReader) getBoolValue(target *bool, envVar string) {
	value, ok := e.lookup(envVar)
	if !ok || value == "" {
		return
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", envVar, err))
		return
	}
	*target = parsed
}

// getDurationValue accepts Go durations ("2160h") and plain numbers of days.
func (e *envReader) getDurationValue(target *time.Duration, envVar string) {
	value, ok := e.lookup(envVar)
	if !ok || value == "" {
		return
	}
	if days, err := strconv.Atoi(value); err == nil {
		*target = time.Duration(days) * 24 * time.Hour
		return
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", envVar, err))
		return
	}
	*target = parsed
}
