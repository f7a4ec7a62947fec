package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the dialer processes.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
//
// Postgres, Redis and MQTT are optional: without DB_HOST outcomes are kept in
// memory, without REDIS_HOST there is no device lease or Redis notification
// channel, without MQTT_BROKER nothing is published to MQTT.
type Config struct {
	App        AppConfig
	DB         DBConfig
	Redis      RedisConfig
	Auth       AuthConfig
	AMI        AMIConfig
	Credential CredentialConfig
	MQTT       MQTTConfig
	Notify     NotifyConfig
	Dialer     DialerConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// AMIConfig points at the Asterisk Manager Interface used as the telephony
// gateway.
type AMIConfig struct {
	Host     string
	Port     int
	Username string
	// Secret is the static AMI password. When CREDENTIAL_URL is set a fresh
	// secret is fetched per registration instead.
	Secret          string
	ChannelTemplate string
	Context         string
	Exten           string
	CallerID        string
}

type CredentialConfig struct {
	URL     string
	Timeout time.Duration
}

type MQTTConfig struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
}

type NotifyConfig struct {
	RedisChannel string
}

type DialerConfig struct {
	RegistrationTimeout time.Duration
	SettleDelay         time.Duration
	DialRetryBackoff    time.Duration
	DefaultDisposition  string
	CountryCode         string
	DeviceLeaseTTL      time.Duration
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	c.App.Port, parseErrs = collect(parseErrs)(mustInt("APP_PORT"))

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	c.DB.Port, parseErrs = collect(parseErrs)(optionalInt("DB_PORT", 5432))
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	c.Redis.Port, parseErrs = collect(parseErrs)(optionalInt("REDIS_PORT", 6379))
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")
	c.Redis.DB, parseErrs = collect(parseErrs)(optionalInt("REDIS_DB", 0))

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate().
	c.Auth.AccessTokenTTL, parseErrs = collectDuration(parseErrs)(optionalDuration("JWT_ACCESS_TTL"))
	c.Auth.RefreshTokenTTL, parseErrs = collectDuration(parseErrs)(optionalDuration("JWT_REFRESH_TTL"))

	c.AMI.Host = strings.TrimSpace(os.Getenv("AMI_HOST"))
	c.AMI.Port, parseErrs = collect(parseErrs)(optionalInt("AMI_PORT", 5038))
	c.AMI.Username = strings.TrimSpace(os.Getenv("AMI_USERNAME"))
	c.AMI.Secret = os.Getenv("AMI_SECRET")
	c.AMI.ChannelTemplate = strings.TrimSpace(os.Getenv("AMI_CHANNEL_TEMPLATE"))
	c.AMI.Context = strings.TrimSpace(os.Getenv("AMI_CONTEXT"))
	c.AMI.Exten = strings.TrimSpace(os.Getenv("AMI_EXTEN"))
	c.AMI.CallerID = strings.TrimSpace(os.Getenv("AMI_CALLER_ID"))

	c.Credential.URL = strings.TrimSpace(os.Getenv("CREDENTIAL_URL"))
	c.Credential.Timeout, parseErrs = collectDuration(parseErrs)(optionalDuration("CREDENTIAL_TIMEOUT"))

	c.MQTT.Broker = strings.TrimSpace(os.Getenv("MQTT_BROKER"))
	c.MQTT.ClientID = strings.TrimSpace(os.Getenv("MQTT_CLIENT_ID"))
	c.MQTT.Username = strings.TrimSpace(os.Getenv("MQTT_USERNAME"))
	c.MQTT.Password = os.Getenv("MQTT_PASSWORD")
	c.MQTT.TopicPrefix = strings.TrimSpace(os.Getenv("MQTT_TOPIC_PREFIX"))

	c.Notify.RedisChannel = strings.TrimSpace(os.Getenv("NOTIFY_REDIS_CHANNEL"))

	c.Dialer.RegistrationTimeout, parseErrs = collectDuration(parseErrs)(optionalDuration("DIALER_REGISTRATION_TIMEOUT"))
	c.Dialer.SettleDelay, parseErrs = collectDuration(parseErrs)(optionalDuration("DIALER_SETTLE_DELAY"))
	c.Dialer.DialRetryBackoff, parseErrs = collectDuration(parseErrs)(optionalDuration("DIALER_DIAL_RETRY_BACKOFF"))
	c.Dialer.DefaultDisposition = strings.TrimSpace(os.Getenv("DIALER_DEFAULT_DISPOSITION"))
	c.Dialer.CountryCode = strings.TrimPrefix(strings.TrimSpace(os.Getenv("DIALER_COUNTRY_CODE")), "+")
	c.Dialer.DeviceLeaseTTL, parseErrs = collectDuration(parseErrs)(optionalDuration("DIALER_DEVICE_LEASE_TTL"))

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks the configuration and fills defaults in place.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.PostgresEnabled() {
		if c.DB.Port <= 0 || c.DB.Port > 65535 {
			errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
		}
		if c.DB.User == "" {
			errs = append(errs, errors.New("DB_USER is required"))
		}
		if c.DB.Name == "" {
			errs = append(errs, errors.New("DB_NAME is required"))
		}
		if c.DB.SSLMode == "" {
			if c.IsProduction() {
				errs = append(errs, errors.New("DB_SSLMODE is required in production"))
			} else {
				// Local-friendly default; production must be explicit.
				c.DB.SSLMode = "disable"
			}
		}
		if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
			errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
		}
	}

	if c.RedisEnabled() && (c.Redis.Port <= 0 || c.Redis.Port > 65535) {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.AMI.Host == "" {
		errs = append(errs, errors.New("AMI_HOST is required"))
	}
	if c.AMI.Port <= 0 || c.AMI.Port > 65535 {
		errs = append(errs, fmt.Errorf("AMI_PORT must be a valid port, got %d", c.AMI.Port))
	}
	if c.AMI.Username == "" {
		errs = append(errs, errors.New("AMI_USERNAME is required"))
	}
	if c.AMI.Secret == "" && c.Credential.URL == "" {
		errs = append(errs, errors.New("one of AMI_SECRET or CREDENTIAL_URL is required"))
	}
	if c.AMI.ChannelTemplate == "" {
		c.AMI.ChannelTemplate = "PJSIP/%s"
	} else if !strings.Contains(c.AMI.ChannelTemplate, "%s") {
		errs = append(errs, fmt.Errorf("AMI_CHANNEL_TEMPLATE must contain %%s, got %q", c.AMI.ChannelTemplate))
	}
	if c.AMI.Context == "" {
		errs = append(errs, errors.New("AMI_CONTEXT is required"))
	}
	if c.AMI.Exten == "" {
		errs = append(errs, errors.New("AMI_EXTEN is required"))
	}
	if c.Credential.Timeout <= 0 {
		c.Credential.Timeout = 5 * time.Second
	}

	if c.MQTT.Broker != "" {
		if c.MQTT.ClientID == "" {
			c.MQTT.ClientID = "telecom-dialer"
		}
		if c.MQTT.TopicPrefix == "" {
			c.MQTT.TopicPrefix = "dialer"
		}
	}
	if c.Notify.RedisChannel == "" {
		c.Notify.RedisChannel = "dialer.notifications"
	}

	if c.Dialer.RegistrationTimeout <= 0 {
		c.Dialer.RegistrationTimeout = 10 * time.Second
	}
	if c.Dialer.SettleDelay <= 0 {
		c.Dialer.SettleDelay = 1500 * time.Millisecond
	}
	if c.Dialer.DialRetryBackoff <= 0 {
		c.Dialer.DialRetryBackoff = 2 * time.Second
	}
	if c.Dialer.DeviceLeaseTTL <= 0 {
		c.Dialer.DeviceLeaseTTL = 12 * time.Hour
	}
	if c.Dialer.DefaultDisposition == "" {
		c.Dialer.DefaultDisposition = "connected"
	} else if !isValidDefaultDisposition(c.Dialer.DefaultDisposition) {
		errs = append(errs, fmt.Errorf("DIALER_DEFAULT_DISPOSITION must be one of connected, voicemail, got %q", c.Dialer.DefaultDisposition))
	}
	if c.Dialer.CountryCode != "" {
		if _, err := strconv.Atoi(c.Dialer.CountryCode); err != nil || len(c.Dialer.CountryCode) > 3 {
			errs = append(errs, fmt.Errorf("DIALER_COUNTRY_CODE must be 1-3 digits, got %q", c.Dialer.CountryCode))
		}
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) PostgresEnabled() bool { return c.DB.Host != "" }
func (c Config) RedisEnabled() bool    { return c.Redis.Host != "" }

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func (c Config) AMIAddr() string {
	return fmt.Sprintf("%s:%d", c.AMI.Host, c.AMI.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalInt(key string, def int) (int, error) {
	if strings.TrimSpace(os.Getenv(key)) == "" {
		return def, nil
	}
	return mustInt(key)
}

func optionalDuration(key string) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration like 1500ms or 10s, got %q", key, v)
	}
	return d, nil
}

func collect(errs []error) func(int, error) (int, []error) {
	return func(n int, err error) (int, []error) {
		if err != nil {
			errs = append(errs, err)
		}
		return n, errs
	}
}

func collectDuration(errs []error) func(time.Duration, error) (time.Duration, []error) {
	return func(d time.Duration, err error) (time.Duration, []error) {
		if err != nil {
			errs = append(errs, err)
		}
		return d, errs
	}
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

// Only answered-call dispositions make sense as a default.
func isValidDefaultDisposition(v string) bool {
	switch v {
	case "connected", "voicemail":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
