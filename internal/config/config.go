package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App   AppConfig
	Site  SiteConfig
	Dial  DialConfig
	Voice VoiceConfig
	Redis RedisConfig
	Auth  AuthConfig
}

type AppConfig struct {
	Env  string
	Port int
}

// SiteConfig describes the geofence used for on-site presence.
// The fence is immutable for the lifetime of a tracking session;
// changing it requires restarting the tracker (and so the process).
type SiteConfig struct {
	Name         string
	Lat          float64
	Lng          float64
	RadiusMeters float64

	// HeartbeatInterval is the presence sampling period.
	HeartbeatInterval time.Duration

	// ContactsFile optionally seeds the directory from a JSON file.
	ContactsFile string

	EmergencyNumber string
}

type DialConfig struct {
	// CountryCode is the bare national code used to normalize dialed
	// numbers to international form (e.g. "61").
	CountryCode string
}

type VoiceConfig struct {
	// TokenEndpoint serves the opaque softphone credential, keyed by identity.
	TokenEndpoint string

	// GatewayURL is the websocket voice gateway the transport registers against.
	GatewayURL string

	// Identity is the directory ID this process registers and tracks
	// presence for.
	Identity string

	// CallerID is the outbound caller number presented on dials.
	CallerID string
}

type RedisConfig struct {
	Host string
	Port int

	// PresenceChannel carries remote presence updates (pub/sub).
	PresenceChannel string
}

type AuthConfig struct {
	JWTSecret   string
	JWTIssuer   string
	JWTAudience string
	TokenTTL    time.Duration
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.Site.Name = strings.TrimSpace(os.Getenv("SITE_NAME"))
	{
		f, err := mustFloat("SITE_LAT")
		f, parseErrs = appendParseFloatErr(parseErrs, f, err)
		c.Site.Lat = f
	}
	{
		f, err := mustFloat("SITE_LNG")
		f, parseErrs = appendParseFloatErr(parseErrs, f, err)
		c.Site.Lng = f
	}
	{
		f, err := mustFloat("SITE_RADIUS_METERS")
		f, parseErrs = appendParseFloatErr(parseErrs, f, err)
		c.Site.RadiusMeters = f
	}
	c.Site.HeartbeatInterval = mustDuration("SITE_HEARTBEAT_INTERVAL")
	c.Site.ContactsFile = strings.TrimSpace(os.Getenv("SITE_CONTACTS_FILE"))
	c.Site.EmergencyNumber = strings.TrimSpace(os.Getenv("SITE_EMERGENCY_NUMBER"))

	c.Dial.CountryCode = strings.TrimSpace(os.Getenv("DIAL_COUNTRY_CODE"))

	c.Voice.TokenEndpoint = strings.TrimSpace(os.Getenv("VOICE_TOKEN_ENDPOINT"))
	c.Voice.GatewayURL = strings.TrimSpace(os.Getenv("VOICE_GATEWAY_URL"))
	c.Voice.Identity = strings.TrimSpace(os.Getenv("VOICE_IDENTITY"))
	c.Voice.CallerID = strings.TrimSpace(os.Getenv("VOICE_CALLER_ID"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}
	c.Redis.PresenceChannel = strings.TrimSpace(os.Getenv("REDIS_PRESENCE_CHANNEL"))

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	c.Auth.TokenTTL = mustDuration("JWT_ACCESS_TTL")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

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

	if c.Site.Lat < -90 || c.Site.Lat > 90 {
		errs = append(errs, fmt.Errorf("SITE_LAT must be within [-90, 90], got %v", c.Site.Lat))
	}
	if c.Site.Lng < -180 || c.Site.Lng > 180 {
		errs = append(errs, fmt.Errorf("SITE_LNG must be within [-180, 180], got %v", c.Site.Lng))
	}
	if c.Site.RadiusMeters <= 0 {
		errs = append(errs, fmt.Errorf("SITE_RADIUS_METERS must be > 0, got %v", c.Site.RadiusMeters))
	}
	if c.Site.HeartbeatInterval <= 0 {
		// Matches the original heartbeat default of one minute.
		c.Site.HeartbeatInterval = time.Minute
	}

	if c.Dial.CountryCode == "" {
		errs = append(errs, errors.New("DIAL_COUNTRY_CODE is required"))
	} else if !isDigits(c.Dial.CountryCode) {
		errs = append(errs, fmt.Errorf("DIAL_COUNTRY_CODE must be bare digits, got %q", c.Dial.CountryCode))
	}

	if c.Voice.TokenEndpoint == "" {
		errs = append(errs, errors.New("VOICE_TOKEN_ENDPOINT is required"))
	} else if !isAbsoluteHTTPURL(c.Voice.TokenEndpoint) {
		errs = append(errs, fmt.Errorf("VOICE_TOKEN_ENDPOINT must be an absolute http(s) URL, got %q", c.Voice.TokenEndpoint))
	}
	if c.Voice.GatewayURL != "" && !isAbsoluteWSURL(c.Voice.GatewayURL) {
		errs = append(errs, fmt.Errorf("VOICE_GATEWAY_URL must be an absolute ws(s) URL, got %q", c.Voice.GatewayURL))
	}
	if c.Voice.Identity == "" {
		errs = append(errs, errors.New("VOICE_IDENTITY is required"))
	}

	// Redis is optional: without it the remote presence feed is disabled
	// and remote contact statuses stay as seeded.
	if c.Redis.Host != "" {
		if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
			errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
		}
		if c.Redis.PresenceChannel == "" {
			c.Redis.PresenceChannel = "siteos.presence"
		}
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
	if c.Auth.TokenTTL <= 0 {
		c.Auth.TokenTTL = 15 * time.Minute
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) RedisAddr() string {
	if c.Redis.Host == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
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

func mustFloat(key string) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number, got %q", key, v)
	}
	return f, nil
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func appendParseFloatErr(errs []error, f float64, err error) (float64, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return f, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isDigits(v string) bool {
	for _, r := range v {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(v) > 0
}

func isAbsoluteHTTPURL(v string) bool {
	u, err := url.Parse(v)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func isAbsoluteWSURL(v string) bool {
	u, err := url.Parse(v)
	return err == nil && (u.Scheme == "ws" || u.Scheme == "wss") && u.Host != ""
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
