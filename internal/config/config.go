package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Auth     AuthConfig     `yaml:"auth"`
	Gate     GateConfig     `yaml:"gate"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Geofence GeofenceConfig `yaml:"geofence"`
	Notify   NotifyConfig   `yaml:"notify"`
	FaceAuth FaceAuthConfig `yaml:"face_auth"`
}

type ServerConfig struct {
	Port           string   `yaml:"port"`
	Env            string   `yaml:"env"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type AuthConfig struct {
	JWTSecret          string `yaml:"jwt_secret"`
	TokenExpiryMinutes int    `yaml:"token_expiry_minutes"`
}

type GateConfig struct {
	// SigningSecret is the symmetric key shared by the token issuer and
	// the scan verifier. Both live in this process.
	SigningSecret string `yaml:"signing_secret"`
	QRTTLMinutes  int    `yaml:"qr_ttl_minutes"`
	// CivilUTCOffsetMinutes sets the zone used for "today" bucketing in
	// analytics and daily-pass idempotency. Default 330 (UTC+5:30).
	CivilUTCOffsetMinutes int `yaml:"civil_utc_offset_minutes"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type GeofenceConfig struct {
	PolicyFile   string `yaml:"policy_file"`
	BufferMeters int    `yaml:"buffer_meters"`
}

type NotifyConfig struct {
	PushURL string `yaml:"push_url"`
	SMSURL  string `yaml:"sms_url"`
}

type FaceAuthConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

// Defaults returns a runnable development configuration. Every field can
// be overridden by the YAML file and then by environment variables.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8080",
			Env:  "development",
		},
		Auth: AuthConfig{
			JWTSecret:          "change_me_jwt_secret_key_here",
			TokenExpiryMinutes: 12 * 60,
		},
		Gate: GateConfig{
			SigningSecret:         "change_me_32+_random_secret_key_here",
			QRTTLMinutes:          15,
			CivilUTCOffsetMinutes: 330,
		},
		Geofence: GeofenceConfig{
			PolicyFile:   "location_settings.json",
			BufferMeters: 50,
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		f, err := os.Open(path)
		if err == nil {
			defer f.Close()
			decoder := yaml.NewDecoder(f)
			if err := decoder.Decode(cfg); err != nil {
				return nil, err
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("GATEPASS_ENV"); v != "" {
		cfg.Server.Env = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("SECRET_KEY"); v != "" {
		cfg.Gate.SigningSecret = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("QR_TTL_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Gate.QRTTLMinutes = n
		}
	}
}

// TokenTTL returns the configured pass token time-to-live.
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.Gate.QRTTLMinutes) * time.Minute
}

// CivilZone returns the fixed-offset zone used for civil-date bucketing.
func (c *Config) CivilZone() *time.Location {
	return time.FixedZone("civil", c.Gate.CivilUTCOffsetMinutes*60)
}
