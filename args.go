package main

import (
	"crypto/ed25519"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"carbid/api"
	"carbid/otp"
)

func ParseArgs() Args {
	defineFlags(pflag.CommandLine)
	pflag.Parse()
	viper.BindPFlags(pflag.CommandLine)
	viper.AutomaticEnv()
	viper.SetEnvPrefix("CARBID")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// initial arguments
	return argsFrom(viper.GetViper())
}

// defineFlags 註冊所有命令列參數與其預設值
func defineFlags(fs *pflag.FlagSet) {
	// server config
	fs.String("server-url", "0.0.0.0:8080", "")
	fs.String("server-id", "", "node name used as the stream consumer name")
	fs.String("log-level", "info", "debug, info, warn or error")
	fs.Duration("shutdown-timeout", 10*time.Second, "")

	// auth config
	fs.String("auth-private-key-file", "", "PEM encoded PKCS#8 Ed25519 private key")
	fs.String("auth-issuer", "carbid", "")
	fs.String("auth-audience", "carbid", "")
	fs.Duration("auth-expire-duration", 12*time.Hour, "")

	// s3 config
	fs.String("s3-endpoint", "", "")
	fs.String("s3-region", "auto", "")
	fs.String("s3-bucket", "", "")
	fs.String("s3-public-base-url", "", "")
	fs.String("s3-access-key-id", "", "")
	fs.String("s3-secret-access-key", "", "")
	fs.Bool("s3-use-path-style", false, "")
	fs.Int64("s3-max-image-size", 5<<20, "bytes")

	// db config
	fs.String("db-user", "", "")
	fs.String("db-password", "", "")
	fs.String("db-host", "", "")
	fs.Int("db-port", 5432, "")
	fs.String("db-database", "", "")
	fs.String("db-schema", "public", "")

	// redis config
	fs.String("redis-addr", "", "")
	fs.String("redis-password", "", "")
	fs.Int("redis-db", 15, "")
	fs.String("redis-key-prefix", "carbid:", "")
	fs.String("redis-consumer-group", "bid-history", "")
	fs.Int64("redis-stream-max-len", 100000, "")
	fs.Duration("redis-lock-expiry", 8*time.Second, "")

	// redis stream keys
	fs.String("redis-stream-key-for-bids", "carbid-bid-stream", "")

	// otp config
	fs.Duration("otp-ttl", otp.DefaultTTL, "")
	fs.Bool("otp-invalidate-previous", true, "")
	fs.Bool("otp-require-for-registration", true, "")
	fs.Int("otp-throttle-limit", 5, "")
	fs.Duration("otp-throttle-window", 15*time.Minute, "")

	// session config
	fs.String("session-cookie-name", "carbid_session", "")
	fs.Duration("session-cookie-max-age", 30*time.Minute, "")
	fs.Bool("session-cookie-secure", true, "")
	fs.String("session-same-site", "lax", "lax, strict or none")

	// rate limit config
	fs.Float64("rate-limit-per-second", 1, "login and register requests per second per IP")
	fs.Int("rate-limit-burst", 5, "")

	// maintenance config
	fs.Duration("maintenance-interval", time.Minute, "0 disables the worker")

	// bind pflag to viper
}

func argsFrom(v *viper.Viper) Args {
	return Args{
		ServerURL:       v.GetString("server-url"),
		LogLevel:        v.GetString("log-level"),
		ShutdownTimeout: v.GetDuration("shutdown-timeout"),
		PrivateKeyFile:  v.GetString("auth-private-key-file"),
		ServerConfig: api.ServerConfig{
			ID: v.GetString("server-id"),
			Auth: api.AuthConfig{
				Issuer:         v.GetString("auth-issuer"),
				Audience:       v.GetString("auth-audience"),
				ExpireDuration: v.GetDuration("auth-expire-duration"),
			},
			S3: api.S3Config{
				Endpoint:        v.GetString("s3-endpoint"),
				Region:          v.GetString("s3-region"),
				Bucket:          v.GetString("s3-bucket"),
				PublicBaseURL:   v.GetString("s3-public-base-url"),
				AccessKeyID:     v.GetString("s3-access-key-id"),
				SecretAccessKey: v.GetString("s3-secret-access-key"),
				UsePathStyle:    v.GetBool("s3-use-path-style"),
				MaxImageSize:    v.GetInt64("s3-max-image-size"),
			},
			DB: api.DBConfig{
				User:     v.GetString("db-user"),
				Password: v.GetString("db-password"),
				Host:     v.GetString("db-host"),
				Port:     v.GetInt("db-port"),
				Database: v.GetString("db-database"),
				Schema:   v.GetString("db-schema"),
			},
			Redis: api.RedisConfig{
				Addr:     v.GetString("redis-addr"),
				Password: v.GetString("redis-password"),
				DB:       v.GetInt("redis-db"),
				StreamKeys: api.RedisStreamKeys{
					BidStream: v.GetString("redis-stream-key-for-bids"),
				},
				KeyPrefix:     v.GetString("redis-key-prefix"),
				ConsumerGroup: v.GetString("redis-consumer-group"),
				StreamMaxLen:  v.GetInt64("redis-stream-max-len"),
				LockExpiry:    v.GetDuration("redis-lock-expiry"),
			},
			OTP: api.OTPConfig{
				TTL:                    v.GetDuration("otp-ttl"),
				InvalidatePrevious:     v.GetBool("otp-invalidate-previous"),
				RequireForRegistration: v.GetBool("otp-require-for-registration"),
				ThrottleLimit:          v.GetInt("otp-throttle-limit"),
				ThrottleWindow:         v.GetDuration("otp-throttle-window"),
			},
			Session: api.SessionConfig{
				CookieName:   v.GetString("session-cookie-name"),
				CookieMaxAge: v.GetDuration("session-cookie-max-age"),
				CookieSecure: v.GetBool("session-cookie-secure"),
				SameSite:     parseSameSite(v.GetString("session-same-site")),
			},
			RateLimit: api.RateLimitConfig{
				PerSecond: v.GetFloat64("rate-limit-per-second"),
				Burst:     v.GetInt("rate-limit-burst"),
			},
			Maintenance: api.MaintenanceConfig{
				Interval: v.GetDuration("maintenance-interval"),
			},
		},
	}
}

type Args struct {
	ServerURL       string
	LogLevel        string
	ShutdownTimeout time.Duration
	PrivateKeyFile  string
	ServerConfig    api.ServerConfig
}

func (args Args) Validate() error {
	var errs []error
	if args.ServerURL == "" {
		errs = append(errs, errors.New("server-url is required"))
	}
	if args.PrivateKeyFile == "" {
		errs = append(errs, errors.New("auth-private-key-file is required"))
	}
	if args.ServerConfig.DB.Host == "" || args.ServerConfig.DB.Database == "" {
		errs = append(errs, errors.New("db-host and db-database are required"))
	}
	if args.ServerConfig.Redis.Addr == "" {
		errs = append(errs, errors.New("redis-addr is required"))
	}
	if args.ServerConfig.S3.Bucket == "" || args.ServerConfig.S3.PublicBaseURL == "" {
		errs = append(errs, errors.New("s3-bucket and s3-public-base-url are required"))
	}
	return errors.Join(errs...)
}

// LoadPrivateKey 讀取 PEM 格式的 Ed25519 私鑰
func LoadPrivateKey(path string) (ed25519.PrivateKey, error) {
	const op = "LoadPrivateKey"
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to read key file, err=%w", op, err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("[%s] no PEM block in %s", op, path)
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to parse key, err=%w", op, err)
	}
	edKey, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("[%s] key in %s is %T, not Ed25519", op, path, key)
	}
	return edKey, nil
}

func parseSameSite(value string) http.SameSite {
	switch strings.ToLower(value) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

func parseLogLevel(value string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(value)); err != nil {
		return slog.LevelInfo
	}
	return level
}
