package api

import (
	"crypto/ed25519"
	"net/http"
	"time"
)

type ServerConfig struct {
	// ID 是節點名稱，用於 consumer group 的 consumer 名稱
	ID string

	Auth        AuthConfig
	S3          S3Config
	DB          DBConfig
	Redis       RedisConfig
	OTP         OTPConfig
	Session     SessionConfig
	RateLimit   RateLimitConfig
	Maintenance MaintenanceConfig
}

type AuthConfig struct {
	PrivateKey     ed25519.PrivateKey
	Issuer         string
	Audience       string
	ExpireDuration time.Duration
}

type S3Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
	Region          string
	Bucket          string
	PublicBaseURL   string
	UsePathStyle    bool
	MaxImageSize    int64
}

type DBConfig struct {
	User     string
	Password string
	Host     string
	Port     int
	Database string
	Schema   string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// KeyPrefix 會加在所有 key 前面，讓多個環境共用同一個 Redis
	KeyPrefix     string
	StreamKeys    RedisStreamKeys
	ConsumerGroup string
	StreamMaxLen  int64
	LockExpiry    time.Duration
}

type RedisStreamKeys struct {
	BidStream string
}

type OTPConfig struct {
	TTL                time.Duration
	InvalidatePrevious bool
	// 註冊前必須先以 OTP 驗證 email
	RequireForRegistration bool
	// 同一個 identity 在 ThrottleWindow 內最多可以要求 ThrottleLimit 次
	ThrottleLimit  int
	ThrottleWindow time.Duration
}

type SessionConfig struct {
	CookieName   string
	CookieMaxAge time.Duration
	CookieSecure bool
	SameSite     http.SameSite
}

type RateLimitConfig struct {
	// 每個 IP 每秒可以呼叫登入/註冊的次數
	PerSecond float64
	Burst     int
}

type MaintenanceConfig struct {
	Interval time.Duration
}
