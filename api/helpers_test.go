package api

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	awsS3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"carbid/adapters/s3"
	"carbid/internal/testdb"
	"carbid/models"
	"carbid/otp"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// captureNotifier 記錄寄出的驗證碼
type captureNotifier struct {
	mu    sync.Mutex
	codes map[string]string
}

func (n *captureNotifier) SendOtp(ctx context.Context, id otp.Identity, record models.OtpStorage) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.codes == nil {
		n.codes = make(map[string]string)
	}
	n.codes[id.Email+id.Phone] = record.OtpCode
	return nil
}

func (n *captureNotifier) code(identity string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.codes[identity]
}

// memoryPutter 取代 S3，保存上傳的物件
type memoryPutter struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (p *memoryPutter) PutObject(ctx context.Context, params *awsS3.PutObjectInput, optFns ...func(*awsS3.Options)) (*awsS3.PutObjectOutput, error) {
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.objects == nil {
		p.objects = make(map[string][]byte)
	}
	p.objects[*params.Key] = body
	return &awsS3.PutObjectOutput{}, nil
}

func (p *memoryPutter) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.objects)
}

const testMaxImageSize = 4 << 10

type testEnv struct {
	t        *testing.T
	server   *Server
	router   *gin.Engine
	db       *gorm.DB
	mr       *miniredis.Miniredis
	clock    *testClock
	notifier *captureNotifier
	objects  *memoryPutter
}

func testConfig() ServerConfig {
	_, key, err := ed25519.GenerateKey(nil)
	if err != nil {
		panic(err)
	}
	return ServerConfig{
		ID: "test-node",
		Auth: AuthConfig{
			PrivateKey:     key,
			Issuer:         "carbid-test",
			Audience:       "carbid-test",
			ExpireDuration: time.Hour,
		},
		Redis: RedisConfig{
			KeyPrefix:     "test:",
			StreamKeys:    RedisStreamKeys{BidStream: "test:bids"},
			ConsumerGroup: "history",
			StreamMaxLen:  1000,
			LockExpiry:    2 * time.Second,
		},
		OTP: OTPConfig{
			TTL:            5 * time.Minute,
			ThrottleLimit:  5,
			ThrottleWindow: time.Minute,
		},
		Session: SessionConfig{CookieName: "sid", CookieMaxAge: 10 * time.Minute},
	}
}

func newTestEnv(t *testing.T, configure ...func(*ServerConfig)) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	config := testConfig()
	for _, fn := range configure {
		fn(&config)
	}
	db := testdb.Open(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	env := &testEnv{
		t:        t,
		db:       db,
		mr:       mr,
		clock:    &testClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)},
		notifier: &captureNotifier{},
		objects:  &memoryPutter{},
	}
	images, err := s3.NewS3Operator(env.objects, "photos", "https://cdn.example.com/media", s3.WithMaxImageSize(testMaxImageSize))
	require.NoError(t, err)
	server, err := New(config, Deps{
		DB:       db,
		Redis:    client,
		Images:   images,
		Notifier: env.notifier,
		Clock:    env.clock,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	env.server = server
	env.router = server.Router()
	return env
}

// start 啟動背景工作並在測試結束時關閉
func (e *testEnv) start() {
	e.t.Helper()
	require.NoError(e.t, e.server.Start())
	e.t.Cleanup(func() { require.NoError(e.t, e.server.Close()) })
}

func (e *testEnv) account(role models.Role, approved bool) (models.Account, string) {
	e.t.Helper()
	account := testdb.Account(e.t, e.db, role, approved)
	token, _, err := e.server.IssueToken(account, e.clock.Now())
	require.NoError(e.t, err)
	return account, token
}

// token 以測試時鐘的目前時間重新簽發 access token，推進時鐘後使用
func (e *testEnv) token(account models.Account) string {
	e.t.Helper()
	token, _, err := e.server.IssueToken(account, e.clock.Now())
	require.NoError(e.t, err)
	return token
}

type request struct {
	method  string
	path    string
	body    any
	token   string
	cookies []*http.Cookie
}

func (e *testEnv) do(r request) *httptest.ResponseRecorder {
	e.t.Helper()
	var body io.Reader
	if r.body != nil {
		raw, err := json.Marshal(r.body)
		require.NoError(e.t, err)
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(r.method, r.path, body)
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	for _, cookie := range r.cookies {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func cookieNamed(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == name {
			return cookie
		}
	}
	return nil
}

// openLot 建立一個已核准、競標中的批次 (透過 HTTP)
func (e *testEnv) openLot(adminToken string) LotView {
	e.t.Helper()
	now := e.clock.Now()
	rec := e.do(request{method: http.MethodPost, path: "/lots", token: adminToken, body: gin.H{
		"lotNumber": "LOT-" + uuid.NewString()[:8],
		"cars": []gin.H{{
			"chassisNo":        "JTMHV05J604123456",
			"makeModel":        "Toyota Land Cruiser",
			"year":             2019,
			"km":               84000,
			"biddingStartDate": now.Add(-time.Hour),
			"biddingEndDate":   now.Add(time.Hour),
		}},
	}})
	require.Equal(e.t, http.StatusCreated, rec.Code, rec.Body.String())
	lot := decode[LotView](e.t, rec)

	rec = e.do(request{method: http.MethodPost, path: "/lots/" + lot.ID.String() + "/approve", token: adminToken})
	require.Equal(e.t, http.StatusOK, rec.Code, rec.Body.String())

	rec = e.do(request{method: http.MethodGet, path: "/lots/" + lot.ID.String(), token: adminToken})
	require.Equal(e.t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[LotView](e.t, rec)
}
