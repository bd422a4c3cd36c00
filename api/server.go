package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"carbid/accounts"
	redisAdapter "carbid/adapters/redis"
	internalS3 "carbid/adapters/s3"
	"carbid/adapters/session"
	"carbid/adapters/sse"
	"carbid/bidding"
	"carbid/ledger"
	"carbid/lots"
	"carbid/models"
	"carbid/otp"
	"carbid/questions"
)

// ImageUploader 將車輛照片存到物件儲存並回傳公開網址
type ImageUploader interface {
	UploadCarImage(ctx context.Context, carID uuid.UUID, body io.Reader) (string, error)
}

// Deps 是 Server 需要的外部資源，測試時可以換成 sqlite 與 miniredis
type Deps struct {
	DB       *gorm.DB
	Redis    redis.UniversalClient
	Images   ImageUploader
	Notifier Notifier
	Clock    bidding.Clock
	Logger   *slog.Logger
}

type Server struct {
	config ServerConfig
	clock  bidding.Clock
	logger *slog.Logger

	db          *gorm.DB
	redisClient redis.UniversalClient
	locker      bidding.Locker

	accounts  *accounts.Service
	lots      *lots.Service
	ledger    *ledger.Ledger
	otp       *otp.Store
	questions *questions.Service

	images       ImageUploader
	notifier     Notifier
	htmlChecker  *bluemonday.Policy
	authLimiter  *ipRateLimiter
	sessionStore session.IStore

	producer      redisAdapter.IProducer[BidEvent]
	consumer      redisAdapter.IConsumer[sse.Envelope[CarEvent]]
	groupConsumer redisAdapter.IGroupConsumer[BidEvent]
	sseManager    sse.IConnectionManager[CarEvent]
	heartbeat     time.Duration

	wg         sync.WaitGroup
	cancelFunc context.CancelFunc
	closers    []func() error
}

// NewServer 依設定建立資料庫、Redis 與 S3 連線後組裝 Server
func NewServer(ctx context.Context, config ServerConfig) (*Server, error) {
	const op = "NewServer"

	// 初始化資料庫連線
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable&search_path=%s", config.DB.User, config.DB.Password, config.DB.Host, config.DB.Port, config.DB.Database, config.DB.Schema)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		NamingStrategy: schema.NamingStrategy{
			TablePrefix: config.DB.Schema + ".",
		},
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to connect to database, err=%w", op, err)
	}
	if err := models.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("[%s] Fail to migrate database, err=%w", op, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to get database handle, err=%w", op, err)
	}

	// 初始化Redis連線
	redisClient := redis.NewClient(&redis.Options{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("[%s] Fail to connect to redis, err=%w", op, err)
	}

	// 初始化S3客戶端
	s3Client, err := internalS3.NewClient(ctx, internalS3.Config{
		Endpoint:        config.S3.Endpoint,
		Region:          config.S3.Region,
		AccessKeyID:     config.S3.AccessKeyID,
		SecretAccessKey: config.S3.SecretAccessKey,
		UsePathStyle:    config.S3.UsePathStyle,
	})
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create S3 client, err=%w", op, err)
	}
	s3Operator, err := internalS3.NewS3Operator(s3Client, config.S3.Bucket, config.S3.PublicBaseURL, internalS3.WithMaxImageSize(config.S3.MaxImageSize))
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create S3 operator, err=%w", op, err)
	}

	server, err := New(config, Deps{
		DB:       db,
		Redis:    redisClient,
		Images:   s3Operator,
		Notifier: LogNotifier{Logger: slog.Default().With(slog.String("caller", "Notifier"))},
		Clock:    bidding.RealClock{},
		Logger:   slog.Default(),
	})
	if err != nil {
		return nil, fmt.Errorf("[%s] %w", op, err)
	}
	server.closers = append(server.closers, redisClient.Close, sqlDB.Close)
	return server, nil
}

// New 以既有的資源組裝 Server，不會建立任何連線
func New(config ServerConfig, deps Deps) (*Server, error) {
	const op = "api.New"
	if deps.DB == nil || deps.Redis == nil {
		return nil, fmt.Errorf("[%s] database and redis are required", op)
	}
	if len(config.Auth.PrivateKey) == 0 {
		return nil, fmt.Errorf("[%s] signing key is required", op)
	}
	if err := registerValidators(); err != nil {
		return nil, fmt.Errorf("[%s] Fail to register validators, err=%w", op, err)
	}
	if deps.Clock == nil {
		deps.Clock = bidding.RealClock{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Notifier == nil {
		deps.Notifier = LogNotifier{Logger: deps.Logger}
	}
	if config.ID == "" {
		config.ID = uuid.NewString()
	}

	prefix := config.Redis.KeyPrefix
	locker := redisAdapter.NewMutexLocker(
		deps.Redis,
		prefix+"lock:",
		redisAdapter.WithAutoRenewMutexExpiry(config.Redis.LockExpiry),
	)

	// Redis stream：producer 寫入，consumer 廣播給 SSE，group consumer 寫入出價歷史
	producer, err := redisAdapter.NewProducer[BidEvent](
		deps.Redis,
		config.Redis.StreamKeys.BidStream,
		redisAdapter.WithProducerLogger[BidEvent](deps.Logger),
		redisAdapter.WithProducerMaxLen[BidEvent](config.Redis.StreamMaxLen),
	)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create producer, err=%w", op, err)
	}
	consumer, err := redisAdapter.NewConsumer(
		deps.Redis,
		config.Redis.StreamKeys.BidStream,
		redisAdapter.WithConsumerLogger[sse.Envelope[CarEvent]](deps.Logger),
		redisAdapter.WithConsumerDecodeFunc(decodeCarEnvelope),
	)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create consumer, err=%w", op, err)
	}
	sseManager := sse.NewConnectionManager[CarEvent](
		sse.WithLogger[CarEvent](deps.Logger),
		sse.WithSource[CarEvent](consumer),
	)
	groupConsumer, err := redisAdapter.NewGroupConsumer[BidEvent](
		deps.Redis,
		config.Redis.StreamKeys.BidStream,
		config.Redis.ConsumerGroup,
		config.ID,
		redisAdapter.WithGroupConsumerLogger[BidEvent](deps.Logger),
	)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create group consumer, err=%w", op, err)
	}

	return &Server{
		config:      config,
		clock:       deps.Clock,
		logger:      deps.Logger,
		db:          deps.DB,
		redisClient: deps.Redis,
		locker:      locker,

		accounts: accounts.New(deps.DB),
		lots:     lots.New(deps.DB, lots.WithLocker(locker)),
		ledger:   ledger.New(deps.DB, ledger.WithLocker(locker)),
		otp: otp.NewStore(deps.DB,
			otp.WithTTL(config.OTP.TTL),
			otp.WithInvalidatePrevious(config.OTP.InvalidatePrevious),
		),
		questions: questions.New(deps.DB),

		images:       deps.Images,
		notifier:     deps.Notifier,
		htmlChecker:  bluemonday.UGCPolicy(),
		authLimiter:  newIPRateLimiter(config.RateLimit.PerSecond, config.RateLimit.Burst),
		sessionStore: redisAdapter.NewStore(deps.Redis, redisAdapter.WithStorePrefix(prefix+"session:")),

		producer:      producer,
		consumer:      consumer,
		groupConsumer: groupConsumer,
		sseManager:    sseManager,
		heartbeat:     30 * time.Second,
	}, nil
}

func (s *Server) Start() error {
	const op = "Server.Start"
	// 啟動producer
	s.producer.Start()
	// 啟動consumer
	s.consumer.Start()
	// 啟動sse connection manager
	s.sseManager.Start()
	// 啟動group consumer
	if err := s.groupConsumer.Start(); err != nil {
		return fmt.Errorf("[%s] Fail to start group consumer, err=%w", op, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancelFunc = cancel
	// 將stream中的出價事件寫入出價歷史
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runHistoryWorker(ctx)
	}()
	// 定期更新拍賣狀態並清除過期驗證碼
	if s.config.Maintenance.Interval > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runMaintenance(ctx, s.config.Maintenance.Interval)
		}()
	}
	return nil
}

func (s *Server) Close() error {
	var errs []error
	// 關閉group consumer
	if err := s.groupConsumer.Close(); err != nil && !errors.Is(err, redisAdapter.ErrConsumerClosed) {
		errs = append(errs, err)
	}
	// 關閉worker
	if s.cancelFunc != nil {
		s.cancelFunc()
	}
	s.wg.Wait()
	// 關閉consumer
	s.consumer.Close()
	// 關閉sse connection manager
	s.sseManager.Done()
	// 送出剩餘的事件
	s.producer.Close()
	for _, closer := range s.closers {
		if err := closer(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Router 建立所有 HTTP 路由
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(s.logger))

	router.GET("/healthz", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	authGroup := router.Group("/auth", s.authLimiter.RateLimit())
	authGroup.POST("/register", s.SessionMiddleware(), s.Register)
	authGroup.POST("/login", s.Login)

	otpGroup := router.Group("/otp", s.SessionMiddleware())
	otpGroup.POST("/send", s.SendOtp)
	otpGroup.POST("/verify", s.VerifyOtp)
	router.GET("/terms/active", s.GetActiveTerms)

	authed := router.Group("/", s.Authenticate())
	admin := authed.Group("/", RequireRole(models.RoleAdmin))
	staff := authed.Group("/", RequireRole(models.RoleAdmin, models.RoleBusiness))
	bidder := authed.Group("/", RequireRole(models.RoleBidder))

	// 帳號
	authed.GET("/me", s.GetMe)
	authed.POST("/me/terms", s.AcceptTerms)
	me := authed.Group("/me", s.SessionMiddleware())
	me.POST("/contact", s.RequestContactChange)
	me.POST("/contact/verify", s.VerifyContactChange)
	admin.POST("/accounts", s.CreateStaffAccount)
	admin.POST("/accounts/:accountID/approval", s.SetApproval)
	admin.POST("/terms", s.PublishTerms)

	// 批次與車輛
	authed.GET("/lots", s.ListLots)
	authed.GET("/lots/:lotID", s.GetLot)
	authed.GET("/cars/:carID", s.GetCar)
	authed.GET("/cars/:carID/events", s.GetCarEvents)
	staff.POST("/lots", s.CreateLot)
	staff.POST("/cars/:carID/images", s.UploadCarImage)
	admin.POST("/lots/:lotID/approve", s.ApproveLot)
	admin.POST("/lots/:lotID/close", s.CloseLot)
	admin.POST("/cars/:carID/disable", s.DisableCar)
	admin.POST("/cars/:carID/reopen", s.ReopenCar)
	admin.POST("/maintenance/refresh", s.RefreshStatuses)

	// 出價
	bidder.PUT("/cars/:carID/bid", s.PlaceBid)
	bidder.DELETE("/cars/:carID/bid", s.WithdrawBid)
	bidder.DELETE("/bids/:bidID", s.DeleteBid)
	bidder.GET("/me/bids", s.ListMyBids)
	staff.GET("/cars/:carID/bids", s.ListCarBids)
	staff.POST("/bids/:bidID/winner", s.MarkWinner)

	// 問答
	authed.GET("/questions", s.ListQuestions)
	bidder.POST("/questions", s.AskQuestion)
	admin.POST("/questions/:questionID/answer", s.AnswerQuestion)

	return router
}

// pathUUID 解析路徑參數，格式錯誤時直接回應 400
func pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		abortWithMessage(c, http.StatusBadRequest, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}
