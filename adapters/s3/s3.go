package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsCfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// DefaultMaxImageSize 是車輛照片的大小上限
const DefaultMaxImageSize int64 = 5 * 1024 * 1024

var ErrUnsupportedImage = errors.New("unsupported image type")

// ObjectPutter 是 S3Operator 需要的 S3 API 子集合
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type Config struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// NewClient 以靜態金鑰建立 S3 客戶端，Endpoint 為空時使用 AWS 預設位置
func NewClient(ctx context.Context, cfg Config) (*s3.Client, error) {
	const op = "NewClient"
	region := cfg.Region
	if region == "" {
		region = "auto"
	}
	loadOpts := []func(*awsCfg.LoadOptions) error{
		awsCfg.WithRegion(region),
		awsCfg.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")),
	}
	if cfg.Endpoint != "" {
		loadOpts = append(loadOpts, awsCfg.WithBaseEndpoint(cfg.Endpoint))
	}
	awsConfig, err := awsCfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to load AWS config, err=%w", op, err)
	}
	return s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

type S3Operator struct {
	client ObjectPutter
	// bucket 是 S3 存儲桶的名稱。
	bucket string
	// publicEndpoint 是 S3 存儲桶的公開 Endpoint。
	publicEndpoint *url.URL
	maxImageSize   int64
}

type Option func(*S3Operator)

func WithMaxImageSize(size int64) Option {
	return func(s *S3Operator) {
		s.maxImageSize = size
	}
}

func NewS3Operator(client ObjectPutter, bucket, publicBaseURL string, opts ...Option) (*S3Operator, error) {
	const op = "NewS3Operator"
	publicEndpoint, err := url.Parse(publicBaseURL)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to parse public base URL, err=%w", op, err)
	}
	s := &S3Operator{client: client, bucket: bucket, publicEndpoint: publicEndpoint, maxImageSize: DefaultMaxImageSize}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *S3Operator) UploadFileToS3(ctx context.Context, path, contentType string, fileContent []byte) (string, error) {
	const op = "UploadFileToS3"
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(path),
		Body:          bytes.NewReader(fileContent),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(fileContent))),
	})
	if err != nil {
		return "", fmt.Errorf("[%s] Fail to upload file to S3, err=%w", op, err)
	}
	return s.publicEndpoint.JoinPath(path).String(), nil
}

// UploadCarImage 讀取照片內容 (超過上限時回傳 PhotoTooLargeError)，
// 以實際內容判斷 MIME 類型後上傳到 cars/<carID>/ 之下並回傳公開網址
func (s *S3Operator) UploadCarImage(ctx context.Context, carID uuid.UUID, body io.Reader) (string, error) {
	const op = "UploadCarImage"
	content, err := io.ReadAll(LimitPhotoReader(body, s.maxImageSize))
	if err != nil {
		return "", fmt.Errorf("[%s] Fail to read image, err=%w", op, err)
	}
	contentType := http.DetectContentType(content)
	ok, ext := CheckSecureImageAndGetExtension(contentType)
	if !ok {
		return "", fmt.Errorf("[%s] %w: %s", op, ErrUnsupportedImage, contentType)
	}
	name, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("[%s] Fail to generate object name, err=%w", op, err)
	}
	key := fmt.Sprintf("cars/%s/%s.%s", carID, name, ext)
	return s.UploadFileToS3(ctx, key, contentType, content)
}
