package images

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioConfig 描述对象存储的连接参数。
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// MinioStore 把图片与元数据作为两个对象保存在同一个 bucket 中。
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore 创建对象存储客户端，bucket 不存在时自动创建。
func NewMinioStore(ctx context.Context, cfg MinioConfig) (*MinioStore, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("MinIO endpoint 不能为空")
	}
	bucket := cfg.Bucket
	if bucket == "" {
		bucket = "pixelboard-images"
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 MinIO 客户端失败: %w", err)
	}
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("检查 MinIO bucket 失败: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("创建 MinIO bucket 失败: %w", err)
		}
	}
	return &MinioStore{client: client, bucket: bucket}, nil
}

func dataObject(id string) string { return "images/" + id }
func metaObject(id string) string { return "images/" + id + ".json" }

// Save 实现 Store。先写图片再写元数据，Stat 只在元数据存在时成功。
func (s *MinioStore) Save(ctx context.Context, img Image, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, dataObject(img.ID), bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: img.ContentType})
	if err != nil {
		return fmt.Errorf("上传图片失败: %w", err)
	}
	meta, err := json.Marshal(img)
	if err != nil {
		return fmt.Errorf("序列化图片元数据失败: %w", err)
	}
	_, err = s.client.PutObject(ctx, s.bucket, metaObject(img.ID), bytes.NewReader(meta), int64(len(meta)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("上传图片元数据失败: %w", err)
	}
	return nil
}

// Load 实现 Store。
func (s *MinioStore) Load(ctx context.Context, id string) (Image, []byte, error) {
	img, err := s.Stat(ctx, id)
	if err != nil {
		return Image{}, nil, err
	}
	data, err := s.read(ctx, dataObject(id))
	if err != nil {
		return Image{}, nil, err
	}
	return img, data, nil
}

// Stat 实现 Store。
func (s *MinioStore) Stat(ctx context.Context, id string) (Image, error) {
	raw, err := s.read(ctx, metaObject(id))
	if err != nil {
		return Image{}, err
	}
	var img Image
	if err := json.Unmarshal(raw, &img); err != nil {
		return Image{}, fmt.Errorf("解析图片元数据失败: %w", err)
	}
	return img, nil
}

func (s *MinioStore) read(ctx context.Context, name string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, translateMinioError(err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, translateMinioError(err)
	}
	return data, nil
}

func translateMinioError(err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return ErrNotFound
	}
	return fmt.Errorf("读取 MinIO 对象失败: %w", err)
}

// Close 实现 Store，MinIO 客户端无需显式关闭。
func (s *MinioStore) Close() error { return nil }

var _ Store = (*MinioStore)(nil)
