// Package minio はS3互換オブジェクトストレージ（アバター画像の保存先）のクライアントを提供する。
package minio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrObjectExists はupsertなしのアップロード先に既にオブジェクトが存在する場合のエラー。
var ErrObjectExists = errors.New("object already exists")

// minioAPI は実際のMinIOサーバーなしでテストするためのアダプターインターフェース。
type minioAPI interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
}

// Config はストレージ接続設定。
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string
	Bucket    string
	// PublicURL は公開オブジェクトのベースURL。{PublicURL}/{bucket}/{path} が公開URLになる。
	PublicURL string
}

// Client はバケット単位のストレージクライアント。
type Client struct {
	api        minioAPI
	bucket     string
	publicBase string
}

// New は設定からminio-goクライアントを生成してClientを返す。
func New(cfg Config) (*Client, error) {
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return NewClientWithAPI(mc, cfg.Bucket, cfg.PublicURL), nil
}

// NewClientWithAPI はモック可能なAPIを注入してClientを生成する（テスト用）。
func NewClientWithAPI(api minioAPI, bucket, publicBase string) *Client {
	return &Client{
		api:        api,
		bucket:     bucket,
		publicBase: strings.TrimRight(publicBase, "/"),
	}
}

// Bucket はバケット名を返す。
func (c *Client) Bucket() string {
	return c.bucket
}

// CheckBucket はバケットの存在を確認する。
// アバター用バケットは管理者が作成する前提のため、存在しなくても作成はしない。
func (c *Client) CheckBucket(ctx context.Context) error {
	exists, err := c.api.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		return c.bucketNotFound()
	}
	return nil
}

// Upload はオブジェクトをアップロードする。
// upsertがfalseで同じパスにオブジェクトが存在する場合はErrObjectExistsを返す。
func (c *Client) Upload(ctx context.Context, path string, r io.Reader, size int64, contentType string, upsert bool) error {
	if !upsert {
		_, err := c.api.StatObject(ctx, c.bucket, path, minio.StatObjectOptions{})
		if err == nil {
			return fmt.Errorf("failed to upload object %s: %w", path, ErrObjectExists)
		}
		if code := minio.ToErrorResponse(err).Code; code != "NoSuchKey" {
			return c.wrap("failed to stat object", err)
		}
	}

	_, err := c.api.PutObject(ctx, c.bucket, path, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return c.wrap("failed to upload object", err)
	}
	return nil
}

// Remove は複数のオブジェクトを削除する。存在しないオブジェクトはエラーにしない。
func (c *Client) Remove(ctx context.Context, paths ...string) error {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := c.api.RemoveObject(ctx, c.bucket, p, minio.RemoveObjectOptions{}); err != nil {
			return c.wrap("failed to delete object", err)
		}
	}
	return nil
}

// PublicURL はオブジェクトの公開URLを返す。pathが空の場合は空文字を返す。
func (c *Client) PublicURL(path string) string {
	if path == "" {
		return ""
	}
	segments := strings.Split(path, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return c.publicBase + "/" + url.PathEscape(c.bucket) + "/" + strings.Join(segments, "/")
}

// wrap はバケット未作成のエラーを識別可能なメッセージに変換する。
func (c *Client) wrap(msg string, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchBucket" {
		return fmt.Errorf("%s: %w", msg, c.bucketNotFound())
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func (c *Client) bucketNotFound() error {
	return &BucketNotFoundError{Bucket: c.bucket}
}

// BucketNotFoundError は設定されたバケットが存在しない場合のエラー。
type BucketNotFoundError struct {
	Bucket string
}

func (e *BucketNotFoundError) Error() string {
	return fmt.Sprintf("bucket not found: %s", e.Bucket)
}
