// Package profile は自分のプロフィールの編集（紹介文・アバター画像）と
// 出品者の公開プロフィールの表示を提供する。
package profile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/hitoshi/umarket/internal/model"
	"github.com/hitoshi/umarket/internal/security"
)

// 画面に表示するメッセージ。
const (
	MsgDescriptionSaved = "Profile updated successfully."
	MsgAvatarUpdated    = "Profile photo updated."
	msgUploadFailed     = "Something went wrong while uploading your photo."
)

// ErrStorageDisabled はアバター用ストレージが設定されていない場合のエラー。
var ErrStorageDisabled = errors.New("avatar storage bucket is not configured")

// UserProvider はサインイン中のユーザー情報の取得と更新。
// identity.Authが実装する。
type UserProvider interface {
	GetUser(ctx context.Context) (*model.UserIdentity, error)
	UpdateUser(ctx context.Context, data map[string]any) (*model.UserIdentity, error)
}

// Storage はアバター画像の保存先。
// storage/minio.Clientが実装する。
type Storage interface {
	Bucket() string
	Upload(ctx context.Context, path string, r io.Reader, size int64, contentType string, upsert bool) error
	Remove(ctx context.Context, paths ...string) error
	PublicURL(path string) string
}

// Profile は自分のプロフィールページの表示内容。
type Profile struct {
	User        *model.UserIdentity
	DisplayName string
	Initials    string
	Description string
	AvatarPath  string
	AvatarURL   string
}

// Upload はアップロードされたアバター画像。
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Service は自分のプロフィールの操作を提供する。
type Service struct {
	users     UserProvider
	storage   Storage
	bucket    string
	sanitizer security.TextSanitizer
	logger    *slog.Logger
	now       func() time.Time
}

// NewService はServiceを生成する。storageがnilの場合、アバターのアップロードは無効になり、
// 案内メッセージにはbucketの名前を使う。
func NewService(users UserProvider, storage Storage, bucket string, sanitizer security.TextSanitizer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if storage != nil {
		bucket = storage.Bucket()
	}
	return &Service{
		users:     users,
		storage:   storage,
		bucket:    bucket,
		sanitizer: sanitizer,
		logger:    logger,
		now:       time.Now,
	}
}

// Load はIdPから最新のユーザー情報を取得してプロフィールを組み立てる。
func (s *Service) Load(ctx context.Context) (*Profile, error) {
	user, err := s.users.GetUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	return s.build(user), nil
}

func (s *Service) build(user *model.UserIdentity) *Profile {
	name := user.DisplayName("Your profile")
	p := &Profile{
		User:        user,
		DisplayName: name,
		Initials:    Initials(name),
		Description: user.ProfileDescription,
		AvatarPath:  user.AvatarPath,
	}
	if user.AvatarPath != "" && s.storage != nil {
		p.AvatarURL = s.storage.PublicURL(user.AvatarPath)
	}
	return p
}

// SaveDescription は紹介文からHTMLを取り除いて保存する。
func (s *Service) SaveDescription(ctx context.Context, description string) (*Profile, error) {
	if s.sanitizer != nil {
		description = s.sanitizer.Sanitize(description)
	}
	user, err := s.users.UpdateUser(ctx, map[string]any{
		"profile_description": description,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save profile description: %w", err)
	}
	return s.build(user), nil
}

// UploadAvatar はアバター画像をアップロードし、ユーザーのavatar_pathを差し替える。
// 以前の画像はパスが異なる場合に削除する。
func (s *Service) UploadAvatar(ctx context.Context, user *model.UserIdentity, up Upload) (*Profile, error) {
	if s.storage == nil {
		return nil, ErrStorageDisabled
	}
	objectPath := AvatarPath(user.ID, up.Filename, s.now())

	if err := s.storage.Upload(ctx, objectPath, up.Body, up.Size, up.ContentType, true); err != nil {
		return nil, err
	}

	if previous := user.AvatarPath; previous != "" && previous != objectPath {
		// 旧画像の削除に失敗してもアバターの更新は続行する
		if err := s.storage.Remove(ctx, previous); err != nil {
			s.logger.Warn("failed to remove previous avatar",
				slog.String("user_id", user.ID),
				slog.String("path", previous),
				slog.String("error", err.Error()),
			)
		}
	}

	updated, err := s.users.UpdateUser(ctx, map[string]any{
		"avatar_path": objectPath,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save avatar path: %w", err)
	}
	s.logger.Info("avatar updated",
		slog.String("user_id", user.ID),
		slog.String("path", objectPath),
	)
	return s.build(updated), nil
}

// NormalizeStorageError はアップロード失敗を画面表示用のメッセージに変換する。
// バケットに関するエラーは設定方法の案内に置き換える。
func (s *Service) NormalizeStorageError(err error) string {
	return NormalizeStorageError(err, s.bucket)
}

// NormalizeStorageError はアップロード失敗を画面表示用のメッセージに変換する。
func NormalizeStorageError(err error, bucket string) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if msg == "" {
		return msgUploadFailed
	}
	if errors.Is(err, ErrStorageDisabled) || strings.Contains(strings.ToLower(msg), "bucket") {
		return `Profile photo storage bucket not found. Create a storage bucket named "` + bucket +
			`" (make it public and allow authenticated users to upload), or set STORAGE_AVATAR_BUCKET to an existing public bucket.`
	}
	return msg
}

// AvatarPath はアバター画像の保存先パス {user}/{user}-{unixミリ秒}.{拡張子} を返す。
// 拡張子は小文字にし、ない場合はjpgとする。
func AvatarPath(userID, filename string, now time.Time) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(filename), "."))
	if ext == "" {
		ext = "jpg"
	}
	return fmt.Sprintf("%s/%s-%d.%s", userID, userID, now.UnixMilli(), ext)
}

// Initials は表示名の頭文字を返す。
// 複数語の場合は最初と最後の語の頭文字、名前がない場合はUを返す。
func Initials(name string) string {
	words := strings.Fields(name)
	if len(words) == 0 {
		return "U"
	}
	out := firstRune(words[0])
	if len(words) > 1 {
		out += firstRune(words[len(words)-1])
	}
	if out == "" {
		return "U"
	}
	return strings.ToUpper(out)
}

// PublicInitials は公開プロフィール用の頭文字を返す。
// 1語の場合は先頭2文字を使う。
func PublicInitials(name string) string {
	words := strings.Fields(name)
	if len(words) == 1 {
		r := []rune(words[0])
		return strings.ToUpper(string(r[:min(2, len(r))]))
	}
	return Initials(name)
}

func firstRune(s string) string {
	for _, r := range s {
		return string(r)
	}
	return ""
}
