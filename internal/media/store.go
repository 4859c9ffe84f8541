// Package media はアップロードされた音声ファイルをローカルディスクに保存する。
package media

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/speechcoach/internal/model"
)

// 保存先はMEDIA_ROOT配下のこのディレクトリに日付ごとに分ける。
const uploadDir = "speech_sessions"

// contentTypes は許可する拡張子とContent-Type。
var contentTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".m4a":  "audio/mp4",
	".ogg":  "audio/ogg",
	".flac": "audio/flac",
}

// ErrFileTooLarge はファイルサイズが上限を超えた場合に返す。
var ErrFileTooLarge = errors.New("audio file too large")

// Store は音声ファイルをroot配下に保存する。
// 保存したファイルはroot相対のスラッシュ区切りパスで参照する。
type Store struct {
	root     string
	maxBytes int64
	now      func() time.Time
}

// NewStore はStoreを生成する。
func NewStore(root string, maxBytes int64) *Store {
	return &Store{root: root, maxBytes: maxBytes, now: time.Now}
}

// MaxBytes はアップロードサイズの上限を返す。
func (s *Store) MaxBytes() int64 {
	return s.maxBytes
}

// ValidateName は元ファイル名の拡張子が許可されているかを検証する。
func ValidateName(filename string) error {
	ext := strings.ToLower(filepath.Ext(filename))
	if _, ok := contentTypes[ext]; !ok {
		return model.NewInvalidAudioFileError(fmt.Sprintf("unsupported extension %q", ext))
	}
	return nil
}

// Save はrの内容を speech_sessions/YYYY/MM/DD/<uuid>.<ext> に保存し、
// root相対パスと書き込んだバイト数を返す。
// 上限を超えた場合は書きかけのファイルを削除してErrFileTooLargeを返す。
func (s *Store) Save(filename string, r io.Reader) (string, int64, error) {
	if err := ValidateName(filename); err != nil {
		return "", 0, err
	}

	now := s.now().UTC()
	ext := strings.ToLower(filepath.Ext(filename))
	rel := path.Join(uploadDir, now.Format("2006"), now.Format("01"), now.Format("02"), uuid.NewString()+ext)
	dst := filepath.Join(s.root, filepath.FromSlash(rel))

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", 0, fmt.Errorf("failed to create media directory: %w", err)
	}

	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create media file: %w", err)
	}

	// 上限+1バイトまで読んで超過を検出する
	n, err := io.Copy(f, io.LimitReader(r, s.maxBytes+1))
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil && n > s.maxBytes {
		err = ErrFileTooLarge
	}
	if err != nil {
		_ = os.Remove(dst)
		if errors.Is(err, ErrFileTooLarge) {
			return "", 0, err
		}
		return "", 0, fmt.Errorf("failed to write media file: %w", err)
	}

	return rel, n, nil
}

// Open は保存済みファイルを開く。root外を指すパスは拒否する。
func (s *Store) Open(rel string) (*os.File, error) {
	p, err := s.resolve(rel)
	if err != nil {
		return nil, err
	}
	return os.Open(p)
}

// Remove は保存済みファイルを削除する。存在しない場合はエラーにしない。
func (s *Store) Remove(rel string) error {
	p, err := s.resolve(rel)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove media file: %w", err)
	}
	return nil
}

func (s *Store) resolve(rel string) (string, error) {
	local := filepath.FromSlash(rel)
	if rel == "" || !filepath.IsLocal(local) {
		return "", fmt.Errorf("invalid media path: %q", rel)
	}
	return filepath.Join(s.root, local), nil
}

// ContentType は保存済みパスの拡張子からContent-Typeを返す。
func ContentType(rel string) string {
	if ct, ok := contentTypes[strings.ToLower(path.Ext(rel))]; ok {
		return ct
	}
	return "application/octet-stream"
}
