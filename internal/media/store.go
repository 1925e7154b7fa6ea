// Package media はローカルに選択されたメディアの保持、アップロード済みメディアの取得、
// バイト列からのFileDescriptor構築を提供する。
package media

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrTooLarge はメディアがサイズ上限を超えた場合のエラー。
var ErrTooLarge = errors.New("media exceeds size limit")

// ErrEmpty はメディアが0バイトの場合のエラー。
var ErrEmpty = errors.New("empty media")

// Ref はステージング済みメディアへの不透明な参照。
// ゼロ値はメディア未選択を表す。
type Ref struct {
	ID          string
	Path        string
	Name        string
	ContentType string
	Size        int64
}

// IsZero はメディアが未選択かを返す。
func (r Ref) IsZero() bool {
	return r.ID == ""
}

// Store はアップロード前のメディアをディレクトリに保持する。
type Store struct {
	dir     string
	maxSize int64
}

// NewStore はStoreの新しいインスタンスを生成する。
// dir配下にステージング用ディレクトリを作成する。
func NewStore(dir string, maxSize int64) (*Store, error) {
	staging := filepath.Join(dir, "mediapost-staging")
	if err := os.MkdirAll(staging, 0o700); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	return &Store{dir: staging, maxSize: maxSize}, nil
}

// Stage はrの内容をステージングディレクトリに書き込み、その参照を返す。
// contentTypeが空またはapplication/octet-streamの場合は先頭バイトから判定する。
func (s *Store) Stage(r io.Reader, name, contentType string) (Ref, error) {
	id := uuid.New().String()
	path := filepath.Join(s.dir, id+strings.ToLower(filepath.Ext(name)))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return Ref{}, fmt.Errorf("create staged file: %w", err)
	}

	// 上限+1バイトまで読み、超過を検出する
	n, err := io.Copy(f, io.LimitReader(r, s.maxSize+1))
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return Ref{}, fmt.Errorf("write staged file: %w", err)
	}
	if n > s.maxSize {
		os.Remove(path)
		return Ref{}, ErrTooLarge
	}
	if n == 0 {
		os.Remove(path)
		return Ref{}, ErrEmpty
	}

	ref := Ref{ID: id, Path: path, Name: filepath.Base(name), ContentType: contentType, Size: n}
	if contentType == "" || contentType == "application/octet-stream" {
		sniffed, err := sniff(path)
		if err != nil {
			os.Remove(path)
			return Ref{}, err
		}
		ref.ContentType = sniffed
	}
	return ref, nil
}

// ReadAll はメディアの全バイトを読み込む。
func (s *Store) ReadAll(ref Ref) ([]byte, error) {
	if ref.IsZero() {
		return nil, errors.New("no media selected")
	}
	return os.ReadFile(ref.Path)
}

// Open はメディアを読み込み用に開く。
func (s *Store) Open(ref Ref) (io.ReadCloser, error) {
	if ref.IsZero() {
		return nil, errors.New("no media selected")
	}
	return os.Open(ref.Path)
}

// Remove はステージング済みメディアを削除する。存在しない場合はエラーにしない。
func (s *Store) Remove(ref Ref) error {
	if ref.IsZero() {
		return nil
	}
	if err := os.Remove(ref.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func sniff(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", fmt.Errorf("read media header: %w", err)
	}
	return http.DetectContentType(head[:n]), nil
}
