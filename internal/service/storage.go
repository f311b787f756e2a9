package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/Ape-Alive/StoryX-sub001/internal/model"
)

// Uploader 媒体持久化目标，远端实现由外层注入
type Uploader interface {
	Upload(ctx context.Context, name string, r io.Reader) (string, error)
}

// LocalUploader 本地磁盘实现
type LocalUploader struct {
	dir string
}

func NewLocalUploader(dir string) *LocalUploader {
	return &LocalUploader{dir: dir}
}

// Upload 写入本地目录并返回文件路径
func (u *LocalUploader) Upload(_ context.Context, name string, r io.Reader) (string, error) {
	if err := os.MkdirAll(u.dir, 0o755); err != nil {
		return "", fmt.Errorf("创建媒体目录失败: %w", err)
	}
	path := filepath.Join(u.dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("创建媒体文件失败: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return "", fmt.Errorf("写入媒体文件失败: %w", err)
	}
	return path, nil
}

// StorageService 把供应商返回的临时媒体 URL 落成持久引用
type StorageService struct {
	client   *http.Client
	uploader Uploader
	tempDir  string
}

// NewStorageService 创建存储服务
func NewStorageService(uploader Uploader, tempDir string) *StorageService {
	return &StorageService{
		client:   &http.Client{Timeout: 120 * time.Second},
		uploader: uploader,
		tempDir:  tempDir,
	}
}

// Persist 按存储模式持久化媒体
// download_upload：先落临时文件再上传；buffer_upload：内存缓冲直传
func (s *StorageService) Persist(ctx context.Context, mode model.StorageMode, sourceURL, name string) (string, error) {
	switch mode {
	case model.StorageModeBufferUpload:
		return s.bufferUpload(ctx, sourceURL, name)
	default:
		return s.downloadUpload(ctx, sourceURL, name)
	}
}

func (s *StorageService) downloadUpload(ctx context.Context, sourceURL, name string) (string, error) {
	body, err := s.fetch(ctx, sourceURL)
	if err != nil {
		return "", err
	}
	defer body.Close()

	if err := os.MkdirAll(s.tempDir, 0o755); err != nil {
		return "", fmt.Errorf("创建临时目录失败: %w", err)
	}
	tmp, err := os.CreateTemp(s.tempDir, "media-*")
	if err != nil {
		return "", fmt.Errorf("创建临时文件失败: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if _, err := io.Copy(tmp, body); err != nil {
		return "", fmt.Errorf("下载媒体失败: %w", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	return s.uploader.Upload(ctx, name, tmp)
}

func (s *StorageService) bufferUpload(ctx context.Context, sourceURL, name string) (string, error) {
	body, err := s.fetch(ctx, sourceURL)
	if err != nil {
		return "", err
	}
	defer body.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, body); err != nil {
		return "", fmt.Errorf("读取媒体失败: %w", err)
	}
	return s.uploader.Upload(ctx, name, &buf)
}

func (s *StorageService) fetch(ctx context.Context, sourceURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, fmt.Errorf("创建下载请求失败: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("下载媒体失败: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("下载媒体失败，状态码: %d", resp.StatusCode)
	}
	return resp.Body, nil
}
