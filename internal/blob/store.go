package blob

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Driver 附件存储驱动
type Driver string

const (
	// DriverFilesystem 本地文件系统(默认)
	DriverFilesystem Driver = "fs"
	// DriverS3 S3 / MinIO 兼容存储
	DriverS3 Driver = "s3"
	// DriverMemory 进程内存储(测试)
	DriverMemory Driver = "memory"
)

// KeyPrefix 表单附件的 key 前缀
const KeyPrefix = "forms/"

// PutOptions 写入选项
type PutOptions struct {
	ContentType string
	// Size 已知的内容长度,0 表示未知
	Size     int64
	Metadata map[string]string
}

// Info 已存储附件的描述
type Info struct {
	Key          string            `json:"key"`
	Size         int64             `json:"size"`
	ContentType  string            `json:"content_type,omitempty"`
	ETag         string            `json:"etag,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	LastModified time.Time         `json:"last_modified"`
}

// Store 附件存储
// Put 只在内容完整写入后返回成功;Delete 返回附件此前是否存在
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error)
	Get(ctx context.Context, key string) (Info, io.ReadCloser, error)
	Head(ctx context.Context, key string) (Info, error)
	Delete(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]Info, error)
	Driver() Driver
}

var (
	// ErrNotFound 附件不存在
	ErrNotFound = errors.New("blob not found")
	// ErrExists 附件已存在
	ErrExists = errors.New("blob already exists")
)

// NewKey 生成附件 key,保留原始扩展名
func NewKey(originalName string) string {
	ext := strings.ToLower(filepath.Ext(originalName))
	return KeyPrefix + uuid.NewString() + ext
}

func cloneMetadata(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
