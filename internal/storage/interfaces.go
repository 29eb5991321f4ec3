package storage

import "context"

// Storage is the durable persistence contract for project records. Save must
// replace the record atomically; Append must be durable before returning so a
// crash never loses acknowledged change-log entries.
type Storage interface {
	Save(ctx context.Context, path string, data []byte) error
	Load(ctx context.Context, path string) ([]byte, error)
	Append(ctx context.Context, path string, data []byte) error
	List(ctx context.Context, pattern string) ([]string, error)
	Exists(ctx context.Context, path string) bool
	Delete(ctx context.Context, path string) error
}
