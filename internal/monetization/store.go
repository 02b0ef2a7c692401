package monetization

import "context"

// Store persists JSON documents by key.
type Store interface {
	// Get returns ErrKeyNotFound when nothing is stored under key.
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
}

// VideoCatalog resolves videos known to the platform.
type VideoCatalog interface {
	// LookupVideo returns ErrVideoNotFound for unknown ids.
	LookupVideo(ctx context.Context, id VideoID) (Video, error)
	RegisterVideo(ctx context.Context, video Video) error
}
