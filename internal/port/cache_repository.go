package port

import "context"

type CacheRepository interface {
	// ClaimRequest marks key as in flight. When the key already exists it
	// returns claimed=false and the order id stored for it (0 while in flight)
	ClaimRequest(ctx context.Context, key string) (orderID int64, claimed bool, err error)

	// CompleteRequest records the order created for a claimed key
	CompleteRequest(ctx context.Context, key string, orderID int64) error

	// ReleaseRequest forgets a claimed key so the request can be retried
	ReleaseRequest(ctx context.Context, key string) error
}
