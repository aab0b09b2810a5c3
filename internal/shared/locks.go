package shared

import "fmt"

// InventoryRecomputeLockKey is the redis key guarding recompute sweeps.
func InventoryRecomputeLockKey() string {
	return "lock:inventory:recompute"
}

// ProductRecomputeLockKey guards a single product recompute.
func ProductRecomputeLockKey(productID string) string {
	return fmt.Sprintf("lock:inventory:recompute:%s", productID)
}
