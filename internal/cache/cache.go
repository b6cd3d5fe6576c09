// Package cache holds the change cache backends and the LRU read cache that
// the persister invalidates after new rows land.
package cache

import (
	"sgcars-go/internal/updater"
)

// ChangeCache is an updater.ChangeCache owning resources that need releasing.
type ChangeCache interface {
	updater.ChangeCache
	Close() error
}
