package storage

import "dexaggregator/internal/model"

// Storage persists one PoolRegistry per chain (spec §4.1).
type Storage interface {
	GetPoolRegistry(chainID int) (*model.PoolRegistry, error)
	SavePoolRegistry(chainID int, registry *model.PoolRegistry) error
}
