package workerapi

import (
	"time"

	"github.com/pioreactor/cluster-core/pkg/localstore"
	"github.com/pioreactor/cluster-core/pkg/types"
)

// NewEstimatorStore returns a DocumentStore rooted at dataDir/estimators.
// Estimator documents are authored directly on the worker: Put writes
// the document, SetActive marks it as the one in use.
func NewEstimatorStore(dataDir string, local *localstore.Store) *DocumentStore {
	return newDocumentStore(dataDir, "estimators", "estimator", local)
}

// NewEstimatorDoc builds an EstimatorDoc stamped with the current time.
func NewEstimatorDoc(device, name string, data map[string]any) *types.EstimatorDoc {
	return &types.EstimatorDoc{
		Device:    device,
		Name:      name,
		CreatedAt: time.Now().UTC(),
		Data:      data,
	}
}
