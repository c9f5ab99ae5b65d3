package stores

import (
	"os"

	"canvas-collab/core"
	"canvas-collab/stores/memory"
	"canvas-collab/stores/sqlite"

	"github.com/sirupsen/logrus"
)

// Store is a union interface over every persistence concern of the
// collaboration engine: projects, the op log, the element projection,
// snapshots, and media records.
type Store interface {
	core.ProjectStore
	core.OpStore
	core.ElementStore
	core.SnapshotStore
	core.MediaStore
}

// GetStore selects a backend from STORAGE_TYPE.
func GetStore() Store {
	storageType := os.Getenv("STORAGE_TYPE")
	var store Store

	storageField := logrus.Fields{
		"storageType": storageType,
	}

	switch storageType {
	case "sqlite":
		dataSourceName := os.Getenv("DATA_SOURCE_NAME")
		if dataSourceName == "" {
			dataSourceName = "canvas.db" // Default filename
		}
		storageField["dataSourceName"] = dataSourceName
		store = sqlite.NewStore(dataSourceName)
	default:
		store = memory.NewStore()
		storageField["storageType"] = "in-memory"
	}
	logrus.WithFields(storageField).Info("Use storage")
	return store
}
