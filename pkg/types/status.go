package types

import "time"

// IndexState is a snapshot of the indexing engine's state. There is one
// logical instance per process, owned by the engine; everything else
// reads copies.
type IndexState struct {
	Indexing        bool          `json:"indexing"`
	IndexStartedAt  time.Time     `json:"index_started_at,omitempty"`
	IndexFinishedAt time.Time     `json:"index_finished_at,omitempty"`
	LastDuration    time.Duration `json:"last_duration,omitempty"`
	ProductCount    int           `json:"product_count"`
}

// StoreStatus reports store type, connectivity and record counts.
type StoreStatus struct {
	StoreType           string    `json:"store_type"`
	Running             bool      `json:"running"`
	ProductCount        int       `json:"number_of_dataproducts"`
	SupportsAnnotations bool      `json:"supports_annotations"`
	LastModified        time.Time `json:"last_metadata_update_time,omitempty"`
}

// VolumeStatus reports the scanner's view of the persistent volume.
type VolumeStatus struct {
	RootDirectory    string    `json:"data_product_root_directory"`
	Available        bool      `json:"available"`
	MetadataFileName string    `json:"metadata_file_name"`
	LastScan         time.Time `json:"time_of_last_index_run,omitempty"`
}
