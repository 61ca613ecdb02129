package files

import "time"

// FileObject is the metadata record for one uploaded file. Its identity is
// the pair (OwnerID, ID).
type FileObject struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"userId"`
	FileName    string    `json:"fileName"`
	ContentType string    `json:"fileType"`
	SizeBytes   int64     `json:"fileSize"`
	StorageKey  string    `json:"-"`
	CreatedAt   time.Time `json:"uploadDate"`
}
