package model

import (
	"fmt"
	"time"
)

// File is a user-selected file as received from the editor
type File struct {
	Name         string
	ContentType  string
	Size         int64
	LastModified time.Time
	Data         []byte
}

// NewFile builds a File whose size is the length of data
func NewFile(name, contentType string, lastModified time.Time, data []byte) File {
	return File{
		Name:         name,
		ContentType:  contentType,
		Size:         int64(len(data)),
		LastModified: lastModified,
		Data:         data,
	}
}

// DedupKey identifies "the same logical upload": name, size and modification time
func (f File) DedupKey() string {
	return fmt.Sprintf("%s-%d-%d", f.Name, f.Size, f.LastModified.UnixMilli())
}
