package upload

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// File is an uploaded image held in memory.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Data        []byte
}

// NewFile builds a File from raw bytes. An empty contentType is detected from the data.
func NewFile(name, contentType string, data []byte) *File {
	return &File{
		Name:        name,
		ContentType: resolveContentType(contentType, data),
		Size:        int64(len(data)),
		Data:        data,
	}
}

// Reader returns a fresh reader over the file contents.
func (f *File) Reader() io.Reader {
	return bytes.NewReader(f.Data)
}

// FromFileHeader reads a multipart file part. The declared size comes from the
// header; at most MaxFileSize+1 bytes are read so oversized parts stay rejectable
// without buffering them whole.
func FromFileHeader(fh *multipart.FileHeader) (*File, error) {
	src, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload %q: %w", fh.Filename, err)
	}
	defer src.Close()

	data, err := io.ReadAll(io.LimitReader(src, MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("read upload %q: %w", fh.Filename, err)
	}

	size := fh.Size
	if size < int64(len(data)) {
		size = int64(len(data))
	}
	return &File{
		Name:        fh.Filename,
		ContentType: resolveContentType(fh.Header.Get("Content-Type"), data),
		Size:        size,
		Data:        data,
	}, nil
}

// FromPath loads a file from disk, detecting its media type from the content.
func FromPath(path string) (*File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() > MaxFileSize {
		// Report the size without reading the whole file.
		return &File{Name: filepath.Base(path), Size: info.Size()}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return NewFile(filepath.Base(path), "", data), nil
}

// DetectContentType sniffs the media type of data, without parameters.
func DetectContentType(data []byte) string {
	mt, _, err := mime.ParseMediaType(mimetype.Detect(data).String())
	if err != nil {
		return "application/octet-stream"
	}
	return mt
}

func resolveContentType(declared string, data []byte) string {
	declared = strings.TrimSpace(declared)
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	if len(data) == 0 {
		return declared
	}
	return DetectContentType(data)
}
