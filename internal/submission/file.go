package submission

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/webp"
)

// File is one attached file with its metadata.
type File struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Size   int64  `json:"size"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
	Buffer []byte `json:"-"`
}

// ReadFile builds a File from raw bytes, sniffing the media type and image size.
func ReadFile(name string, data []byte) File {
	f := File{
		Name:   filepath.Base(name),
		Type:   detectType(name, data),
		Size:   int64(len(data)),
		Buffer: data,
	}

	if strings.HasPrefix(f.Type, "image/") {
		if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
			f.Width = cfg.Width
			f.Height = cfg.Height
		}
	}

	return f
}

// Extension returns the lowercase extension without the dot. It falls back to
// the media subtype when the name has none.
func (f File) Extension() string {
	if ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(f.Name)), "."); ext != "" {
		return ext
	}
	if _, sub, ok := strings.Cut(f.Type, "/"); ok {
		return strings.ToLower(sub)
	}
	return ""
}

// IsGIF reports whether the file is an animated-capable GIF.
func (f File) IsGIF() bool {
	return f.Type == "image/gif" || f.Extension() == "gif"
}

// IsImage reports whether the file is an image.
func (f File) IsImage() bool {
	return strings.HasPrefix(f.Type, "image/")
}

func detectType(name string, data []byte) string {
	sniffed := http.DetectContentType(data)
	if sniffed != "application/octet-stream" && !strings.HasPrefix(sniffed, "text/plain") {
		if mt, _, err := mime.ParseMediaType(sniffed); err == nil {
			return mt
		}
	}
	if byExt := mime.TypeByExtension(filepath.Ext(name)); byExt != "" {
		if mt, _, err := mime.ParseMediaType(byExt); err == nil {
			return mt
		}
	}
	if mt, _, err := mime.ParseMediaType(sniffed); err == nil {
		return mt
	}
	return sniffed
}

// MBToBytes converts megabytes to bytes.
func MBToBytes(mb int) int64 {
	return int64(mb) * 1024 * 1024
}
