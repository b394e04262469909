package capture

import (
	"bytes"
	"io"
)

// Kind tags a payload as a still image or a video clip.
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

const (
	MIMEJPEG = "image/jpeg"
	MIMEWebM = "video/webm"
)

// Payload is an encoded media blob submitted for analysis once and then
// discarded.
type Payload struct {
	kind     Kind
	mimeType string
	filename string
	data     []byte
}

// NewPayload wraps data. The caller must not modify data afterwards.
func NewPayload(kind Kind, mimeType, filename string, data []byte) Payload {
	return Payload{kind: kind, mimeType: mimeType, filename: filename, data: data}
}

func (p Payload) Kind() Kind { return p.kind }

func (p Payload) MIMEType() string { return p.mimeType }

func (p Payload) Filename() string { return p.filename }

func (p Payload) Size() int64 { return int64(len(p.data)) }

// Empty reports whether the payload carries no data.
func (p Payload) Empty() bool { return len(p.data) == 0 }

// Reader returns a read-only view of the payload bytes.
func (p Payload) Reader() io.Reader { return bytes.NewReader(p.data) }
