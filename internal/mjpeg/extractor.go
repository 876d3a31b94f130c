package mjpeg

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/your-org/blipguard/pkg/errors"
)

const (
	// DefaultBoundary is the delimiter written by the camera server before every part.
	DefaultBoundary      = "--BLIPBOUNDARY"
	DefaultChunkSize     = 1024
	DefaultMaxFrameBytes = 8 << 20
	defaultContentType   = "image/jpeg"
)

var headerSeparator = []byte("\r\n\r\n")

var (
	ErrStreamExhausted = apperrors.New(apperrors.KindFraming, "mjpeg.extract", "stream ended before a complete frame")
	ErrMalformedPart   = apperrors.New(apperrors.KindFraming, "mjpeg.extract", "malformed multipart part")
	ErrFrameTooLarge   = &apperrors.Error{
		Kind:    apperrors.KindFraming,
		Op:      "mjpeg.extract",
		Message: "frame exceeds buffer limit",
		Cause:   ErrMalformedPart,
	}
)

// Frame is a single still image cut out of a multipart stream.
type Frame struct {
	Data        []byte
	ContentType string
	// Encoded is the standard base64 form of Data, ready to embed in JSON requests.
	Encoded    string
	CapturedAt time.Time
}

// Decode returns the bytes behind Encoded.
func (f *Frame) Decode() ([]byte, error) {
	return base64.StdEncoding.DecodeString(f.Encoded)
}

// Extension maps the frame content type to a file extension.
func (f *Frame) Extension() string {
	switch strings.ToLower(strings.TrimSpace(f.ContentType)) {
	case "image/png":
		return "png"
	case "image/gif":
		return "gif"
	case "image/webp":
		return "webp"
	case "image/bmp":
		return "bmp"
	default:
		return "jpg"
	}
}

// ExtractorConfig tunes framing behaviour.
type ExtractorConfig struct {
	Boundary      string
	ChunkSize     int
	MaxFrameBytes int
}

// Extractor cuts the first complete part out of an unterminated multipart byte stream.
// It is stateless between calls and safe for concurrent use.
type Extractor struct {
	boundary      []byte
	chunkSize     int
	maxFrameBytes int
}

// NewExtractor constructs an Extractor, filling unset fields with defaults.
func NewExtractor(cfg ExtractorConfig) *Extractor {
	if cfg.Boundary == "" {
		cfg.Boundary = DefaultBoundary
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = DefaultMaxFrameBytes
	}
	return &Extractor{
		boundary:      []byte(cfg.Boundary),
		chunkSize:     cfg.ChunkSize,
		maxFrameBytes: cfg.MaxFrameBytes,
	}
}

// Extract reads r until the first fully delimited part is seen and returns its body.
// It never consumes past the closing boundary of that part; the caller owns r and
// is expected to close it afterwards.
func (e *Extractor) Extract(ctx context.Context, r io.Reader) (*Frame, error) {
	sc := scanner{boundary: e.boundary}
	chunk := make([]byte, e.chunkSize)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n, readErr := r.Read(chunk)
		if n > 0 {
			sc.buf = append(sc.buf, chunk[:n]...)
			frame, err := sc.next()
			if err != nil || frame != nil {
				return frame, err
			}
			if len(sc.buf) > e.maxFrameBytes {
				return nil, ErrFrameTooLarge
			}
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				// a closing boundary at the very end can only be confirmed now
				sc.final = true
				frame, err := sc.next()
				if err != nil || frame != nil {
					return frame, err
				}
				return nil, ErrStreamExhausted
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, apperrors.Wrap(apperrors.KindConnection, "mjpeg.read", "read stream", readErr)
		}
	}
}

// scanner holds the accumulation buffer for one Extract call.
type scanner struct {
	boundary []byte
	buf      []byte
	// scanFrom is where the next boundary search starts; bytes before it are
	// known not to begin an accepted boundary.
	scanFrom int
	// opened is set once an opening boundary line has been consumed.
	opened bool
	// final is set once the reader reported EOF.
	final bool
}

// next returns a frame once one is complete, (nil, nil) when more input is needed.
func (s *scanner) next() (*Frame, error) {
	for {
		rel := bytes.Index(s.buf[s.scanFrom:], s.boundary)
		if rel < 0 {
			if keep := len(s.buf) - len(s.boundary) + 1; keep > s.scanFrom {
				s.scanFrom = keep
			}
			return nil, nil
		}
		idx := s.scanFrom + rel

		if idx == 0 {
			lineEnd := bytes.IndexByte(s.buf[len(s.boundary):], '\n')
			if lineEnd < 0 {
				return nil, nil
			}
			s.buf = s.buf[len(s.boundary)+lineEnd+1:]
			s.scanFrom = 0
			s.opened = true
			continue
		}

		if !s.opened {
			// joined mid-part; drop everything before the first boundary
			s.buf = s.buf[idx:]
			s.scanFrom = 0
			continue
		}

		candidate := s.buf[:idx]
		sep := bytes.Index(candidate, headerSeparator)
		if sep < 0 {
			return nil, fmt.Errorf("%w: no header separator before next boundary", ErrMalformedPart)
		}

		header, err := parseHeader(candidate[:sep])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPart, err)
		}

		// the CRLF in front of a boundary belongs to the delimiter
		body := bytes.TrimSuffix(candidate[sep+len(headerSeparator):], crlf)

		// A declared length that agrees with the boundary position confirms it.
		// Otherwise the match has to be followed by a delimiter line and a part
		// header block; anything else is boundary bytes inside the image.
		if length, ok := contentLength(header); !ok || length != len(body) {
			switch inspectDelimiter(s.buf[idx+len(s.boundary):], s.final) {
			case delimiterPending:
				s.scanFrom = idx
				return nil, nil
			case delimiterRejected:
				s.scanFrom = idx + 1
				continue
			}
		}

		return newFrame(body, header.Get("Content-Type")), nil
	}
}

type delimiterVerdict int

const (
	delimiterPending delimiterVerdict = iota
	delimiterAccepted
	delimiterRejected
)

// maxHeaderBlock bounds how far past a boundary match the next part's headers
// are looked for.
const maxHeaderBlock = 4096

var crlf = []byte("\r\n")

// inspectDelimiter decides whether rest, the bytes right after a boundary
// match, continue as a delimiter line followed by a part header block or by
// the closing "--". At EOF a plausible but incomplete tail is accepted.
func inspectDelimiter(rest []byte, final bool) delimiterVerdict {
	lineEnd := bytes.IndexByte(rest, '\n')
	if lineEnd < 0 {
		if !isDelimiterTail(rest) {
			return delimiterRejected
		}
		if final {
			return delimiterAccepted
		}
		return delimiterPending
	}
	if !isDelimiterTail(rest[:lineEnd]) {
		return delimiterRejected
	}

	block := rest[lineEnd+1:]
	if bytes.HasPrefix(block, crlf) {
		// part without headers
		return delimiterAccepted
	}

	window := block
	if len(window) > maxHeaderBlock {
		window = window[:maxHeaderBlock]
	}
	end := bytes.Index(window, headerSeparator)

	lines := window
	if end >= 0 {
		lines = window[:end]
	}
	split := bytes.Split(lines, crlf)
	if end < 0 {
		// the last line may still be arriving
		split = split[:len(split)-1]
	}
	for _, line := range split {
		if !isHeaderLine(line) {
			return delimiterRejected
		}
	}

	switch {
	case end >= 0:
		return delimiterAccepted
	case len(block) >= maxHeaderBlock:
		return delimiterRejected
	case final:
		return delimiterAccepted
	default:
		return delimiterPending
	}
}

// isDelimiterTail reports whether b can be the rest of a boundary line: an
// optional closing "--" and trailing whitespace.
func isDelimiterTail(b []byte) bool {
	for i := 0; i < 2 && len(b) > 0 && b[0] == '-'; i++ {
		b = b[1:]
	}
	return len(bytes.Trim(b, " \t\r")) == 0
}

func isHeaderLine(line []byte) bool {
	if bytes.IndexByte(line, ':') <= 0 {
		return false
	}
	for _, c := range line {
		if (c < 0x20 && c != '\t') || c >= 0x7f {
			return false
		}
	}
	return true
}

func parseHeader(raw []byte) (textproto.MIMEHeader, error) {
	block := make([]byte, 0, len(raw)+len(headerSeparator))
	block = append(block, raw...)
	block = append(block, headerSeparator...)

	reader := textproto.NewReader(bufio.NewReader(bytes.NewReader(block)))
	header, err := reader.ReadMIMEHeader()
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse part header: %w", err)
	}
	return header, nil
}

func contentLength(header textproto.MIMEHeader) (int, bool) {
	raw := strings.TrimSpace(header.Get("Content-Length"))
	if raw == "" {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func newFrame(body []byte, contentType string) *Frame {
	data := make([]byte, len(body))
	copy(data, body)

	if contentType == "" {
		contentType = defaultContentType
	}

	return &Frame{
		Data:        data,
		ContentType: contentType,
		Encoded:     base64.StdEncoding.EncodeToString(data),
		CapturedAt:  time.Now().UTC(),
	}
}
