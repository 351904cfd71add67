// Package compiler talks to the out-of-process arduino-cli compile service.
package compiler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/jedisct1/go-minisign"

	"aquaflash/internal/flasher"
)

var (
	// ErrRejected wraps the message of a compile the service refused
	ErrRejected = errors.New("compile failed")

	// ErrSignature is returned when the binary signature is missing or wrong
	ErrSignature = errors.New("firmware signature verification failed")
)

// RejectedError is a compile the service refused. Error returns the
// service's message unchanged; errors.Is matches ErrRejected.
type RejectedError struct {
	Message string
}

func (e *RejectedError) Error() string { return e.Message }

func (e *RejectedError) Is(target error) bool { return target == ErrRejected }

// SignatureHeader carries the minisign signature of the returned binary.
const SignatureHeader = "X-Firmware-Signature"

// maxBinarySize bounds the response; ESP32 app partitions are at most a few MB.
const maxBinarySize = 16 << 20

// ProgressFunc is called while the binary downloads
type ProgressFunc func(downloaded, total int64)

// Client implements flasher.Compiler over HTTP
type Client struct {
	url      string
	http     *http.Client
	pubKey   *minisign.PublicKey
	logger   *log.Logger
	progress ProgressFunc
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default client (5 minute timeout)
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithPublicKey requires every binary to carry a valid minisign signature
func WithPublicKey(key minisign.PublicKey) Option {
	return func(cl *Client) { cl.pubKey = &key }
}

// WithLogger logs request summaries
func WithLogger(l *log.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// WithProgress reports download progress
func WithProgress(fn ProgressFunc) Option {
	return func(cl *Client) { cl.progress = fn }
}

// New creates a client for the service at url
func New(url string, opts ...Option) *Client {
	c := &Client{
		url:  url,
		http: &http.Client{Timeout: 5 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ParsePublicKey parses a base64 minisign public key
func ParsePublicKey(keyStr string) (minisign.PublicKey, error) {
	return minisign.NewPublicKey(keyStr)
}

type errorResponse struct {
	Error string `json:"error"`
}

// Compile posts the sketch and returns the binary. Service errors are
// returned verbatim as a *RejectedError.
func (c *Client) Compile(ctx context.Context, req flasher.Request) ([]byte, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/octet-stream")
	httpReq.Header.Set("User-Agent", "aquaflash/1.0")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("compile service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &RejectedError{Message: readError(resp)}
	}

	var reader io.Reader = io.LimitReader(resp.Body, maxBinarySize+1)
	if c.progress != nil && resp.ContentLength > 0 {
		reader = &progressReader{reader: reader, total: resp.ContentLength, progress: c.progress}
	}
	bin, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read binary: %w", err)
	}
	if len(bin) > maxBinarySize {
		return nil, fmt.Errorf("%w: binary exceeds %s", ErrRejected, flasher.FormatBytes(maxBinarySize))
	}
	if len(bin) == 0 {
		return nil, fmt.Errorf("%w: empty binary", ErrRejected)
	}

	if c.pubKey != nil {
		if err := c.verify(bin, resp.Header.Get(SignatureHeader)); err != nil {
			return nil, err
		}
	}

	if c.logger != nil {
		c.logger.Printf("[Compiler] %s for %s: %s", req.Filename, req.FQBN, flasher.FormatBytes(int64(len(bin))))
	}
	return bin, nil
}

func (c *Client) verify(bin []byte, header string) error {
	if header == "" {
		return fmt.Errorf("%w: no %s header", ErrSignature, SignatureHeader)
	}
	// minisign signatures are multi-line; the header carries them with literal \n
	sig, err := minisign.DecodeSignature(strings.TrimSpace(strings.ReplaceAll(header, `\n`, "\n")))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignature, err)
	}
	valid, err := c.pubKey.Verify(bin, sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignature, err)
	}
	if !valid {
		return ErrSignature
	}
	return nil
}

// readError extracts {"error": "..."} or falls back to the body text.
func readError(resp *http.Response) string {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var e errorResponse
	if json.Unmarshal(data, &e) == nil && e.Error != "" {
		return e.Error
	}
	if text := strings.TrimSpace(string(data)); text != "" {
		return text
	}
	return fmt.Sprintf("HTTP %d", resp.StatusCode)
}

// progressReader wraps an io.Reader to track download progress
type progressReader struct {
	reader     io.Reader
	total      int64
	downloaded int64
	progress   ProgressFunc
}

func (r *progressReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	if n > 0 {
		r.downloaded += int64(n)
		r.progress(r.downloaded, r.total)
	}
	return n, err
}
