package compiler

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"aquaflash/internal/flasher"
)

var request = flasher.Request{
	Sketch:    "void setup() {}\nvoid loop() {}\n",
	Filename:  "tank-esp32.ino",
	FQBN:      "esp32:esp32:esp32doit-devkit-v1",
	Libraries: []string{"ArduinoJson", "OneWire"},
}

func TestCompileSuccess(t *testing.T) {
	binary := []byte{0xE9, 0x03, 0x02, 0x20, 0x00}
	var got flasher.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(binary)
	}))
	defer srv.Close()

	var progressed int64
	c := New(srv.URL, WithProgress(func(done, total int64) { progressed = done }))
	bin, err := c.Compile(context.Background(), request)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if string(bin) != string(binary) {
		t.Errorf("binary = %x", bin)
	}
	if got.FQBN != request.FQBN || got.Filename != request.Filename || len(got.Libraries) != 2 {
		t.Errorf("service received %+v", got)
	}
	if progressed != int64(len(binary)) {
		t.Errorf("progress reported %d bytes", progressed)
	}
}

func TestCompileErrorsAreVerbatim(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"json error", http.StatusUnprocessableEntity, `{"error":"tank.ino:3:1: error: 'foo' does not name a type"}`, "tank.ino:3:1: error: 'foo' does not name a type"},
		{"plain text", http.StatusInternalServerError, "arduino-cli crashed\n", "arduino-cli crashed"},
		{"empty body", http.StatusBadGateway, "", "HTTP 502"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := New(srv.URL).Compile(context.Background(), request)
			if !errors.Is(err, ErrRejected) {
				t.Fatalf("err = %v, want ErrRejected", err)
			}
			if err.Error() != tt.want {
				t.Errorf("err = %q, want %q", err, tt.want)
			}
		})
	}
}

func TestCompileUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url).Compile(context.Background(), request)
	if err == nil || errors.Is(err, ErrRejected) {
		t.Errorf("err = %v, want transport error", err)
	}
}

// signer produces minisign keys and signatures with the legacy "Ed" algorithm.
type signer struct {
	keyID [8]byte
	pub   ed25519.PublicKey
	priv  ed25519.PrivateKey
}

func newSigner(t *testing.T) *signer {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	s := &signer{pub: pub, priv: priv}
	copy(s.keyID[:], "aquaKEY1")
	return s
}

func (s *signer) publicKey() string {
	raw := append([]byte("Ed"), s.keyID[:]...)
	return base64.StdEncoding.EncodeToString(append(raw, s.pub...))
}

// header returns the signature with newlines escaped for an HTTP header.
func (s *signer) header(bin []byte) string {
	sig := ed25519.Sign(s.priv, bin)
	trusted := "timestamp:1700000000"
	global := ed25519.Sign(s.priv, append(append([]byte(nil), sig...), trusted...))

	line1 := append(append([]byte("Ed"), s.keyID[:]...), sig...)
	return strings.Join([]string{
		"untrusted comment: signature from aquaflash test key",
		base64.StdEncoding.EncodeToString(line1),
		"trusted comment: " + trusted,
		base64.StdEncoding.EncodeToString(global),
	}, `\n`)
}

func TestSignatureVerification(t *testing.T) {
	s := newSigner(t)
	key, err := ParsePublicKey(s.publicKey())
	if err != nil {
		t.Fatalf("ParsePublicKey: %v", err)
	}
	binary := []byte("firmware image")

	tests := []struct {
		name    string
		header  string
		wantErr error
	}{
		{"valid", s.header(binary), nil},
		{"missing", "", ErrSignature},
		{"wrong payload", s.header([]byte("other image")), ErrSignature},
		{"garbage", "not a signature", ErrSignature},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.header != "" {
					w.Header().Set(SignatureHeader, tt.header)
				}
				w.Write(binary)
			}))
			defer srv.Close()

			_, err := New(srv.URL, WithPublicKey(key)).Compile(context.Background(), request)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v; want %v", err, tt.wantErr)
			}
		})
	}
}
