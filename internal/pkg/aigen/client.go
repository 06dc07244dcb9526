package aigen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"syscall"
	"time"
)

const (
	defaultTimeout = 2 * time.Minute

	// maxImageBytes caps a downloaded or decoded image.
	maxImageBytes = 20 << 20
)

var (
	ErrNotConfigured = errors.New("ai api is not configured")
	ErrUpstream      = errors.New("ai generation failed")
	ErrTimeout       = errors.New("ai generation timed out")
	ErrEmptyResult   = errors.New("ai api returned no image")
)

// Request is the generation payload sent to the image API.
type Request struct {
	Model           string   `json:"model"`
	Prompt          string   `json:"prompt"`
	ReferenceImages []string `json:"reference_images,omitempty"`
}

// Result holds the generated image bytes.
type Result struct {
	Data        []byte
	ContentType string
}

type generateResponse struct {
	ImageBase64 string `json:"image_base64"`
	ImageURL    string `json:"image_url"`
	ContentType string `json:"content_type"`
	Error       string `json:"error"`
}

// Client calls the external image generation API.
type Client struct {
	baseURL  string
	apiKey   string
	http     *http.Client
	maxImage int
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		maxImage: maxImageBytes,
	}
}

// Generate runs one generation. Every failure wraps ErrUpstream; timeouts also match ErrTimeout.
func (c *Client) Generate(ctx context.Context, in Request) (*Result, error) {
	if c == nil || strings.TrimSpace(c.baseURL) == "" || strings.TrimSpace(c.apiKey) == "" {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, ErrNotConfigured)
	}

	payload, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %w", ErrUpstream, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/images/generate", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", ErrUpstream, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyRequestError(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxResponse()))
	if err != nil {
		return nil, classifyRequestError(ctx, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status=%d body=%s", ErrUpstream, resp.StatusCode, truncate(string(body), 512))
	}

	var out generateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", ErrUpstream, err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrUpstream, out.Error)
	}

	switch {
	case out.ImageBase64 != "":
		if base64.StdEncoding.DecodedLen(len(out.ImageBase64)) > c.maxImage+2 {
			return nil, fmt.Errorf("%w: image exceeds %d bytes", ErrUpstream, c.maxImage)
		}
		data, err := base64.StdEncoding.DecodeString(out.ImageBase64)
		if err != nil {
			return nil, fmt.Errorf("%w: decode image: %w", ErrUpstream, err)
		}
		if len(data) > c.maxImage {
			return nil, fmt.Errorf("%w: image exceeds %d bytes", ErrUpstream, c.maxImage)
		}
		return &Result{Data: data, ContentType: contentType(out.ContentType, data)}, nil
	case out.ImageURL != "":
		return c.download(ctx, out.ImageURL)
	default:
		return nil, fmt.Errorf("%w: %w", ErrUpstream, ErrEmptyResult)
	}
}

func (c *Client) download(ctx context.Context, imageURL string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build download request: %w", ErrUpstream, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyRequestError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: download status=%d", ErrUpstream, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, int64(c.maxImage)+1))
	if err != nil {
		return nil, classifyRequestError(ctx, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, ErrEmptyResult)
	}
	if len(data) > c.maxImage {
		return nil, fmt.Errorf("%w: image exceeds %d bytes", ErrUpstream, c.maxImage)
	}
	return &Result{Data: data, ContentType: contentType(resp.Header.Get("Content-Type"), data)}, nil
}

// maxResponse bounds the JSON reply, which may carry the image as base64.
func (c *Client) maxResponse() int64 {
	return int64(base64.StdEncoding.EncodedLen(c.maxImage)) + 64<<10
}

func contentType(declared string, data []byte) string {
	if declared = strings.TrimSpace(declared); declared != "" {
		return declared
	}
	return http.DetectContentType(data)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func classifyRequestError(ctx context.Context, err error) error {
	if isTimeoutError(ctx, err) {
		return fmt.Errorf("%w: %w: %w", ErrUpstream, ErrTimeout, err)
	}
	if isNetworkError(err) {
		return fmt.Errorf("%w: network error: %w", ErrUpstream, err)
	}
	return fmt.Errorf("%w: request error: %w", ErrUpstream, err)
}

func isTimeoutError(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.EHOSTUNREACH)
}
