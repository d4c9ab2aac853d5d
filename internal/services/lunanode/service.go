// Package lunanode provides a client for the LunaNode Dynamic API.
package lunanode

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fgeck/lndbackup/internal/models"
	"github.com/rs/zerolog"
)

// DefaultBaseURL is the public API endpoint.
const DefaultBaseURL = "https://dynamic.lunanode.com/api"

// partialKeyLength is the number of API key characters sent as api_partialkey.
const partialKeyLength = 64

// ErrInvalidCredentials is returned by New when the API id or key cannot be used.
var ErrInvalidCredentials = errors.New("invalid API credentials")

// Service defines the compute API operations used by the backup engine.
type Service interface {
	ListVMs(ctx context.Context) ([]models.VirtualMachine, error)
	GetVMInfo(ctx context.Context, vmID int) (*models.VirtualMachine, error)
	CreateSnapshot(ctx context.Context, vmID int, name string) (int, error)
	GetImageStatus(ctx context.Context, imageID int) (string, error)
	ReplicateImage(ctx context.Context, imageID int, region string) (int, error)
	DeleteImage(ctx context.Context, imageID int) error
	ListImages(ctx context.Context) ([]models.Image, error)
	RetrieveImage(ctx context.Context, imageID int, localPath string, onProgress models.ProgressFunc) error
}

// HTTPClient allows mocking HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// APIError is a failure reported by the API or its transport.
type APIError struct {
	Category   string
	Action     string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 && e.StatusCode != http.StatusOK {
		return fmt.Sprintf("lunanode %s/%s: HTTP %d: %s", e.Category, e.Action, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("lunanode %s/%s: %s", e.Category, e.Action, e.Message)
}

// Impl implements the Service interface.
type Impl struct {
	httpClient   HTTPClient
	streamClient HTTPClient
	logger       zerolog.Logger
	baseURL      string
	apiID        string
	apiKey       string
	now          func() time.Time
}

// New creates a new API client. It fails when the credentials are unusable.
func New(logger zerolog.Logger, cfg models.APIConfig) (*Impl, error) {
	return NewWithClient(logger, cfg, &http.Client{Timeout: 60 * time.Second}, &http.Client{})
}

// NewWithClient creates a new API client with custom HTTP clients (for testing).
// streamClient is used for image downloads and should not carry a request timeout.
func NewWithClient(logger zerolog.Logger, cfg models.APIConfig, httpClient, streamClient HTTPClient) (*Impl, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("%w: api id is empty", ErrInvalidCredentials)
	}
	if len(cfg.Key) < partialKeyLength {
		return nil, fmt.Errorf("%w: api key must be at least %d characters", ErrInvalidCredentials, partialKeyLength)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &Impl{
		httpClient:   httpClient,
		streamClient: streamClient,
		logger:       logger,
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiID:        cfg.ID,
		apiKey:       cfg.Key,
		now:          time.Now,
	}, nil
}

// flexInt accepts both JSON numbers and numeric strings; the API returns ids as strings.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid integer %s: %w", string(b), err)
	}
	*f = flexInt(n)
	return nil
}

type envelope struct {
	Success string `json:"success"`
	Error   string `json:"error"`
}

type vmJSON struct {
	ID       flexInt `json:"vm_id"`
	Name     string  `json:"name"`
	Hostname string  `json:"hostname"`
	Region   string  `json:"region"`
}

type imageJSON struct {
	ID     flexInt `json:"image_id"`
	Name   string  `json:"name"`
	Status string  `json:"status"`
	Region string  `json:"region"`
}

type imageIDResponse struct {
	ImageID flexInt `json:"image_id"`
}

// ListVMs returns every VM on the account.
func (s *Impl) ListVMs(ctx context.Context) ([]models.VirtualMachine, error) {
	var resp struct {
		VMs []vmJSON `json:"vms"`
	}
	if err := s.call(ctx, "vm", "list", nil, &resp); err != nil {
		return nil, err
	}

	vms := make([]models.VirtualMachine, len(resp.VMs))
	for i, vm := range resp.VMs {
		hostname := vm.Hostname
		if hostname == "" {
			hostname = vm.Name
		}
		vms[i] = models.VirtualMachine{ID: int(vm.ID), Hostname: hostname, Region: vm.Region}
	}

	s.logger.Debug().Int("count", len(vms)).Msg("VMs listed")
	return vms, nil
}

// GetVMInfo returns hostname and region of a VM.
func (s *Impl) GetVMInfo(ctx context.Context, vmID int) (*models.VirtualMachine, error) {
	var resp struct {
		Extra struct {
			Hostname string `json:"hostname"`
			Region   string `json:"region"`
		} `json:"extra"`
	}
	params := map[string]string{"vm_id": strconv.Itoa(vmID)}
	if err := s.call(ctx, "vm", "info", params, &resp); err != nil {
		return nil, err
	}

	return &models.VirtualMachine{
		ID:       vmID,
		Hostname: resp.Extra.Hostname,
		Region:   resp.Extra.Region,
	}, nil
}

// CreateSnapshot queues a snapshot of a VM and returns the new image id.
func (s *Impl) CreateSnapshot(ctx context.Context, vmID int, name string) (int, error) {
	var resp imageIDResponse
	params := map[string]string{"vm_id": strconv.Itoa(vmID), "name": name}
	if err := s.call(ctx, "vm", "snapshot", params, &resp); err != nil {
		return 0, err
	}
	return int(resp.ImageID), nil
}

// GetImageStatus returns the current status of an image.
func (s *Impl) GetImageStatus(ctx context.Context, imageID int) (string, error) {
	var resp struct {
		Details imageJSON `json:"details"`
	}
	params := map[string]string{"image_id": strconv.Itoa(imageID)}
	if err := s.call(ctx, "image", "details", params, &resp); err != nil {
		return "", err
	}
	return resp.Details.Status, nil
}

// ReplicateImage queues a copy of an image into another region and returns the new image id.
func (s *Impl) ReplicateImage(ctx context.Context, imageID int, region string) (int, error) {
	var resp imageIDResponse
	params := map[string]string{"image_id": strconv.Itoa(imageID), "region": region}
	if err := s.call(ctx, "image", "replicate", params, &resp); err != nil {
		return 0, err
	}
	return int(resp.ImageID), nil
}

// DeleteImage deletes an image.
func (s *Impl) DeleteImage(ctx context.Context, imageID int) error {
	params := map[string]string{"image_id": strconv.Itoa(imageID)}
	return s.call(ctx, "image", "delete", params, nil)
}

// ListImages returns every image on the account.
func (s *Impl) ListImages(ctx context.Context) ([]models.Image, error) {
	var resp struct {
		Images []imageJSON `json:"images"`
	}
	if err := s.call(ctx, "image", "list", nil, &resp); err != nil {
		return nil, err
	}

	images := make([]models.Image, len(resp.Images))
	for i, img := range resp.Images {
		images[i] = models.Image{ID: int(img.ID), Name: img.Name, Status: img.Status, Region: img.Region}
	}
	return images, nil
}

// RetrieveImage streams an image into localPath, reporting progress as bytes arrive.
// The file is left as-is on failure; removing partial files is the caller's job.
func (s *Impl) RetrieveImage(ctx context.Context, imageID int, localPath string, onProgress models.ProgressFunc) error {
	params := map[string]string{"image_id": strconv.Itoa(imageID)}
	form, err := s.signedForm("image", "retrieve", params)
	if err != nil {
		return err
	}

	endpoint := s.endpoint("image", "retrieve") + "?" + form.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.streamClient.Do(req)
	if err != nil {
		return &APIError{Category: "image", Action: "retrieve", Message: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return &APIError{Category: "image", Action: "retrieve", StatusCode: resp.StatusCode, Message: readSnippet(resp.Body)}
	}
	// An error envelope instead of image data.
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		return decodeEnvelope("image", "retrieve", resp.Body, nil)
	}

	file, err := os.Create(localPath) //nolint:gosec // path is built from a sanitized image name
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}

	pw := &progressWriter{w: file, total: resp.ContentLength, onProgress: onProgress}
	if pw.total < 0 {
		pw.total = 0
	}

	_, copyErr := io.CopyBuffer(pw, resp.Body, make([]byte, 1<<20))
	closeErr := file.Close()
	if copyErr != nil {
		return fmt.Errorf("failed to stream image %d: %w", imageID, copyErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close output file: %w", closeErr)
	}
	if pw.total > 0 && pw.received != pw.total {
		return fmt.Errorf("image %d truncated: received %d of %d bytes", imageID, pw.received, pw.total)
	}

	s.logger.Debug().
		Int("image_id", imageID).
		Int64("bytes", pw.received).
		Str("path", localPath).
		Msg("image retrieved")

	return nil
}

type progressWriter struct {
	w          io.Writer
	received   int64
	total      int64
	onProgress models.ProgressFunc
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.received += int64(n)
	if p.onProgress != nil && n > 0 {
		p.onProgress(p.received, p.total)
	}
	return n, err
}

func (s *Impl) endpoint(category, action string) string {
	return fmt.Sprintf("%s/%s/%s/", s.baseURL, category, action)
}

// signedForm builds the req/nonce/signature triple every API call carries.
func (s *Impl) signedForm(category, action string, params map[string]string) (url.Values, error) {
	payload := map[string]string{
		"api_id":         s.apiID,
		"api_partialkey": s.apiKey[:partialKeyLength],
	}
	for k, v := range params {
		payload[k] = v
	}

	// encoding/json sorts map keys, so the signed string is deterministic.
	reqJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	nonce := strconv.FormatInt(s.now().Unix(), 10)
	handler := category + "/" + action + "/"

	return url.Values{
		"req":       {string(reqJSON)},
		"nonce":     {nonce},
		"signature": {Sign(s.apiKey, handler, string(reqJSON), nonce)},
	}, nil
}

// Sign computes the request signature for a handler ("vm/list/"), request JSON and nonce.
func Sign(apiKey, handler, reqJSON, nonce string) string {
	mac := hmac.New(sha512.New, []byte(apiKey))
	mac.Write([]byte(handler + "|" + reqJSON + "|" + nonce))
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *Impl) call(ctx context.Context, category, action string, params map[string]string, out any) error {
	s.logger.Debug().Str("category", category).Str("action", action).Msg("calling API")

	form, err := s.signedForm(category, action, params)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint(category, action), strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return &APIError{Category: category, Action: action, Message: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return &APIError{Category: category, Action: action, StatusCode: resp.StatusCode, Message: readSnippet(resp.Body)}
	}

	return decodeEnvelope(category, action, resp.Body, out)
}

func decodeEnvelope(category, action string, body io.Reader, out any) error {
	raw, err := io.ReadAll(body)
	if err != nil {
		return &APIError{Category: category, Action: action, Message: fmt.Sprintf("reading response: %v", err)}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return &APIError{Category: category, Action: action, Message: fmt.Sprintf("invalid response: %v", err)}
	}
	if env.Success != "yes" {
		msg := env.Error
		if msg == "" {
			msg = "request was not successful"
		}
		return &APIError{Category: category, Action: action, StatusCode: http.StatusOK, Message: msg}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &APIError{Category: category, Action: action, Message: fmt.Sprintf("invalid response: %v", err)}
	}
	return nil
}

func readSnippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 512))
	return strings.TrimSpace(string(b))
}
