// client.go - HuggingFace Hub Client
// Stellt einen HTTP-Client fuer Model-Info und Datei-Downloads bereit.
package huggingface

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// Konstanten fuer HuggingFace Hub API
const (
	DefaultHubURL        = "https://huggingface.co"
	DefaultAPIURL        = "https://huggingface.co/api"
	DefaultClientTimeout = 1800 // 30 Minuten fuer grosse Model-Downloads
	EnvHFToken           = "HF_TOKEN"
	EnvHFHome            = "HF_HOME"
	EnvHFEndpoint        = "HF_ENDPOINT"
	ClientUserAgent      = "fastbert-trainer/1.0"
)

// Fehler-Definitionen
var (
	ErrModelNotFound   = errors.New("modell nicht gefunden")
	ErrUnauthorized    = errors.New("authentifizierung fehlgeschlagen")
	ErrRateLimited     = errors.New("rate limit ueberschritten")
	ErrNetworkError    = errors.New("netzwerkfehler")
	ErrInvalidModelID  = errors.New("ungueltige modell-id")
	ErrFileNotFound    = errors.New("datei nicht gefunden")
	ErrDownloadFailed  = errors.New("download fehlgeschlagen")
	ErrInvalidResponse = errors.New("ungueltige server-antwort")
	ErrGatedModel      = errors.New("gated model needs " + EnvHFToken)
)

// APIModelInfo enthaelt Metadaten eines HuggingFace Modells aus der API
type APIModelInfo struct {
	ID           string       `json:"id"`
	ModelID      string       `json:"modelId"`
	Author       string       `json:"author"`
	SHA          string       `json:"sha"`
	LastModified time.Time    `json:"lastModified"`
	Private      bool         `json:"private"`
	Gated        interface{}  `json:"gated"` // Kann bool oder string sein (false, "auto", "manual")
	Pipeline     string       `json:"pipeline_tag"`
	Tags         []string     `json:"tags"`
	Downloads    int64        `json:"downloads"`
	Likes        int64        `json:"likes"`
	LibraryName  string       `json:"library_name"`
	Siblings     []APISibling `json:"siblings"`
}

// IsGated prueft ob das Modell gated ist (authentifizierung erforderlich)
func (m *APIModelInfo) IsGated() bool {
	switch v := m.Gated.(type) {
	case bool:
		return v
	case string:
		return v == "auto" || v == "manual"
	default:
		return false
	}
}

// APISibling repraesentiert eine Datei im Model-Repository
type APISibling struct {
	Filename string   `json:"rfilename"`
	Size     int64    `json:"size"`
	BlobID   string   `json:"blobId"`
	LFS      *LFSInfo `json:"lfs,omitempty"`
}

// LFSInfo enthaelt LFS-Metadaten fuer grosse Dateien
type LFSInfo struct {
	Size        int64  `json:"size"`
	SHA256      string `json:"sha256"`
	PointerSize int64  `json:"pointerSize"`
}

// Client ist der HuggingFace Hub Client
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiURL     string
	token      string
	userAgent  string
}

// ClientOption ist eine Funktion zur Konfiguration des Clients
type ClientOption func(*Client)

// WithBaseURL setzt eine Custom Base-URL
func WithBaseURL(url string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(url, "/")
		c.apiURL = c.baseURL + "/api"
	}
}

// NewClient erstellt einen neuen HuggingFace Hub Client
func NewClient(options ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: DefaultClientTimeout * time.Second},
		baseURL:    DefaultHubURL,
		apiURL:     DefaultAPIURL,
		userAgent:  ClientUserAgent,
	}
	if token := os.Getenv(EnvHFToken); token != "" {
		c.token = token
	}
	if endpoint := os.Getenv(EnvHFEndpoint); endpoint != "" {
		c.baseURL = strings.TrimSuffix(endpoint, "/")
		c.apiURL = c.baseURL + "/api"
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// GetModelInfoWithContext ruft Metadaten eines Modells mit Context ab
func (c *Client) GetModelInfoWithContext(ctx context.Context, modelID string) (*APIModelInfo, error) {
	if err := validateModelID(modelID); err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/models/%s", c.apiURL, modelID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetworkError, err)
	}
	c.setHeaders(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetworkError, err)
	}
	defer resp.Body.Close()
	if err := c.handleResponseError(resp); err != nil {
		return nil, err
	}
	var info APIModelInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return &info, nil
}

// HasToken prueft ob ein Token konfiguriert ist
func (c *Client) HasToken() bool { return c.token != "" }

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func (c *Client) handleResponseError(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusOK, http.StatusPartialContent:
		return nil
	case http.StatusNotFound:
		return ErrModelNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	case http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return fmt.Errorf("%w: status %d - %s", ErrInvalidResponse, resp.StatusCode, string(body))
		}
		return nil
	}
}

// validateModelID akzeptiert "model" (kanonische Modelle wie bert-base-uncased)
// und "owner/model".
func validateModelID(modelID string) error {
	if modelID == "" {
		return fmt.Errorf("%w: modell-id darf nicht leer sein", ErrInvalidModelID)
	}
	parts := strings.Split(modelID, "/")
	if len(parts) > 2 {
		return fmt.Errorf("%w: erwartet format 'model' oder 'owner/model'", ErrInvalidModelID)
	}
	for _, p := range parts {
		if p == "" || p == "." || p == ".." || strings.ContainsAny(p, "\\ ") {
			return fmt.Errorf("%w: ungueltiger bestandteil %q", ErrInvalidModelID, p)
		}
	}
	return nil
}
