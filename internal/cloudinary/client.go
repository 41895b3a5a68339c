package cloudinary

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Client uploads scan-code images to Cloudinary using their REST API.
type Client struct {
	CloudName string
	APIKey    string
	APISecret string
	Folder    string
	BaseURL   string
	HTTP      *http.Client
	now       func() time.Time
}

// New creates a Cloudinary client.
func New(cloudName, apiKey, apiSecret, folder string) *Client {
	return &Client{
		CloudName: cloudName,
		APIKey:    apiKey,
		APISecret: apiSecret,
		Folder:    folder,
		BaseURL:   "https://api.cloudinary.com",
		HTTP:      &http.Client{Timeout: 30 * time.Second},
		now:       time.Now,
	}
}

// UploadResult holds the response from Cloudinary after a successful upload.
type UploadResult struct {
	PublicID  string `json:"public_id"`
	SecureURL string `json:"secure_url"`
	Format    string `json:"format"`
	Bytes     int    `json:"bytes"`
}

// UploadPNG stores data under publicID, overwriting an earlier upload, and
// returns the secure URL.
func (c *Client) UploadPNG(ctx context.Context, data []byte, publicID string) (string, error) {
	params := map[string]string{
		"timestamp": strconv.FormatInt(c.now().Unix(), 10),
		"public_id": publicID,
		"overwrite": "true",
	}
	if c.Folder != "" {
		params["folder"] = c.Folder
	}
	params["signature"] = c.sign(params)
	params["api_key"] = c.APIKey

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range params {
		_ = w.WriteField(k, v)
	}
	part, err := w.CreateFormFile("file", publicID+".png")
	if err != nil {
		return "", fmt.Errorf("cloudinary: create form file failed: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("cloudinary: write file failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("cloudinary: close form failed: %w", err)
	}

	url := fmt.Sprintf("%s/v1_1/%s/image/upload", strings.TrimRight(c.BaseURL, "/"), c.CloudName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return "", fmt.Errorf("cloudinary: create request failed: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("cloudinary: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("cloudinary: upload failed (%d): %s", resp.StatusCode, string(body))
	}

	var result UploadResult
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("cloudinary: decode response failed: %w", err)
	}
	return result.SecureURL, nil
}

// sign computes the Cloudinary API signature from the given params.
// api_key, file and resource_type are not signed.
func (c *Client) sign(params map[string]string) string {
	excludeKeys := map[string]bool{"api_key": true, "file": true, "resource_type": true}

	pairs := make([]string, 0, len(params))
	for k, v := range params {
		if !excludeKeys[k] && v != "" {
			pairs = append(pairs, k+"="+v)
		}
	}
	sort.Strings(pairs)

	h := sha1.New()
	h.Write([]byte(strings.Join(pairs, "&") + c.APISecret))
	return fmt.Sprintf("%x", h.Sum(nil))
}
