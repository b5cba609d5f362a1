// Package drive talks to the document storage provider (Drive file API plus
// the Docs batch-update API). Every method is a single rate-limited HTTP call;
// callers are expected to wrap them in the retry executor.
package drive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/yoyaba/gtmdocs/internal/retry"
)

// Sentinel errors for storage provider failures.
var (
	ErrRateLimited      = errors.New("drive rate limited")
	ErrUnavailable      = errors.New("drive unavailable")
	ErrPermissionDenied = errors.New("drive permission denied")
	ErrRequestFailed    = errors.New("drive request failed")
)

const folderMimeType = "application/vnd.google-apps.folder"

// Client is the interface for the storage provider.
type Client interface {
	// FindFolder returns the ID of a folder with the exact name under
	// parentID, or "" when absent.
	FindFolder(ctx context.Context, name, parentID string) (string, error)
	CreateFolder(ctx context.Context, name, parentID string) (string, error)
	// CopyFile copies fileID into parentID under a new name and returns the
	// new file ID.
	CopyFile(ctx context.Context, fileID, name, parentID string) (string, error)
	// ReplaceText performs one bulk substitution pass over a document; each
	// key is matched literally and case-sensitively.
	ReplaceText(ctx context.Context, docID string, replacements map[string]string) error
	// DocumentRevision returns the current revision token of a document.
	DocumentRevision(ctx context.Context, docID string) (string, error)
	// FindFile returns the ID of a non-folder file by exact name under
	// parentID, or "" when absent.
	FindFile(ctx context.Context, name, parentID string) (string, error)
	CreateJSONFile(ctx context.Context, name, parentID string, content []byte) (string, error)
	UpdateJSONFile(ctx context.Context, fileID string, content []byte) error
	DownloadFile(ctx context.Context, fileID string) ([]byte, error)
	// GrantWriter shares a file or folder with an account.
	GrantWriter(ctx context.Context, fileID, email string) error
}

// HTTPClient implements Client against the Drive v3 and Docs v1 REST APIs.
type HTTPClient struct {
	baseURL     string
	docsBaseURL string
	token       string
	client      *http.Client
}

func NewHTTPClient(baseURL, docsBaseURL, token string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL:     baseURL,
		docsBaseURL: docsBaseURL,
		token:       token,
		client:      &http.Client{Timeout: timeout},
	}
}

// Classify maps storage provider errors onto the retry taxonomy. Rate limits
// and transient unavailability are retriable; permission and validation
// failures are fatal.
func Classify(err error) retry.Classification {
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUnavailable) {
		return retry.Retriable
	}
	return retry.Fatal
}

func (c *HTTPClient) FindFolder(ctx context.Context, name, parentID string) (string, error) {
	q := fmt.Sprintf("name = '%s' and mimeType = '%s' and '%s' in parents and trashed = false",
		escapeQuery(name), folderMimeType, escapeQuery(parentID))
	return c.findByQuery(ctx, q)
}

func (c *HTTPClient) FindFile(ctx context.Context, name, parentID string) (string, error) {
	q := fmt.Sprintf("name = '%s' and mimeType != '%s' and '%s' in parents and trashed = false",
		escapeQuery(name), folderMimeType, escapeQuery(parentID))
	return c.findByQuery(ctx, q)
}

func (c *HTTPClient) findByQuery(ctx context.Context, q string) (string, error) {
	params := url.Values{
		"q":        {q},
		"fields":   {"files(id,name)"},
		"pageSize": {"1"},
	}
	u := fmt.Sprintf("%s/drive/v3/files?%s", c.baseURL, params.Encode())

	var result struct {
		Files []struct {
			ID string `json:"id"`
		} `json:"files"`
	}
	if err := c.do(ctx, http.MethodGet, u, "", nil, &result); err != nil {
		return "", err
	}
	if len(result.Files) == 0 {
		return "", nil
	}
	return result.Files[0].ID, nil
}

func (c *HTTPClient) CreateFolder(ctx context.Context, name, parentID string) (string, error) {
	body, _ := json.Marshal(map[string]any{
		"name":     name,
		"mimeType": folderMimeType,
		"parents":  []string{parentID},
	})
	u := c.baseURL + "/drive/v3/files?fields=id"

	var created struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, u, "application/json", bytes.NewReader(body), &created); err != nil {
		return "", err
	}
	return created.ID, nil
}

func (c *HTTPClient) CopyFile(ctx context.Context, fileID, name, parentID string) (string, error) {
	body, _ := json.Marshal(map[string]any{
		"name":    name,
		"parents": []string{parentID},
	})
	u := fmt.Sprintf("%s/drive/v3/files/%s/copy?fields=id", c.baseURL, url.PathEscape(fileID))

	var copied struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, u, "application/json", bytes.NewReader(body), &copied); err != nil {
		return "", err
	}
	return copied.ID, nil
}

func (c *HTTPClient) ReplaceText(ctx context.Context, docID string, replacements map[string]string) error {
	if len(replacements) == 0 {
		return nil
	}

	// Deterministic request order keeps retries comparable in provider logs.
	keys := make([]string, 0, len(replacements))
	for k := range replacements {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	requests := make([]map[string]any, 0, len(keys))
	for _, k := range keys {
		requests = append(requests, map[string]any{
			"replaceAllText": map[string]any{
				"containsText": map[string]any{
					"text":      k,
					"matchCase": true,
				},
				"replaceText": replacements[k],
			},
		})
	}

	body, _ := json.Marshal(map[string]any{"requests": requests})
	u := fmt.Sprintf("%s/v1/documents/%s:batchUpdate", c.docsBaseURL, url.PathEscape(docID))
	return c.do(ctx, http.MethodPost, u, "application/json", bytes.NewReader(body), nil)
}

func (c *HTTPClient) DocumentRevision(ctx context.Context, docID string) (string, error) {
	u := fmt.Sprintf("%s/v1/documents/%s?fields=revisionId", c.docsBaseURL, url.PathEscape(docID))

	var doc struct {
		RevisionID string `json:"revisionId"`
	}
	if err := c.do(ctx, http.MethodGet, u, "", nil, &doc); err != nil {
		return "", err
	}
	if doc.RevisionID == "" {
		return "1", nil
	}
	return doc.RevisionID, nil
}

func (c *HTTPClient) CreateJSONFile(ctx context.Context, name, parentID string, content []byte) (string, error) {
	metadata, _ := json.Marshal(map[string]any{
		"name":     name,
		"parents":  []string{parentID},
		"mimeType": "application/json",
	})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	metaHeader := textproto.MIMEHeader{}
	metaHeader.Set("Content-Type", "application/json; charset=UTF-8")
	metaPart, err := mw.CreatePart(metaHeader)
	if err != nil {
		return "", fmt.Errorf("build upload: %w", err)
	}
	metaPart.Write(metadata)

	mediaHeader := textproto.MIMEHeader{}
	mediaHeader.Set("Content-Type", "application/json")
	mediaPart, err := mw.CreatePart(mediaHeader)
	if err != nil {
		return "", fmt.Errorf("build upload: %w", err)
	}
	mediaPart.Write(content)
	mw.Close()

	u := c.baseURL + "/upload/drive/v3/files?uploadType=multipart&fields=id"
	contentType := "multipart/related; boundary=" + mw.Boundary()

	var created struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, u, contentType, &buf, &created); err != nil {
		return "", err
	}
	return created.ID, nil
}

func (c *HTTPClient) UpdateJSONFile(ctx context.Context, fileID string, content []byte) error {
	u := fmt.Sprintf("%s/upload/drive/v3/files/%s?uploadType=media", c.baseURL, url.PathEscape(fileID))
	return c.do(ctx, http.MethodPatch, u, "application/json", bytes.NewReader(content), nil)
}

func (c *HTTPClient) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	u := fmt.Sprintf("%s/drive/v3/files/%s?alt=media", c.baseURL, url.PathEscape(fileID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp); err != nil {
		return nil, err
	}
	return io.ReadAll(resp.Body)
}

func (c *HTTPClient) GrantWriter(ctx context.Context, fileID, email string) error {
	body, _ := json.Marshal(map[string]any{
		"type":         "user",
		"role":         "writer",
		"emailAddress": email,
	})
	u := fmt.Sprintf("%s/drive/v3/files/%s/permissions", c.baseURL, url.PathEscape(fileID))
	return c.do(ctx, http.MethodPost, u, "application/json", bytes.NewReader(body), nil)
}

// do issues one request and decodes the JSON response into out when non-nil.
func (c *HTTPClient) do(ctx context.Context, method, u, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp); err != nil {
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func classifyStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d", ErrRateLimited, resp.StatusCode)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrPermissionDenied, resp.StatusCode)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	default:
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d: %s", ErrRequestFailed, resp.StatusCode, detail)
	}
}

// classifyTransportError maps transport-level errors to sentinel errors.
func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func escapeQuery(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, `\`, `\\`), `'`, `\'`)
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
