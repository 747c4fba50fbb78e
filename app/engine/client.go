package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/repeater"
	"github.com/go-pkgz/repeater/strategy"

	"github.com/agenclip/agenclip/app/enums"
)

// tunnelHeader suppresses the interstitial warning page of the tunnel the engine is usually exposed through
const tunnelHeader = "ngrok-skip-browser-warning"

// maxResponseSize limits json responses from the engine
const maxResponseSize = 4 * 1024 * 1024

// Repeater repeats failed function
type Repeater interface {
	Do(ctx context.Context, fun func() error, errors ...error) (err error)
}

// Client makes requests to the engine. Base URL is passed on every call because
// each dashboard session may be connected to a different engine.
type Client struct {
	httpClient     *http.Client
	repeater       Repeater
	requestTimeout time.Duration
	userAgent      string
}

// ClientParams defines parameters for NewClient
type ClientParams struct {
	HTTPClient     *http.Client  // optional, http.DefaultClient-like client without timeout is made if nil
	Repeater       Repeater      // retries for idempotent requests, single attempt if nil
	RequestTimeout time.Duration // timeout for all requests except uploads, 30s if not set
	Version        string
}

// NewClient makes engine client
func NewClient(p ClientParams) *Client {
	res := &Client{
		httpClient:     p.HTTPClient,
		repeater:       p.Repeater,
		requestTimeout: p.RequestTimeout,
		userAgent:      "agenclip/" + p.Version,
	}
	if res.httpClient == nil {
		// no overall timeout, uploads of long podcasts may take a while
		res.httpClient = &http.Client{}
	}
	if res.repeater == nil {
		res.repeater = repeater.New(&strategy.Once{})
	}
	if res.requestTimeout <= 0 {
		res.requestTimeout = 30 * time.Second
	}
	if p.Version == "" {
		res.userAgent = "agenclip"
	}
	return res
}

type jobIDResponse struct {
	JobID string `json:"job_id"`
}

type statusResponse struct {
	Status    string       `json:"status"`
	ResultURL string       `json:"result_url"`
	Results   []ClipResult `json:"results"`
	Title     string       `json:"title"`
	Error     string       `json:"error"`
}

type libraryResponse struct {
	Files []VideoFile `json:"files"`
}

// Submit uploads the file as multipart field "file" and returns the id of the created job.
// The reader is streamed, nothing is buffered in memory.
func (c *Client) Submit(ctx context.Context, baseURL, filename string, r io.Reader) (string, error) {
	endpoint := baseURL + "/upload"

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		hdr := make(textproto.MIMEHeader)
		hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filepath.Base(filename)))
		hdr.Set("Content-Type", contentType(filename))
		part, err := mw.CreatePart(hdr)
		if err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		if _, err = io.Copy(part, r); err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		_ = pw.CloseWithError(mw.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, pr)
	if err != nil {
		_ = pr.CloseWithError(err)
		return "", &TransportError{Op: "upload", URL: endpoint, Err: err}
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var resp jobIDResponse
	if err := c.do(req, "upload", &resp); err != nil {
		return "", err
	}
	if resp.JobID == "" {
		return "", &TransportError{Op: "upload", URL: endpoint, Err: errors.New("empty job id")}
	}
	log.Printf("[INFO] uploaded %s to %s, job %s", filepath.Base(filename), baseURL, resp.JobID)
	return resp.JobID, nil
}

// Poll requests the status of the job once
func (c *Client) Poll(ctx context.Context, baseURL, jobID string) (Job, error) {
	endpoint := baseURL + "/status/" + url.PathEscape(jobID)

	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return Job{}, &TransportError{Op: "status", URL: endpoint, Err: err}
	}

	var resp statusResponse
	if err := c.do(req, "status", &resp); err != nil {
		return Job{}, err
	}
	return makeJob(baseURL, jobID, resp), nil
}

// Reprocess asks the engine to run the pipeline again for a file from its library
func (c *Client) Reprocess(ctx context.Context, baseURL, filename string) (string, error) {
	endpoint := baseURL + "/reprocess"

	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	body, err := json.Marshal(struct {
		Filename string `json:"filename"`
	}{Filename: filename})
	if err != nil {
		return "", fmt.Errorf("failed to marshal reprocess request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", &TransportError{Op: "reprocess", URL: endpoint, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	var resp jobIDResponse
	if err := c.do(req, "reprocess", &resp); err != nil {
		return "", err
	}
	if resp.JobID == "" {
		return "", &TransportError{Op: "reprocess", URL: endpoint, Err: errors.New("empty job id")}
	}
	log.Printf("[INFO] reprocess %s on %s, job %s", filename, baseURL, resp.JobID)
	return resp.JobID, nil
}

// Library lists source videos stored by the engine. The request is retried with the client's repeater.
func (c *Client) Library(ctx context.Context, baseURL string) ([]VideoFile, error) {
	endpoint := baseURL + "/library"

	var resp libraryResponse
	err := c.repeater.Do(ctx, func() error {
		reqCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, http.NoBody)
		if err != nil {
			return &TransportError{Op: "library", URL: endpoint, Err: err}
		}
		resp = libraryResponse{}
		return c.do(req, "library", &resp)
	})
	if err != nil {
		return nil, err
	}
	if resp.Files == nil {
		return []VideoFile{}, nil
	}
	return resp.Files, nil
}

// do sends the request and decodes json response into res
func (c *Client) do(req *http.Request, op string, res any) error {
	req.Header.Set(tunnelHeader, "true")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	endpoint := req.URL.String()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Op: op, URL: endpoint, Err: err}
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			log.Printf("[WARN] failed to close response body: %v", closeErr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))
		return &TransportError{Op: op, URL: endpoint, Status: resp.StatusCode}
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(res); err != nil {
		return &TransportError{Op: op, URL: endpoint, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}

// makeJob converts status response to Job. Relative clip urls are resolved against the engine base url,
// the legacy single-result payload becomes a one-element list.
func makeJob(baseURL, jobID string, resp statusResponse) Job {
	status, err := enums.ParseJobStatus(strings.ToLower(strings.TrimSpace(resp.Status)))
	if err != nil {
		log.Printf("[WARN] job %s: %v", jobID, err)
		status = enums.JobStatusUnknown
	}
	job := Job{ID: jobID, Status: status}

	switch status {
	case enums.JobStatusCompleted:
		results := resp.Results
		if len(results) == 0 && resp.ResultURL != "" {
			results = []ClipResult{{URL: resp.ResultURL, Title: resp.Title}}
		}
		if len(results) == 0 {
			return Job{ID: jobID, Status: enums.JobStatusFailed, Error: errNoResults}
		}
		job.Results = make([]ClipResult, 0, len(results))
		for _, r := range results {
			r.URL = resolveURL(baseURL, r.URL)
			job.Results = append(job.Results, r)
		}
	case enums.JobStatusFailed:
		job.Error = resp.Error
		if job.Error == "" {
			job.Error = "processing failed"
		}
	}
	return job
}

// resolveURL prefixes relative clip url with engine base url
func resolveURL(baseURL, clipURL string) string {
	if u, err := url.Parse(clipURL); err == nil {
		if u.IsAbs() {
			return clipURL
		}
		if u.Host != "" { // protocol-relative, takes the scheme of the engine
			if base, err := url.Parse(baseURL); err == nil {
				return base.ResolveReference(u).String()
			}
		}
	}
	if !strings.HasPrefix(clipURL, "/") {
		clipURL = "/" + clipURL
	}
	return baseURL + clipURL
}

func contentType(filename string) string {
	if ct := mime.TypeByExtension(filepath.Ext(filename)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
