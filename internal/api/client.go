package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// TokenSource supplies the bearer token attached to authenticated requests.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// APIError is a non-2xx response decoded from the service envelope.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api: status %d", e.Status)
}

// IsClientError reports whether the service rejected the request (4xx),
// as opposed to a transient server or transport failure.
func (e *APIError) IsClientError() bool {
	return e.Status >= 400 && e.Status < 500
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type Client struct {
	baseURL  string
	http     *http.Client
	tokens   TokenSource
	deviceID string
}

func NewClient(baseURL, deviceID string) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     &http.Client{Timeout: 15 * time.Second},
		deviceID: deviceID,
	}
}

// UseTokens sets the token source for authenticated requests. Wired after
// construction because the token refresher itself calls back into the client.
func (c *Client) UseTokens(tokens TokenSource) {
	c.tokens = tokens
}

func (c *Client) BaseURL() string  { return c.baseURL }
func (c *Client) DeviceID() string { return c.deviceID }

// Ping probes service reachability.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return &APIError{Status: resp.StatusCode}
	}
	return nil
}

func (c *Client) Template(ctx context.Context, jobID string) (Template, error) {
	var t Template
	err := c.do(ctx, http.MethodGet, "/v1/jobs/"+jobID+"/template", nil, &t)
	return t, err
}

func (c *Client) Offers(ctx context.Context) ([]Offer, error) {
	var offers []Offer
	err := c.do(ctx, http.MethodGet, "/v1/agents/me/offers", nil, &offers)
	return offers, err
}

func (c *Client) PresignMedia(ctx context.Context, jobID, contentType, stepID string) (PresignedURL, error) {
	q := url.Values{}
	q.Set("content_type", contentType)
	q.Set("step_id", stepID)

	var p PresignedURL
	err := c.do(ctx, http.MethodGet, "/v1/jobs/"+jobID+"/media/presigned?"+q.Encode(), nil, &p)
	return p, err
}

func (c *Client) RegisterMedia(ctx context.Context, jobID string, reg MediaRegistration) (Media, error) {
	var m Media
	err := c.do(ctx, http.MethodPost, "/v1/jobs/"+jobID+"/media", reg, &m)
	return m, err
}

// MultipartUpload carries one file plus its metadata for the proxied upload route.
type MultipartUpload struct {
	StepID     string
	File       io.Reader
	FileName   string
	MediaType  string
	Lat        float64
	Lng        float64
	CapturedAt time.Time
}

// UploadMediaMultipart transfers bytes and metadata in a single request
// proxied by the service.
func (c *Client) UploadMediaMultipart(ctx context.Context, jobID string, up MultipartUpload) (Media, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", up.FileName)
	if err != nil {
		return Media{}, err
	}
	if _, err := io.Copy(part, up.File); err != nil {
		return Media{}, err
	}

	fields := map[string]string{
		"step_id":     up.StepID,
		"media_type":  up.MediaType,
		"lat":         strconv.FormatFloat(up.Lat, 'f', -1, 64),
		"lng":         strconv.FormatFloat(up.Lng, 'f', -1, 64),
		"captured_at": up.CapturedAt.UTC().Format(time.RFC3339),
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return Media{}, err
		}
	}
	if err := w.Close(); err != nil {
		return Media{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/jobs/"+jobID+"/media/upload", &buf)
	if err != nil {
		return Media{}, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if err := c.authorize(ctx, req); err != nil {
		return Media{}, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Media{}, err
	}
	defer resp.Body.Close()

	var m Media
	if err := decodeEnvelope(resp, &m); err != nil {
		return Media{}, err
	}
	return m, nil
}

func (c *Client) SubmitSurvey(ctx context.Context, jobID string, sub SurveySubmission) error {
	return c.do(ctx, http.MethodPost, "/v1/jobs/"+jobID+"/survey", sub, nil)
}

func (c *Client) ConfirmArrival(ctx context.Context, jobID string, loc LocationUpdate) error {
	return c.do(ctx, http.MethodPost, "/v1/jobs/"+jobID+"/arrive", loc, nil)
}

func (c *Client) UpdateLocation(ctx context.Context, loc LocationUpdate) error {
	return c.do(ctx, http.MethodPost, "/v1/agents/me/location", loc, nil)
}

// RefreshToken exchanges a refresh token for a new pair. Unauthenticated by
// design: it is what the token source calls when the access token expires.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (TokenPair, error) {
	body, _ := json.Marshal(map[string]string{"refresh_token": refreshToken})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/auth/refresh", bytes.NewReader(body))
	if err != nil {
		return TokenPair{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return TokenPair{}, err
	}
	defer resp.Body.Close()

	var pair TokenPair
	if err := decodeEnvelope(resp, &pair); err != nil {
		return TokenPair{}, err
	}
	return pair, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if err := c.authorize(ctx, req); err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return decodeEnvelope(resp, out)
}

func (c *Client) authorize(ctx context.Context, req *http.Request) error {
	if c.deviceID != "" {
		req.Header.Set("X-Device-ID", c.deviceID)
	}
	if c.tokens == nil {
		return nil
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return nil
}

func decodeEnvelope(resp *http.Response, out any) error {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	var env envelope
	_ = json.Unmarshal(raw, &env)

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if len(env.Data) == 0 {
		// some endpoints reply without the envelope
		return json.Unmarshal(raw, out)
	}
	return json.Unmarshal(env.Data, out)
}
