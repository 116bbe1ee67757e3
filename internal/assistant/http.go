package assistant

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// HTTPOptions configures an HTTPBackend
type HTTPOptions struct {
	BaseURL      string
	APIKey       string
	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	Logger       *zap.Logger
}

// HTTPBackend talks to a remote assistant service.
//
//	POST /v1/complete  -> {"text": "..."}
//	POST /v1/stream    -> NDJSON lines {"delta": "..."} ... {"done": true}
//
// Either endpoint may answer {"error": "..."}; 429 means the caller is out
// of quota.
type HTTPBackend struct {
	resty  *resty.Client
	stream *retryablehttp.Client
	base   string
	apiKey string
	logger *zap.Logger
}

type httpRequest struct {
	SessionID      string   `json:"session_id"`
	Prompt         string   `json:"prompt"`
	SystemPrompt   string   `json:"system_prompt,omitempty"`
	AllowedTools   []string `json:"allowed_tools,omitempty"`
	PermissionMode string   `json:"permission_mode,omitempty"`
	MaxTurns       int      `json:"max_turns,omitempty"`
	Model          string   `json:"model,omitempty"`
}

type httpReply struct {
	Text  string `json:"text"`
	Delta string `json:"delta"`
	Done  bool   `json:"done"`
	Error string `json:"error"`
}

// NewHTTPBackend creates a backend for the service at opts.BaseURL
func NewHTTPBackend(opts HTTPOptions) (*HTTPBackend, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("assistant: http backend needs a base URL")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	if opts.RetryWaitMin <= 0 {
		opts.RetryWaitMin = 500 * time.Millisecond
	}
	if opts.RetryWaitMax <= 0 {
		opts.RetryWaitMax = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = opts.RetryMax
	retryClient.RetryWaitMin = opts.RetryWaitMin
	retryClient.RetryWaitMax = opts.RetryWaitMax
	retryClient.Logger = nil
	retryClient.CheckRetry = checkRetry
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	restyClient := resty.New().
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetTimeout(opts.Timeout).
		SetHeader("User-Agent", "webterm-assistant/1.0").
		SetRetryCount(opts.RetryMax).
		SetRetryWaitTime(opts.RetryWaitMin).
		SetRetryMaxWaitTime(opts.RetryWaitMax).
		SetJSONMarshaler(sonic.Marshal).
		SetJSONUnmarshaler(sonic.Unmarshal)
	restyClient.SetTransport(retryClient.HTTPClient.Transport)
	if opts.APIKey != "" {
		restyClient.SetAuthToken(opts.APIKey)
	}

	return &HTTPBackend{
		resty:  restyClient,
		stream: retryClient,
		base:   strings.TrimRight(opts.BaseURL, "/"),
		apiKey: opts.APIKey,
		logger: opts.Logger.Named("assistant.http"),
	}, nil
}

// checkRetry retries connection failures and 5xx, never quota refusals
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

func (h *HTTPBackend) Name() string { return "http" }

func newHTTPRequest(req Request) httpRequest {
	return httpRequest{
		SessionID:      req.SessionID,
		Prompt:         req.Prompt,
		SystemPrompt:   req.Profile.SystemPrompt,
		AllowedTools:   req.Profile.AllowedTools,
		PermissionMode: req.Profile.PermissionMode,
		MaxTurns:       req.Profile.MaxTurns,
		Model:          req.Profile.Model,
	}
}

// Complete implements Backend
func (h *HTTPBackend) Complete(ctx context.Context, req Request) (string, error) {
	var reply httpReply
	resp, err := h.resty.R().
		SetContext(ctx).
		SetBody(newHTTPRequest(req)).
		SetResult(&reply).
		SetError(&reply).
		Post("/v1/complete")
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		if resp != nil && resp.StatusCode() != 0 {
			// The service answered but the body did not decode
			if sErr := statusErr(resp.StatusCode(), ""); sErr != nil {
				return "", sErr
			}
			return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		return "", fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	if err := statusErr(resp.StatusCode(), reply.Error); err != nil {
		return "", err
	}
	if reply.Error != "" {
		return "", fmt.Errorf("assistant reported an error: %s", reply.Error)
	}
	return reply.Text, nil
}

// Stream implements Backend over an NDJSON response
func (h *HTTPBackend) Stream(ctx context.Context, req Request, onDelta DeltaFunc) error {
	body, err := sonic.Marshal(newHTTPRequest(req))
	if err != nil {
		return fmt.Errorf("encode assistant request: %w", err)
	}

	httpReq, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, h.base+"/v1/stream", body)
	if err != nil {
		return fmt.Errorf("build assistant request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/x-ndjson")
	if h.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.stream.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var reply httpReply
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		_ = sonic.Unmarshal(raw, &reply)
		return statusErr(resp.StatusCode, reply.Error)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), maxLineBuffer)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var reply httpReply
		if err := sonic.Unmarshal(line, &reply); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		switch {
		case reply.Error != "":
			if quotaHint(reply.Error) {
				return fmt.Errorf("%w: %s", ErrQuotaExceeded, reply.Error)
			}
			return fmt.Errorf("assistant reported an error: %s", reply.Error)
		case reply.Done:
			return nil
		case reply.Delta != "":
			if err := onDelta(reply.Delta); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	// Stream ended without a done marker
	return fmt.Errorf("%w: stream ended early", ErrMalformedResponse)
}

func statusErr(status int, detail string) error {
	switch {
	case status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrQuotaExceeded, detail)
	case status >= 500:
		return fmt.Errorf("%w: status %d %s", ErrUnreachable, status, detail)
	default:
		return fmt.Errorf("assistant rejected the request: status %d %s", status, detail)
	}
}
