package iyzipay

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	pathSubmerchant       = "/onboarding/submerchant"
	pathThreeDSInitialize = "/payment/3dsecure/initialize"
	pathThreeDSAuth       = "/payment/3dsecure/auth"
	pathApprove           = "/payment/iyzipos/item/approve"
	pathCancel            = "/payment/cancel"
	pathRefund            = "/payment/refund"

	authScheme = "IYZWSv2"
)

// ErrMalformedResponse - тело ответа не разобралось или в нём нет статуса из конверта
var ErrMalformedResponse = errors.New("iyzipay: malformed response")

// Options - настройки клиента, собираются один раз при старте из конфига
type Options struct {
	BaseURL   string
	APIKey    string
	SecretKey string
	Timeout   time.Duration
}

// Client - клиент провайдера. Запросы не повторяются, ошибки сети отдаются вызывающему.
type Client struct {
	opts   Options
	http   *http.Client
	log    *slog.Logger
	random func() string
}

// NewClient создаёт клиента; httpClient может быть nil
func NewClient(log *slog.Logger, opts Options, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{
		opts:   opts,
		http:   httpClient,
		log:    log,
		random: randomKey,
	}
}

func randomKey() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 10) + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (c *Client) CreateSubmerchant(ctx context.Context, req *CreateSubmerchantRequest) (*SubmerchantResponse, error) {
	resp := &SubmerchantResponse{}
	if err := c.post(ctx, pathSubmerchant, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) InitializeThreeDS(ctx context.Context, req *ThreeDSInitializeRequest) (*ThreeDSInitializeResponse, error) {
	resp := &ThreeDSInitializeResponse{}
	if err := c.post(ctx, pathThreeDSInitialize, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) AuthThreeDS(ctx context.Context, req *ThreeDSAuthRequest) (*PaymentResponse, error) {
	resp := &PaymentResponse{}
	if err := c.post(ctx, pathThreeDSAuth, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) Approve(ctx context.Context, req *ApprovalRequest) (*ApprovalResponse, error) {
	resp := &ApprovalResponse{}
	if err := c.post(ctx, pathApprove, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) Cancel(ctx context.Context, req *CancelRequest) (*CancelResponse, error) {
	resp := &CancelResponse{}
	if err := c.post(ctx, pathCancel, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) Refund(ctx context.Context, req *RefundRequest) (*RefundResponse, error) {
	resp := &RefundResponse{}
	if err := c.post(ctx, pathRefund, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, out enveloped) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrapf(err, "iyzipay: encode %s", path)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.opts.BaseURL, "/")+path, bytes.NewReader(body))
	if err != nil {
		return errors.Wrapf(err, "iyzipay: build %s", path)
	}

	rnd := c.random()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-iyzi-rnd", rnd)
	req.Header.Set("Authorization", Authorization(c.opts.APIKey, c.opts.SecretKey, rnd, path, body))

	started := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "iyzipay: request %s", path)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return errors.Wrapf(err, "iyzipay: read %s", path)
	}

	c.log.Debug("provider call",
		slog.String("path", path),
		slog.Int("status", res.StatusCode),
		slog.Duration("duration", time.Since(started)),
	)

	if err := json.Unmarshal(raw, out); err != nil {
		return errors.Wrapf(ErrMalformedResponse, "%s: http %d: %v", path, res.StatusCode, err)
	}
	switch out.envelope().Status {
	case StatusSuccess, StatusFailure:
	default:
		return errors.Wrapf(ErrMalformedResponse, "%s: http %d: unexpected status %q", path, res.StatusCode, out.envelope().Status)
	}
	out.setRaw(raw)
	return nil
}

// Authorization собирает заголовок IYZWSv2: HMAC-SHA256(secret, rnd + path + body) в hex,
// затем apiKey, randomKey и подпись одной строкой в base64
func Authorization(apiKey, secretKey, rnd, path string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secretKey))
	mac.Write([]byte(rnd))
	mac.Write([]byte(path))
	mac.Write(body)
	signature := hex.EncodeToString(mac.Sum(nil))

	params := "apiKey:" + apiKey + "&randomKey:" + rnd + "&signature:" + signature
	return authScheme + " " + base64.StdEncoding.EncodeToString([]byte(params))
}
