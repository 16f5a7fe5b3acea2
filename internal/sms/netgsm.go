package sms

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"otp-service/internal/config"
	"otp-service/internal/util"
)

const (
	netgsmDefaultTimeout = 10 * time.Second
	maxResponseBytes     = 4096
)

var netgsmSuccessCodes = []string{"00", "01", "02"}

var netgsmErrors = map[string]string{
	"20": "message text is invalid or exceeds the character limit",
	"30": "invalid credentials or API access is not permitted from this IP",
	"40": "message header is not registered",
	"50": "account is not allowed to send IYS controlled messages",
	"51": "IYS brand code is missing",
	"70": "invalid or missing query parameters",
	"80": "sending limit exceeded",
	"85": "duplicate sending limit exceeded for this number",
}

type NetgsmSender struct {
	cfg        config.NetgsmConfig
	httpClient *http.Client
}

func NewNetgsmSender(cfg config.NetgsmConfig) *NetgsmSender {
	if cfg.URL == "" {
		cfg.URL = config.DefaultNetgsmURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = netgsmDefaultTimeout
	}
	return &NetgsmSender{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (s *NetgsmSender) Name() string {
	return TransportNetgsm
}

func (s *NetgsmSender) Validate() error {
	var missing []string
	if s.cfg.UserCode == "" {
		missing = append(missing, "NETGSM_USERCODE")
	}
	if s.cfg.Password == "" {
		missing = append(missing, "NETGSM_PASSWORD")
	}
	if s.cfg.MsgHeader == "" {
		missing = append(missing, "NETGSM_MSGHEADER")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingCredentials, strings.Join(missing, ", "))
	}
	return nil
}

func (s *NetgsmSender) Send(ctx context.Context, phoneDigits, message string) (string, error) {
	endpoint, err := url.Parse(s.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("failed to parse netgsm url: %w", err)
	}
	q := endpoint.Query()
	q.Set("usercode", s.cfg.UserCode)
	q.Set("password", s.cfg.Password)
	q.Set("gsmno", phoneDigits)
	q.Set("message", message)
	q.Set("msgheader", s.cfg.MsgHeader)
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to build netgsm request: %w", err)
	}

	start := time.Now()
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to reach netgsm: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read netgsm response: %w", err)
	}
	text := strings.TrimSpace(string(body))

	util.Debug("Netgsm responded",
		util.Phone("+"+phoneDigits),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("netgsm returned HTTP %d", resp.StatusCode)
	}

	for _, code := range netgsmSuccessCodes {
		if strings.HasPrefix(text, code) {
			return text, nil
		}
	}

	code := text
	if fields := strings.Fields(text); len(fields) > 0 {
		code = fields[0]
	}
	desc, ok := netgsmErrors[code]
	if !ok {
		desc = "unknown error"
	}
	return "", &GatewayError{Gateway: TransportNetgsm, Code: code, Description: desc}
}

var _ Sender = (*NetgsmSender)(nil)
