package token

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// POPProvider exchanges account credentials for an RTC token against a
// POP-style signed API. Requests are form-POSTs whose parameters are signed
// with HMAC-SHA1 over a canonicalized query string.
type POPProvider struct {
	// Endpoint is the full API URL, e.g. "https://dyvmsapi.example.com/".
	Endpoint string

	// Region and Version select the API deployment; both have defaults.
	Region  string
	Version string

	// HTTPClient defaults to a client with a 10s timeout.
	HTTPClient *http.Client

	// now and nonce are injectable for deterministic tests.
	now   func() time.Time
	nonce func() string
}

const (
	defaultPOPRegion  = "cn-hangzhou"
	defaultPOPVersion = "2017-05-25"
)

func NewPOPProvider(endpoint string) *POPProvider {
	return &POPProvider{Endpoint: endpoint}
}

// popResponse is the API envelope. Module carries the token payload as a
// JSON string when Code is "OK".
type popResponse struct {
	Code    string `json:"Code"`
	Message string `json:"Message"`
	Module  string `json:"Module"`
}

func (p *POPProvider) FetchToken(ctx context.Context, creds Credentials, deviceID string) (string, error) {
	if !creds.Valid() {
		return "", errors.New("token: credentials are incomplete")
	}
	if deviceID == "" {
		return "", errors.New("token: device id is required")
	}
	if p.Endpoint == "" {
		return "", errors.New("token: endpoint is not configured")
	}

	params := map[string]string{
		"Action":          "GetRtcToken",
		"UserId":          creds.UserID,
		"DeviceId":        deviceID,
		"IsCustomAccount": "false",
		"RegionId":        p.region(),
		"Version":         p.version(),

		"AccessKeyId":      creds.AccessKeyID,
		"Format":           "JSON",
		"SignatureMethod":  "HMAC-SHA1",
		"SignatureNonce":   p.newNonce(),
		"SignatureVersion": "1.0",
		"Timestamp":        p.timeNow().UTC().Format("2006-01-02T15:04:05Z"),
	}

	canonical := canonicalize(params)
	signature := sign(canonical, creds.AccessKeySecret)
	body := canonical + "&Signature=" + popEncode(signature)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint, strings.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client().Do(req)
	if err != nil {
		return "", fmt.Errorf("token: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("token: read response: %w", err)
	}

	var out popResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("token: decode response (status %d): %w", resp.StatusCode, err)
	}
	if out.Code != "OK" {
		code := out.Code
		if code == "" {
			code = "UNKNOWN"
		}
		return "", &Error{Code: code, Message: out.Message}
	}
	if out.Module == "" {
		return "", &Error{Code: "EMPTY_TOKEN", Message: "response carried no token payload"}
	}
	return out.Module, nil
}

// canonicalize produces the sorted, encoded query string the signature
// covers. Key order is byte-wise ascending per the signing rules.
func canonicalize(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(popEncode(k))
		b.WriteByte('=')
		b.WriteString(popEncode(params[k]))
	}
	return b.String()
}

func sign(canonical, secret string) string {
	stringToSign := "POST&%2F&" + popEncode(canonical)
	mac := hmac.New(sha1.New, []byte(secret+"&"))
	mac.Write([]byte(stringToSign))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// popEncode is RFC 3986 percent-encoding: spaces become %20 (never '+') and
// '~' stays literal.
func popEncode(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

func (p *POPProvider) region() string {
	if p.Region != "" {
		return p.Region
	}
	return defaultPOPRegion
}

func (p *POPProvider) version() string {
	if p.Version != "" {
		return p.Version
	}
	return defaultPOPVersion
}

func (p *POPProvider) client() *http.Client {
	if p.HTTPClient != nil {
		return p.HTTPClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

func (p *POPProvider) timeNow() time.Time {
	if p.now != nil {
		return p.now()
	}
	return time.Now()
}

func (p *POPProvider) newNonce() string {
	if p.nonce != nil {
		return p.nonce()
	}
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
