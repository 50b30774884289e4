package token

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"
	"time"
)

var testCreds = Credentials{
	AccessKeyID:     "testKeyId",
	AccessKeySecret: "testKeySecret",
	UserID:          "alice",
}

func fixedPOP(endpoint string) *POPProvider {
	p := NewPOPProvider(endpoint)
	p.now = func() time.Time { return time.Date(2024, 3, 1, 12, 30, 45, 0, time.UTC) }
	p.nonce = func() string { return "deadbeefdeadbeefdeadbeefdeadbeef" }
	return p
}

// verifySignature recomputes the HMAC-SHA1 signature from the received form
// body and checks it against the Signature parameter.
func verifySignature(t *testing.T, body, secret string) url.Values {
	t.Helper()
	form, err := url.ParseQuery(body)
	if err != nil {
		t.Fatalf("parse form: %v", err)
	}
	got := form.Get("Signature")
	if got == "" {
		t.Fatal("request carried no Signature")
	}

	keys := make([]string, 0, len(form))
	for k := range form {
		if k == "Signature" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var parts []string
	for _, k := range keys {
		parts = append(parts, popEncode(k)+"="+popEncode(form.Get(k)))
	}
	canonical := strings.Join(parts, "&")

	mac := hmac.New(sha1.New, []byte(secret+"&"))
	mac.Write([]byte("POST&%2F&" + popEncode(canonical)))
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if got != want {
		t.Fatalf("signature mismatch: got %q, want %q", got, want)
	}
	return form
}

func TestPOPFetchTokenSignsAndReturnsModule(t *testing.T) {
	var received string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/x-www-form-urlencoded" {
			t.Errorf("content type = %s", ct)
		}
		raw, _ := io.ReadAll(r.Body)
		received = string(raw)
		w.Write([]byte(`{"Code":"OK","Message":"","Module":"rtc-token-payload"}`))
	}))
	defer srv.Close()

	p := fixedPOP(srv.URL)
	tok, err := p.FetchToken(context.Background(), testCreds, "device123")
	if err != nil {
		t.Fatalf("FetchToken: %v", err)
	}
	if tok != "rtc-token-payload" {
		t.Fatalf("token = %q, want rtc-token-payload", tok)
	}

	form := verifySignature(t, received, testCreds.AccessKeySecret)
	checks := map[string]string{
		"Action":           "GetRtcToken",
		"UserId":           "alice",
		"DeviceId":         "device123",
		"IsCustomAccount":  "false",
		"AccessKeyId":      "testKeyId",
		"RegionId":         "cn-hangzhou",
		"Version":          "2017-05-25",
		"Format":           "JSON",
		"SignatureMethod":  "HMAC-SHA1",
		"SignatureVersion": "1.0",
		"SignatureNonce":   "deadbeefdeadbeefdeadbeefdeadbeef",
		"Timestamp":        "2024-03-01T12:30:45Z",
	}
	for k, want := range checks {
		if got := form.Get(k); got != want {
			t.Errorf("param %s = %q, want %q", k, got, want)
		}
	}
}

func TestPOPFetchTokenAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Code":"SignatureDoesNotMatch","Message":"Specified signature is not matched"}`))
	}))
	defer srv.Close()

	p := fixedPOP(srv.URL)
	_, err := p.FetchToken(context.Background(), testCreds, "device123")
	var te *Error
	if !errors.As(err, &te) {
		t.Fatalf("error = %v, want *token.Error", err)
	}
	if te.Code != "SignatureDoesNotMatch" {
		t.Fatalf("code = %q", te.Code)
	}
	if te.Message != "Specified signature is not matched" {
		t.Fatalf("message = %q", te.Message)
	}
}

func TestPOPFetchTokenEmptyModule(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Code":"OK","Message":"","Module":""}`))
	}))
	defer srv.Close()

	p := fixedPOP(srv.URL)
	_, err := p.FetchToken(context.Background(), testCreds, "device123")
	var te *Error
	if !errors.As(err, &te) || te.Code != "EMPTY_TOKEN" {
		t.Fatalf("error = %v, want EMPTY_TOKEN", err)
	}
}

func TestPOPFetchTokenValidation(t *testing.T) {
	p := fixedPOP("https://example.invalid")

	if _, err := p.FetchToken(context.Background(), Credentials{}, "device123"); err == nil {
		t.Fatal("expected error for empty credentials")
	}
	if _, err := p.FetchToken(context.Background(), testCreds, ""); err == nil {
		t.Fatal("expected error for empty device id")
	}

	p.Endpoint = ""
	if _, err := p.FetchToken(context.Background(), testCreds, "device123"); err == nil {
		t.Fatal("expected error for missing endpoint")
	}
}

func TestPOPEncode(t *testing.T) {
	cases := map[string]string{
		"abc":                  "abc",
		"a b":                  "a%20b",
		"a+b":                  "a%2Bb",
		"a=b&c":                "a%3Db%26c",
		"2024-03-01T12:30:45Z": "2024-03-01T12%3A30%3A45Z",
	}
	for in, want := range cases {
		if got := popEncode(in); got != want {
			t.Errorf("popEncode(%q) = %q, want %q", in, got, want)
		}
	}
}
