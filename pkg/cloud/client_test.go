package cloud

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/cloudwarden/cloudwarden/pkg/engine"
)

type countingRecorder struct {
	counts map[string]int
}

func (c *countingRecorder) RecordAPIRequest(service, class string) {
	c.counts[service+"/"+class]++
}

func TestDoCountsRequestsByOutcome(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"error_code": "VPC.0404", "error_msg": "no such resource"}`)
			return
		}
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	rec := &countingRecorder{counts: map[string]int{}}
	client := NewClient("cn-north-1",
		Credentials{AccessKey: "ak", SecretKey: "sk"},
		WithEndpoint("vpc", srv.URL),
		WithRequestRecorder(rec))

	if _, err := client.Do(context.Background(), "vpc", "GET", "/ok", nil, nil); err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if _, err := client.Do(context.Background(), "vpc", "GET", "/missing", nil, nil); !engine.IsNotFound(err) {
		t.Fatalf("expected not-found, got %v", err)
	}

	if rec.counts["vpc/ok"] != 1 {
		t.Errorf("expected one ok request counted, got %d", rec.counts["vpc/ok"])
	}
	if rec.counts["vpc/not_found"] != 1 {
		t.Errorf("expected one not_found request counted, got %d", rec.counts["vpc/not_found"])
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		err   *APIError
		check func(error) bool
		class string
	}{
		{
			name:  "stale gateway auth",
			err:   &APIError{Status: 401, Code: "APIGW.0301"},
			check: engine.IsAuthStale,
			class: "auth_stale",
		},
		{
			name:  "429 throttled",
			err:   &APIError{Status: 429, Code: "VPC.TooManyRequests"},
			check: engine.IsThrottled,
			class: "throttled",
		},
		{
			name:  "throttling code with non-429 status",
			err:   &APIError{Status: 400, Code: "EIP.Throttling"},
			check: engine.IsThrottled,
			class: "throttled",
		},
		{
			name:  "404 not found",
			err:   &APIError{Status: 404, Code: "DNS.0404"},
			check: engine.IsNotFound,
			class: "not_found",
		},
		{
			name:  "0404 code with 400 status",
			err:   &APIError{Status: 400, Code: "RDS.0404"},
			check: engine.IsNotFound,
			class: "not_found",
		},
		{
			name:  "400 validation",
			err:   &APIError{Status: 400, Code: "VPC.0101"},
			check: engine.IsValidation,
			class: "validation",
		},
		{
			name:  "422 validation",
			err:   &APIError{Status: 422, Code: "RDS.0205"},
			check: engine.IsValidation,
			class: "validation",
		},
		{
			name:  "403 permanent auth failure",
			err:   &APIError{Status: 403, Code: "IAM.0003"},
			check: engine.IsValidation,
			class: "validation",
		},
		{
			name:  "500 transient",
			err:   &APIError{Status: 500, Code: "VPC.9999"},
			check: func(err error) bool { return !engine.IsFatal(err) && !engine.IsThrottled(err) },
			class: "transient",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classified := Classify(tt.err)
			if !tt.check(classified) {
				t.Errorf("expected %s classification, got %v", tt.class, classified)
			}
			if classified.Code != tt.err.Code {
				t.Errorf("expected provider code carried, got %q", classified.Code)
			}
		})
	}
}

func TestDoDecodesSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got == "" {
			t.Error("expected signed request")
		}
		if got := r.Header.Get("X-Sdk-Date"); got == "" {
			t.Error("expected signing date header")
		}
		fmt.Fprint(w, `{"zones": [{"id": "z1"}]}`)
	}))
	defer srv.Close()

	client := NewClient("cn-north-1",
		Credentials{AccessKey: "ak", SecretKey: "sk"},
		WithEndpoint("dns", srv.URL))

	resp, err := client.Do(context.Background(), "dns", "GET", "/v2/zones", nil, nil)
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}

	var body struct {
		Zones []struct {
			ID string `json:"id"`
		} `json:"zones"`
	}
	if err := resp.Decode(&body); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(body.Zones) != 1 || body.Zones[0].ID != "z1" {
		t.Errorf("unexpected body: %+v", body)
	}
}

func TestDoClassifiesErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error_code": "DNS.0404", "error_msg": "no such zone", "request_id": "req-1"}`)
	}))
	defer srv.Close()

	client := NewClient("cn-north-1", Credentials{}, WithEndpoint("dns", srv.URL))

	_, err := client.Do(context.Background(), "dns", "DELETE", "/v2/zones/z1", nil, nil)
	if !engine.IsNotFound(err) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestDoWithRetryRecoversFromThrottling(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"error_code": "APIGW.Throttling", "error_msg": "slow down"}`)
			return
		}
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	client := NewClient("cn-north-1", Credentials{}, WithEndpoint("vpc", srv.URL))

	resp, err := client.DoWithRetry(context.Background(), "vpc", "GET", "/v1/p/publicips", nil, nil)
	if err != nil {
		t.Fatalf("DoWithRetry failed: %v", err)
	}
	if resp.Status != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.Status)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("expected 2 calls, got %d", got)
	}
}

func TestDoWithRetryDoesNotRetryValidation(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error_code": "VPC.0101", "error_msg": "bad request"}`)
	}))
	defer srv.Close()

	client := NewClient("cn-north-1", Credentials{}, WithEndpoint("vpc", srv.URL))

	_, err := client.DoWithRetry(context.Background(), "vpc", "GET", "/v1/p/publicips", nil, nil)
	if !engine.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("expected a single call, got %d", got)
	}
}

func TestEndpointOverride(t *testing.T) {
	client := NewClient("cn-north-1", Credentials{}, WithEndpoint("dns", "http://localhost:9999/"))
	if got := client.Endpoint("dns"); got != "http://localhost:9999" {
		t.Errorf("expected trimmed override, got %q", got)
	}
	if got := client.Endpoint("vpc"); got != "https://vpc.cn-north-1.myhuaweicloud.com" {
		t.Errorf("unexpected default endpoint: %q", got)
	}
}
