package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testDispatcher(policy RetryPolicy) *Dispatcher {
	d := NewDispatcher(policy, zerolog.Nop())
	d.maxJitter = time.Millisecond
	return d
}

func TestDeliverRetriesUntilSuccess(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := testDispatcher(RetryPolicy{MaxRetries: 3, InitialInterval: 30 * time.Millisecond, BackoffFactor: 2})

	start := time.Now()
	d.Deliver(context.Background(), srv.URL, WebhookPayload{Event: "messages.upsert"})
	elapsed := time.Since(start)

	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
	// Two retries: 30ms then 60ms of base backoff.
	if elapsed < 90*time.Millisecond {
		t.Fatalf("retries came back too fast: %v", elapsed)
	}
}

func TestDeliverDropsAfterExhaustion(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := testDispatcher(RetryPolicy{MaxRetries: 2, InitialInterval: time.Millisecond, BackoffFactor: 2})
	d.Deliver(context.Background(), srv.URL, WebhookPayload{Event: "messages.upsert"})

	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Fatalf("expected maxRetries+1 = 3 attempts, got %d", got)
	}
}

func TestDeliverUnreachableEndpointNeverPanics(t *testing.T) {
	d := testDispatcher(RetryPolicy{MaxRetries: 1, InitialInterval: time.Millisecond, BackoffFactor: 1})
	// Closed port, every attempt errors at the transport level.
	d.Deliver(context.Background(), "http://127.0.0.1:1/hook", WebhookPayload{Event: "connection.update"})
}

func TestDeliverSignsBody(t *testing.T) {
	const token = "verify-me"

	var gotSig string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Warelay-Signature")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := testDispatcher(RetryPolicy{MaxRetries: 0, InitialInterval: time.Millisecond, BackoffFactor: 1})
	d.Deliver(context.Background(), srv.URL, WebhookPayload{
		Event:              "messages.upsert",
		Data:               map[string]interface{}{"hello": "world"},
		WebhookVerifyToken: token,
	})

	mac := hmac.New(sha256.New, []byte(token))
	mac.Write(gotBody)
	want := hex.EncodeToString(mac.Sum(nil))
	if gotSig != want {
		t.Fatalf("signature mismatch: got %q want %q", gotSig, want)
	}

	var payload WebhookPayload
	if err := json.Unmarshal(gotBody, &payload); err != nil {
		t.Fatalf("body is not valid json: %v", err)
	}
	if payload.Event != "messages.upsert" || payload.WebhookVerifyToken != token {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestDeliverCancelledContext(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	d := testDispatcher(RetryPolicy{MaxRetries: 5, InitialInterval: time.Hour, BackoffFactor: 2})

	done := make(chan struct{})
	go func() {
		d.Deliver(ctx, srv.URL, WebhookPayload{Event: "messages.upsert"})
		close(done)
	}()

	// Let the first attempt fail, then cancel during the backoff sleep.
	for atomic.LoadInt32(&attempts) == 0 {
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Deliver did not return after context cancellation")
	}
	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Fatalf("expected a single attempt before cancellation, got %d", got)
	}
}
