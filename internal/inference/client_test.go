package inference

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func engineStub(t *testing.T, status int, mask []byte, gotReq *segmentRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if gotReq != nil {
			if err := json.NewDecoder(r.Body).Decode(gotReq); err != nil {
				t.Errorf("decode request: %v", err)
			}
		}
		w.WriteHeader(status)
		if status < 300 {
			_ = json.NewEncoder(w).Encode(segmentResponse{Mask: base64.StdEncoding.EncodeToString(mask)})
		}
	}))
}

func TestPredictImage(t *testing.T) {
	var got segmentRequest
	srv := engineStub(t, http.StatusOK, []byte("mask-bytes"), &got)
	defer srv.Close()

	engine := NewHTTPEngine(srv.URL)
	mask, err := engine.PredictImage(context.Background(), "upload.png")
	if err != nil {
		t.Fatalf("PredictImage: %v", err)
	}
	if string(mask) != "mask-bytes" {
		t.Errorf("mask: got %q, want %q", mask, "mask-bytes")
	}
	if got.InputRef != "upload.png" {
		t.Errorf("input_ref: got %q, want %q", got.InputRef, "upload.png")
	}
}

func TestSegmentAneurysm_SendsBrainMask(t *testing.T) {
	var got segmentRequest
	srv := engineStub(t, http.StatusOK, []byte("aneurysm"), &got)
	defer srv.Close()

	engine := NewHTTPEngine(srv.URL)
	if _, err := engine.SegmentAneurysm(context.Background(), "scan.nii.gz", []byte("brain")); err != nil {
		t.Fatalf("SegmentAneurysm: %v", err)
	}
	want := base64.StdEncoding.EncodeToString([]byte("brain"))
	if got.BrainMask != want {
		t.Errorf("brain_mask: got %q, want %q", got.BrainMask, want)
	}
}

func TestCall_RejectionIsPermanent(t *testing.T) {
	srv := engineStub(t, http.StatusUnprocessableEntity, nil, nil)
	defer srv.Close()

	engine := NewHTTPEngine(srv.URL)
	_, err := engine.SegmentBrain(context.Background(), "scan.nii.gz")
	if err == nil {
		t.Fatal("expected error for 422 response")
	}
	if !IsPermanent(err) {
		t.Errorf("4xx must classify as permanent: %v", err)
	}
}

func TestCall_ServerErrorIsTransient(t *testing.T) {
	srv := engineStub(t, http.StatusBadGateway, nil, nil)
	defer srv.Close()

	engine := NewHTTPEngine(srv.URL)
	_, err := engine.SegmentBrain(context.Background(), "scan.nii.gz")
	if err == nil {
		t.Fatal("expected error for 502 response")
	}
	if IsPermanent(err) {
		t.Errorf("5xx must classify as transient: %v", err)
	}
}

func TestCall_NetworkErrorIsTransient(t *testing.T) {
	srv := engineStub(t, http.StatusOK, nil, nil)
	srv.Close() // connection refused from here on

	engine := NewHTTPEngine(srv.URL)
	_, err := engine.PredictImage(context.Background(), "upload.png")
	if err == nil {
		t.Fatal("expected error for refused connection")
	}
	if IsPermanent(err) {
		t.Errorf("network failure must classify as transient: %v", err)
	}
}

func TestIsPermanent(t *testing.T) {
	if !IsPermanent(Reject("dispatch", "unknown kind")) {
		t.Error("Reject must be permanent")
	}
	if IsPermanent(&EngineError{Op: "brain", Transient: true}) {
		t.Error("transient engine error must not be permanent")
	}
	if IsPermanent(errors.New("disk full")) {
		t.Error("unclassified errors must default to transient")
	}
}
