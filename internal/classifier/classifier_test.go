package classifier_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"contentengine/internal/classifier"
	"contentengine/internal/model"
)

func idsN(n int) []model.ContentID {
	ids := make([]model.ContentID, n)
	for i := range ids {
		ids[i] = model.ContentID("id-" + string(rune('a'+i)))
	}
	return ids
}

func TestDispatchSplitsIntoBatchesOfFive(t *testing.T) {
	var batchSizes []int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			IDs []string `json:"ids"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		batchSizes = append(batchSizes, len(req.IDs))
		json.NewEncoder(w).Encode(map[string]int{"total_classified": len(req.IDs)})
	}))
	defer srv.Close()

	d, err := classifier.New(classifier.Config{Endpoint: srv.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	result := d.Dispatch(t.Context(), model.SourceArticle, idsN(12))
	if result.Successful != 12 || result.TotalClassified != 12 {
		t.Fatalf("result = %+v, want 12 successful", result)
	}
	if len(batchSizes) != 3 {
		t.Fatalf("issued %d batches, want 3 (5+5+2)", len(batchSizes))
	}
	for i, size := range batchSizes {
		if i < 2 && size != 5 {
			t.Fatalf("batch %d size = %d, want 5", i, size)
		}
	}
	if batchSizes[2] != 2 {
		t.Fatalf("final batch size = %d, want 2", batchSizes[2])
	}
}

func TestDispatchHandles200PartialClassification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]int{"total_classified": 3})
	}))
	defer srv.Close()

	d, _ := classifier.New(classifier.Config{Endpoint: srv.URL})
	result := d.Dispatch(t.Context(), model.SourceArticle, idsN(5))
	if result.Successful != 3 || result.Failed != 2 || result.TotalClassified != 3 {
		t.Fatalf("result = %+v, want 3 successful, 2 failed", result)
	}
}

func TestDispatchHandles202AsAccepted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	d, _ := classifier.New(classifier.Config{Endpoint: srv.URL})
	result := d.Dispatch(t.Context(), model.SourceVideo, idsN(4))
	if result.Successful != 4 || result.TotalClassified != 4 || result.Failed != 0 {
		t.Fatalf("result = %+v, want 4 successful, 0 failed", result)
	}
}

func TestDispatchHandles404AsSkipped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	d, _ := classifier.New(classifier.Config{Endpoint: srv.URL})
	result := d.Dispatch(t.Context(), model.SourceArticle, idsN(2))
	if result.Skipped != 2 || result.Failed != 0 || result.Successful != 0 {
		t.Fatalf("result = %+v, want 2 skipped", result)
	}
}

func TestDispatchHandles400AsAllFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	d, _ := classifier.New(classifier.Config{Endpoint: srv.URL})
	result := d.Dispatch(t.Context(), model.SourceArticle, idsN(3))
	if result.Failed != 3 {
		t.Fatalf("result = %+v, want 3 failed", result)
	}
}

func TestDispatchHandlesOtherStatusAsAllFailedNoRetry(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d, _ := classifier.New(classifier.Config{Endpoint: srv.URL})
	result := d.Dispatch(t.Context(), model.SourceArticle, idsN(3))
	if result.Failed != 3 {
		t.Fatalf("result = %+v, want 3 failed", result)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("calls = %d, want exactly 1 (no retry within a dispatch call)", calls)
	}
}

func TestNewRequiresEndpoint(t *testing.T) {
	if _, err := classifier.New(classifier.Config{}); err == nil {
		t.Fatal("expected error for empty endpoint")
	}
}
