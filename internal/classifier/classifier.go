// Package classifier implements the batched classifier dispatcher (spec
// §4.6): forwarding newly minted ContentIDs to an external classification
// endpoint in batches of at most five, with per-HTTP-status handling.
// Classification is best-effort — failures are aggregated into the
// returned Result and must never propagate as an error out of the Source
// Runner.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"contentengine/internal/logging"
	"contentengine/internal/model"
)

// MaxBatchSize is the hard cap on IDs forwarded in a single HTTP request.
const MaxBatchSize = 5

// Result aggregates the outcome of dispatching one or more batches.
type Result struct {
	Successful      int
	Failed          int
	TotalClassified int
	Skipped         int
}

func (r *Result) add(other Result) {
	r.Successful += other.Successful
	r.Failed += other.Failed
	r.TotalClassified += other.TotalClassified
	r.Skipped += other.Skipped
}

// batchResponse is the expected 200-response body shape: the endpoint
// reports how many of the submitted IDs it actually classified.
type batchResponse struct {
	TotalClassified int `json:"total_classified"`
}

// Dispatcher forwards ContentIDs to an external classifier endpoint.
type Dispatcher struct {
	client   *http.Client
	endpoint string
	logger   *slog.Logger
}

// Config configures a Dispatcher.
type Config struct {
	Endpoint string
	Client   *http.Client // defaults to an http.Client with a 10s timeout
	Logger   *slog.Logger
}

// New builds a Dispatcher. Endpoint must be a non-empty URL accepting POST
// requests with a JSON body of {kind, ids}.
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("classifier: endpoint is required")
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Dispatcher{
		client:   client,
		endpoint: cfg.Endpoint,
		logger:   logging.Default(cfg.Logger).With("component", "classifier"),
	}, nil
}

type batchRequest struct {
	Kind model.SourceKind  `json:"kind"`
	IDs  []model.ContentID `json:"ids"`
}

// Dispatch forwards ids (of the given kind) in batches of at most
// MaxBatchSize, serially across batches for this call. Batches never
// return an error to the caller; every outcome is folded into Result.
func (d *Dispatcher) Dispatch(ctx context.Context, kind model.SourceKind, ids []model.ContentID) Result {
	var total Result
	for start := 0; start < len(ids); start += MaxBatchSize {
		end := min(start+MaxBatchSize, len(ids))
		total.add(d.dispatchBatch(ctx, kind, ids[start:end]))
	}
	return total
}

func (d *Dispatcher) dispatchBatch(ctx context.Context, kind model.SourceKind, ids []model.ContentID) Result {
	body, err := json.Marshal(batchRequest{Kind: kind, IDs: ids})
	if err != nil {
		d.logger.Error("failed to encode classifier batch", "error", err)
		return Result{Failed: len(ids)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		d.logger.Error("failed to build classifier request", "error", err)
		return Result{Failed: len(ids)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		d.logger.Warn("classifier request failed", "error", err, "batch_size", len(ids))
		return Result{Failed: len(ids)}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var parsed batchResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			d.logger.Warn("classifier 200 response had unparseable body", "error", err)
			return Result{Failed: len(ids)}
		}
		classified := min(parsed.TotalClassified, len(ids))
		if classified < 0 {
			classified = 0
		}
		return Result{
			Successful:      classified,
			Failed:          len(ids) - classified,
			TotalClassified: classified,
		}
	case http.StatusAccepted:
		return Result{Successful: len(ids), TotalClassified: len(ids)}
	case http.StatusNotFound:
		return Result{Skipped: len(ids)}
	case http.StatusBadRequest:
		d.logger.Error("classifier rejected batch as malformed", "batch_size", len(ids))
		return Result{Failed: len(ids)}
	default:
		d.logger.Warn("classifier returned unexpected status", "status", resp.StatusCode, "batch_size", len(ids))
		return Result{Failed: len(ids)}
	}
}
