package render

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/Veridian-Labs/dossier/core/pkg/canonicalize"
	"github.com/Veridian-Labs/dossier/core/pkg/contracts"
)

// HTTPRenderer talks to a document compiler service over HTTP. The service
// accepts the render request as JSON on POST /render and answers with the
// document content base64-encoded.
type HTTPRenderer struct {
	endpoint string
	client   *http.Client
	clock    func() time.Time
}

// NewHTTPRenderer builds a renderer against the given endpoint. The HTTP
// client carries no timeout of its own; deadlines come from the caller's
// context.
func NewHTTPRenderer(endpoint string) *HTTPRenderer {
	return &HTTPRenderer{
		endpoint: endpoint,
		client:   &http.Client{},
		clock:    time.Now,
	}
}

// WithClock overrides the timestamp source.
func (r *HTTPRenderer) WithClock(clock func() time.Time) *HTTPRenderer {
	r.clock = clock
	return r
}

type renderResponse struct {
	DocumentID    string            `json:"document_id"`
	Format        string            `json:"format"`
	ContentBase64 string            `json:"content_base64"`
	Metadata      map[string]string `json:"metadata"`
}

func (r *HTTPRenderer) Render(ctx context.Context, req Request) (*contracts.RenderedDocument, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("render: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/render", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("render: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("render: call renderer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("render: renderer returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var out renderResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("render: decode response: %w", err)
	}
	content, err := base64.StdEncoding.DecodeString(out.ContentBase64)
	if err != nil {
		return nil, fmt.Errorf("render: decode document content: %w", err)
	}
	if out.DocumentID == "" {
		out.DocumentID = uuid.NewString()
	}
	if out.Format == "" {
		out.Format = req.Format
	}

	return &contracts.RenderedDocument{
		DocumentID:  out.DocumentID,
		Format:      out.Format,
		Bytes:       content,
		ContentHash: canonicalize.HashBytes(content),
		Metadata:    out.Metadata,
		RenderedAt:  r.clock().UTC(),
	}, nil
}
