package render

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/Veridian-Labs/dossier/core/pkg/canonicalize"
	"github.com/Veridian-Labs/dossier/core/pkg/contracts"
)

type fakeRenderer struct {
	delay time.Duration
	err   error
	doc   *contracts.RenderedDocument
}

func (f *fakeRenderer) Render(ctx context.Context, req Request) (*contracts.RenderedDocument, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.doc != nil {
		return f.doc, nil
	}
	return &contracts.RenderedDocument{DocumentID: "doc-1", Format: req.Format}, nil
}

func TestBuildRequestKeepsTemplateOrder(t *testing.T) {
	slots := []contracts.Slot{
		{SlotID: "a", Title: "A"},
		{SlotID: "b", Title: "B"},
		{SlotID: "c", Title: "C"},
	}
	result := contracts.AdjudicationResult{
		Accepted: []contracts.SlotProposal{
			{SlotID: "c", Status: contracts.ProposalReady, EvidenceAtomIDs: []string{"x:1"}, MethodStatement: "m"},
			{SlotID: "a", Status: contracts.ProposalNoEvidenceRequired, MethodStatement: "n"},
		},
		Rejected: []contracts.RejectedProposal{
			{Proposal: contracts.SlotProposal{SlotID: "b"}},
		},
	}

	req := BuildRequest("case-1", "tpl-1", "pdf", slots, result, nil)
	require.Len(t, req.Slots, 2)
	assert.Equal(t, "a", req.Slots[0].SlotID)
	assert.Equal(t, "c", req.Slots[1].SlotID)
	assert.Equal(t, []string{"x:1"}, req.Slots[1].EvidenceAtomIDs)
}

func TestClientTimeoutSurfacesAsRenderTimeout(t *testing.T) {
	client := NewClient(&fakeRenderer{delay: time.Second}).
		WithTimeouts(10*time.Millisecond, 10*time.Millisecond)

	_, err := client.Render(context.Background(), ModeInteractive, Request{CaseID: "case-1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRenderTimeout)
	assert.Contains(t, err.Error(), "case-1")
}

func TestClientCancellationIsNotTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	client := NewClient(&fakeRenderer{delay: time.Second})

	_, err := client.Render(ctx, ModeAutomated, Request{CaseID: "case-1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrRenderTimeout)
}

func TestClientWrapsRendererErrors(t *testing.T) {
	client := NewClient(&fakeRenderer{err: assert.AnError})

	_, err := client.Render(context.Background(), ModeAutomated, Request{CaseID: "case-1"})
	assert.ErrorIs(t, err, ErrRenderFailed)
}

func TestClientSucceeds(t *testing.T) {
	client := NewClient(&fakeRenderer{}).WithLimiter(rate.NewLimiter(rate.Inf, 0))

	doc, err := client.Render(context.Background(), ModeAutomated, Request{CaseID: "case-1", Format: "pdf"})
	require.NoError(t, err)
	assert.Equal(t, "doc-1", doc.DocumentID)
	assert.Equal(t, "pdf", doc.Format)
}

func TestHTTPRendererRoundTrip(t *testing.T) {
	content := []byte("rendered document body")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/render", r.URL.Path)

		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "case-1", req.CaseID)

		json.NewEncoder(w).Encode(map[string]any{
			"document_id":    "doc-42",
			"format":         "docx",
			"content_base64": base64.StdEncoding.EncodeToString(content),
			"metadata":       map[string]string{"pages": "12"},
		})
	}))
	defer srv.Close()

	renderer := NewHTTPRenderer(srv.URL).WithClock(func() time.Time {
		return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	})
	doc, err := renderer.Render(context.Background(), Request{CaseID: "case-1", Format: "pdf"})
	require.NoError(t, err)
	assert.Equal(t, "doc-42", doc.DocumentID)
	assert.Equal(t, "docx", doc.Format)
	assert.Equal(t, content, doc.Bytes)
	assert.Equal(t, canonicalize.HashBytes(content), doc.ContentHash)
	assert.Equal(t, "12", doc.Metadata["pages"])
}

func TestHTTPRendererErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "compiler crashed", http.StatusBadGateway)
	}))
	defer srv.Close()

	renderer := NewHTTPRenderer(srv.URL)
	_, err := renderer.Render(context.Background(), Request{CaseID: "case-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "compiler crashed")
}
