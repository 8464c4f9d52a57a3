// Package render hands the assembled report content to an external document
// renderer. The renderer is a collaborator, not part of this module: failures
// and timeouts are caught at the call boundary and reported against the
// render step without corrupting earlier pipeline results.
package render

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/Veridian-Labs/dossier/core/pkg/contracts"
)

var (
	// ErrRenderTimeout is returned when the renderer does not answer within
	// the mode's deadline.
	ErrRenderTimeout = errors.New("render: renderer timed out")
	// ErrRenderFailed wraps renderer-side failures.
	ErrRenderFailed = errors.New("render: renderer failed")
)

// Mode selects the deadline budget: interactive runs answer a waiting
// operator, automated runs can afford to wait longer.
type Mode string

const (
	ModeInteractive Mode = "interactive"
	ModeAutomated   Mode = "automated"
)

// Default deadlines per mode.
const (
	DefaultInteractiveTimeout = 30 * time.Second
	DefaultAutomatedTimeout   = 5 * time.Minute
)

// SlotContent is one slot's accepted content in the render payload.
type SlotContent struct {
	SlotID          string   `json:"slot_id"`
	Title           string   `json:"title"`
	Status          string   `json:"status"`
	EvidenceAtomIDs []string `json:"evidence_atom_ids"`
	MethodStatement string   `json:"method_statement"`
}

// Request is the full payload sent to the renderer.
type Request struct {
	CaseID     string                    `json:"case_id"`
	TemplateID string                    `json:"template_id"`
	Format     string                    `json:"format"`
	Slots      []SlotContent             `json:"slots"`
	Coverage   *contracts.CoverageReport `json:"coverage,omitempty"`
}

// BuildRequest assembles the render payload from the pipeline outputs.
// Only accepted proposals become content; slots are emitted in template
// order.
func BuildRequest(caseID, templateID, format string, slots []contracts.Slot, result contracts.AdjudicationResult, coverage *contracts.CoverageReport) Request {
	accepted := make(map[string]contracts.SlotProposal, len(result.Accepted))
	for _, p := range result.Accepted {
		accepted[p.SlotID] = p
	}
	req := Request{
		CaseID:     caseID,
		TemplateID: templateID,
		Format:     format,
		Coverage:   coverage,
	}
	for _, slot := range slots {
		p, ok := accepted[slot.SlotID]
		if !ok {
			continue
		}
		req.Slots = append(req.Slots, SlotContent{
			SlotID:          slot.SlotID,
			Title:           slot.Title,
			Status:          string(p.Status),
			EvidenceAtomIDs: p.EvidenceAtomIDs,
			MethodStatement: p.MethodStatement,
		})
	}
	return req
}

// Renderer produces the final document from a render request.
type Renderer interface {
	Render(ctx context.Context, req Request) (*contracts.RenderedDocument, error)
}

// Client wraps a Renderer with rate limiting and per-mode deadlines.
type Client struct {
	renderer           Renderer
	limiter            *rate.Limiter
	interactiveTimeout time.Duration
	automatedTimeout   time.Duration
}

// NewClient builds a client with default deadlines and a 1 rps / burst 4
// limiter.
func NewClient(renderer Renderer) *Client {
	return &Client{
		renderer:           renderer,
		limiter:            rate.NewLimiter(rate.Every(time.Second), 4),
		interactiveTimeout: DefaultInteractiveTimeout,
		automatedTimeout:   DefaultAutomatedTimeout,
	}
}

// WithTimeouts overrides the per-mode deadlines.
func (c *Client) WithTimeouts(interactive, automated time.Duration) *Client {
	if interactive > 0 {
		c.interactiveTimeout = interactive
	}
	if automated > 0 {
		c.automatedTimeout = automated
	}
	return c
}

// WithLimiter overrides the rate limiter.
func (c *Client) WithLimiter(l *rate.Limiter) *Client {
	c.limiter = l
	return c
}

// Render calls the renderer under the mode's deadline. Caller cancellation
// still wins over the deadline.
func (c *Client) Render(ctx context.Context, mode Mode, req Request) (*contracts.RenderedDocument, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("render: rate limit wait: %w", err)
	}

	timeout := c.automatedTimeout
	if mode == ModeInteractive {
		timeout = c.interactiveTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	doc, err := c.renderer.Render(ctx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s (case %s)", ErrRenderTimeout, timeout, req.CaseID)
		}
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: case %s: %v", ErrRenderFailed, req.CaseID, err)
	}
	return doc, nil
}
