package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/papercomputeco/staffdesk/pkg/llm"
	"github.com/papercomputeco/staffdesk/pkg/merkle"
)

// HistorySummary is one entry of the recent conversations list.
type HistorySummary struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Date  string `json:"date"`
	Depth int    `json:"depth,omitempty"`
}

// HistoryResponse contains the conversation leading up to a given node.
type HistoryResponse struct {
	// Messages in chronological order (oldest first, up to and including the requested node)
	Messages []HistoryMessage `json:"messages"`
	// HeadHash is the hash of the node that was requested
	HeadHash string `json:"head_hash"`
	// Depth is the number of messages in the history
	Depth int `json:"depth"`
}

// HistoryMessage represents a message in the conversation history.
type HistoryMessage struct {
	Hash       string     `json:"hash"`
	ParentHash *string    `json:"parent_hash,omitempty"`
	Role       llm.Role   `json:"role"`
	Content    string     `json:"content"`
	Model      string     `json:"model,omitempty"`
	Usage      *llm.Usage `json:"usage,omitempty"`
}

const (
	titleLen   = 60
	dateLayout = "2006-01-02"
)

// demoHistory is served only in demo mode with no archive configured.
var demoHistory = []HistorySummary{
	{ID: "1", Title: "Employee onboarding process", Date: "2023-05-15"},
	{ID: "2", Title: "Marketing strategy discussion", Date: "2023-05-20"},
	{ID: "3", Title: "Project timeline planning", Date: "2023-06-02"},
	{ID: "4", Title: "Budget review for Q3", Date: "2023-06-10"},
	{ID: "5", Title: "New product features", Date: "2023-06-15"},
	{ID: "6", Title: "Team performance review", Date: "2023-07-05"},
	{ID: "7", Title: "Customer feedback analysis", Date: "2023-07-20"},
	{ID: "8", Title: "Hiring process optimization", Date: "2023-08-10"},
}

var errArchiveDisabled = llm.NewError(llm.CodeArchiveDisabled, "transcript archive is disabled", nil)

// storeConversationTurn stores a completed turn in the Merkle DAG: one node per
// request message, chained, followed by the reply. It returns the hash of the
// reply node. A history that was stored before resolves to the same nodes, so
// only the new suffix is written and a different reply branches off it.
func storeConversationTurn(ctx context.Context, storer merkle.Storer, turn llm.ConversationTurn) (string, error) {
	var parent *merkle.Node
	for _, msg := range turn.Request {
		node := merkle.NewNode(merkle.MessageBucket(msg, turn.Model, ""), parent)
		if _, err := storer.Put(ctx, node); err != nil {
			return "", fmt.Errorf("storing message node: %w", err)
		}
		parent = node
	}

	bucket := merkle.MessageBucket(turn.Response, turn.Model, turn.Backend)
	bucket.Usage = turn.Usage
	reply := merkle.NewNode(bucket, parent)
	if _, err := storer.Put(ctx, reply); err != nil {
		return "", fmt.Errorf("storing response node: %w", err)
	}

	return reply.Hash, nil
}

// handleListHistories lists archived conversations, one per leaf, newest
// first, as a bare JSON array.
func (r *Relay) handleListHistories(c *fiber.Ctx) error {
	if r.archive == nil {
		if r.demo {
			return c.JSON(demoHistory)
		}
		return r.fail(c, errArchiveDisabled)
	}

	ctx := c.Context()
	leaves, err := r.archive.Leaves(ctx)
	if err != nil {
		return r.fail(c, fmt.Errorf("listing leaves: %w", err))
	}

	histories := make([]HistorySummary, 0, len(leaves))
	for _, leaf := range leaves {
		ancestry, err := r.archive.Ancestry(ctx, leaf.Hash)
		if err != nil {
			r.logger.Warn("failed to build history for leaf", zap.String("hash", leaf.Hash), zap.Error(err))
			continue
		}
		conv := make(llm.Conversation, len(ancestry))
		for i, node := range ancestry {
			conv[len(ancestry)-1-i] = node.Message()
		}
		histories = append(histories, HistorySummary{
			ID:    leaf.Hash,
			Title: conv.Title(titleLen),
			Date:  leaf.CreatedAt.Format(dateLayout),
			Depth: len(conv),
		})
	}

	return c.JSON(histories)
}

// handleGetHistory returns the full conversation leading up to a node, oldest
// message first.
func (r *Relay) handleGetHistory(c *fiber.Ctx) error {
	if r.archive == nil {
		return r.fail(c, errArchiveDisabled)
	}

	hash := c.Params("id")
	ancestry, err := r.archive.Ancestry(c.Context(), hash)
	if err != nil {
		var nf merkle.ErrNotFound
		if errors.As(err, &nf) {
			return r.fail(c, llm.NewError(llm.CodeNotFound, "conversation not found", err))
		}
		return r.fail(c, fmt.Errorf("building history: %w", err))
	}

	messages := make([]HistoryMessage, len(ancestry))
	for i, node := range ancestry {
		messages[len(ancestry)-1-i] = HistoryMessage{
			Hash:       node.Hash,
			ParentHash: node.ParentHash,
			Role:       node.Bucket.Role,
			Content:    node.Bucket.Content,
			Model:      node.Bucket.Model,
			Usage:      node.Bucket.Usage,
		}
	}

	return c.JSON(HistoryResponse{
		Messages: messages,
		HeadHash: hash,
		Depth:    len(messages),
	})
}

// handleArchiveStats returns node counts of the archive.
func (r *Relay) handleArchiveStats(c *fiber.Ctx) error {
	if r.archive == nil {
		return r.fail(c, errArchiveDisabled)
	}

	ctx := c.Context()
	nodes, err := r.archive.List(ctx)
	if err != nil {
		return r.fail(c, fmt.Errorf("listing nodes: %w", err))
	}
	roots, err := r.archive.Roots(ctx)
	if err != nil {
		return r.fail(c, fmt.Errorf("listing roots: %w", err))
	}
	leaves, err := r.archive.Leaves(ctx)
	if err != nil {
		return r.fail(c, fmt.Errorf("listing leaves: %w", err))
	}

	return c.JSON(map[string]any{
		"total_nodes": len(nodes),
		"root_count":  len(roots),
		"leaf_count":  len(leaves),
	})
}
