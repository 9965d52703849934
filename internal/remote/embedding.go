// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// =============================================================================
// DOCUMENT EMBEDDING
// =============================================================================

// DocumentState is the embedding state of a document.
type DocumentState string

const (
	DocumentPending    DocumentState = "pending"
	DocumentProcessing DocumentState = "processing"
	DocumentCompleted  DocumentState = "completed"
	DocumentFailed     DocumentState = "failed"
	DocumentOutdated   DocumentState = "outdated"
)

// DocumentStatus is the embedding status of one document.
type DocumentStatus struct {
	Status     DocumentState `json:"status"`
	ChunkCount *int          `json:"chunkCount,omitempty"`
	Error      string        `json:"error,omitempty"`
}

type operatorBody struct {
	OperatorID string `json:"operatorId,omitempty"`
}

func (c *Client) documentURL(documentID, operatorID string) string {
	u := fmt.Sprintf("%s/documents/%s/embedding", c.embeddingURL, url.PathEscape(documentID))
	if op := c.operator(operatorID); op != "" {
		u += "?operatorId=" + url.QueryEscape(op)
	}
	return u
}

// DocumentStatus returns the embedding status of a document.
func (c *Client) DocumentStatus(ctx context.Context, documentID, operatorID string) (DocumentStatus, error) {
	var st DocumentStatus
	if err := c.do(ctx, http.MethodGet, c.documentURL(documentID, operatorID), nil, &st); err != nil {
		return DocumentStatus{}, fmt.Errorf("document %s status: %w", documentID, err)
	}
	return st, nil
}

// SubmitDocument asks the embedding service to (re)embed a document.
func (c *Client) SubmitDocument(ctx context.Context, documentID, operatorID string) error {
	u := fmt.Sprintf("%s/documents/%s/embedding", c.embeddingURL, url.PathEscape(documentID))
	if err := c.do(ctx, http.MethodPost, u, operatorBody{OperatorID: c.operator(operatorID)}, nil); err != nil {
		return fmt.Errorf("submit document %s: %w", documentID, err)
	}
	return nil
}

// =============================================================================
// KNOWLEDGE BASE EMBEDDING
// =============================================================================

// KnowledgeBaseStatus holds aggregate embedding counts for a knowledge base.
type KnowledgeBaseStatus struct {
	Total    int `json:"total"`
	Embedded int `json:"embedded"`
	Pending  int `json:"pending"`
	Failed   int `json:"failed"`
}

// AllCompleted reports whether every document is embedded.
func (s KnowledgeBaseStatus) AllCompleted() bool {
	return s.Embedded == s.Total && s.Total > 0
}

// HasPending reports whether documents are still queued or processing.
func (s KnowledgeBaseStatus) HasPending() bool {
	return s.Pending > 0
}

// KnowledgeBaseStatus returns aggregate embedding counts for a knowledge base.
func (c *Client) KnowledgeBaseStatus(ctx context.Context, kbID, operatorID string) (KnowledgeBaseStatus, error) {
	u := fmt.Sprintf("%s/knowledge-bases/%s/embedding", c.embeddingURL, url.PathEscape(kbID))
	if op := c.operator(operatorID); op != "" {
		u += "?operatorId=" + url.QueryEscape(op)
	}

	var st KnowledgeBaseStatus
	if err := c.do(ctx, http.MethodGet, u, nil, &st); err != nil {
		return KnowledgeBaseStatus{}, fmt.Errorf("knowledge base %s status: %w", kbID, err)
	}
	return st, nil
}

// SubmitKnowledgeBase queues embedding for every document in a knowledge base.
func (c *Client) SubmitKnowledgeBase(ctx context.Context, kbID, operatorID string) error {
	u := fmt.Sprintf("%s/knowledge-bases/%s/embedding", c.embeddingURL, url.PathEscape(kbID))
	if err := c.do(ctx, http.MethodPost, u, operatorBody{OperatorID: c.operator(operatorID)}, nil); err != nil {
		return fmt.Errorf("submit knowledge base %s: %w", kbID, err)
	}
	return nil
}
