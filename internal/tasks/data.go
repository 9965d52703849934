// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tasks

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// =============================================================================
// PAYLOADS
// =============================================================================

// Data is the type-specific payload of a task. The concrete variant is
// selected by the task's Type.
type Data interface {
	// Type returns the task type this payload belongs to.
	Type() Type

	// Validate checks that the payload is complete.
	Validate() error
}

// EmbedDocumentData identifies a document to embed.
type EmbedDocumentData struct {
	DocumentID string `json:"documentId"`
	OperatorID string `json:"operatorId,omitempty"`
}

// Type implements Data.
func (EmbedDocumentData) Type() Type { return TypeEmbedDocument }

// Validate implements Data.
func (d EmbedDocumentData) Validate() error {
	if strings.TrimSpace(d.DocumentID) == "" {
		return fmt.Errorf("invalid %s payload: documentId is required", TypeEmbedDocument)
	}
	return nil
}

// EmbedKnowledgeBaseData identifies a knowledge base to embed.
type EmbedKnowledgeBaseData struct {
	KnowledgeBaseID string `json:"knowledgeBaseId"`
	OperatorID      string `json:"operatorId,omitempty"`
}

// Type implements Data.
func (EmbedKnowledgeBaseData) Type() Type { return TypeEmbedKnowledgeBase }

// Validate implements Data.
func (d EmbedKnowledgeBaseData) Validate() error {
	if strings.TrimSpace(d.KnowledgeBaseID) == "" {
		return fmt.Errorf("invalid %s payload: knowledgeBaseId is required", TypeEmbedKnowledgeBase)
	}
	return nil
}

// Crawl modes accepted by the crawler service.
const (
	CrawlModeSingleURL = "single_url"
	CrawlModeFullSite  = "full_site"
)

// Crawl limits accepted by the crawler service.
const (
	DefaultCrawlMaxDepth = 3
	DefaultCrawlMaxPages = 100
	MaxCrawlDepth        = 10
	MaxCrawlPages        = 1000
)

// CrawlWebpageData describes a crawl job.
type CrawlWebpageData struct {
	URL              string `json:"url"`
	Mode             string `json:"mode,omitempty"`
	KnowledgeBaseID  string `json:"knowledgeBaseId"`
	OperatorID       string `json:"operatorId,omitempty"`
	SourceLabel      string `json:"sourceLabel,omitempty"`
	MaxDepth         int    `json:"maxDepth,omitempty"`
	MaxPages         int    `json:"maxPages,omitempty"`
	UseAI            bool   `json:"useAi,omitempty"`
	ExtractionMode   string `json:"extractionMode,omitempty"`
	ExtractionPrompt string `json:"extractionPrompt,omitempty"`
	Preset           string `json:"preset,omitempty"`
	CSSSelector      string `json:"cssSelector,omitempty"`
	ExcludedSelector string `json:"excludedSelector,omitempty"`
	ForceReanalyze   bool   `json:"forceReanalyze,omitempty"`
	WebhookURL       string `json:"webhookUrl,omitempty"`
}

// Type implements Data.
func (CrawlWebpageData) Type() Type { return TypeCrawlWebpage }

// Validate implements Data.
func (d CrawlWebpageData) Validate() error {
	u, err := url.Parse(d.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid %s payload: url must be an absolute http(s) URL", TypeCrawlWebpage)
	}
	if strings.TrimSpace(d.KnowledgeBaseID) == "" {
		return fmt.Errorf("invalid %s payload: knowledgeBaseId is required", TypeCrawlWebpage)
	}
	switch d.Mode {
	case "", CrawlModeSingleURL, CrawlModeFullSite:
	default:
		return fmt.Errorf("invalid %s payload: unknown mode %q", TypeCrawlWebpage, d.Mode)
	}
	if d.MaxDepth < 0 || d.MaxDepth > MaxCrawlDepth {
		return fmt.Errorf("invalid %s payload: maxDepth must be between 1 and %d", TypeCrawlWebpage, MaxCrawlDepth)
	}
	if d.MaxPages < 0 || d.MaxPages > MaxCrawlPages {
		return fmt.Errorf("invalid %s payload: maxPages must be between 1 and %d", TypeCrawlWebpage, MaxCrawlPages)
	}
	return nil
}

// WithDefaults fills unset crawl limits and mode.
func (d CrawlWebpageData) WithDefaults() CrawlWebpageData {
	if d.Mode == "" {
		d.Mode = CrawlModeSingleURL
	}
	if d.MaxDepth == 0 {
		d.MaxDepth = DefaultCrawlMaxDepth
	}
	if d.MaxPages == 0 {
		d.MaxPages = DefaultCrawlMaxPages
	}
	return d
}

// DecodeData narrows a raw JSON payload to the variant for typ.
func DecodeData(typ Type, raw json.RawMessage) (Data, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, fmt.Errorf("invalid task: missing data")
	}

	var (
		data Data
		err  error
	)
	switch typ {
	case TypeEmbedDocument:
		var d EmbedDocumentData
		err = json.Unmarshal(raw, &d)
		data = d
	case TypeEmbedKnowledgeBase:
		var d EmbedKnowledgeBaseData
		err = json.Unmarshal(raw, &d)
		data = d
	case TypeCrawlWebpage:
		var d CrawlWebpageData
		err = json.Unmarshal(raw, &d)
		data = d
	default:
		return nil, fmt.Errorf("invalid task type %q", typ)
	}
	if err != nil {
		return nil, fmt.Errorf("invalid %s payload: %w", typ, err)
	}
	return data, nil
}
