package models

import (
	"strings"
	"time"
)

// EvidenceSource identifies where an evidence item came from.
type EvidenceSource string

// Evidence sources.
const (
	EvidenceCrafted   EvidenceSource = "crafted"
	EvidenceUpgraded  EvidenceSource = "upgraded"
	EvidenceInterview EvidenceSource = "interview"
	EvidenceResume    EvidenceSource = "resume"
)

// Evidence text bounds. Items shorter than the minimum after trimming are
// noise and are discarded; longer items are truncated at a word boundary.
const (
	EvidenceMaxTextLen = 1000
	EvidenceMinTextLen = 10
)

// EvidenceItem is a distilled accomplishment carried across sessions as
// part of the user's master resume.
type EvidenceItem struct {
	Text            string         `json:"text"`
	Source          EvidenceSource `json:"source"`
	Category        string         `json:"category,omitempty"`
	SourceSessionID string         `json:"source_session_id,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// NewEvidenceItem normalizes text and returns (item, true), or (zero, false)
// when the text is too short to keep.
func NewEvidenceItem(text string, source EvidenceSource, category, sessionID string) (EvidenceItem, bool) {
	text = strings.TrimSpace(text)
	if len(text) < EvidenceMinTextLen {
		return EvidenceItem{}, false
	}
	if len(text) > EvidenceMaxTextLen {
		text = truncateAtWordBoundary(text, EvidenceMaxTextLen)
	}
	return EvidenceItem{
		Text:            text,
		Source:          source,
		Category:        category,
		SourceSessionID: sessionID,
		CreatedAt:       time.Now().UTC(),
	}, true
}

// truncateAtWordBoundary cuts s to at most limit bytes, backing up to the
// last space so words stay whole. Falls back to a hard cut when the text
// has no space in the window.
func truncateAtWordBoundary(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := s[:limit]
	if idx := strings.LastIndexByte(cut, ' '); idx > 0 {
		cut = cut[:idx]
	}
	return strings.TrimRight(cut, " ")
}

// MasterResume is the durable cross-session artifact.
type MasterResume struct {
	ID              string              `json:"id"`
	UserID          string              `json:"user_id"`
	IsDefault       bool                `json:"is_default"`
	Version         int                 `json:"version"`
	Summary         string              `json:"summary,omitempty"`
	Experience      []RoleHistory       `json:"experience,omitempty"`
	Skills          map[string][]string `json:"skills,omitempty"`
	Education       []string            `json:"education,omitempty"`
	Certifications  []string            `json:"certifications,omitempty"`
	Contact         ContactInfo         `json:"contact_info"`
	EvidenceItems   []EvidenceItem      `json:"evidence_items,omitempty"`
	RawText         string              `json:"raw_text,omitempty"`
	SourceSessionID string              `json:"source_session_id,omitempty"`
	UpdatedAt       time.Time           `json:"updated_at"`
}
