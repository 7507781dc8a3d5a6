// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package corpus

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// LocalCorpus is a keyword-similarity corpus over a CSV ingredient
// dataset held in memory. It backs tests and air-gapped deployments
// and serves as the degraded-mode fallback behind the vector index.
//
// When constructed with a watcher, edits to the dataset file are
// hot-reloaded; a reload that fails to parse keeps the previous
// snapshot.
type LocalCorpus struct {
	mu      sync.RWMutex
	records []Record
	path    string

	logger  *slog.Logger
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewLocalCorpus builds a corpus from in-memory records (fixtures).
func NewLocalCorpus(records []Record, logger *slog.Logger) *LocalCorpus {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalCorpus{
		records: records,
		logger:  logger.With(slog.String("component", "local_corpus")),
	}
}

// OpenLocalCorpus loads the CSV dataset at path and watches it for
// changes. Call Close to stop the watcher.
func OpenLocalCorpus(path string, logger *slog.Logger) (*LocalCorpus, error) {
	records, err := LoadCSV(path)
	if err != nil {
		return nil, err
	}

	c := NewLocalCorpus(records, logger)
	c.path = path

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		// A corpus that cannot watch is still a working corpus.
		c.logger.Warn("dataset watcher unavailable, hot-reload disabled", "error", err)
		return c, nil
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		c.logger.Warn("could not watch dataset file, hot-reload disabled",
			"path", path, "error", err)
		return c, nil
	}

	c.watcher = watcher
	c.done = make(chan struct{})
	go c.watch()

	c.logger.Info("local corpus loaded", "path", path, "records", len(records))
	return c, nil
}

// Query implements Corpus with token-overlap scoring. Name token hits
// weigh double description hits. Records below a zero score are
// omitted; ranking ties break on ascending ID.
func (c *LocalCorpus) Query(ctx context.Context, text string, limit int) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	queryTokens := tokenize(text)
	if len(queryTokens) == 0 {
		return nil, nil
	}

	c.mu.RLock()
	snapshot := c.records
	c.mu.RUnlock()

	var matched []Record
	for _, r := range snapshot {
		score := keywordScore(queryTokens, r)
		if score <= 0 {
			continue
		}
		scored := r
		scored.Score = score
		matched = append(matched, scored)
	}

	SortRecords(matched)
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// Ready implements Corpus. A loaded snapshot is always ready.
func (c *LocalCorpus) Ready(ctx context.Context) error {
	return ctx.Err()
}

// Len returns the number of records in the current snapshot.
func (c *LocalCorpus) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

// Close stops the dataset watcher, if any.
func (c *LocalCorpus) Close() error {
	if c.watcher == nil {
		return nil
	}
	err := c.watcher.Close()
	<-c.done
	c.watcher = nil
	return err
}

// watch reloads the dataset on write events until the watcher closes.
func (c *LocalCorpus) watch() {
	defer close(c.done)
	for {
		select {
		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				c.reload()
			}
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			c.logger.Warn("dataset watcher error", "error", err)
		}
	}
}

func (c *LocalCorpus) reload() {
	records, err := LoadCSV(c.path)
	if err != nil {
		c.logger.Error("dataset reload failed, keeping previous snapshot",
			"path", c.path, "error", err)
		return
	}
	c.mu.Lock()
	c.records = records
	c.mu.Unlock()
	c.logger.Info("local corpus reloaded", "path", c.path, "records", len(records))
}

// =============================================================================
// CSV Loading
// =============================================================================

// csvColumns is the expected header of an ingredient dataset:
// id, name, smiles, formula, description, tags (semicolon-separated),
// max_concentration (percent, empty for unknown).
const csvColumnCount = 7

// LoadCSV reads an ingredient dataset. The first row must be a header.
func LoadCSV(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = csvColumnCount

	// Header
	if _, err := reader.Read(); err != nil {
		return nil, fmt.Errorf("read dataset header: %w", err)
	}

	var records []Record
	line := 1
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("read dataset row %d: %w", line, err)
		}

		maxConc := -1.0
		if raw := strings.TrimSpace(row[6]); raw != "" {
			maxConc, err = strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, fmt.Errorf("dataset row %d: bad max_concentration %q: %w", line, raw, err)
			}
		}

		var tags []string
		if raw := strings.TrimSpace(row[5]); raw != "" {
			tags = strings.Split(raw, ";")
		}

		records = append(records, Record{
			ID:               strings.TrimSpace(row[0]),
			Name:             strings.TrimSpace(row[1]),
			SMILES:           strings.TrimSpace(row[2]),
			Formula:          strings.TrimSpace(row[3]),
			Description:      strings.TrimSpace(row[4]),
			SourceTags:       tags,
			MaxConcentration: maxConc,
		})
	}
	return records, nil
}

// =============================================================================
// Keyword Scoring
// =============================================================================

// stopWords are ignored during tokenization. Small on purpose; the
// dataset vocabulary is technical and most words carry signal.
var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "for": {}, "in": {}, "of": {},
	"or": {}, "the": {}, "to": {}, "with": {},
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9' || r == '-')
	})
	tokens := fields[:0]
	for _, f := range fields {
		if _, skip := stopWords[f]; !skip {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// keywordScore is the fraction of query tokens found in the record,
// with name hits counted double. Normalized to [0,1].
func keywordScore(queryTokens []string, r Record) float64 {
	nameTokens := make(map[string]struct{})
	for _, t := range tokenize(r.Name) {
		nameTokens[t] = struct{}{}
	}
	descTokens := make(map[string]struct{})
	for _, t := range tokenize(r.Description) {
		descTokens[t] = struct{}{}
	}

	var hits float64
	for _, q := range queryTokens {
		if _, ok := nameTokens[q]; ok {
			hits += 2
			continue
		}
		if _, ok := descTokens[q]; ok {
			hits++
		}
	}
	return hits / float64(2*len(queryTokens))
}
