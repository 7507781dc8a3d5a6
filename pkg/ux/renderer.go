// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"fmt"
	"sort"
	"strings"

	"github.com/AleutianAI/FormulaFOSS/services/formulation/datatypes"
)

// RenderFormulation formats a pipeline result for the terminal. Works
// in plain mode too; styling degrades to bare text.
func RenderFormulation(result datatypes.FormulationResult) string {
	var b strings.Builder

	if result.Hero == nil && len(result.Recommendations) == 0 {
		b.WriteString("No viable formulation found for the requested effect.\n")
		return b.String()
	}

	if result.Hero != nil {
		b.WriteString(renderHero(*result.Hero))
	} else {
		b.WriteString("No primary compound cleared the safety analysis.\n")
	}

	if len(result.Recommendations) > 0 {
		b.WriteString("\nAlternatives:\n")
		for i, alt := range result.Recommendations {
			b.WriteString(renderAlternative(i+1, alt))
		}
	}

	if result.ConfidenceScore > 0 {
		fmt.Fprintf(&b, "\nConfidence: %.0f%%\n", result.ConfidenceScore*100)
	}
	if len(result.Sources) > 0 {
		fmt.Fprintf(&b, "Sources: %s\n", strings.Join(result.Sources, ", "))
	}
	return b.String()
}

func renderHero(hero datatypes.Formulation) string {
	var b strings.Builder

	name := hero.Name
	if !Plain() {
		name = Styles.Highlight.Render(name)
	}
	fmt.Fprintf(&b, "Hero compound: %s\n", name)

	writeField(&b, "  Formula", hero.Formula)
	writeField(&b, "  Structure", hero.StructuralNotation)
	writeField(&b, "  Dosage", hero.Dosage)
	writeField(&b, "  Price", hero.PriceRange)
	writeField(&b, "  Availability", hero.Availability)

	if hero.Justification != "" {
		fmt.Fprintf(&b, "  Why: %s\n", hero.Justification)
	}
	writeList(&b, "  Pros", hero.Pros)
	writeList(&b, "  Cons", hero.Cons)
	writeProperties(&b, hero.Properties)

	if len(hero.Contraindications) > 0 {
		warn := "  Contraindications: " + strings.Join(hero.Contraindications, "; ")
		if !Plain() {
			warn = Styles.Warning.Render(warn)
		}
		b.WriteString(warn + "\n")
	}
	writeField(&b, "  Safety", hero.SafetyNotes)
	writeField(&b, "  Usage", hero.UsageGuidelines)
	return b.String()
}

func renderAlternative(rank int, alt datatypes.FormulationCandidate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "  %d. %s", rank, alt.Name)
	if alt.Formula != "" && alt.Formula != datatypes.FieldUnavailable {
		fmt.Fprintf(&b, " (%s)", alt.Formula)
	}
	b.WriteString("\n")
	if alt.Justification != "" {
		fmt.Fprintf(&b, "     %s\n", alt.Justification)
	}
	return b.String()
}

// RenderHistoryList formats history entries as a compact table,
// newest first as the service returns them.
func RenderHistoryList(entries []datatypes.HistoryEntry) string {
	if len(entries) == 0 {
		return "No formulation history yet.\n"
	}

	var b strings.Builder
	for _, e := range entries {
		hero := "-"
		if e.Hero != nil {
			hero = e.Hero.Name
		}
		fmt.Fprintf(&b, "%s  %s  %-30s  %s\n",
			e.ID,
			e.CreatedAt.Format("2006-01-02 15:04"),
			truncate(hero, 30),
			truncate(e.RawPrompt, 48))
	}
	return b.String()
}

// writeField prints a labeled value, hiding the unavailable sentinel.
func writeField(b *strings.Builder, label, value string) {
	if value == "" || value == datatypes.FieldUnavailable {
		return
	}
	fmt.Fprintf(b, "%s: %s\n", label, value)
}

func writeList(b *strings.Builder, label string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "%s: %s\n", label, strings.Join(items, ", "))
}

func writeProperties(b *strings.Builder, props map[string]string) {
	if len(props) == 0 {
		return
	}
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(b, "  %s: %s\n", k, props[k])
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
