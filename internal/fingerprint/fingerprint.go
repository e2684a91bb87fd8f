// Package fingerprint computes the canonical content hash of a
// snapshot payload. Hashing uses pipe-delimited canonical lines, one
// per record, sorted within each collection before digesting, so the
// result is independent of element order and of serialization field
// order: same logical content, same fingerprint. Free-text fields are
// escaped so delimiters inside them cannot fake a record boundary.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"gateline/internal/domain"
)

const version = "v1"

// Compute returns the hex SHA-256 fingerprint of the payload.
func Compute(p domain.SnapshotPayload) string {
	var b strings.Builder
	b.WriteString("SNAPSHOT|" + version + "\n")
	writeSection(&b, "scope", scopeLines(p.ScopeSelections))
	writeSection(&b, "steps", stepLines(p.StepResponses))
	writeSection(&b, "gaps", gapLines(p.GapResolutions))
	writeSection(&b, "integrations", integrationLines(p.IntegrationPoints))
	writeSection(&b, "migrations", migrationLines(p.MigrationObjects))
	writeSection(&b, "ocm", ocmLines(p.OCMImpacts))
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Equal reports whether two payloads carry identical logical content.
func Equal(a, b domain.SnapshotPayload) bool {
	return Compute(a) == Compute(b)
}

func writeSection(b *strings.Builder, name string, lines []string) {
	sort.Strings(lines)
	b.WriteString("#" + name + "\n")
	for _, l := range lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}
}

func scopeLines(items []domain.ScopeSelection) []string {
	lines := make([]string, 0, len(items))
	for _, s := range items {
		lines = append(lines, record("SCOPE", s.ItemID, boolStr(s.Selected), s.Relevance))
	}
	return lines
}

func stepLines(items []domain.StepResponse) []string {
	lines := make([]string, 0, len(items))
	for _, s := range items {
		lines = append(lines, record("STEP", s.StepID, s.FitStatus, s.Notes))
	}
	return lines
}

func gapLines(items []domain.GapResolution) []string {
	lines := make([]string, 0, len(items))
	for _, g := range items {
		lines = append(lines, record("GAP", g.GapID, g.Resolution, boolStr(g.Approved)))
	}
	return lines
}

func integrationLines(items []domain.IntegrationPoint) []string {
	lines := make([]string, 0, len(items))
	for _, p := range items {
		lines = append(lines, record("INTEGRATION", p.ID, p.Name, p.System))
	}
	return lines
}

func migrationLines(items []domain.MigrationObject) []string {
	lines := make([]string, 0, len(items))
	for _, m := range items {
		lines = append(lines, record("MIGRATION", m.ID, m.ObjectName, m.SourceSystem))
	}
	return lines
}

func ocmLines(items []domain.OCMImpact) []string {
	lines := make([]string, 0, len(items))
	for _, o := range items {
		lines = append(lines, record("OCM", o.ID, o.Area, o.Severity))
	}
	return lines
}

// record joins a tag and its fields into one canonical line, escaping
// each field first. Without escaping, a pipe or newline inside a
// free-text field would be indistinguishable from a field or record
// boundary and distinct payloads could hash alike.
func record(tag string, fields ...string) string {
	parts := make([]string, 0, len(fields)+1)
	parts = append(parts, tag)
	for _, f := range fields {
		parts = append(parts, fieldEscaper.Replace(f))
	}
	return strings.Join(parts, "|")
}

var fieldEscaper = strings.NewReplacer(`\`, `\\`, "|", `\|`, "\n", `\n`, "\r", `\r`)

func boolStr(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
