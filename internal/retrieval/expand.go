// Package retrieval answers questions against an agent's embedded knowledge
// base with a two-stage pipeline: vector recall over expanded query variants,
// then reranking with a relevance gate.
package retrieval

import (
	"strings"
)

// synonymTable maps common support-domain terms to alternates. Expansion is
// static and cheap; it widens recall for vocabulary mismatch between a
// user's question and the site's phrasing.
var synonymTable = map[string][]string{
	"price":    {"pricing", "cost"},
	"pricing":  {"price", "cost"},
	"cost":     {"price", "fees"},
	"refund":   {"return", "money back"},
	"return":   {"refund"},
	"cancel":   {"cancellation", "terminate"},
	"delete":   {"remove"},
	"shipping": {"delivery"},
	"delivery": {"shipping"},
	"error":    {"issue", "problem"},
	"issue":    {"problem", "error"},
	"bug":      {"issue", "defect"},
	"login":    {"sign in", "log in"},
	"signup":   {"sign up", "register"},
	"install":  {"setup", "installation"},
	"setup":    {"install", "configuration"},
	"upgrade":  {"update"},
	"docs":     {"documentation"},
	"api":      {"endpoint"},
	"support":  {"help", "contact"},
	"trial":    {"free trial", "demo"},
	"plan":     {"tier", "subscription"},
	"invoice":  {"billing", "receipt"},
	"billing":  {"invoice", "payment"},
	"payment":  {"billing"},
}

// ExpandQuery returns the original query followed by up to maxVariants-1
// synonym substitutions. Each token contributes at most two variants so a
// single loaded word cannot crowd out the rest of the question.
func ExpandQuery(query string, maxVariants int) []string {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}
	variants := []string{query}
	if maxVariants <= 1 {
		return variants
	}

	seen := map[string]bool{strings.ToLower(query): true}
	for _, token := range strings.Fields(strings.ToLower(query)) {
		token = strings.Trim(token, ".,?!:;\"'()")
		alternates, ok := synonymTable[token]
		if !ok {
			continue
		}
		perToken := 0
		for _, alt := range alternates {
			if perToken >= 2 || len(variants) >= maxVariants {
				break
			}
			variant := replaceToken(query, token, alt)
			key := strings.ToLower(variant)
			if seen[key] {
				continue
			}
			seen[key] = true
			variants = append(variants, variant)
			perToken++
		}
		if len(variants) >= maxVariants {
			break
		}
	}
	return variants
}

// replaceToken swaps one token case-insensitively while keeping the rest of
// the query intact.
func replaceToken(query, token, replacement string) string {
	fields := strings.Fields(query)
	for i, f := range fields {
		if strings.Trim(strings.ToLower(f), ".,?!:;\"'()") == token {
			fields[i] = replacement
		}
	}
	return strings.Join(fields, " ")
}
