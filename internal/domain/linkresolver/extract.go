package linkresolver

import (
	"regexp"
	"sort"
	"strings"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"marketnotify/internal/domain/notification"
)

// ExtractRelatedID returns the first related-entity id found in the record's
// known fields, in fixed priority order.
func ExtractRelatedID(rec *notification.Record) string {
	if rec == nil {
		return ""
	}
	candidates := []*notification.Ref{rec.RelatedID, rec.Related}
	if d := rec.Data; d != nil {
		candidates = append(candidates, d.Order)
		if d.Product != nil && d.Product.ID != "" {
			candidates = append(candidates, &notification.Ref{ID: d.Product.ID})
		}
		candidates = append(candidates, d.ProductID)
	}
	candidates = append(candidates, rec.ProductID)
	if rec.Meta != nil {
		candidates = append(candidates, rec.Meta.OriginalRelatedID)
	}
	candidates = append(candidates, rec.OrderID)

	for _, c := range candidates {
		if c == nil {
			continue
		}
		if id := notification.NormalizeRef(c.ID); id != "" {
			return id
		}
	}
	return ""
}

// ActorFields name references to people rather than to the entity a
// notification is about.
var ActorFields = []string{"recipient", "buyer", "seller", "user", "author"}

// Exclusions controls the ObjectId scan.
type Exclusions struct {
	// Keys are object keys whose whole subtree is skipped. Ids found under
	// them are excluded everywhere else in the document too.
	Keys []string
	// Values are ids never returned, typically the record's own id.
	Values []string
}

// DefaultExclusions skips actor references and the record's own id.
func DefaultExclusions(rec *notification.Record) Exclusions {
	ex := Exclusions{Keys: append([]string(nil), ActorFields...)}
	if rec != nil && rec.ID != "" {
		ex.Values = []string{rec.ID}
	}
	return ex
}

var objectIDPattern = regexp.MustCompile(`\b[0-9a-fA-F]{24}\b`)

// ScanObjectID walks doc depth-first, in sorted key order, and returns the
// first ObjectId-shaped token that is not excluded. It is the last resort
// when no known field carries an id.
func ScanObjectID(doc any, ex Exclusions) string {
	skipKeys := make(map[string]struct{}, len(ex.Keys))
	for _, k := range ex.Keys {
		skipKeys[k] = struct{}{}
	}
	skipValues := make(map[string]struct{}, len(ex.Values))
	for _, v := range ex.Values {
		skipValues[strings.ToLower(v)] = struct{}{}
	}
	// An actor id repeated elsewhere, say in the message text, still names
	// the actor.
	collectExcluded(doc, false, skipKeys, skipValues)
	return scan(doc, skipKeys, skipValues)
}

// collectExcluded adds every id-shaped token under an excluded key to
// skipValues.
func collectExcluded(v any, inside bool, skipKeys, skipValues map[string]struct{}) {
	switch t := v.(type) {
	case string:
		if !inside {
			return
		}
		for _, m := range objectIDPattern.FindAllString(t, -1) {
			skipValues[strings.ToLower(m)] = struct{}{}
		}
	case map[string]any:
		for k, child := range t {
			_, skip := skipKeys[k]
			collectExcluded(child, inside || skip, skipKeys, skipValues)
		}
	case []any:
		for _, item := range t {
			collectExcluded(item, inside, skipKeys, skipValues)
		}
	}
}

func scan(v any, skipKeys, skipValues map[string]struct{}) string {
	switch t := v.(type) {
	case string:
		for _, m := range objectIDPattern.FindAllString(t, -1) {
			if _, skip := skipValues[strings.ToLower(m)]; skip {
				continue
			}
			if primitive.IsValidObjectID(m) {
				return strings.ToLower(m)
			}
		}
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			if _, skip := skipKeys[k]; skip {
				continue
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if id := scan(t[k], skipKeys, skipValues); id != "" {
				return id
			}
		}
	case []any:
		for _, item := range t {
			if id := scan(item, skipKeys, skipValues); id != "" {
				return id
			}
		}
	}
	return ""
}

var fragmentPattern = regexp.MustCompile(`#([0-9a-fA-F]{6,24})\b`)

// HexFragment returns a short hex reference such as "a1b2c3" from "#a1b2c3".
// A full 24-character id is not a fragment. Fragments are for display or a
// caller-side prefix search only.
func HexFragment(message string) string {
	for _, m := range fragmentPattern.FindAllStringSubmatch(message, -1) {
		if len(m[1]) < 24 {
			return strings.ToLower(m[1])
		}
	}
	return ""
}

var (
	quotedPattern = regexp.MustCompile(`["“'‘]([^"”'’]{2,})["”'’]`)
	// Offsets come from the original message, so case folding never shifts
	// byte positions.
	availabilityPattern = regexp.MustCompile(`(?is)^(.+?)\s+(?:is now available|is back in stock|is available|available again|back in stock)`)
	titlePrefixPattern  = regexp.MustCompile(`(?i)^(?:good news[!:]|product\s)\s*`)
)

// ExtractTitle recovers a product title from an availability message. A
// quoted substring wins; otherwise the text before a known availability
// phrase is used.
func ExtractTitle(message string) string {
	if m := quotedPattern.FindStringSubmatch(message); m != nil {
		if title := strings.TrimSpace(m[1]); title != "" {
			return title
		}
	}

	m := availabilityPattern.FindStringSubmatch(message)
	if m == nil {
		return ""
	}
	title := strings.TrimSpace(m[1])
	for {
		loc := titlePrefixPattern.FindStringIndex(title)
		if loc == nil || loc[1] == 0 {
			break
		}
		title = strings.TrimSpace(title[loc[1]:])
	}
	return strings.Trim(title, " :-")
}
