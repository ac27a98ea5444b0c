package checkin

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ClassOption identifies one class offering on one day. ID is the
// composite "{classTemplateID}-{dayInstanceID}" the roster endpoint is
// keyed by.
type ClassOption struct {
	ID        string `json:"value"`
	Name      string `json:"text"`
	StartTime string `json:"startTime,omitempty"`
	EndTime   string `json:"endTime,omitempty"`
}

var classIDPattern = regexp.MustCompile(`^\d+-\d+$`)

// ValidClassID reports whether id has the two-integers-joined-by-hyphen
// shape the roster endpoint requires.
func ValidClassID(id string) bool {
	return classIDPattern.MatchString(id)
}

// keys the remote service has been observed wrapping class lists under
var listKeys = []string{"clases", "options", "data"}

// labels of placeholder <option> entries, matched by substring
var placeholderLabels = []string{"Selecciona", "Seleccionar", "Select"}

// NormalizeClassList turns whatever shape the remote service produced
// for a day's class list into an ordered sequence of options. the
// service has been seen returning an object wrapping a list, a bare
// list, a flat id-to-name map and raw <option> markup, sometimes
// switching shape between deploys. malformed input degrades to an empty
// sequence, never an error.
func NormalizeClassList(raw any) []ClassOption {
	switch v := raw.(type) {
	case nil:
		return nil
	case map[string]any:
		for _, key := range listKeys {
			if list, ok := v[key].([]any); ok {
				return optionsFromList(list)
			}
		}
		return optionsFromIDMap(v)
	case []any:
		return optionsFromList(v)
	case string:
		return optionsFromMarkup(v)
	case json.RawMessage:
		return normalizeJSON([]byte(v))
	case []byte:
		return normalizeJSON(v)
	default:
		slog.Debug("unrecognized class list shape", "type", fmt.Sprintf("%T", raw))
		return nil
	}
}

func normalizeJSON(body []byte) []ClassOption {
	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		// not json, maybe an html fragment
		return optionsFromMarkup(string(body))
	}
	if s, ok := decoded.(string); ok {
		return optionsFromMarkup(s)
	}
	return NormalizeClassList(decoded)
}

// optionsFromIDMap handles the flat {"104996-237092": "name"} shape.
// every key must look like a composite id, otherwise the map is some
// other envelope we don't understand.
func optionsFromIDMap(m map[string]any) []ClassOption {
	if len(m) == 0 {
		return nil
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		if !ValidClassID(k) {
			return nil
		}
		keys = append(keys, k)
	}
	// map order is random, keep output deterministic
	sort.Strings(keys)

	out := make([]ClassOption, 0, len(keys))
	for _, k := range keys {
		out = append(out, ClassOption{
			ID:   k,
			Name: strings.TrimSpace(digitOrText(m[k])),
		})
	}
	return out
}

func optionsFromList(list []any) []ClassOption {
	var out []ClassOption
	for _, item := range list {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}

		opt := ClassOption{
			Name:      strings.TrimSpace(firstText(entry, "nombre", "name", "text")),
			StartTime: strings.TrimSpace(firstText(entry, "hora_inicio")),
			EndTime:   strings.TrimSpace(firstText(entry, "hora_fin")),
		}

		classID := digitString(entry["clase_id"])
		dayID := digitString(entry["dias_clases_id"])
		switch {
		case classID != "" && dayID != "":
			opt.ID = classID + "-" + dayID
		case classID != "":
			// degraded single-id form, it will fail composite-id
			// validation downstream and be skipped there
			opt.ID = classID
		default:
			opt.ID = strings.TrimSpace(firstText(entry, "value", "id"))
		}

		if opt.ID == "" {
			slog.Debug("dropping class entry without usable id", "name", opt.Name)
			continue
		}
		out = append(out, opt)
	}
	return out
}

// optionsFromMarkup extracts <option value="...">label</option> nodes,
// dropping placeholders and entries with no value.
func optionsFromMarkup(fragment string) []ClassOption {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		slog.Debug("failed to parse class list markup", "err", err)
		return nil
	}

	var out []ClassOption
	doc.Find("option").Each(func(_ int, sel *goquery.Selection) {
		value := strings.TrimSpace(sel.AttrOr("value", ""))
		label := strings.TrimSpace(sel.Text())
		if value == "" || isPlaceholder(label) {
			return
		}
		out = append(out, ClassOption{ID: value, Name: label})
	})
	return out
}

func isPlaceholder(label string) bool {
	for _, p := range placeholderLabels {
		if strings.Contains(label, p) {
			return true
		}
	}
	return false
}

// digitString coerces an id that may arrive as a json number or as
// numeric text into a plain digit string.
func digitString(v any) string {
	switch n := v.(type) {
	case float64:
		return strconv.FormatInt(int64(n), 10)
	case int:
		return strconv.Itoa(n)
	case int64:
		return strconv.FormatInt(n, 10)
	case json.Number:
		return n.String()
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return ""
		}
		if _, err := strconv.ParseInt(s, 10, 64); err != nil {
			return ""
		}
		return s
	default:
		return ""
	}
}

func digitOrText(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return digitString(v)
}

func firstText(entry map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := entry[k].(string); ok && s != "" {
			return s
		}
		if n, ok := entry[k].(float64); ok {
			return strconv.FormatInt(int64(n), 10)
		}
	}
	return ""
}
