package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// encodeOrdered writes v as JSON with object keys sorted lexicographically
// at every level, for Canonical. v must be a value produced by decoding
// JSON into `any` (so objects are map[string]any, arrays are []any).
func encodeOrdered(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := encodeOrdered(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case []any:
		buf.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeOrdered(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil
	}
}

// DiffEntry computes the merge-patch between oldEntry and newEntry as
// defined by spec.md §4.2: the patch, applied to newEntry, recovers
// oldEntry. Arrays are treated as opaque scalars; nested objects recurse.
// DiffEntry reports a nil map when the patch would be empty.
func DiffEntry(oldEntry, newEntry Entry) (map[string]any, error) {
	oldObj, err := toMap(oldEntry)
	if err != nil {
		return nil, fmt.Errorf("record: diff old entry: %w", err)
	}
	newObj, err := toMap(newEntry)
	if err != nil {
		return nil, fmt.Errorf("record: diff new entry: %w", err)
	}
	patch := diffObjects(oldObj, newObj)
	if len(patch) == 0 {
		return nil, nil
	}
	return patch, nil
}

// diffObjects produces the backward merge-patch from old to new: for every
// key in old that is missing or different in new, the patch records old's
// value; for every key in new that is absent from old, the patch records
// nil (meaning "delete this key to go back to old"). Nested objects
// recurse; any other value (including arrays) is compared and replaced
// whole.
func diffObjects(old, new map[string]any) map[string]any {
	patch := map[string]any{}
	for k, oldV := range old {
		newV, present := new[k]
		if !present {
			patch[k] = oldV
			continue
		}
		oldObj, oldIsObj := oldV.(map[string]any)
		newObj, newIsObj := newV.(map[string]any)
		if oldIsObj && newIsObj {
			if sub := diffObjects(oldObj, newObj); len(sub) > 0 {
				patch[k] = sub
			}
			continue
		}
		if !valueEqual(oldV, newV) {
			patch[k] = oldV
		}
	}
	for k := range new {
		if _, present := old[k]; !present {
			patch[k] = nil
		}
	}
	return patch
}

func valueEqual(a, b any) bool {
	ab, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}

func toMap(e Entry) (map[string]any, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// ApplyPatch applies a merge-patch (as produced by DiffEntry, or any
// equivalent backward patch) to entry, returning the entry it reverts to.
// A nil value in the patch deletes the corresponding key; any other value
// replaces it (objects recurse, per merge-patch semantics).
func ApplyPatch(entry Entry, patch map[string]any) (Entry, error) {
	obj, err := toMap(entry)
	if err != nil {
		return Entry{}, err
	}
	merged := applyPatchObject(obj, patch)
	raw, err := json.Marshal(merged)
	if err != nil {
		return Entry{}, err
	}
	var out Entry
	if err := json.Unmarshal(raw, &out); err != nil {
		return Entry{}, err
	}
	return out, nil
}

func applyPatchObject(obj, patch map[string]any) map[string]any {
	out := map[string]any{}
	for k, v := range obj {
		out[k] = v
	}
	for k, pv := range patch {
		if pv == nil {
			delete(out, k)
			continue
		}
		if sub, ok := pv.(map[string]any); ok {
			if cur, ok := out[k].(map[string]any); ok {
				out[k] = applyPatchObject(cur, sub)
				continue
			}
		}
		out[k] = pv
	}
	return out
}

// FieldList computes the dotted-path, comma-joined, left-to-right list of
// leaf fields that changed between the full record objects oldRec and
// newRec (not just Entry), for telemetry per spec.md §4.2 and the Design
// Notes' ordering rule: iteration order follows newRec's own keys at every
// level, depth-first into changed sub-objects; array-valued fields
// (origins, tags) are reported by name only. Only keys present in newRec
// are visited, so a field that exists in oldRec but is absent from newRec
// is not listed.
//
// FieldList returns "" if nothing changed.
func FieldList(oldRec, newRec Record) (string, error) {
	oldRaw, err := json.Marshal(oldRec)
	if err != nil {
		return "", fmt.Errorf("record: field list old: %w", err)
	}
	newRaw, err := json.Marshal(newRec)
	if err != nil {
		return "", fmt.Errorf("record: field list new: %w", err)
	}

	var oldObj, newObj map[string]any
	if err := json.Unmarshal(oldRaw, &oldObj); err != nil {
		return "", fmt.Errorf("record: field list old: %w", err)
	}
	if err := json.Unmarshal(newRaw, &newObj); err != nil {
		return "", fmt.Errorf("record: field list new: %w", err)
	}
	order, err := parseKeyOrder(newRaw)
	if err != nil {
		return "", fmt.Errorf("record: field list order: %w", err)
	}

	var paths []string
	for _, k := range order.keys {
		if k == "history" {
			continue // history bookkeeping is never itself reported
		}
		newV := newObj[k]
		oldV, present := oldObj[k]
		if _, isArray := newV.([]any); isArray {
			if !present || !valueEqual(oldV, newV) {
				paths = append(paths, k)
			}
			continue
		}
		newSub, newIsObj := newV.(map[string]any)
		oldSub, oldIsObj := oldV.(map[string]any)
		if newIsObj && oldIsObj {
			paths = append(paths, descendChanged(k, oldSub, newSub, order.children[k])...)
			continue
		}
		if !present || !valueEqual(oldV, newV) {
			paths = append(paths, k)
		}
	}
	return strings.Join(paths, ","), nil
}

// descendChanged walks a changed sub-object depth-first in new's own key
// order (as captured by order, new's key-order node at this path), returning
// dotted paths prefixed by prefix.
func descendChanged(prefix string, old, new map[string]any, order *keyOrder) []string {
	var keys []string
	if order != nil {
		keys = order.keys
	} else {
		// order is only nil if new's encoding could not be walked (it
		// shouldn't be, since new is itself an object); fall back to sorted
		// key order rather than panic. This only affects telemetry
		// ordering, never correctness.
		for k := range new {
			keys = append(keys, k)
		}
		sort.Strings(keys)
	}
	var out []string
	for _, k := range keys {
		newV := new[k]
		oldV, present := old[k]
		if _, isArray := newV.([]any); isArray {
			if !present || !valueEqual(oldV, newV) {
				out = append(out, prefix+"."+k)
			}
			continue
		}
		newSub, newIsObj := newV.(map[string]any)
		oldSub, oldIsObj := oldV.(map[string]any)
		if newIsObj && oldIsObj {
			var childOrder *keyOrder
			if order != nil {
				childOrder = order.children[k]
			}
			out = append(out, descendChanged(prefix+"."+k, oldSub, newSub, childOrder)...)
			continue
		}
		if !present || !valueEqual(oldV, newV) {
			out = append(out, prefix+"."+k)
		}
	}
	return out
}

// keyOrder captures a JSON object's key order, and, for every key whose
// value is itself an object, that nested object's key order too — recorded
// recursively so FieldList can walk an arbitrarily nested changed sub-object
// in the record's own encoding order rather than falling back to
// map[string]any's alphabetical iteration.
type keyOrder struct {
	keys     []string
	children map[string]*keyOrder
}

// parseKeyOrder extracts the key order of the JSON object in raw, recursing
// into every key whose value is itself an object, by streaming raw through
// json.Decoder (which reports object keys in the order they appear).
func parseKeyOrder(raw []byte) (*keyOrder, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	delim, ok := tok.(json.Delim)
	if !ok || delim != '{' {
		return nil, fmt.Errorf("record: expected JSON object")
	}

	node := &keyOrder{children: map[string]*keyOrder{}}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("record: expected string key")
		}
		node.keys = append(node.keys, key)

		var val json.RawMessage
		if err := dec.Decode(&val); err != nil {
			return nil, err
		}
		if isJSONObject(val) {
			if child, err := parseKeyOrder(val); err == nil {
				node.children[key] = child
			}
		}
	}
	return node, nil
}

// isJSONObject reports whether raw's first non-whitespace byte opens a JSON
// object.
func isJSONObject(raw json.RawMessage) bool {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		case '{':
			return true
		default:
			return false
		}
	}
	return false
}
