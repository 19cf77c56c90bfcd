// Package mdf merges the per-fragment metadata documents discovered next to
// a video's media fragments into one MDF (merged metadata file) covering the
// whole recording.
package mdf

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Fragment is one downloaded metadata fragment, already decompressed.
type Fragment struct {
	Name string
	Data []byte
}

// Bounds are the partial-timestamp and UTC bounds of the merged recording:
// the start of the earliest fragment and the end of the latest.
type Bounds struct {
	PTSStart int64 `json:"pts_start"`
	PTSEnd   int64 `json:"pts_end"`
	UTCStart int64 `json:"utc_start"`
	UTCEnd   int64 `json:"utc_end"`
}

// Merged is the assembled MDF payload.
type Merged struct {
	Resolution any
	Bounds     Bounds
	Frames     []any
}

// Merge combines metadata fragments into a single document: resolution from
// the first fragment, timestamp bounds spanning all fragments, and every
// frame entry sorted by frame number.
func Merge(fragments []Fragment) (*Merged, error) {
	if len(fragments) == 0 {
		return nil, fmt.Errorf("no metadata fragments to merge")
	}

	decoded := make([]map[string]any, 0, len(fragments))
	for _, fragment := range fragments {
		doc, err := decodeFragment(fragment.Data)
		if err != nil {
			return nil, fmt.Errorf("decode fragment %s: %w", fragment.Name, err)
		}
		decoded = append(decoded, doc)
	}

	// newer device firmware splits the bounds into chunkPts/chunkUtc; older
	// firmware keeps both under "chunk"
	ptsKey, utcKey := "chunk", "chunk"
	if _, ok := decoded[0]["chunk"]; !ok {
		ptsKey, utcKey = "chunkPts", "chunkUtc"
	}

	bounds := Bounds{}
	for i, doc := range decoded {
		ptsStart, err1 := boundField(doc, ptsKey, "pts_start")
		ptsEnd, err2 := boundField(doc, ptsKey, "pts_end")
		utcStart, err3 := boundField(doc, utcKey, "utc_start")
		utcEnd, err4 := boundField(doc, utcKey, "utc_end")
		for _, err := range []error{err1, err2, err3, err4} {
			if err != nil {
				return nil, fmt.Errorf("fragment %s: %w", fragments[i].Name, err)
			}
		}
		if i == 0 || ptsStart < bounds.PTSStart {
			bounds.PTSStart = ptsStart
		}
		if i == 0 || ptsEnd > bounds.PTSEnd {
			bounds.PTSEnd = ptsEnd
		}
		if i == 0 || utcStart < bounds.UTCStart {
			bounds.UTCStart = utcStart
		}
		if i == 0 || utcEnd > bounds.UTCEnd {
			bounds.UTCEnd = utcEnd
		}
	}

	var frames []any
	for _, doc := range decoded {
		entries, _ := doc["frame"].([]any)
		frames = append(frames, entries...)
	}
	sort.SliceStable(frames, func(i, j int) bool {
		return frameNumber(frames[i]) < frameNumber(frames[j])
	})

	return &Merged{
		// resolution is the same for the entire recording
		Resolution: decoded[0]["resolution"],
		Bounds:     bounds,
		Frames:     frames,
	}, nil
}

func boundField(doc map[string]any, chunkKey, field string) (int64, error) {
	chunk, ok := doc[chunkKey].(map[string]any)
	if !ok {
		return 0, fmt.Errorf("missing %q object", chunkKey)
	}
	n, ok := toInt64(chunk[field])
	if !ok {
		return 0, fmt.Errorf("missing %q in %q", field, chunkKey)
	}
	return n, nil
}

func frameNumber(frame any) int64 {
	m, ok := frame.(map[string]any)
	if !ok {
		return 0
	}
	n, _ := toInt64(m["number"])
	return n
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			// bounds occasionally arrive with a fractional part
			f, ferr := n.Float64()
			if ferr != nil {
				return 0, false
			}
			return int64(f), true
		}
		return i, true
	case float64:
		return int64(n), true
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

// decodeFragment decodes one metadata fragment. Device firmware sometimes
// emits duplicate keys inside a single object; those are merged instead of
// silently dropped: object values are deep-merged, anything else is promoted
// to an array.
func decodeFragment(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("fragment is not a JSON object")
	}
	return decodeObject(dec)
}

func decodeObject(dec *json.Decoder) (map[string]any, error) {
	result := map[string]any{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("object key is not a string: %v", keyTok)
		}

		value, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}

		existing, present := result[key]
		if !present {
			result[key] = value
			continue
		}

		switch prev := existing.(type) {
		case map[string]any:
			if next, ok := value.(map[string]any); ok {
				for k, v := range next {
					prev[k] = v
				}
				continue
			}
			result[key] = []any{prev, value}
		case []any:
			result[key] = append(prev, value)
		default:
			result[key] = []any{prev, value}
		}
	}

	// consume the closing brace
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return result, nil
}

func decodeArray(dec *json.Decoder) ([]any, error) {
	result := []any{}
	for dec.More() {
		value, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		result = append(result, value)
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return result, nil
}

func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); ok {
		switch delim {
		case '{':
			return decodeObject(dec)
		case '[':
			return decodeArray(dec)
		default:
			return nil, fmt.Errorf("unexpected delimiter %q", delim)
		}
	}
	return tok, nil
}
