// Package identity assigns event identity (ids, timestamps) and computes
// deterministic context fingerprints. All hashing here is pure and
// deterministic.
package identity

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"sort"
	"strconv"

	"github.com/ashita-ai/kioku/internal/model"
)

// Fingerprint computes the 64-bit context fingerprint: the first 8 bytes of
// a SHA-256 digest over a canonical serialization of the semantically
// relevant context — active goals and environment variables, sorted so key
// order never affects the result. Volatile fields (resources, temporal and
// spatial info, embeddings) are excluded: two logically identical situations
// must hash identically regardless of load or wall clock.
//
// A zero result is reserved as the "compute me" sentinel, so the rare digest
// that lands on zero is nudged to 1.
func Fingerprint(ctx model.EventContext) uint64 {
	h := sha256.New()

	// Each field is written as a 4-byte big-endian length prefix followed by
	// the bytes, so freeform text can never collide across field boundaries.
	writeField := func(s string) {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s)))
		h.Write(lenBuf[:])
		h.Write([]byte(s))
	}

	goals := make([]model.Goal, len(ctx.ActiveGoals))
	copy(goals, ctx.ActiveGoals)
	sort.Slice(goals, func(i, j int) bool { return goals[i].ID < goals[j].ID })
	writeField("goals:" + strconv.Itoa(len(goals)))
	for _, g := range goals {
		writeField(g.ID)
		writeField(g.Description)
		writeField(strconv.FormatFloat(g.Priority, 'f', 10, 64))
		subs := make([]string, len(g.Subgoals))
		copy(subs, g.Subgoals)
		sort.Strings(subs)
		for _, s := range subs {
			writeField(s)
		}
	}

	keys := make([]string, 0, len(ctx.Environment.Variables))
	for k := range ctx.Environment.Variables {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	writeField("env:" + strconv.Itoa(len(keys)))
	for _, k := range keys {
		writeField(k)
		writeField(canonicalValue(ctx.Environment.Variables[k]))
	}

	sum := h.Sum(nil)
	fp := binary.BigEndian.Uint64(sum[:8])
	if fp == 0 {
		fp = 1
	}
	return fp
}

// canonicalValue renders an environment variable value deterministically.
// Maps are serialized with sorted keys; everything else goes through
// encoding/json, which is already deterministic for scalars and slices.
func canonicalValue(v any) string {
	switch m := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := "{"
		for i, k := range keys {
			if i > 0 {
				out += ","
			}
			out += strconv.Quote(k) + ":" + canonicalValue(m[k])
		}
		return out + "}"
	case []any:
		out := "["
		for i, e := range m {
			if i > 0 {
				out += ","
			}
			out += canonicalValue(e)
		}
		return out + "]"
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "null"
		}
		return string(b)
	}
}
