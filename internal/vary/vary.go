// Package vary implements the compact binary Vary-key encoding and the
// match/extend algorithm that decides whether a cached response variant
// satisfies an incoming request.
//
// The wire format is a self-describing sequence of entries, each either
// absent (a request header the Vary list named but that was not sent) or
// present (the header's trimmed value inlined). The sequence is terminated
// by a sentinel entry. The layout is grounded on the variant-key handling
// in cache_vary.c: a key built once at insert time must remain matchable
// against arbitrary future requests without re-parsing the original Vary
// list, and without over-reading a buffer that never grows past what a
// single lookup actually needs.
package vary

import (
	"bytes"
	"strings"
)

// absentLength is the sentinel length marking "header not present on the
// request that produced this entry". It also appears, with name_len == 0,
// as the terminator of a whole key.
const absentLength = 0xFFFF

// HeaderSource is the minimal header-lookup collaborator the matcher
// needs. A *fasthttp.RequestHeader satisfies it directly via Peek.
type HeaderSource interface {
	Peek(name string) []byte
}

// CompareResult is the three-valued outcome of comparing two encoded
// entries for the same conceptual header slot.
type CompareResult int

const (
	// CompareIdentical: same header name and same contents (or the
	// Accept-Encoding gzip elision applies).
	CompareIdentical CompareResult = 0
	// CompareDifferentName: the entry under the cursor names a
	// different header than expected; the predictive key must be
	// extended and retried.
	CompareDifferentName CompareResult = 1
	// CompareDifferentValue: same header name, different contents —
	// no match is possible.
	CompareDifferentValue CompareResult = 2
)

// Options controls behavior that must remain stable across a stored key's
// lifetime without requiring the key itself to be rebuilt — currently just
// the gzip elision policy described in spec.md §4.1.
type Options struct {
	// GzipSupport, when true, makes Accept-Encoding match-time
	// transparent: any two Accept-Encoding values compare identical.
	// This is applied at Match time, never at Create time, so stored
	// keys remain usable across a runtime flip of the policy.
	GzipSupport bool
}

const acceptEncoding = "Accept-Encoding"

// entry is a decoded view of one key entry: the header name (without the
// trailing ':' NUL the wire form carries) and its value, if present.
type entry struct {
	name    string
	present bool
	value   []byte
}

// Create builds the variant key for a response whose Vary header value is
// varyList (a comma-separated header name list) given the request req that
// produced it. The resulting key's entries are ordered the same as
// varyList, trailing whitespace on present values is trimmed, and an extra
// leading ':' in a name is tolerated (stripped) with the caller expected to
// have already logged the warning — Create itself stays pure.
func Create(req HeaderSource, varyList string) []byte {
	var buf bytes.Buffer
	for _, raw := range strings.Split(varyList, ",") {
		name := strings.TrimSpace(raw)
		name = strings.TrimPrefix(name, ":")
		if name == "" {
			continue
		}
		writeEntry(&buf, name, req)
	}
	writeSentinel(&buf)
	return buf.Bytes()
}

func writeEntry(buf *bytes.Buffer, name string, req HeaderSource) {
	nameColon := name + ":"
	var value []byte
	if req != nil {
		if v := req.Peek(name); v != nil {
			value = bytes.TrimRight(v, " \t")
		}
	}
	if value == nil {
		writeU16(buf, absentLength)
		writeName(buf, nameColon)
		return
	}
	writeU16(buf, uint16(len(value)))
	writeName(buf, nameColon)
	buf.Write(value)
}

func writeSentinel(buf *bytes.Buffer) {
	writeU16(buf, absentLength)
	buf.WriteByte(0)
}

func writeName(buf *bytes.Buffer, nameColon string) {
	// name_len is the length of "name:" only (strlen(name)+1 for the
	// colon); the trailing NUL is one further byte not counted by
	// name_len itself, so a reader must consume name_len+1 bytes to
	// recover the full "name:\0" field.
	buf.WriteByte(byte(len(nameColon)))
	buf.WriteString(nameColon)
	buf.WriteByte(0)
}

func writeU16(buf *bytes.Buffer, v uint16) {
	buf.WriteByte(byte(v))
	buf.WriteByte(byte(v >> 8))
}

func readU16(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}

// decodeEntry reads one entry starting at offset 0 of b, returning the
// decoded entry, the number of bytes it occupied, and whether it was the
// terminating sentinel.
func decodeEntry(b []byte) (e entry, n int, sentinel bool, ok bool) {
	if len(b) < 3 {
		return entry{}, 0, false, false
	}
	length := readU16(b)
	nameLen := int(b[2])
	if length == absentLength && nameLen == 0 {
		return entry{}, 3, true, true
	}
	// name_len covers "name:" only; the field itself is nameLen+1 bytes
	// (the extra byte is the trailing NUL).
	fieldLen := nameLen + 1
	if len(b) < 3+fieldLen {
		return entry{}, 0, false, false
	}
	nameField := b[3 : 3+fieldLen]
	// nameField is "Name:\x00" — strip the trailing NUL and colon.
	name := string(bytes.TrimSuffix(nameField, []byte{0}))
	name = strings.TrimSuffix(name, ":")
	off := 3 + fieldLen
	if length == absentLength {
		return entry{name: name, present: false}, off, false, true
	}
	if len(b) < off+int(length) {
		return entry{}, 0, false, false
	}
	value := b[off : off+int(length)]
	return entry{name: name, present: true, value: value}, off + int(length), false, true
}

// compare implements the three-valued cmp(v1, v2) from spec.md §4.1: v1 is
// the stored entry, v2 the just-synthesised predictive entry for the same
// position.
func compare(stored, predicted entry, opts Options) CompareResult {
	if !strings.EqualFold(stored.name, predicted.name) {
		return CompareDifferentName
	}
	if opts.GzipSupport && strings.EqualFold(stored.name, acceptEncoding) {
		return CompareIdentical
	}
	if stored.present != predicted.present {
		return CompareDifferentValue
	}
	if !stored.present {
		return CompareIdentical
	}
	if bytes.Equal(stored.value, predicted.value) {
		return CompareIdentical
	}
	return CompareDifferentValue
}

// MatchResult is the outcome of Match.
type MatchResult int

const (
	// Hit: every stored entry matched; the variant is usable.
	Hit MatchResult = iota
	// Miss: some stored entry's header differs in content.
	Miss
	// Unknown: the predictive workspace was exhausted before a
	// decision could be reached. Callers must treat this as a miss.
	Unknown
)

// Match walks stored (a previously Create'd key) against req, extending a
// predictive key inside workspace lazily — one entry at a time, in the
// order the stored key names them — and returns whether stored is usable
// for this request.
//
// workspace is the caller's scratch buffer for the predictive key; its
// capacity bounds how large a predictive key Match may build. If the
// buffer is too small to hold the next synthesised entry, Match writes a
// sentinel if at least 3 bytes remain (nothing otherwise) and returns
// Unknown — this must be
// treated as a cache miss per spec.md §4.1 and §7.
func Match(stored []byte, req HeaderSource, workspace []byte, opts Options) (MatchResult, []byte) {
	predicted := workspace[:0]
	off := 0
	for {
		se, n, sentinel, ok := decodeEntry(stored[off:])
		if !ok {
			// Malformed stored key: cannot safely continue.
			return Miss, predicted
		}
		off += n
		if sentinel {
			predicted = appendSentinel(predicted, workspace)
			return Hit, predicted
		}

		pe, consumed, fits := synthesise(predicted, workspace, se.name, req)
		if !fits {
			predicted = appendSentinelBestEffort(predicted, workspace)
			return Unknown, predicted
		}
		predicted = predicted[:len(predicted)+consumed]

		switch compare(se, pe, opts) {
		case CompareIdentical:
			continue
		case CompareDifferentValue:
			return Miss, predicted
		case CompareDifferentName:
			// synthesise always builds the predictive entry for
			// se.name, so the names can never actually diverge
			// here; this would only fire if compare() were called
			// with a mismatched pair, which is a caller bug, not a
			// runtime condition.
			panic("vary: compare name mismatch on freshly synthesised entry")
		}
	}
}

// synthesise appends the encoded entry for header `name` (looked up on
// req) to predicted (which must share storage with workspace), returning
// the decoded entry, how many bytes were appended, and whether it fit.
func synthesise(predicted []byte, workspace []byte, name string, req HeaderSource) (entry, int, bool) {
	var value []byte
	present := false
	if req != nil {
		if v := req.Peek(name); v != nil {
			value = bytes.TrimRight(v, " \t")
			present = true
		}
	}

	nameColon := name + ":"
	need := 3 + len(nameColon) + 1
	if present {
		need += len(value)
	}
	free := cap(workspace) - len(predicted)
	if need > free {
		return entry{}, 0, false
	}

	buf := bytes.NewBuffer(predicted[len(predicted):len(predicted)])
	if present {
		writeU16(buf, uint16(len(value)))
	} else {
		writeU16(buf, absentLength)
	}
	writeName(buf, nameColon)
	if present {
		buf.Write(value)
	}
	return entry{name: name, present: present, value: value}, need, true
}

func appendSentinel(predicted []byte, workspace []byte) []byte {
	free := cap(workspace) - len(predicted)
	if free < 3 {
		return predicted
	}
	buf := bytes.NewBuffer(predicted[len(predicted):len(predicted)])
	writeSentinel(buf)
	return predicted[:len(predicted)+3]
}

func appendSentinelBestEffort(predicted []byte, workspace []byte) []byte {
	return appendSentinel(predicted, workspace)
}

// Validate walks a key once, checking that every name_len matches the
// NUL-terminated name that follows it and that the traversal reaches the
// sentinel without reading past the end of b. It is the invariant-policing
// pass spec.md §4.1 calls for after every mutation in debug builds.
func Validate(b []byte) error {
	off := 0
	for {
		if off+3 > len(b) {
			return errTruncated
		}
		length := readU16(b[off:])
		nameLen := int(b[off+2])
		if length == absentLength && nameLen == 0 {
			return nil
		}
		fieldLen := nameLen + 1
		if off+3+fieldLen > len(b) {
			return errTruncated
		}
		nameField := b[off+3 : off+3+fieldLen]
		if len(nameField) == 0 || bytes.IndexByte(nameField, 0) != len(nameField)-1 {
			return errBadName
		}
		off += 3 + fieldLen
		if length != absentLength {
			if off+int(length) > len(b) {
				return errTruncated
			}
			off += int(length)
		}
	}
}

type varyError string

func (e varyError) Error() string { return string(e) }

const (
	errTruncated = varyError("vary: key truncated before sentinel")
	errBadName   = varyError("vary: entry name not NUL-terminated")
)
