package ingest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gyeh/pharmacy-claims/internal/claims"
	"github.com/shopspring/decimal"
)

// timestampLayouts are tried in order. Zone-less timestamps are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// claimFields holds the raw text of a claim's fields before normalization.
type claimFields struct {
	id, npi, ndc, price, quantity, timestamp string
}

type revertFields struct {
	id, claimID, timestamp string
}

func (f claimFields) normalize(source string) (claims.Claim, error) {
	invalid := func(field, value, reason string) error {
		return &claims.InvalidRecordError{
			Kind: claims.KindClaim, ID: f.id, Source: source,
			Field: field, Value: value, Reason: reason,
		}
	}

	if f.id == "" {
		return claims.Claim{}, invalid("id", "", "missing")
	}
	if f.npi == "" {
		return claims.Claim{}, invalid("npi", "", "missing")
	}
	if f.ndc == "" {
		return claims.Claim{}, invalid("ndc", "", "missing")
	}

	price, err := decimal.NewFromString(f.price)
	if err != nil {
		return claims.Claim{}, invalid("price", f.price, "not a number")
	}

	qty, err := decimal.NewFromString(f.quantity)
	if err != nil {
		return claims.Claim{}, invalid("quantity", f.quantity, "not a number")
	}
	if !qty.Equal(qty.Truncate(0)) {
		return claims.Claim{}, invalid("quantity", f.quantity, "not an integer")
	}
	if !qty.BigInt().IsInt64() {
		return claims.Claim{}, invalid("quantity", f.quantity, "out of range")
	}

	ts, err := parseTimestamp(f.timestamp)
	if err != nil {
		return claims.Claim{}, invalid("timestamp", f.timestamp, err.Error())
	}

	return claims.Claim{
		ID:        f.id,
		NPI:       f.npi,
		NDC:       f.ndc,
		Price:     price,
		Quantity:  qty.IntPart(),
		Timestamp: ts,
	}, nil
}

func (f revertFields) normalize(source string) (claims.Revert, error) {
	invalid := func(field, value, reason string) error {
		return &claims.InvalidRecordError{
			Kind: claims.KindRevert, ID: f.id, Source: source,
			Field: field, Value: value, Reason: reason,
		}
	}

	if f.id == "" {
		return claims.Revert{}, invalid("id", "", "missing")
	}
	if f.claimID == "" {
		return claims.Revert{}, invalid("claim_id", "", "missing")
	}
	ts, err := parseTimestamp(f.timestamp)
	if err != nil {
		return claims.Revert{}, invalid("timestamp", f.timestamp, err.Error())
	}

	return claims.Revert{ID: f.id, ClaimID: f.claimID, Timestamp: ts}, nil
}

func parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("missing")
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, errors.New("not an ISO-8601 timestamp")
}

// rawClaim and rawRevert keep every field raw so numbers and strings are both
// accepted and errors can name the offending field.
type rawClaim struct {
	ID        json.RawMessage `json:"id"`
	NPI       json.RawMessage `json:"npi"`
	NDC       json.RawMessage `json:"ndc"`
	Price     json.RawMessage `json:"price"`
	Quantity  json.RawMessage `json:"quantity"`
	Timestamp json.RawMessage `json:"timestamp"`
}

type rawRevert struct {
	ID        json.RawMessage `json:"id"`
	ClaimID   json.RawMessage `json:"claim_id"`
	Timestamp json.RawMessage `json:"timestamp"`
}

// scalarText returns the text of a JSON string or number. null, absent, and
// composite values yield "".
func scalarText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return strings.TrimSpace(s)
	case '{', '[', 'n':
		return ""
	default:
		return string(raw)
	}
}

func claimFieldsFromJSON(elem []byte) (claimFields, error) {
	var raw rawClaim
	if err := json.Unmarshal(elem, &raw); err != nil {
		return claimFields{}, err
	}
	return claimFields{
		id:        scalarText(raw.ID),
		npi:       scalarText(raw.NPI),
		ndc:       scalarText(raw.NDC),
		price:     scalarText(raw.Price),
		quantity:  scalarText(raw.Quantity),
		timestamp: scalarText(raw.Timestamp),
	}, nil
}

func revertFieldsFromJSON(elem []byte) (revertFields, error) {
	var raw rawRevert
	if err := json.Unmarshal(elem, &raw); err != nil {
		return revertFields{}, err
	}
	return revertFields{
		id:        scalarText(raw.ID),
		claimID:   scalarText(raw.ClaimID),
		timestamp: scalarText(raw.Timestamp),
	}, nil
}

// LoadClaims reads every claim in src.
func LoadClaims(src Source, onProgress ProgressFunc) ([]claims.Claim, LoadStats, error) {
	stats := LoadStats{Files: 1}
	var out []claims.Claim

	err := readEvents(src, onProgress, claims.KindClaim,
		func(source string, elem json.RawMessage) error {
			stats.Rows++
			f, err := claimFieldsFromJSON(elem)
			if err != nil {
				return &claims.InvalidRecordError{Kind: claims.KindClaim, Source: source, Reason: err.Error()}
			}
			c, err := f.normalize(source)
			if err != nil {
				return err
			}
			out = append(out, c)
			stats.Valid++
			return nil
		},
		func(source string, f claimFields) error {
			stats.Rows++
			c, err := f.normalize(source)
			if err != nil {
				return err
			}
			out = append(out, c)
			stats.Valid++
			return nil
		},
		nil,
	)
	if err != nil {
		return nil, stats, err
	}
	return out, stats, nil
}

// LoadReverts reads every revert in src. Reverts are not checked against
// claims here; the join index ignores dangling ones.
func LoadReverts(src Source, onProgress ProgressFunc) ([]claims.Revert, LoadStats, error) {
	stats := LoadStats{Files: 1}
	var out []claims.Revert

	err := readEvents(src, onProgress, claims.KindRevert,
		func(source string, elem json.RawMessage) error {
			stats.Rows++
			f, err := revertFieldsFromJSON(elem)
			if err != nil {
				return &claims.InvalidRecordError{Kind: claims.KindRevert, Source: source, Reason: err.Error()}
			}
			r, err := f.normalize(source)
			if err != nil {
				return err
			}
			out = append(out, r)
			stats.Valid++
			return nil
		},
		nil,
		func(source string, f revertFields) error {
			stats.Rows++
			r, err := f.normalize(source)
			if err != nil {
				return err
			}
			out = append(out, r)
			stats.Valid++
			return nil
		},
	)
	if err != nil {
		return nil, stats, err
	}
	return out, stats, nil
}

// readEvents dispatches src to the simdjson NDJSON scanner when the file is
// NDJSON and the CPU supports it, and to the streaming decoder otherwise.
func readEvents(
	src Source,
	onProgress ProgressFunc,
	kind claims.Kind,
	onElem func(source string, elem json.RawMessage) error,
	onClaim func(source string, f claimFields) error,
	onRevert func(source string, f revertFields) error,
) error {
	rc, err := Open(src.Path, onProgress)
	if err != nil {
		return fmt.Errorf("open %s: %w", src.Path, err)
	}
	defer rc.Close()

	if isNDJSON(src.Path) && simdSupported() {
		return scanNDJSONSimd(rc, src.Path, kind, onClaim, onRevert)
	}
	return decodeJSONStream(rc, src.Path, kind, onElem)
}

// decodeJSONStream walks r element by element. r holds either one top-level
// array of objects, or a sequence of objects (a single object, or NDJSON).
func decodeJSONStream(r io.Reader, path string, kind claims.Kind, onElem func(source string, elem json.RawMessage) error) error {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if errors.Is(err, io.EOF) {
		return nil // empty file
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	dec := json.NewDecoder(br)
	n := 0
	next := func() (json.RawMessage, string, error) {
		n++
		source := fmt.Sprintf("%s[#%d]", path, n)
		var elem json.RawMessage
		if err := dec.Decode(&elem); err != nil {
			return nil, source, &claims.InvalidRecordError{Kind: kind, Source: source, Reason: "malformed JSON: " + err.Error()}
		}
		if t := bytes.TrimSpace(elem); len(t) == 0 || t[0] != '{' {
			return nil, source, &claims.InvalidRecordError{Kind: kind, Source: source, Reason: "not a JSON object"}
		}
		return elem, source, nil
	}

	if first != '[' {
		for dec.More() {
			elem, source, err := next()
			if err != nil {
				return err
			}
			if err := onElem(source, elem); err != nil {
				return err
			}
		}
		return nil
	}

	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("reading opening token: %w", err)
	}
	for dec.More() {
		elem, source, err := next()
		if err != nil {
			return err
		}
		if err := onElem(source, elem); err != nil {
			return err
		}
	}
	tok, err := dec.Token()
	if err != nil {
		return &claims.InvalidRecordError{Kind: kind, Source: path, Reason: "malformed JSON: " + err.Error()}
	}
	if delim, ok := tok.(json.Delim); !ok || delim != ']' {
		return &claims.InvalidRecordError{Kind: kind, Source: path, Reason: fmt.Sprintf("expected ']', got %v", tok)}
	}
	if dec.More() {
		return &claims.InvalidRecordError{Kind: kind, Source: path, Reason: "unexpected data after top-level array"}
	}
	return nil
}

// peekNonSpace returns the first non-whitespace byte without consuming it.
func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		case 0xEF: // UTF-8 BOM
			if rest, err := br.Peek(2); err == nil && rest[0] == 0xBB && rest[1] == 0xBF {
				br.Discard(2)
				continue
			}
		}
		if err := br.UnreadByte(); err != nil {
			return 0, err
		}
		return b, nil
	}
}

// MergeClaims concatenates batches in order, resolving duplicate claim ids by
// keeping the last occurrence at the position of the first. It returns the
// number of claims that were replaced.
func MergeClaims(batches [][]claims.Claim) ([]claims.Claim, int) {
	total := 0
	for _, b := range batches {
		total += len(b)
	}

	out := make([]claims.Claim, 0, total)
	pos := make(map[string]int, total)
	dups := 0
	for _, b := range batches {
		for _, c := range b {
			if i, ok := pos[c.ID]; ok {
				out[i] = c
				dups++
				continue
			}
			pos[c.ID] = len(out)
			out = append(out, c)
		}
	}
	return out, dups
}
