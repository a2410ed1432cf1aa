package ingest

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/gyeh/pharmacy-claims/internal/claims"
	simdjson "github.com/minio/simdjson-go"
)

// simdSupported is a variable so tests can force the stdlib path.
var simdSupported = simdjson.SupportedCPU

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// maxFloatDigits is the most significant digits a float64 round-trips.
const maxFloatDigits = 15

// scanNDJSONSimd parses one JSON object per line with simdjson, extracting
// fields natively without json.Unmarshal. Blank lines are skipped. Lines
// holding a number simdjson would round through float64 are decoded with
// encoding/json instead, so both paths read the same values.
func scanNDJSONSimd(
	r io.Reader,
	path string,
	kind claims.Kind,
	onClaim func(source string, f claimFields) error,
	onRevert func(source string, f revertFields) error,
) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var pj *simdjson.ParsedJson
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if lineNum == 1 {
			line = bytes.TrimPrefix(line, utf8BOM)
		}
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		source := fmt.Sprintf("%s:%d", path, lineNum)

		if hasLongNumber(line) {
			if err := decodeLine(line, source, kind, onClaim, onRevert); err != nil {
				return err
			}
			continue
		}

		var err error
		pj, err = simdjson.Parse(line, pj)
		if err != nil {
			return &claims.InvalidRecordError{Kind: kind, Source: source, Reason: "malformed JSON: " + err.Error()}
		}

		err = pj.ForEach(func(i simdjson.Iter) error {
			switch kind {
			case claims.KindClaim:
				return onClaim(source, claimFields{
					id:        simdText(&i, "id"),
					npi:       simdText(&i, "npi"),
					ndc:       simdText(&i, "ndc"),
					price:     simdText(&i, "price"),
					quantity:  simdText(&i, "quantity"),
					timestamp: simdText(&i, "timestamp"),
				})
			case claims.KindRevert:
				return onRevert(source, revertFields{
					id:        simdText(&i, "id"),
					claimID:   simdText(&i, "claim_id"),
					timestamp: simdText(&i, "timestamp"),
				})
			}
			return fmt.Errorf("unsupported record kind %q", kind)
		})
		if err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	return nil
}

// decodeLine reads one NDJSON line with encoding/json.
func decodeLine(
	line []byte,
	source string,
	kind claims.Kind,
	onClaim func(source string, f claimFields) error,
	onRevert func(source string, f revertFields) error,
) error {
	if t := bytes.TrimSpace(line); t[0] != '{' {
		return &claims.InvalidRecordError{Kind: kind, Source: source, Reason: "not a JSON object"}
	}
	switch kind {
	case claims.KindClaim:
		f, err := claimFieldsFromJSON(line)
		if err != nil {
			return &claims.InvalidRecordError{Kind: kind, Source: source, Reason: "malformed JSON: " + err.Error()}
		}
		return onClaim(source, f)
	case claims.KindRevert:
		f, err := revertFieldsFromJSON(line)
		if err != nil {
			return &claims.InvalidRecordError{Kind: kind, Source: source, Reason: "malformed JSON: " + err.Error()}
		}
		return onRevert(source, f)
	}
	return fmt.Errorf("unsupported record kind %q", kind)
}

// hasLongNumber reports whether line holds a run of digits with more
// significant digits than a float64 keeps. Digits inside strings count too,
// which only sends such lines down the slower path.
func hasLongNumber(line []byte) bool {
	sig := 0
	for _, b := range line {
		switch {
		case b >= '1' && b <= '9':
			sig++
		case b == '0':
			if sig > 0 {
				sig++
			}
		case b == '.':
		default:
			sig = 0
		}
		if sig > maxFloatDigits {
			return true
		}
	}
	return false
}

// simdText returns the text of a string or number field, or "" when the field
// is missing, null, or composite.
func simdText(i *simdjson.Iter, key string) string {
	e, err := i.FindElement(nil, key)
	if err != nil {
		return ""
	}
	switch e.Type {
	case simdjson.TypeString:
		s, err := e.Iter.String()
		if err != nil {
			return ""
		}
		return strings.TrimSpace(s)
	case simdjson.TypeInt:
		v, err := e.Iter.Int()
		if err != nil {
			return ""
		}
		return strconv.FormatInt(v, 10)
	case simdjson.TypeUint:
		v, err := e.Iter.Uint()
		if err != nil {
			return ""
		}
		return strconv.FormatUint(v, 10)
	case simdjson.TypeFloat:
		v, err := e.Iter.Float()
		if err != nil {
			return ""
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}
