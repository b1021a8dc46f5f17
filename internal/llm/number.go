package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Number is a float that also decodes from a quoted numeric string or null.
// Models are inconsistent about quoting scores. NaN and infinities are
// rejected.
type Number float64

// UnmarshalJSON implements json.Unmarshaler.
func (n *Number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*n = 0
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return fmt.Errorf("number %q: %w", s, err)
		}
		return n.set(f)
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	return n.set(f)
}

func (n *Number) set(f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("number %v is not finite", f)
	}
	*n = Number(f)
	return nil
}
