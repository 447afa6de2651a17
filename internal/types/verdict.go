// SPDX-License-Identifier: MIT

package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Verdict classifies the compliance outcome of a single evidence assessment.
type Verdict string

const (
	// VerdictCompliant indicates the evidence satisfies the matched control.
	VerdictCompliant Verdict = "Compliant"

	// VerdictNonCompliant indicates the evidence fails the matched control.
	VerdictNonCompliant Verdict = "Non-Compliant"

	// VerdictPartial indicates the evidence only partially satisfies the control.
	VerdictPartial Verdict = "Partial"

	// VerdictUnknown indicates the model reply could not be classified.
	VerdictUnknown Verdict = "Unknown"
)

// String returns the string representation of the verdict.
func (v Verdict) String() string {
	return string(v)
}

// IsValid checks whether the verdict is one of the defined constants.
func (v Verdict) IsValid() bool {
	switch v {
	case VerdictCompliant, VerdictNonCompliant, VerdictPartial, VerdictUnknown:
		return true
	default:
		return false
	}
}

// ClassifyVerdict derives a Verdict from a free-form model reply.
//
// The substring checks are ordered: "non-compliant" must be tested before
// "compliant" because the latter is a substring of the former.
func ClassifyVerdict(reply string) Verdict {
	lower := strings.ToLower(reply)
	switch {
	case strings.Contains(lower, "non-compliant"):
		return VerdictNonCompliant
	case strings.Contains(lower, "compliant"):
		return VerdictCompliant
	case strings.Contains(lower, "partial"):
		return VerdictPartial
	default:
		return VerdictUnknown
	}
}

// MarshalJSON implements json.Marshaler for Verdict.
func (v Verdict) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(v))
}

// UnmarshalJSON implements json.Unmarshaler for Verdict.
func (v *Verdict) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	parsed := Verdict(str)
	if !parsed.IsValid() {
		return fmt.Errorf("invalid verdict: %q", str)
	}
	*v = parsed
	return nil
}
