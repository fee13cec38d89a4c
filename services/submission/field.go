package submission

import (
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"smallbiznis-engagement/pkg/errutil"
	"smallbiznis-engagement/services/model"
)

var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

var booleanWords = map[string]bool{
	"yes": true, "y": true, "true": true, "1": true,
	"no": false, "n": false, "false": false, "0": false,
}

// ParseBoolean reads the fixed yes/no vocabulary, case-insensitively.
func ParseBoolean(s string) (bool, bool) {
	v, ok := booleanWords[strings.ToLower(strings.TrimSpace(s))]
	return v, ok
}

// validateFields checks every required kind and returns the normalized payload
// along with the numeric value when one was required.
func validateFields(required []model.FieldKind, supplied map[model.FieldKind]string) (model.FieldPayload, *float64, error) {
	payload := make(model.FieldPayload, len(required))
	var numeric *float64
	var details []errutil.Detail

	for _, kind := range required {
		raw, ok := supplied[kind]
		raw = strings.TrimSpace(raw)
		if !ok || raw == "" {
			details = append(details, errutil.Detail{Field: string(kind), Message: "missing"})
			continue
		}

		switch kind {
		case model.FieldKindURL:
			u, err := url.Parse(raw)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				details = append(details, errutil.Detail{Field: string(kind), Message: "must be an http(s) link"})
				continue
			}
		case model.FieldKindNumeric:
			n, err := strconv.ParseFloat(raw, 64)
			if err != nil || math.IsNaN(n) || math.IsInf(n, 0) || n < 0 {
				details = append(details, errutil.Detail{Field: string(kind), Message: "must be a number >= 0"})
				continue
			}
			numeric = &n
		case model.FieldKindBoolean:
			v, ok := ParseBoolean(raw)
			if !ok {
				details = append(details, errutil.Detail{Field: string(kind), Message: "must be yes or no"})
				continue
			}
			raw = strconv.FormatBool(v)
		case model.FieldKindDate:
			if !datePattern.MatchString(raw) {
				details = append(details, errutil.Detail{Field: string(kind), Message: "must be YYYY-MM-DD"})
				continue
			}
			if _, err := time.Parse("2006-01-02", raw); err != nil {
				details = append(details, errutil.Detail{Field: string(kind), Message: "not a calendar date"})
				continue
			}
		}
		payload[kind] = raw
	}

	if len(details) > 0 {
		return nil, nil, errutil.Validation("invalid submission fields", details...)
	}
	return payload, numeric, nil
}

// computePoints multiplies by the numeric field when the binding asks for it,
// truncating toward zero.
func computePoints(b *model.ActionBinding, numeric *float64) (int64, error) {
	if !b.IsNumericMultiplier || numeric == nil {
		return b.PointsBase, nil
	}
	product := math.Trunc(float64(b.PointsBase) * *numeric)
	if product >= math.MaxInt64 {
		return 0, errutil.Storage("awarded points overflow", nil)
	}
	return int64(product), nil
}
