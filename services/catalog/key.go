package catalog

import (
	"errors"
	"strings"

	"smallbiznis-engagement/pkg/errutil"
	"smallbiznis-engagement/services/model"

	"github.com/gosimple/slug"
)

const (
	defaultVariant = "default"
	// retiredSeparator joins a deprecated key to its version suffix. slug.Make
	// never emits it, so retired keys cannot collide with live ones.
	retiredSeparator = "~"
)

func ActionCompositeKey(eventID, actionKey, variant string) string {
	v := slug.Make(variant)
	if v == "" {
		v = defaultVariant
	}
	return strings.Join([]string{slug.Make(eventID), slugKey(actionKey), v}, "/")
}

// slugKey slugifies each part of a possibly retired key and keeps the separator.
func slugKey(key string) string {
	parts := strings.Split(key, retiredSeparator)
	for i, p := range parts {
		parts[i] = slug.Make(p)
	}
	return strings.Join(parts, retiredSeparator)
}

func RewardCompositeKey(eventID, rewardKey string, availability model.Availability) string {
	return strings.Join([]string{slug.Make(eventID), slug.Make(rewardKey), string(availability)}, "/")
}

// NormalizeKey lowercases and slugifies a catalog key.
func NormalizeKey(key string) string {
	return slug.Make(strings.TrimSpace(key))
}

func alreadyLinked(msg, existingID string) error {
	return errutil.Conflict(msg, nil, errutil.WithDetails(errutil.Detail{Field: existingIDDetailField, Message: existingID}))
}

// ExistingID returns the id of the binding that caused a conflict, if any.
func ExistingID(err error) (string, bool) {
	var be errutil.BaseError
	if !errors.As(err, &be) {
		return "", false
	}
	return be.Detail(existingIDDetailField)
}

// validatePricing checks that an availability mode and price go together.
func validatePricing(a model.Availability, price int64) error {
	if !a.Valid() {
		return errutil.Validation("unknown availability", errutil.Detail{Field: "availability", Message: string(a)})
	}
	if price < 0 {
		return errutil.Validation("price must not be negative", errutil.Detail{Field: "price", Message: "must be >= 0"})
	}
	switch a {
	case model.AvailabilityOnAction:
		if price != 0 {
			return errutil.Validation("price must be 0 for on-action", errutil.Detail{Field: "price", Message: "must be 0"})
		}
	case model.AvailabilityOnTrigger:
		if price != 0 {
			return errutil.Validation("price must be 0 for on-trigger", errutil.Detail{Field: "price", Message: "must be 0"})
		}
	}
	return nil
}
