package validation

// ValidateShape runs a structural pre-check on a boundary input map ahead
// of any typed decoding: every name in required must be present with a
// non-nil value, and — when strict is true — every key in data must be
// one of known. This is the programmatic-Validator half of the package
// doing request-shape checks before business decoding takes over, the
// same split the teacher uses ahead of its own command/query handlers.
func ValidateShape(data map[string]any, required, known []string, strict bool) error {
	v := New()

	for _, name := range required {
		raw, present := data[name]
		v.Custom(present && raw != nil, name, "is required")
	}

	if strict {
		allowed := make(map[string]bool, len(known))
		for _, k := range known {
			allowed[k] = true
		}
		for k := range data {
			v.Custom(allowed[k], k, "is not a recognized field")
		}
	}

	if appErr := v.Validate(); appErr != nil {
		return appErr
	}
	return nil
}
