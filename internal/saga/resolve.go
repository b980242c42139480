package saga

import "strings"

const (
	placeholderPrefix = "{result."
	placeholderSuffix = "}"
)

// ResolveInput materializes a compensation input template against the
// result of the step being compensated. String values of the form
// "{result.field}" are replaced with result["field"]; when the field
// is absent the literal placeholder passes through unchanged so the
// gap is visible in the rollback record. All other values copy as-is.
//
// Resolution happens exactly once, at registration time. Later step
// results never influence an already-registered compensation.
func ResolveInput(template, result map[string]interface{}) map[string]interface{} {
	if template == nil {
		return nil
	}
	resolved := make(map[string]interface{}, len(template))
	for key, value := range template {
		str, ok := value.(string)
		if !ok || !strings.HasPrefix(str, placeholderPrefix) || !strings.HasSuffix(str, placeholderSuffix) {
			resolved[key] = value
			continue
		}
		field := str[len(placeholderPrefix) : len(str)-len(placeholderSuffix)]
		if field == "" {
			resolved[key] = value
			continue
		}
		if fromResult, present := result[field]; present {
			resolved[key] = fromResult
		} else {
			resolved[key] = value
		}
	}
	return resolved
}
