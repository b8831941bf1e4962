package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/s0up4200/smartfolder/config"
	"github.com/s0up4200/smartfolder/rule"
)

// parseRuleFlags turns "field:operator:value" flags into rules. The value may
// itself contain colons and is omitted for is_empty and is_not_empty.
func parseRuleFlags(flags []string, dateFields []string, loc *time.Location) ([]rule.Rule, error) {
	defs := make([]config.RuleConfig, 0, len(flags))

	for _, flag := range flags {
		parts := strings.SplitN(flag, ":", 3)
		if len(parts) < 2 {
			return nil, fmt.Errorf("invalid rule '%s' (expected field:operator:value)", flag)
		}

		def := config.RuleConfig{
			Field:    strings.TrimSpace(parts[0]),
			Operator: strings.TrimSpace(parts[1]),
		}
		if def.Field == "" || def.Operator == "" {
			return nil, fmt.Errorf("invalid rule '%s' (field and operator are required)", flag)
		}

		op := rule.Operator(def.Operator)
		switch {
		case len(parts) == 3:
			def.Value = parseScalar(parts[2])
		case op != rule.OpIsEmpty && op != rule.OpIsNotEmpty:
			return nil, fmt.Errorf("invalid rule '%s' (operator %s needs a value)", flag, op)
		}

		defs = append(defs, def)
	}

	return config.ToRules(defs, dateFields, loc)
}

// parseScalar reads a flag value the way YAML reads an unquoted scalar.
// Quoting forces a string.
func parseScalar(s string) any {
	if len(s) >= 2 {
		if q := s[0]; (q == '"' || q == '\'') && s[len(s)-1] == q {
			return s[1 : len(s)-1]
		}
	}

	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && strings.ContainsAny(s, "0123456789") {
		return f
	}

	return s
}
