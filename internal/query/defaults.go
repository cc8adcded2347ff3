package query

import (
	"fmt"
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"github.com/google/uuid"

	"strata-backend/internal/accountability"
)

// resolveDefault materializes one permission default value at write time.
// String markers cover the common identity cases; "expr:" defers to an
// expression evaluated against the caller's identity and the write clock.
//
//	$NOW            current timestamp
//	$CURRENT_USER   caller's user id
//	$CURRENT_ROLE   caller's role id
//	$CURRENT_TENANT caller's tenant id
//	$UUID           fresh v4 uuid
//	expr:...        expr-lang expression over {user, role, tenant, now}
func resolveDefault(v any, acc *accountability.Accountability, now time.Time) (any, error) {
	s, ok := v.(string)
	if !ok {
		return v, nil
	}

	switch s {
	case "$NOW":
		return now, nil
	case "$UUID":
		return uuid.NewString(), nil
	case "$CURRENT_USER":
		if acc.UserID == nil {
			return nil, nil
		}
		return acc.UserID.String(), nil
	case "$CURRENT_ROLE":
		if acc.Role == nil {
			return nil, nil
		}
		return acc.Role.ID.String(), nil
	case "$CURRENT_TENANT":
		if acc.TenantID == nil {
			return nil, nil
		}
		return acc.TenantID.String(), nil
	}

	if code, found := strings.CutPrefix(s, "expr:"); found {
		env := map[string]any{
			"user":   optionalID(acc.UserID),
			"tenant": optionalID(acc.TenantID),
			"now":    now,
		}
		if acc.Role != nil {
			env["role"] = acc.Role.Name
		} else {
			env["role"] = ""
		}
		out, err := expr.Eval(code, env)
		if err != nil {
			return nil, NewAppError("INVALID_DEFAULT", 500, fmt.Sprintf("default expression failed: %v", err))
		}
		return out, nil
	}
	return s, nil
}

func optionalID(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}
