package types

import "strings"

// Operation is a CRUD operation recorded for an entity.
type Operation string

const (
	OpCreate Operation = "create"
	OpRead   Operation = "read"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Operations lists the CRUD operations in canonical order.
var Operations = []Operation{OpCreate, OpRead, OpUpdate, OpDelete}

var operationVerbs = map[string]Operation{
	"create":  OpCreate,
	"add":     OpCreate,
	"new":     OpCreate,
	"insert":  OpCreate,
	"read":    OpRead,
	"view":    OpRead,
	"open":    OpRead,
	"get":     OpRead,
	"show":    OpRead,
	"update":  OpUpdate,
	"edit":    OpUpdate,
	"save":    OpUpdate,
	"modify":  OpUpdate,
	"delete":  OpDelete,
	"remove":  OpDelete,
	"destroy": OpDelete,
	"archive": OpDelete,
}

// ParseOperation maps a semantic action such as "edit" or "crud_delete" to
// its operation.
func ParseOperation(action string) (Operation, bool) {
	action = strings.ToLower(strings.TrimSpace(action))
	action = strings.TrimPrefix(action, "crud_")
	op, ok := operationVerbs[action]
	return op, ok
}

// OperationFromPatternType matches a pattern type case-insensitively against
// the operation names, so "crud_create" and "CRUD_CREATE" both imply create.
func OperationFromPatternType(t PatternType) (Operation, bool) {
	lower := strings.ToLower(string(t))
	for _, op := range Operations {
		if strings.Contains(lower, string(op)) {
			return op, true
		}
	}
	return "", false
}

// SortOperations orders ops canonically and drops duplicates.
func SortOperations(ops []Operation) []Operation {
	seen := make(map[Operation]bool, len(ops))
	for _, op := range ops {
		seen[op] = true
	}
	out := make([]Operation, 0, len(seen))
	for _, op := range Operations {
		if seen[op] {
			out = append(out, op)
		}
	}
	return out
}
