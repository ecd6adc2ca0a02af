package core

import (
	"strings"

	"github.com/knowledge-hub/server/internal/store"
)

// Principal is the authenticated caller of a pipeline operation.
type Principal struct {
	UserID string
	Role   string
}

func (p Principal) IsAdmin() bool {
	return p.Role == store.RoleAdmin
}

// CanModify reports whether p may read or change a document owned by ownerID.
func (p Principal) CanModify(ownerID string) bool {
	return p.IsAdmin() || (p.UserID != "" && p.UserID == ownerID)
}

// ValidateDocument checks the user-supplied fields before any store write.
func ValidateDocument(title, content string) error {
	if strings.TrimSpace(title) == "" {
		return &ValidationError{Field: "title"}
	}
	if strings.TrimSpace(content) == "" {
		return &ValidationError{Field: "content"}
	}
	return nil
}
