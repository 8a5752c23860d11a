package tools

import "fmt"

// PermissionDeniedError is returned when a non-owner attempts an admin
// action.
type PermissionDeniedError struct {
	OwnerSlackUserID     string
	Action               string
	RequesterSlackUserID string
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("Only the main Sentinel user (<@%s>) can %s. Please contact them to perform this action.",
		e.OwnerSlackUserID, e.Action)
}

// RequireOwner denies the action when both the requester and the owner
// are known and differ. Unknown identities are allowed.
func RequireOwner(uc UserContext, action string) error {
	if uc.SlackUserID != "" && uc.OwnerSlackUserID != "" && uc.SlackUserID != uc.OwnerSlackUserID {
		return &PermissionDeniedError{
			OwnerSlackUserID:     uc.OwnerSlackUserID,
			Action:               action,
			RequesterSlackUserID: uc.SlackUserID,
		}
	}
	return nil
}
