package utils

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var avatarExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".webp": true,
	".gif":  true,
}

// AvatarObjectKey builds the storage key for a team avatar upload, rejecting
// anything that is not a common image type.
func AvatarObjectKey(eventID, teamID, filename string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !avatarExtensions[ext] {
		return "", fmt.Errorf("unsupported avatar type %q (use png, jpg, webp or gif)", ext)
	}
	return fmt.Sprintf("avatars/%s/%s/%s%s", eventID, teamID, uuid.NewString(), ext), nil
}
