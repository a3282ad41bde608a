// Package models defines server-side data models persisted in the database.
package models

import "fmt"

// ResourceType tags the business entity an asset belongs to. It is a closed
// enum so new resource kinds must be added here, not smuggled in as strings.
type ResourceType string

const (
	ResourceCarImage       ResourceType = "CAR_IMAGE"
	ResourceCarVideo       ResourceType = "CAR_VIDEO"
	ResourceChatAttachment ResourceType = "CHAT_ATTACHMENT"
	ResourceUserAvatar     ResourceType = "USER_AVATAR"
	ResourceBackup         ResourceType = "BACKUP"
	ResourceOther          ResourceType = "OTHER"
)

// Validate rejects resource types outside the enum.
func (r ResourceType) Validate() error {
	switch r {
	case ResourceCarImage, ResourceCarVideo, ResourceChatAttachment,
		ResourceUserAvatar, ResourceBackup, ResourceOther:
		return nil
	}
	return fmt.Errorf("unknown resource type %q", string(r))
}

// AccessType classifies who may read a committed asset.
type AccessType string

const (
	AccessPublic  AccessType = "PUBLIC"
	AccessPrivate AccessType = "PRIVATE"
)

// AccessFor derives the access classification from the resource kind.
// Chat attachments, backups and the catch-all default to private.
func AccessFor(r ResourceType) AccessType {
	switch r {
	case ResourceChatAttachment, ResourceBackup, ResourceOther:
		return AccessPrivate
	}
	return AccessPublic
}
