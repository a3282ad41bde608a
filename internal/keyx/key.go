// Package keyx builds object-storage keys for the upload pipeline.
//
// Keys are namespaced so lifecycle jobs can reason about them by prefix:
//
//	temp/...                     staged uploads awaiting finalization
//	cars/{carID}/images/...      committed car photos
//	cars/{carID}/videos/...      committed car videos
//	chat/{chatID}/{Y}/{M}/...    chat attachments (retention scans by layout)
//
// File names are never taken from the client verbatim: the unique name is
// timestamp + random suffix + sanitized extension, which rules out both
// collisions and path traversal from untrusted input.
package keyx

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// StagingPrefix marks keys whose objects are not yet committed.
const StagingPrefix = "temp/"

// IsStaging reports whether the key lives under the staging namespace.
func IsStaging(key string) bool {
	return strings.HasPrefix(key, StagingPrefix)
}

// SanitizeName reduces an untrusted file name to its base name with path
// separators and parent references removed.
func SanitizeName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	name = strings.ReplaceAll(name, "..", "")
	return strings.TrimSpace(name)
}

// Extension returns the lower-cased extension of a sanitized name, without
// the dot, or "" when there is none.
func Extension(name string) string {
	name = SanitizeName(name)
	i := strings.LastIndex(name, ".")
	if i < 0 || i == len(name)-1 {
		return ""
	}
	return strings.ToLower(name[i+1:])
}

// UniqueName produces a collision-free object name for an upload:
// {owner}_{yyyymmdd_hhmmss}_{8 random hex}.{ext}.
func UniqueName(originalName, ownerID string, now time.Time) string {
	suffix := uuid.NewString()[:8]
	ext := Extension(originalName)
	if ext == "" {
		return fmt.Sprintf("%s_%s_%s", ownerID, now.Format("20060102_150405"), suffix)
	}
	return fmt.Sprintf("%s_%s_%s.%s", ownerID, now.Format("20060102_150405"), suffix, ext)
}

// StagingFolder maps a logical destination folder to the staging namespace
// the object is uploaded into first.
//
//	temp/...   -> unchanged
//	cars/{id}  -> temp/cars/{id}/images (temp/cars when the id is missing)
//	chat/...   -> temp/chat
//	otherwise  -> temp/{ownerID}
func StagingFolder(folder, ownerID string) string {
	switch {
	case strings.HasPrefix(folder, StagingPrefix):
		return strings.TrimSuffix(folder, "/")
	case strings.HasPrefix(folder, "cars/"):
		if id := CarIDFromFolder(folder); id != "" {
			return "temp/cars/" + id + "/images"
		}
		return "temp/cars"
	case strings.HasPrefix(folder, "chat/"):
		return "temp/chat"
	default:
		return StagingPrefix + ownerID
	}
}

// ChatFolder lays out chat attachments by chat id and month so retention
// sweeps can scan them cheaply.
func ChatFolder(chatID string, now time.Time) string {
	return fmt.Sprintf("chat/%s/%d/%02d", chatID, now.Year(), int(now.Month()))
}

// CarFolder is the permanent namespace of a car's media.
func CarFolder(carID string) string {
	return "cars/" + carID
}

// CarStagingPrefix is the staging namespace of a car's media.
func CarStagingPrefix(carID string) string {
	return "temp/cars/" + carID + "/"
}

// CarIDFromFolder extracts the car id from "cars/{id}/..." style folders.
func CarIDFromFolder(folder string) string {
	rest := strings.TrimPrefix(folder, "cars/")
	if rest == folder {
		return ""
	}
	if i := strings.Index(rest, "/"); i >= 0 {
		rest = rest[:i]
	}
	return rest
}

// PermanentKey places a staged file under its committed folder, routing
// videos into a videos/ sub-folder.
func PermanentKey(baseFolder, contentType, fileName string) string {
	sub := "images"
	if strings.HasPrefix(contentType, "video/") {
		sub = "videos"
	}
	return strings.TrimSuffix(baseFolder, "/") + "/" + sub + "/" + fileName
}
