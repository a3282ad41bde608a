package services

import (
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/carselling/uploadpipe/internal/common"
	sc "github.com/carselling/uploadpipe/internal/server/config"
	"github.com/carselling/uploadpipe/internal/server/models"
	"github.com/carselling/uploadpipe/internal/server/objectstore"
)

// UploadPolicy validates server-observed object metadata against per-resource
// rules. Violations are terminal: the bytes are already wrong, retrying
// cannot fix them.
type UploadPolicy struct {
	config *sc.Config
}

func NewUploadPolicy(config *sc.Config) *UploadPolicy {
	return &UploadPolicy{config: config}
}

// Check accepts or rejects an observed object for the given resource kind.
// Every rejection wraps common.ErrPolicyViolation.
func (p *UploadPolicy) Check(resourceType models.ResourceType, info *objectstore.ObjectInfo) error {
	if info.Size <= 0 {
		return fmt.Errorf("empty object: %w", common.ErrPolicyViolation)
	}
	if mimetype.Lookup(info.ContentType) == nil {
		return fmt.Errorf("unrecognized content type %q: %w", info.ContentType, common.ErrPolicyViolation)
	}

	switch resourceType {
	case models.ResourceCarImage, models.ResourceCarVideo:
		// Car batches mix photos and clips; the actual kind is decided per
		// file from the observed type at promotion time.
		if strings.HasPrefix(info.ContentType, "image/") {
			return p.checkSize(info.Size, p.config.MaxImageBytes, "image")
		}
		if strings.HasPrefix(info.ContentType, "video/") {
			return p.checkSize(info.Size, p.config.MaxVideoBytes, "video")
		}
		return fmt.Errorf("car media must be image or video, got %q: %w",
			info.ContentType, common.ErrPolicyViolation)

	case models.ResourceUserAvatar:
		if !strings.HasPrefix(info.ContentType, "image/") {
			return fmt.Errorf("avatar must be an image, got %q: %w",
				info.ContentType, common.ErrPolicyViolation)
		}
		return p.checkSize(info.Size, p.config.MaxImageBytes, "image")

	default:
		return p.checkSize(info.Size, p.config.MaxAttachmentBytes, "attachment")
	}
}

func (p *UploadPolicy) checkSize(size, limit int64, kind string) error {
	if size > limit {
		return fmt.Errorf("%s of %d bytes exceeds limit %d: %w",
			kind, size, limit, common.ErrPolicyViolation)
	}
	return nil
}
