package s3

import (
	"bytes"
	"context"
	"path"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"campusmarket/internal/domain/messaging"
	"campusmarket/internal/domain/shared/errs"
)

// ImageStore uploads message images. The stored content type comes from
// sniffing the bytes; a declared type that disagrees is rejected.
type ImageStore struct {
	Objects ObjectStore
	NewID   func() string
}

func (s *ImageStore) UploadImage(ctx context.Context, conversationID, senderID string, a messaging.Attachment) (messaging.ImageRef, error) {
	if s.Objects == nil {
		return messaging.ImageRef{}, errs.Transient("image uploads are not configured", nil)
	}
	if err := messaging.ValidateAttachment(a); err != nil {
		return messaging.ImageRef{}, err
	}
	contentType, ext, err := Sniff(a.Data)
	if err != nil {
		return messaging.ImageRef{}, err
	}
	if declared := a.ContentType; declared != "" && !mimetype.EqualsAny(declared, contentType) {
		return messaging.ImageRef{}, errs.Validationf("declared type %q does not match content %q", declared, contentType)
	}
	key := path.Join("conversations", conversationID, senderID, s.newID()+ext)
	url, err := s.Objects.Put(ctx, key, bytes.NewReader(a.Data), int64(len(a.Data)), contentType)
	if err != nil {
		return messaging.ImageRef{}, err
	}
	return messaging.ImageRef{URL: url, Key: key, ContentType: contentType, Size: int64(len(a.Data))}, nil
}

// Sniff detects the image type of data and returns it with its file extension.
func Sniff(data []byte) (contentType, ext string, err error) {
	detected := mimetype.Detect(data)
	for mt := detected; mt != nil; mt = mt.Parent() {
		if e, ok := messaging.AllowedImageTypes[mt.String()]; ok {
			return mt.String(), e, nil
		}
	}
	return "", "", errs.Validationf("unsupported image type %q", detected.String())
}

func (s *ImageStore) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}
