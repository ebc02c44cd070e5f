package s3

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusmarket/internal/domain/messaging"
	"campusmarket/internal/domain/shared/errs"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

type recordedPut struct {
	key         string
	contentType string
	body        []byte
}

type fakeObjects struct {
	puts []recordedPut
}

func (f *fakeObjects) Put(_ context.Context, key string, r io.Reader, _ int64, contentType string) (string, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	f.puts = append(f.puts, recordedPut{key: key, contentType: contentType, body: body})
	return "https://cdn.test/" + key, nil
}

func TestUploadImageSniffsContentType(t *testing.T) {
	objects := &fakeObjects{}
	store := &ImageStore{Objects: objects, NewID: func() string { return "img1" }}

	ref, err := store.UploadImage(context.Background(), "c1", "alice", messaging.Attachment{Data: pngHeader})
	require.NoError(t, err)

	assert.Equal(t, "conversations/c1/alice/img1.png", ref.Key)
	assert.Equal(t, "image/png", ref.ContentType)
	assert.Equal(t, "https://cdn.test/conversations/c1/alice/img1.png", ref.URL)
	assert.Equal(t, int64(len(pngHeader)), ref.Size)
	require.Len(t, objects.puts, 1)
	assert.Equal(t, pngHeader, objects.puts[0].body)
}

func TestUploadImageRejectsMismatchedDeclaredType(t *testing.T) {
	store := &ImageStore{Objects: &fakeObjects{}}
	_, err := store.UploadImage(context.Background(), "c1", "alice", messaging.Attachment{Data: pngHeader, ContentType: "image/jpeg"})
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestUploadImageRejectsNonImages(t *testing.T) {
	objects := &fakeObjects{}
	store := &ImageStore{Objects: objects}
	_, err := store.UploadImage(context.Background(), "c1", "alice", messaging.Attachment{Data: []byte("just some text")})
	assert.ErrorIs(t, err, errs.ErrValidation)
	assert.Empty(t, objects.puts)
}

func TestUploadImageRejectsOversizeBeforeUpload(t *testing.T) {
	objects := &fakeObjects{}
	store := &ImageStore{Objects: objects}
	data := make([]byte, messaging.MaxImageBytes+1)
	copy(data, pngHeader)
	_, err := store.UploadImage(context.Background(), "c1", "alice", messaging.Attachment{Data: data})
	assert.ErrorIs(t, err, errs.ErrValidation)
	assert.Empty(t, objects.puts)
}

func TestUploadImageWithoutBackend(t *testing.T) {
	_, err := (&ImageStore{}).UploadImage(context.Background(), "c1", "alice", messaging.Attachment{Data: pngHeader})
	assert.ErrorIs(t, err, errs.ErrTransient)
}

func TestSniffAcceptsAllowedTypes(t *testing.T) {
	for _, tc := range []struct {
		data []byte
		want string
	}{
		{[]byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00"), "image/jpeg"},
		{[]byte("GIF89a\x01\x00\x01\x00"), "image/gif"},
		{pngHeader, "image/png"},
	} {
		ct, _, err := Sniff(tc.data)
		require.NoError(t, err)
		assert.Equal(t, tc.want, ct)
	}
}
