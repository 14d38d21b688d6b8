package services

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Rod082213/teams-clone/storage"
)

// extByContentType lists the accepted image types.
var extByContentType = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

type UploadService struct {
	store    storage.ObjectStore
	maxBytes int64
	log      zerolog.Logger
}

func NewUploadService(store storage.ObjectStore, maxBytes int64, log zerolog.Logger) *UploadService {
	return &UploadService{
		store:    store,
		maxBytes: maxBytes,
		log:      log.With().Str("component", "uploads").Logger(),
	}
}

// UploadImage stores an image under a fresh name and returns its public URL.
// The type is sniffed from the bytes; the client's declared type is ignored.
func (s *UploadService) UploadImage(ctx context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return "", invalid("no image uploaded")
	}
	if int64(len(data)) > s.maxBytes {
		return "", invalid(fmt.Sprintf("file too large (maximum %d bytes)", s.maxBytes))
	}

	contentType := http.DetectContentType(data)
	ext, ok := extByContentType[contentType]
	if !ok {
		return "", invalid("only image files are allowed (jpeg, png, gif, webp)")
	}

	info, err := s.store.Put(ctx, uuid.NewString()+ext, data, contentType)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to store image")
		return "", fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	s.log.Debug().Str("object", info.Name).Int64("size", info.Size).Msg("image stored")
	return info.URL, nil
}
