package delivery

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/ROMARIC12/chatfull/internal/metrics"
	"github.com/ROMARIC12/chatfull/internal/models"
)

// ProfileChanges carries the optional fields of a profile update.
type ProfileChanges struct {
	Name   *string
	Avatar *Upload
}

// UpdateProfile renames the user and replaces their avatar. The previous
// avatar is deleted once the new one is saved, unless it was not uploaded here.
func (d *Coordinator) UpdateProfile(ctx context.Context, userID uuid.UUID, changes ProfileChanges) (*models.User, error) {
	user, err := d.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, persistence("load user", err)
	}
	if user == nil {
		return nil, notFound("user")
	}

	name := user.Name
	if changes.Name != nil {
		name = strings.TrimSpace(*changes.Name)
		if name == "" {
			return nil, invalid("name cannot be empty")
		}
	}

	avatarURL := user.AvatarURL
	var saved *models.Media
	if changes.Avatar != nil {
		if changes.Avatar.Size > d.media.MaxBytes() {
			return nil, invalid("%s exceeds %d bytes", changes.Avatar.FileName, d.media.MaxBytes())
		}
		m, err := d.media.SaveAvatar(*changes.Avatar)
		switch {
		case errors.Is(err, errNotImage):
			return nil, invalid("avatar must be an image")
		case errors.Is(err, errFileTooLarge):
			return nil, invalid("%s exceeds %d bytes", changes.Avatar.FileName, d.media.MaxBytes())
		case err != nil:
			return nil, persistence("store avatar", err)
		}
		saved = &m
		avatarURL = m.URL
	}

	if err := d.store.UpdateUserProfile(ctx, userID, name, avatarURL); err != nil {
		if saved != nil {
			d.discard([]models.Media{*saved})
		}
		return nil, persistence("update profile", err)
	}

	if saved != nil && user.AvatarURL != "" && user.AvatarURL != avatarURL {
		if err := d.media.RemoveAvatar(user.AvatarURL); err != nil {
			metrics.MediaCleanupFailures.Inc()
			d.logger.Warn().Err(err).Str("user_id", userID.String()).Msg("failed to remove previous avatar")
		}
	}

	user.Name = name
	user.AvatarURL = avatarURL
	return user, nil
}
