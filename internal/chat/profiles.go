package chat

import (
	"context"
	"errors"

	"github.com/samber/lo"

	"github.com/nfrund/chaats/internal/domain"
	"github.com/nfrund/chaats/internal/hub"
)

const profileNotFound = "User not found"

func (s *Service) view(p domain.Profile) profileView {
	return profileView{Profile: p, Online: s.online.IsOnline(p.ID)}
}

func (s *Service) listUsers(ctx context.Context, from hub.Peer, _ []byte) error {
	profiles, err := s.profiles.List(ctx)
	if err != nil {
		return storeFailure(ActionListUsers, "users could not be listed", err)
	}
	s.reply(from, listUsersFrame{
		Action: ActionListUsers,
		Users:  lo.Map(profiles, func(p domain.Profile, _ int) profileView { return s.view(p) }),
	})
	return nil
}

func (s *Service) getProfile(ctx context.Context, from hub.Peer, frame []byte) error {
	var req getProfileRequest
	if err := decode(frame, &req); err != nil {
		return err
	}
	if err := check(ActionGetProfile, req); err != nil {
		return err
	}

	p, err := s.profiles.Get(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return notFound(ActionGetProfile, profileNotFound, err)
		}
		return storeFailure(ActionGetProfile, "profile could not be loaded", err)
	}
	s.reply(from, profileFrame{Action: ActionGetProfile, User: s.view(p)})
	return nil
}

func (s *Service) updateProfile(ctx context.Context, from hub.Peer, frame []byte) error {
	var req updateProfileRequest
	if err := decode(frame, &req); err != nil {
		return err
	}
	if err := check(ActionUpdateProfile, req); err != nil {
		return err
	}
	if req.UserID != from.Identity().ID {
		return invalid(ActionUpdateProfile, "You can only update your own profile")
	}

	_, err := s.profiles.Update(ctx, req.UserID, domain.ProfileUpdate{
		Email:          req.Email,
		FirstName:      req.FirstName,
		LastName:       req.LastName,
		ProfilePicture: req.ProfilePicture,
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return notFound(ActionUpdateProfile, profileNotFound, err)
		}
		return storeFailure(ActionUpdateProfile, "profile could not be updated", err)
	}
	s.reply(from, messageFrame{Action: ActionUpdateProfile, Message: "Profile updated successfully"})
	return nil
}
