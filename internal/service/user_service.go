package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/prperemyshlev/chatsync/internal/domain"
	"github.com/prperemyshlev/chatsync/internal/dto"
	"github.com/prperemyshlev/chatsync/internal/repository"
	"github.com/prperemyshlev/chatsync/internal/session"
	"github.com/prperemyshlev/chatsync/internal/utils"
	"go.uber.org/zap"
)

// userService implements UserService interface
type userService struct {
	userRepo  repository.UserRepository
	tokenRepo repository.TokenRepository
	api       UserAPI
	channel   RealtimeChannel
	sync      SyncState
	auth      AuthService
	gen       *session.Generation
	strict    bool
	logger    *zap.Logger
}

// NewUserService creates a new user service. With strict set, an update whose merged
// record misses required fields is rejected instead of persisted.
func NewUserService(
	userRepo repository.UserRepository,
	tokenRepo repository.TokenRepository,
	api UserAPI,
	channel RealtimeChannel,
	syncState SyncState,
	auth AuthService,
	gen *session.Generation,
	strict bool,
	logger *zap.Logger,
) UserService {
	return &userService{
		userRepo:  userRepo,
		tokenRepo: tokenRepo,
		api:       api,
		channel:   channel,
		sync:      syncState,
		auth:      auth,
		gen:       gen,
		strict:    strict,
		logger:    logger,
	}
}

// GetUserData fetches the current user, falling back to the cached copy when the
// backend is unreachable. Either way the realtime channel is (re)opened.
func (s *userService) GetUserData(ctx context.Context) dto.Result[*domain.User] {
	return dto.Guard(s.logger, "get_user_data", func() dto.Result[*domain.User] {
		gen := s.gen.Current()
		tokens := s.tokenRepo.Get(ctx, false)
		if tokens == nil || tokens.AccessToken == "" {
			return dto.FailFromError[*domain.User](domain.ErrNotAuthenticated)
		}

		user, err := s.api.Me(ctx)
		if !s.gen.Valid(gen) {
			s.logger.Debug("Discarding user data from previous session")
			return dto.FailFromError[*domain.User](domain.ErrSessionChanged)
		}

		if err == nil && user != nil {
			user = user.Sanitized()
			applied := s.gen.Guard(gen, func() {
				if !s.userRepo.Save(ctx, user) {
					s.logger.Warn("Failed to cache fresh user data", zap.String("user_id", user.ID))
				}
				s.activate(ctx, user.ID, tokens.AccessToken)
			})
			if !applied {
				s.logger.Debug("Discarding user data from previous session")
				return dto.FailFromError[*domain.User](domain.ErrSessionChanged)
			}
			return dto.Ok(user, "")
		}

		if errors.Is(err, domain.ErrUnauthorized) {
			s.logger.Warn("Access token rejected, ending session")
			s.auth.Logout(ctx)
			return dto.FailFromError[*domain.User](err)
		}
		if err == nil {
			err = domain.ErrNotFound
		}

		var cached *domain.User
		applied := s.gen.Guard(gen, func() {
			if cached = s.userRepo.Get(ctx, false); cached != nil {
				s.activate(ctx, cached.ID, tokens.AccessToken)
			}
		})
		if !applied {
			return dto.FailFromError[*domain.User](domain.ErrSessionChanged)
		}
		if cached == nil {
			s.logger.Warn("Failed to get user data and nothing is cached", zap.Error(err))
			return dto.FailFromError[*domain.User](err)
		}

		s.logger.Warn("Using cached user data", zap.String("user_id", cached.ID), zap.Error(err))
		return dto.Ok(cached, "using cached user data")
	})
}

func (s *userService) activate(ctx context.Context, userID, token string) {
	s.sync.Start(userID)
	if err := s.channel.Connect(ctx, token); err != nil {
		s.logger.Warn("Failed to open realtime channel", zap.Error(err))
	}
}

// UpdateUser sends a partial update and caches the merged result. The cached user must exist.
func (s *userService) UpdateUser(ctx context.Context, patch domain.UserPatch) dto.Result[*domain.User] {
	return dto.Guard(s.logger, "update_user", func() dto.Result[*domain.User] {
		cached := s.userRepo.Get(ctx, false)
		if cached == nil {
			return dto.FailFromError[*domain.User](domain.ErrNoCachedUser)
		}
		if patch.IsEmpty() {
			return dto.Ok(cached, "nothing to update")
		}
		if patch.Phone != nil {
			phone := utils.SanitizePhone(*patch.Phone)
			if !utils.ValidatePhone(phone) {
				return dto.Fail[*domain.User](dto.ErrCodeBadRequest, "invalid phone number")
			}
			patch.Phone = &phone
		}

		gen := s.gen.Current()
		confirmed, err := s.api.UpdateMe(ctx, patch)
		if err != nil {
			if errors.Is(err, domain.ErrUnauthorized) {
				s.logger.Warn("Access token rejected during update, ending session")
				s.auth.Logout(ctx)
			}
			s.logger.Warn("Failed to update user", zap.Error(err))
			return dto.FailFromError[*domain.User](err)
		}
		merged := cached.Apply(patch).MergeFrom(confirmed)
		msg := "User updated"
		if missing := merged.MissingFields(); len(missing) > 0 {
			msg = fmt.Sprintf("updated user is missing %s", strings.Join(missing, ", "))
			if s.strict {
				s.logger.Warn("Rejecting incomplete user record", zap.Strings("missing", missing))
				return dto.FailFromError[*domain.User](fmt.Errorf("%s: %w", msg, domain.ErrIncompleteUser))
			}
			s.logger.Warn("Persisting incomplete user record", zap.Strings("missing", missing))
		}

		saved := false
		if !s.gen.Guard(gen, func() { saved = s.userRepo.Save(ctx, merged) }) {
			return dto.FailFromError[*domain.User](domain.ErrSessionChanged)
		}
		if !saved {
			return dto.Fail[*domain.User](dto.ErrCodeInternal, "failed to persist user")
		}
		return dto.Ok(merged, msg)
	})
}

// Profile returns the non-sensitive projection of the cached user
func (s *userService) Profile(ctx context.Context) *domain.Profile {
	return s.userRepo.Get(ctx, false).Profile()
}
